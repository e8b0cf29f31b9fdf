package opencast

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>`

// multiValueFields are split on ";" into one element per part.
var multiValueFields = map[string]bool{
	"publisher":   true,
	"contributor": true,
	"presenter":   true,
	"creator":     true,
	"subjects":    true,
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatExtent renders a duration in whole minutes as an ISO 8601 period.
func FormatExtent(minutes int) string {
	hours := minutes / 60
	return fmt.Sprintf("PT%dH%dM0S", hours, minutes-hours*60)
}

// EpisodeDublinCore renders the episode Dublin Core catalog from the ingest
// parameter fields. Keys prefixed "origin" or "eth-" belong to other catalogs
// and are skipped here. A missing spatial field defaults to "Zoom".
func EpisodeDublinCore(fields map[string]string) string {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<dublincore xmlns="http://www.opencastproject.org/xsd/1.0/dublincore/"` +
		` xmlns:dcterms="http://purl.org/dc/terms/"` +
		` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`)

	spatialSet := false
	for _, name := range sortedKeys(fields) {
		value := fields[name]
		if strings.HasPrefix(name, "origin") || strings.HasPrefix(name, ethPrefix) {
			continue
		}
		switch {
		case multiValueFields[name]:
			for _, part := range strings.Split(value, ";") {
				writeElement(&b, "dcterms:"+name, part)
			}
		case name == "date":
			writeElement(&b, "dcterms:created", value)
		case name == "duration":
			minutes, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			writeElement(&b, "dcterms:extent", FormatExtent(minutes))
		default:
			if name == "spatial" {
				spatialSet = true
			}
			writeElement(&b, "dcterms:"+name, value)
		}
	}
	if !spatialSet {
		writeElement(&b, "dcterms:spatial", "Zoom")
	}
	b.WriteString("</dublincore>")
	return b.String()
}

func writeElement(b *strings.Builder, name, value string) {
	b.WriteString("<")
	b.WriteString(name)
	b.WriteString(">")
	b.WriteString(escapeXML(value))
	b.WriteString("</")
	b.WriteString(name)
	b.WriteString(">")
}
