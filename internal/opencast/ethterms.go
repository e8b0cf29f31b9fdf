package opencast

import "strings"

const ethPrefix = "eth-"

// EthTerms renders the institutional extension catalog from the "eth-"
// prefixed parameter fields, with the prefix stripped. The checkbox field
// "eth-advertised" maps "on" to "true" and everything else to "false".
// Returns "" when no extension fields are present.
func EthTerms(fields map[string]string) string {
	var b strings.Builder
	found := false
	for _, name := range sortedKeys(fields) {
		if !strings.HasPrefix(name, ethPrefix) {
			continue
		}
		if !found {
			found = true
			b.WriteString(xmlHeader)
			b.WriteString(`<ethterms xmlns="http://ethz.ch/video/opencast"` +
				` xmlns:ethterms="http://ethz.ch/video/metadata">`)
		}
		value := fields[name]
		if name == "eth-advertised" {
			if value == "on" {
				value = "true"
			} else {
				value = "false"
			}
		}
		writeElement(&b, "ethterms:"+strings.TrimPrefix(name, ethPrefix), value)
	}
	if !found {
		return ""
	}
	b.WriteString("</ethterms>")
	return b.String()
}
