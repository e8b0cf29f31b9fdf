package opencast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/zingest/zingest/internal/log"
)

// SeriesRequest describes a new series.
type SeriesRequest struct {
	Title   string
	ACLID   string
	ThemeID string
	// Fields feed the series Dublin Core and the extension element.
	Fields map[string]string
}

type metadataField struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// metadataFields maps the parameter fields onto the external API's series
// metadata shape. Multi-value fields become lists; "date" maps to startDate.
func metadataFields(fields map[string]string) []metadataField {
	out := make([]metadataField, 0, len(fields))
	for _, name := range sortedKeys(fields) {
		value := fields[name]
		if strings.HasPrefix(name, "origin") || strings.HasPrefix(name, ethPrefix) {
			continue
		}
		switch {
		case name == "publisher":
			out = append(out, metadataField{ID: name, Value: []string{value}})
		case multiValueFields[name]:
			out = append(out, metadataField{ID: name, Value: strings.Split(value, ";")})
		case name == "date":
			out = append(out, metadataField{ID: "startDate", Value: value})
		case name == "duration":
			// Duration is episode-only metadata.
		default:
			out = append(out, metadataField{ID: name, Value: value})
		}
	}
	return out
}

// CreateSeries creates a series and, when extension fields are present,
// attaches the ethterms element to it. Returns the new series identifier.
func (c *Client) CreateSeries(ctx context.Context, req SeriesRequest) (string, error) {
	logger := log.WithComponentFromContext(ctx, "opencast")

	fields := metadataFields(req.Fields)
	fields = append(fields, metadataField{ID: "title", Value: req.Title})

	metadata := []map[string]any{{
		"label":  "Opencast Series DublinCore",
		"flavor": "dublincore/series",
		"fields": fields,
	}}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}

	var aces []ACE
	if acl, ok := c.catalogs.GetACL(ctx, req.ACLID); ok {
		aces = acl.ACEs
	}
	aclJSON, err := json.Marshal(aces)
	if err != nil {
		return "", err
	}

	form := url.Values{
		"metadata": {string(metadataJSON)},
		"acl":      {string(aclJSON)},
	}
	if req.ThemeID != "" {
		form.Set("theme", req.ThemeID)
	}

	status, body, err := c.postForm(ctx, "/api/series", form)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", &APIError{Sentinel: ErrOpencast, Operation: "create series",
			Status: status, Body: truncate(body, 200)}
	}
	var created struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		return "", &APIError{Sentinel: ErrOpencast, Operation: "create series", Err: err}
	}
	logger.Info().Str("event", "series.created").Str("series_id", created.Identifier).
		Str("title", req.Title).Msg("series created")

	if ethDC := EthTerms(req.Fields); ethDC != "" {
		status, err := c.putBody(ctx, "/series/"+url.PathEscape(created.Identifier)+"/elements/ethterms",
			"text/xml", ethDC)
		if err != nil {
			return "", err
		}
		logger.Debug().Str("event", "series.ethterms").Str("series_id", created.Identifier).
			Int("status", status).Msg("attached extension element")
	}
	return created.Identifier, nil
}
