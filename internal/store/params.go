package store

import "encoding/json"

// IngestParams is the serialized submission recorded with every ingest row.
// Fields carries the Dublin Core and extension metadata keyed by field name
// (title, date, duration, creator, isPartOf, eth-*).
type IngestParams struct {
	WorkflowID string            `json:"workflow_id,omitempty"`
	ACLID      string            `json:"acl_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Encode renders the params as the JSON blob persisted on the ingest row.
func (p IngestParams) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodeParams reads a persisted params blob. An empty blob decodes to the
// zero value.
func DecodeParams(raw []byte) (IngestParams, error) {
	var p IngestParams
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return IngestParams{}, err
	}
	return p, nil
}
