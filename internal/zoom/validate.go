package zoom

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zingest/zingest/internal/sanitize"
)

var requiredObjectFields = []string{
	"id", "uuid", "host_id", "topic", "start_time", "duration", "recording_files",
}

var requiredFileFields = []string{
	"id", "recording_start", "recording_end", "download_url",
	"file_type", "file_size", "recording_type", "status",
}

// ValidatePayload checks a recording.completed webhook payload: it must carry
// an object that passes ValidateObject.
func ValidatePayload(payload map[string]any) error {
	obj, ok := payload["object"].(map[string]any)
	if !ok {
		return &APIError{Sentinel: ErrBadWebhookData, Operation: "validate payload",
			Body: "missing required payload field 'object'"}
	}
	return ValidateObject(obj)
}

// ValidateObject checks a recording object for the fields the pipeline needs.
// A structurally sound object without a completed mp4 file fails with
// ErrNoMP4Files; any missing field fails with ErrBadWebhookData.
func ValidateObject(obj map[string]any) error {
	for _, field := range requiredObjectFields {
		if _, ok := obj[field]; !ok {
			return &APIError{Sentinel: ErrBadWebhookData, Operation: "validate object",
				Body: fmt.Sprintf("missing required object field %q", field)}
		}
	}
	files, ok := obj["recording_files"].([]any)
	if !ok {
		return &APIError{Sentinel: ErrBadWebhookData, Operation: "validate object",
			Body: "recording_files is not a list"}
	}
	hasMP4 := false
	for i, f := range files {
		file, ok := f.(map[string]any)
		if !ok {
			return &APIError{Sentinel: ErrBadWebhookData, Operation: "validate object",
				Body: fmt.Sprintf("recording_files[%d] is not an object", i)}
		}
		for _, field := range requiredFileFields {
			if _, ok := file[field]; !ok {
				return &APIError{Sentinel: ErrBadWebhookData, Operation: "validate object",
					Body: fmt.Sprintf("missing required file field %q", field)}
			}
		}
		fileType, _ := file["file_type"].(string)
		status, _ := file["status"].(string)
		if strings.EqualFold(fileType, "mp4") && strings.EqualFold(status, "completed") {
			hasMP4 = true
		}
	}
	if !hasMP4 {
		return &APIError{Sentinel: ErrNoMP4Files, Operation: "validate object",
			Body: "no completed mp4 files in recording data"}
	}
	return nil
}

// ValidateRenamed checks a recording.renamed payload: old_object and object,
// each with at least uuid and topic.
func ValidateRenamed(payload map[string]any) error {
	for _, key := range []string{"old_object", "object"} {
		obj, ok := payload[key].(map[string]any)
		if !ok {
			return &APIError{Sentinel: ErrBadWebhookData, Operation: "validate renamed",
				Body: fmt.Sprintf("missing required payload field %q", key)}
		}
		for _, field := range []string{"uuid", "topic"} {
			if _, ok := obj[field]; !ok {
				return &APIError{Sentinel: ErrBadWebhookData, Operation: "validate renamed",
					Body: fmt.Sprintf("missing required %s field %q", key, field)}
			}
		}
	}
	return nil
}

// ParseObject converts a validated recording object into the typed form,
// stripping zero width spaces on the way.
func ParseObject(obj map[string]any) (Recording, error) {
	raw, err := json.Marshal(sanitize.Value(obj))
	if err != nil {
		return Recording{}, fmt.Errorf("zoom: encode object: %w", err)
	}
	var rec Recording
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Recording{}, &APIError{Sentinel: ErrBadWebhookData, Operation: "parse object", Err: err}
	}
	return rec, nil
}
