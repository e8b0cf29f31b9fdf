package zoom

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrBadWebhookData = errors.New("zoom: payload failed validation")
	ErrNoMP4Files     = errors.New("zoom: no usable mp4 files in recording data")
	ErrTransport      = errors.New("zoom: transport failure")
	ErrNotFound       = errors.New("zoom: resource not found")
)

// APIError wraps the sentinel errors with call context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("zoom: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}
