// Package sanitize strips characters that must never reach the store or the
// Sink. Zoom payloads occasionally carry U+200B (zero width space) inside
// human-entered strings such as meeting topics.
package sanitize

import "strings"

const zeroWidthSpace = "​"

// String removes every zero width space from s.
func String(s string) string {
	return strings.ReplaceAll(s, zeroWidthSpace, "")
}

// Value walks a decoded JSON value and strips zero width spaces from every
// string it contains. Maps and slices are rewritten in place where possible.
func Value(v any) any {
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		for k, val := range t {
			t[k] = Value(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = Value(val)
		}
		return t
	default:
		return v
	}
}
