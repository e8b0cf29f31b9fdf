package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringStripsZeroWidthSpace(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "Lecture 42", "Lecture 42"},
		{"single", "Lecture​ 42", "Lecture 42"},
		{"many", "​Lec​ture​", "Lecture"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, String(tc.in))
		})
	}
}

func TestValueWalksNestedStructures(t *testing.T) {
	in := map[string]any{
		"topic": "Lec​ture",
		"object": map[string]any{
			"title": "A​B",
			"files": []any{"x​y", 42, true},
		},
	}
	out := Value(in).(map[string]any)
	assert.Equal(t, "Lecture", out["topic"])
	obj := out["object"].(map[string]any)
	assert.Equal(t, "AB", obj["title"])
	assert.Equal(t, []any{"xy", 42, true}, obj["files"])
}
