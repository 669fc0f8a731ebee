package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		// Literal matching.
		{"a.b", "a.b", true},
		{"a.b", "a.c", false},
		{"a.b", "a.b.c", false},
		{"action-requests", "action-requests", true},

		// '*' matches exactly one token.
		{"a.*", "a.b", true},
		{"a.*", "a.b.c", false},
		{"a.*", "a", false},
		{"*.b", "a.b", true},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.b.c.d", false},

		// '>' matches one or more trailing tokens.
		{"a.>", "a.b", true},
		{"a.>", "a.b.c.d", true},
		{"a.>", "a", false},
		{"x.>", "a.b", false},
		{">", "a", true},
		{">", "a.b.c", true},
	}

	for _, tt := range tests {
		got := MatchTopic(tt.pattern, tt.topic)
		assert.Equal(t, tt.want, got, "MatchTopic(%q, %q)", tt.pattern, tt.topic)
	}
}

func TestValidatePattern(t *testing.T) {
	assert.NoError(t, ValidatePattern("a.b"))
	assert.NoError(t, ValidatePattern("a.*"))
	assert.NoError(t, ValidatePattern("a.>"))
	assert.NoError(t, ValidatePattern(">"))

	assert.Error(t, ValidatePattern(""), "empty pattern")
	assert.Error(t, ValidatePattern("a..b"), "empty token")
	assert.Error(t, ValidatePattern("a.>.b"), "'>' before final token")
	assert.Error(t, ValidatePattern(">.a"), "'>' before final token")
}
