package httpx

import (
	"encoding/json"
	"strings"
)

// LooseUnmarshal decodes an object into v after renaming its top-level
// camelCase keys to snake_case, so request bodies may use either
// convention. Nested values are passed through verbatim — embedded
// documents such as JSON Schemas are never rewritten.
func LooseUnmarshal(data []byte, v any) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	norm := make(map[string]json.RawMessage, len(raw))
	for k, val := range raw {
		norm[CamelToSnake(k)] = val
	}
	b, err := json.Marshal(norm)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// CamelToSnake rewrites camelCase to snake_case; snake_case input passes
// through unchanged.
func CamelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
