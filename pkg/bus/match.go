package bus

import (
	"fmt"
	"strings"
)

// ValidatePattern checks a subscription pattern. Tokens are '.'-separated;
// '*' matches exactly one token; '>' matches one or more trailing tokens
// and is only legal as the final token.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("bus: empty pattern")
	}
	tokens := strings.Split(pattern, ".")
	for i, tok := range tokens {
		if tok == "" {
			return fmt.Errorf("bus: pattern %q has an empty token", pattern)
		}
		if tok == ">" && i != len(tokens)-1 {
			return fmt.Errorf("bus: pattern %q uses '>' before the final token", pattern)
		}
	}
	return nil
}

// MatchTopic reports whether a concrete topic matches a pattern.
// The topic must contain no wildcards; matching is token-wise.
func MatchTopic(pattern, topic string) bool {
	pTokens := strings.Split(pattern, ".")
	tTokens := strings.Split(topic, ".")

	for i, p := range pTokens {
		if p == ">" {
			// '>' requires at least one remaining topic token.
			return i < len(tTokens)
		}
		if i >= len(tTokens) {
			return false
		}
		if p != "*" && p != tTokens[i] {
			return false
		}
	}
	return len(pTokens) == len(tTokens)
}

// matchAny reports whether the topic matches any pattern in the set.
func matchAny(patterns []string, topic string) bool {
	for _, p := range patterns {
		if MatchTopic(p, topic) {
			return true
		}
	}
	return false
}
