// Package registry normalizes user-supplied text before it is stored or
// relayed.
package registry

import (
	"strings"
	"unicode"
)

// sanitizeText trims surrounding whitespace, strips control characters, and
// caps the result at maxLen runes. Valid Unicode beyond ASCII is preserved.
func sanitizeText(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	var builder strings.Builder
	builder.Grow(len(s))

	count := 0
	for _, r := range s {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			continue
		}
		builder.WriteRune(r)
		count++
		if count >= maxLen {
			break
		}
	}

	return strings.TrimSpace(builder.String())
}
