package obsidian

import (
	"strings"
	"unicode"
)

// Slugify lower-cases s, drops punctuation and joins words with single hyphens.
// Letters outside ASCII are kept as-is.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		case unicode.IsSpace(r) || r == '-':
			dash = true
		}
	}
	return b.String()
}
