package openai

import (
	"strings"
	"unicode"
)

// maxPromptRunes bounds the paper text placed into a single prompt.
const maxPromptRunes = 48000

// scrubString drops control characters (keeping newlines and tabs) and trims whitespace.
// PDF extraction leaves form feeds and NULs behind that some servers reject.
func scrubString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
