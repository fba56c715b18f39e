package pipeline

import (
	"strings"
	"unicode"
)

// ClearText keeps printable runes plus \n, \r and \t and replaces
// backslashes with forward slashes.
func ClearText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteRune('/')
		case r == '\n' || r == '\r' || r == '\t' || unicode.IsPrint(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}
