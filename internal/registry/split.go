package registry

import (
	"strings"
	"unicode"
)

// separators are tried in this order after a special name.
var separators = []string{":", " ", "="}

// Split parses the addressing prefix out of body.
//
//  1. "NNN?rest": a leading digit and at least 4 runes; the first 3 runes
//     are the key, one separator rune is skipped.
//  2. " rest": the default registry.
//  3. "name<sep>rest" for a special name and sep in ":", " ", "=".
//  4. "name" alone.
//  5. Otherwise the default registry gets the whole body.
func Split(body string, table map[string]string) (key, rest string) {
	runes := []rune(body)
	switch {
	case len(runes) >= 4 && unicode.IsDigit(runes[0]):
		return string(runes[:3]), string(runes[4:])
	case strings.HasPrefix(body, " "):
		return DefaultKey, body[1:]
	}

	special := specialNames(table)
	for _, sep := range separators {
		for _, name := range special {
			if strings.HasPrefix(body, name+sep) {
				return name, body[len(name)+len(sep):]
			}
		}
	}
	for _, name := range special {
		if body == name {
			return name, ""
		}
	}
	return DefaultKey, body
}
