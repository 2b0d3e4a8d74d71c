// Package normalize produces the canonical comparison key for a story title.
package normalize

import (
	"strings"
	"unicode"
)

// Known source-label prefixes that feeds prepend to otherwise identical
// stories. Matched case-insensitively and stripped repeatedly, so stacked
// labels ("BREAKING: ANN:") collapse too.
var prefixes = []string{
	"BREAKING:",
	"NEW:",
	"UPDATE:",
	"DC Wiki Update:",
	"TMS News:",
	"Fandom Wiki Update:",
	"ANN DC News:",
	"ANN:",
	"Reuters:",
	"BBC:",
}

// Key canonicalizes a raw title: strips known prefixes, removes everything
// that is not a word character or whitespace, lowercases, and trims.
// Deterministic and idempotent; empty input yields the empty string.
func Key(title string) string {
	t := strings.TrimSpace(title)

	for stripped := true; stripped; {
		stripped = false
		for _, p := range prefixes {
			if len(t) >= len(p) && strings.EqualFold(t[:len(p)], p) {
				t = strings.TrimSpace(t[len(p):])
				stripped = true
			}
		}
	}

	var b strings.Builder
	b.Grow(len(t))
	for _, r := range t {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}

	return strings.TrimSpace(b.String())
}
