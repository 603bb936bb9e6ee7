package db

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpace = regexp.MustCompile(`\s+`)

var accentStripper = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize produces the canonical form stored in *_norm columns: accents
// stripped, uppercase, single spaces. Returns "" for empty input.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	stripped, _, err := transform.String(accentStripper, text)
	if err != nil {
		stripped = text
	}
	stripped = strings.ToUpper(strings.TrimSpace(stripped))
	return multiSpace.ReplaceAllString(stripped, " ")
}
