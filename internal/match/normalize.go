package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopwords are particles dropped from candidate names before matching.
var stopwords = map[string]struct{}{
	"de": {}, "del": {}, "la": {}, "las": {}, "los": {}, "y": {}, "san": {}, "santa": {},
}

// Normalize canonicalizes free text for comparison:
//  1. Lower-cases
//  2. Decomposes and strips combining marks (ñ survives)
//  3. Replaces anything outside [a-z0-9ñ] and whitespace with a space
//  4. Collapses and trims whitespace
//
// It is idempotent and total.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ToLower(text)

	// Decompose, then recompose ñ before dropping combining marks so that it
	// survives as a letter of its own.
	text = strings.ReplaceAll(norm.NFD.String(text), "n\u0303", "ñ")
	if stripped, _, err := transform.String(runes.Remove(runes.In(unicode.Mn)), text); err == nil {
		text = stripped
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == 'ñ':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens returns the whitespace-separated tokens of the normalized text.
func Tokens(text string) []string {
	return strings.Fields(Normalize(text))
}

// CleanTokens returns the normalized tokens of a name with particles removed.
func CleanTokens(name string) []string {
	tokens := Tokens(name)
	clean := tokens[:0]
	for _, tok := range tokens {
		if _, ok := stopwords[tok]; ok {
			continue
		}
		clean = append(clean, tok)
	}
	return clean
}
