// Package normalizers canonicalises venue names, addresses and postcodes before matching.
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// nameStopwords are generic venue words that carry no identifying signal.
var nameStopwords = map[string]struct{}{
	"the":        {},
	"and":        {},
	"pub":        {},
	"restaurant": {},
	"bar":        {},
	"hotel":      {},
	"inn":        {},
	"tavern":     {},
	"club":       {},
	"cafe":       {},
	"coffee":     {},
	"shop":       {},
}

// addressAbbreviations maps whole address words to their standard short form.
var addressAbbreviations = map[string]string{
	"street": "st",
	"road":   "rd",
	"avenue": "ave",
	"lane":   "ln",
	"place":  "pl",
}

// NormalizeName lowercases, folds accents, turns punctuation into spaces,
// drops stopwords and collapses whitespace.
func NormalizeName(s string) string {
	tokens := tokenize(s)
	kept := tokens[:0]
	for _, token := range tokens {
		if _, stop := nameStopwords[token]; stop {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}

// NormalizeAddress lowercases, folds accents, standardises street-type words,
// strips punctuation and collapses whitespace.
func NormalizeAddress(s string) string {
	tokens := tokenize(s)
	for i, token := range tokens {
		if short, ok := addressAbbreviations[token]; ok {
			tokens[i] = short
		}
	}
	return strings.Join(tokens, " ")
}

// NormalizeOptionalAddress treats a missing address as empty.
func NormalizeOptionalAddress(s *string) string {
	if s == nil {
		return ""
	}
	return NormalizeAddress(*s)
}

// NormalizePostcode uppercases and keeps only letters and digits, so "sw1a 1aa" equals "SW1A1AA".
func NormalizePostcode(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func NormalizeOptionalPostcode(s *string) string {
	if s == nil {
		return ""
	}
	return NormalizePostcode(*s)
}

// tokenize returns the lowercase, accent-free alphanumeric words of s.
func tokenize(s string) []string {
	s = foldAccents(strings.ToLower(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}
