package normalizers

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"The Crown Pub", "crown"},
		{"Crown", "crown"},
		{"  THE   RED LION INN ", "red lion"},
		{"Bob's Bar & Grill", "bob s grill"},
		{"Café Rouge", "rouge"},
		{"Caffè Nero Coffee Shop", "caffe nero"},
		{"O'Neill's", "o neill s"},
		{"The Pub", ""},
		{"", ""},
		{"Theatre Royal", "theatre royal"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"10 Downing Street", "10 downing st"},
		{"1 Abbey Road, London", "1 abbey rd london"},
		{"5th Avenue", "5th ave"},
		{"Penny Lane", "penny ln"},
		{"Grosvenor Place.", "grosvenor pl"},
		{"Streetly Road", "streetly rd"},
		{"  22   Baker  St  ", "22 baker st"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAddress(tt.input))
		})
	}
}

func TestNormalizeOptional(t *testing.T) {
	assert.Equal(t, "", NormalizeOptionalAddress(nil))
	assert.Equal(t, "", NormalizeOptionalPostcode(nil))

	addr := "1 High Street"
	assert.Equal(t, "1 high st", NormalizeOptionalAddress(&addr))

	pc := "sw1a 1aa"
	assert.Equal(t, "SW1A1AA", NormalizeOptionalPostcode(&pc))
}

var venueWords = []string{
	"The", "Crown", "PUB", "café", "Rouge", "&", "and", "Red-Lion", "inn", "O'Neill's",
	"Street", "road,", "Avenue", "lane", "Place", "  ", "No.5", "Zürich", "bar", "Ærø",
}

func TestNormalizers_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	wordIdx := gen.IntRange(0, len(venueWords)-1)
	phrase := func(a, b, c, d int) string {
		return strings.Join([]string{venueWords[a], venueWords[b], venueWords[c], venueWords[d]}, " ")
	}

	properties.Property("NormalizeName is idempotent", prop.ForAll(
		func(a, b, c, d int) bool {
			once := NormalizeName(phrase(a, b, c, d))
			return NormalizeName(once) == once
		},
		wordIdx, wordIdx, wordIdx, wordIdx,
	))

	properties.Property("NormalizeAddress is idempotent", prop.ForAll(
		func(a, b, c, d int) bool {
			once := NormalizeAddress(phrase(a, b, c, d))
			return NormalizeAddress(once) == once
		},
		wordIdx, wordIdx, wordIdx, wordIdx,
	))

	properties.Property("normalized output has no stray whitespace", prop.ForAll(
		func(s string) bool {
			out := NormalizeName(s)
			return out == strings.TrimSpace(out) && !strings.Contains(out, "  ")
		},
		gen.AlphaString(),
	))

	properties.Property("NormalizePostcode is idempotent", prop.ForAll(
		func(s string) bool {
			once := NormalizePostcode(s)
			return NormalizePostcode(once) == once
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
