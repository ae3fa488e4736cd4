package matching

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	ts "github.com/Ramsey-B/clover/internal/testsupport"
	"github.com/Ramsey-B/clover/pkg/models"
)

func TestScorer_JaroWinkler(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		a, b     string
		expected float64
	}{
		{"MARTHA", "MARHTA", 0.9611},
		{"DWAYNE", "DUANE", 0.84},
		{"DIXON", "DICKSONX", 0.8133},
		{"crown", "crown", 1.0},
		{"abc", "xyz", 0.0},
		{"", "crown", 0.0},
		{"", "", 0.0},
		{"zürich", "zurich", 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.expected, s.JaroWinkler(tt.a, tt.b), 0.001)
		})
	}
}

func TestScorer_HaversineKm(t *testing.T) {
	s := NewScorer()

	assert.InDelta(t, 343.5, s.HaversineKm(51.5074, -0.1278, 48.8566, 2.3522), 1.0)
	assert.Equal(t, 0.0, s.HaversineKm(51.5, -0.12, 51.5, -0.12))
	assert.InDelta(t, 111.19, s.HaversineKm(0, 0, 1, 0), 0.01)
}

func TestScorer_LinearDecay(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.LinearDecay(0.05, 0.1, 1.0))
	assert.Equal(t, 1.0, s.LinearDecay(0.1, 0.1, 1.0))
	assert.InDelta(t, 0.5, s.LinearDecay(0.55, 0.1, 1.0), 1e-9)
	assert.Equal(t, 0.0, s.LinearDecay(1.0, 0.1, 1.0))
	assert.Equal(t, 0.0, s.LinearDecay(5, 0.1, 1.0))
}

func TestScorer_GeographicCurves(t *testing.T) {
	s := NewScorer()
	origin := ts.NewVenue("a", ts.WithCoordinates(51.5, -0.12))

	t.Run("strict curve", func(t *testing.T) {
		tests := []struct {
			name     string
			dLat     float64
			expected float64
			delta    float64
		}{
			{"50m", 0.00045, 1.0, 0},
			{"500m", 0.0045, 0.555, 0.01},
			{"1.1km", 0.01, 0.0, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				other := ts.NewVenue("b", ts.WithCoordinates(51.5+tt.dLat, -0.12))
				assert.InDelta(t, tt.expected, s.GeographicSimilarity(origin, other), tt.delta)
			})
		}
	})

	t.Run("coarse curve", func(t *testing.T) {
		tests := []struct {
			name       string
			dLat, dLon float64
			expected   float64
		}{
			{"within a thousandth", 0.0005, 0.0004, 1.0},
			{"halfway", 0.0035, 0.002, 0.5},
			{"beyond a hundredth", 0.01, 0.01, 0.0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				other := ts.NewVenue("b", ts.WithCoordinates(51.5+tt.dLat, -0.12+tt.dLon))
				assert.InDelta(t, tt.expected, s.CoarseGeographicSimilarity(origin, other), 1e-6)
			})
		}
	})

	t.Run("missing coordinates", func(t *testing.T) {
		bare := ts.NewVenue("b")
		assert.Equal(t, 0.0, s.GeographicSimilarity(origin, bare))
		assert.Equal(t, 0.0, s.CoarseGeographicSimilarity(bare, origin))
	})

	t.Run("curves stay distinct", func(t *testing.T) {
		// ~330 m apart: strict curve has decayed, coarse curve has not reached zero.
		other := ts.NewVenue("b", ts.WithCoordinates(51.503, -0.12))
		assert.NotEqual(t, s.GeographicSimilarity(origin, other), s.CoarseGeographicSimilarity(origin, other))
	})
}

func TestScorer_LocationSimilarity(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		name     string
		v1, v2   *models.Venue
		expected float64
		delta    float64
	}{
		{
			name:     "postcode match ignores spacing and case",
			v1:       ts.NewVenue("a", ts.WithPostcode("SW1A 1AA"), ts.WithAddress("1 Nowhere")),
			v2:       ts.NewVenue("b", ts.WithPostcode("sw1a1aa"), ts.WithAddress("99 Elsewhere")),
			expected: 1.0,
		},
		{
			name:     "address similarity when postcodes differ",
			v1:       ts.NewVenue("a", ts.WithPostcode("E1 6AN"), ts.WithAddress("10 High Street")),
			v2:       ts.NewVenue("b", ts.WithPostcode("E1 6AX"), ts.WithAddress("10 High St.")),
			expected: 1.0,
		},
		{
			name:     "geographic fallback",
			v1:       ts.NewVenue("a", ts.WithCoordinates(51.5, -0.12)),
			v2:       ts.NewVenue("b", ts.WithCoordinates(51.5, -0.12)),
			expected: 1.0,
		},
		{
			name:     "nothing to compare",
			v1:       ts.NewVenue("a", ts.WithAddress("1 High St")),
			v2:       ts.NewVenue("b"),
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, s.LocationSimilarity(tt.v1, tt.v2), tt.delta+1e-9)
		})
	}
}

func TestScorer_SimilarityScore(t *testing.T) {
	s := NewScorer()

	t.Run("shared place id is definitive", func(t *testing.T) {
		v1 := ts.NewVenue("Totally Different", ts.WithPlaceID("ChIJ123"))
		v2 := ts.NewVenue("Names Here", ts.WithPlaceID("ChIJ123"))
		assert.Equal(t, 1.0, s.SimilarityScore(v1, v2))
	})

	t.Run("weighted name and location", func(t *testing.T) {
		v1 := ts.NewVenue("The Crown", ts.WithPostcode("SW1A1AA"))
		v2 := ts.NewVenue("Crown", ts.WithPostcode("N1 9GU"))
		assert.InDelta(t, 0.7, s.SimilarityScore(v1, v2), 1e-9)
	})

	t.Run("stopword-only names fall back to raw comparison", func(t *testing.T) {
		assert.Equal(t, 1.0, s.NameSimilarity("The Pub", "the  pub"))
		assert.Less(t, s.NameSimilarity("The Pub", "The Bar"), 1.0)
	})

	t.Run("pair scores use the coarse curve for location", func(t *testing.T) {
		v1 := ts.NewVenue("Crown", ts.WithCoordinates(51.5, -0.12))
		v2 := ts.NewVenue("Crown", ts.WithCoordinates(51.5035, -0.118))
		scores := s.PairScores(v1, v2)
		assert.InDelta(t, 0.5, scores.Location, 1e-6)
		assert.Equal(t, 1.0, scores.Name)
	})
}

func TestScorer_Properties(t *testing.T) {
	s := NewScorer()
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("name similarity is symmetric", prop.ForAll(
		func(a, b string) bool {
			return s.NameSimilarity(a, b) == s.NameSimilarity(b, a)
		},
		gen.AlphaString(), gen.AlphaString(),
	))

	properties.Property("name similarity is within [0,1]", prop.ForAll(
		func(a, b string) bool {
			v := s.NameSimilarity(a, b)
			return v >= 0 && v <= 1
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.Property("name similarity is reflexive for non-empty names", prop.ForAll(
		func(a string) bool {
			if a == "" {
				return true
			}
			return s.NameSimilarity(a, a) == 1.0
		},
		gen.AlphaString(),
	))

	properties.Property("shared place id always scores 1.0", prop.ForAll(
		func(n1, n2, placeID string) bool {
			if placeID == "" {
				placeID = "p"
			}
			v1 := ts.NewVenue(n1, ts.WithPlaceID(placeID), ts.WithPostcode("AB1"))
			v2 := ts.NewVenue(n2, ts.WithPlaceID(placeID), ts.WithPostcode("ZZ9"))
			return s.SimilarityScore(v1, v2) == 1.0
		},
		gen.AlphaString(), gen.AlphaString(), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
