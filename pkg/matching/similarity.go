package matching

import (
	"math"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

const (
	nameWeight     = 0.7
	locationWeight = 0.3

	// Strict curve, distance in km.
	strictFullKm = 0.1
	strictZeroKm = 1.0

	// Coarse curve, |dlat|+|dlon| in degrees.
	coarseFullDeg = 0.001
	coarseZeroDeg = 0.01
)

// NameSimilarity is the Jaro-Winkler similarity of the two normalized names.
// A name made only of stopwords is compared by its lowercased raw form instead.
func (s *Scorer) NameSimilarity(name1, name2 string) float64 {
	return s.JaroWinkler(comparableName(name1), comparableName(name2))
}

func comparableName(name string) string {
	if n := normalizers.NormalizeName(name); n != "" {
		return n
	}
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// SamePostcode reports whether both venues carry the same non-empty postcode.
func (s *Scorer) SamePostcode(v1, v2 *models.Venue) bool {
	p1 := normalizers.NormalizeOptionalPostcode(v1.Postcode)
	return p1 != "" && p1 == normalizers.NormalizeOptionalPostcode(v2.Postcode)
}

// SamePlaceID reports whether both venues carry the same non-empty external place id.
func (s *Scorer) SamePlaceID(v1, v2 *models.Venue) bool {
	p1 := strings.TrimSpace(models.Deref(v1.PlaceID))
	return p1 != "" && p1 == strings.TrimSpace(models.Deref(v2.PlaceID))
}

// SameCity reports whether both venues reference the same city.
func (s *Scorer) SameCity(v1, v2 *models.Venue) bool {
	return v1.CityID != nil && v2.CityID != nil && *v1.CityID == *v2.CityID
}

// LocationSimilarity prefers postcode equality, then address similarity,
// then strict geographic proximity.
func (s *Scorer) LocationSimilarity(v1, v2 *models.Venue) float64 {
	if s.SamePostcode(v1, v2) {
		return 1.0
	}

	a1 := normalizers.NormalizeOptionalAddress(v1.Address)
	a2 := normalizers.NormalizeOptionalAddress(v2.Address)
	if a1 != "" && a2 != "" {
		return s.JaroWinkler(a1, a2)
	}

	if v1.HasCoordinates() && v2.HasCoordinates() {
		return s.GeographicSimilarity(v1, v2)
	}

	return 0.0
}

// GeographicSimilarity is the strict curve: 1.0 within 100 m, 0.0 from 1 km.
func (s *Scorer) GeographicSimilarity(v1, v2 *models.Venue) float64 {
	if !v1.HasCoordinates() || !v2.HasCoordinates() {
		return 0.0
	}
	km := s.HaversineKm(*v1.Latitude, *v1.Longitude, *v2.Latitude, *v2.Longitude)
	return s.LinearDecay(km, strictFullKm, strictZeroKm)
}

// CoarseGeographicSimilarity is the degree-delta curve used for stored scores
// and the proximity tag: 1.0 up to 0.001 degrees, 0.0 from 0.01.
func (s *Scorer) CoarseGeographicSimilarity(v1, v2 *models.Venue) float64 {
	if !v1.HasCoordinates() || !v2.HasCoordinates() {
		return 0.0
	}
	delta := math.Abs(*v1.Latitude-*v2.Latitude) + math.Abs(*v1.Longitude-*v2.Longitude)
	return s.LinearDecay(delta, coarseFullDeg, coarseZeroDeg)
}

// PairLocationSimilarity is the location component persisted with a candidate row.
func (s *Scorer) PairLocationSimilarity(v1, v2 *models.Venue) float64 {
	if s.SamePostcode(v1, v2) {
		return 1.0
	}
	return s.CoarseGeographicSimilarity(v1, v2)
}

// SimilarityScore is 1.0 for a shared place id, else 0.7*name + 0.3*location.
func (s *Scorer) SimilarityScore(v1, v2 *models.Venue) float64 {
	if s.SamePlaceID(v1, v2) {
		return 1.0
	}
	return clampUnit(nameWeight*s.NameSimilarity(v1.Name, v2.Name) + locationWeight*s.LocationSimilarity(v1, v2))
}

// Scores is the triple stored with a candidate pair.
type Scores struct {
	Confidence float64 `json:"confidence_score"`
	Name       float64 `json:"name_similarity"`
	Location   float64 `json:"location_similarity"`
}

func (s *Scorer) PairScores(v1, v2 *models.Venue) Scores {
	return Scores{
		Confidence: s.SimilarityScore(v1, v2),
		Name:       s.NameSimilarity(v1.Name, v2.Name),
		Location:   s.PairLocationSimilarity(v1, v2),
	}
}
