package matching

import (
	"math"
)

const (
	earthRadiusKm = 6371.0

	// Winkler prefix boost.
	winklerMaxPrefix = 4
	winklerScaling   = 0.1
)

// Scorer provides the string and distance primitives used to compare venues.
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0,1], comparing runes.
// The pair is put in a canonical order first so the result is exactly symmetric.
func (s *Scorer) JaroWinkler(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0.0
		}
		return 1.0
	}
	if a > b {
		a, b = b, a
	}

	ra, rb := []rune(a), []rune(b)
	jaro := s.jaro(ra, rb)

	prefix := 0
	for i := 0; i < len(ra) && i < len(rb) && i < winklerMaxPrefix; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}

	return clampUnit(jaro + float64(prefix)*winklerScaling*(1.0-jaro))
}

func (s *Scorer) jaro(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := range a {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// HaversineKm returns the great-circle distance between two points in kilometres.
func (s *Scorer) HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// LinearDecay is 1.0 up to full, falls linearly to 0.0 at zero, and stays 0.0 beyond.
func (s *Scorer) LinearDecay(value, full, zero float64) float64 {
	if value <= full {
		return 1.0
	}
	if value >= zero {
		return 0.0
	}
	return 1.0 - (value-full)/(zero-full)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
