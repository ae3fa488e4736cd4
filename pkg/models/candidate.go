package models

import "time"

const (
	CandidateStatusPending  = "pending"
	CandidateStatusReviewed = "reviewed"
	CandidateStatusMerged   = "merged"
	CandidateStatusRejected = "rejected"
)

// CandidateStatuses lists every status in lifecycle order.
var CandidateStatuses = []string{
	CandidateStatusPending,
	CandidateStatusReviewed,
	CandidateStatusMerged,
	CandidateStatusRejected,
}

func IsCandidateStatus(s string) bool {
	for _, status := range CandidateStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Match criteria tags explain why a pair was flagged.
const (
	CriteriaSimilarName         = "similar_name"
	CriteriaSamePostcode        = "same_postcode"
	CriteriaSameCity            = "same_city"
	CriteriaGeographicProximity = "geographic_proximity"
	CriteriaSamePlaceID         = "same_place_id"
)

// FuzzyDuplicateCandidate is a scored venue pair awaiting review.
// Venue1ID is always the smaller id.
type FuzzyDuplicateCandidate struct {
	ID                 int64     `json:"id"`
	Venue1ID           int64     `json:"venue1_id"`
	Venue2ID           int64     `json:"venue2_id"`
	ConfidenceScore    float64   `json:"confidence_score"`
	NameSimilarity     float64   `json:"name_similarity"`
	LocationSimilarity float64   `json:"location_similarity"`
	MatchCriteria      []string  `json:"match_criteria"`
	Status             string    `json:"status"`
	InsertedAt         time.Time `json:"inserted_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CandidateFilter scopes a candidate listing.
type CandidateFilter struct {
	Status        string
	MinConfidence float64
	Limit         int
}

// VenuePair is an unordered pair of venue ids, stored smaller id first.
type VenuePair struct {
	Low  int64 `json:"venue1_id"`
	High int64 `json:"venue2_id"`
}

func NewVenuePair(a, b int64) VenuePair {
	if a > b {
		a, b = b, a
	}
	return VenuePair{Low: a, High: b}
}

// ConfidenceBands counts stored pairs by confidence band.
type ConfidenceBands struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// DuplicateStatistics summarises stored candidate rows.
type DuplicateStatistics struct {
	Total                     int             `json:"total"`
	ByConfidence              ConfidenceBands `json:"by_confidence"`
	ByStatus                  map[string]int  `json:"by_status"`
	AverageConfidence         float64         `json:"average_confidence"`
	AverageNameSimilarity     float64         `json:"average_name_similarity"`
	AverageLocationSimilarity float64         `json:"average_location_similarity"`
}

const (
	ConfidenceBandHigh   = "high"
	ConfidenceBandMedium = "medium"
	ConfidenceBandLow    = "low"

	HighConfidenceMin   = 0.90
	MediumConfidenceMin = 0.75
)

// ConfidenceBand buckets a confidence score: >=0.90 high, >=0.75 medium, else low.
func ConfidenceBand(score float64) string {
	switch {
	case score >= HighConfidenceMin:
		return ConfidenceBandHigh
	case score >= MediumConfidenceMin:
		return ConfidenceBandMedium
	default:
		return ConfidenceBandLow
	}
}
