package matching

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// VenueReader is the read side of the venue store the finder needs.
type VenueReader interface {
	GetVenue(ctx context.Context, id int64) (*models.Venue, error)
	ListVenues(ctx context.Context, filter models.VenueFilter) ([]*models.Venue, error)
}

// FinderOptions tunes the duplicate decision.
type FinderOptions struct {
	NameThreshold float64 `json:"name_threshold"`
	// AddressThreshold is accepted for compatibility and does not gate decisions.
	AddressThreshold    float64 `json:"address_threshold"`
	ScoreThreshold      float64 `json:"score_threshold"`
	IncludePlaceIDCheck bool    `json:"include_place_id_check"`
	ExcludeSoftDeleted  bool    `json:"exclude_soft_deleted"`
}

func DefaultFinderOptions() FinderOptions {
	return FinderOptions{
		NameThreshold:       0.85,
		AddressThreshold:    0.80,
		ScoreThreshold:      0.85,
		IncludePlaceIDCheck: true,
		ExcludeSoftDeleted:  true,
	}
}

const (
	strongGeoThreshold   = 0.95
	criteriaNameMin      = 0.85
	criteriaProximityMin = 0.8
)

// Candidate is a venue judged to duplicate the probe venue.
type Candidate struct {
	Venue         *models.Venue `json:"venue"`
	Scores        Scores        `json:"scores"`
	MatchCriteria []string      `json:"match_criteria"`
}

// SimilarityReport explains how two venues compare.
type SimilarityReport struct {
	Venue1ID      int64    `json:"venue1_id"`
	Venue2ID      int64    `json:"venue2_id"`
	Scores        Scores   `json:"scores"`
	IsDuplicate   bool     `json:"is_duplicate"`
	MatchCriteria []string `json:"match_criteria"`
}

// CandidateFinder locates likely duplicates of a venue within its city.
type CandidateFinder struct {
	venues VenueReader
	scorer *Scorer
	logger ectologger.Logger
}

func NewCandidateFinder(venues VenueReader, scorer *Scorer, logger ectologger.Logger) *CandidateFinder {
	if scorer == nil {
		scorer = NewScorer()
	}
	return &CandidateFinder{
		venues: venues,
		scorer: scorer,
		logger: logger,
	}
}

func (f *CandidateFinder) Scorer() *Scorer {
	return f.scorer
}

// FindPotentialDuplicates loads venueID and returns its duplicate candidates.
func (f *CandidateFinder) FindPotentialDuplicates(ctx context.Context, venueID int64, opts FinderOptions) ([]Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.CandidateFinder.FindPotentialDuplicates")
	defer span.End()

	venue, err := f.venues.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if venue == nil {
		return nil, fmt.Errorf("venue %d: %w", venueID, models.ErrVenueNotFound)
	}

	return f.FindCandidates(ctx, venue, opts)
}

// FindCandidates scans venues sharing venue's city (all venues when it has none)
// and keeps those IsDuplicate accepts, best score first.
func (f *CandidateFinder) FindCandidates(ctx context.Context, venue *models.Venue, opts FinderOptions) ([]Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.CandidateFinder.FindCandidates")
	defer span.End()

	pool, err := f.venues.ListVenues(ctx, models.VenueFilter{
		CityID:         venue.CityID,
		IncludeDeleted: !opts.ExcludeSoftDeleted,
		ExcludeID:      venue.ID,
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0)
	for _, other := range pool {
		if other.ID == venue.ID || (opts.ExcludeSoftDeleted && other.IsDeleted()) {
			continue
		}
		if !f.IsDuplicate(venue, other, opts) {
			continue
		}
		candidates = append(candidates, Candidate{
			Venue:         other,
			Scores:        f.scorer.PairScores(venue, other),
			MatchCriteria: f.MatchCriteria(venue, other),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Scores.Confidence != candidates[j].Scores.Confidence {
			return candidates[i].Scores.Confidence > candidates[j].Scores.Confidence
		}
		return candidates[i].Venue.ID < candidates[j].Venue.ID
	})

	f.logger.WithContext(ctx).WithFields(map[string]any{
		"venue_id":   venue.ID,
		"pool_size":  len(pool),
		"candidates": len(candidates),
	}).Debug("Found duplicate candidates")

	return candidates, nil
}

// IsDuplicate decides whether v1 and v2 describe the same place.
func (f *CandidateFinder) IsDuplicate(v1, v2 *models.Venue, opts FinderOptions) bool {
	if v1.ID == v2.ID {
		return false
	}

	if opts.IncludePlaceIDCheck && f.scorer.SamePlaceID(v1, v2) {
		return true
	}

	if f.scorer.NameSimilarity(v1.Name, v2.Name) >= opts.NameThreshold && f.strongLocationMatch(v1, v2) {
		return true
	}

	return f.scorer.SimilarityScore(v1, v2) >= opts.ScoreThreshold
}

func (f *CandidateFinder) strongLocationMatch(v1, v2 *models.Venue) bool {
	return f.scorer.SamePostcode(v1, v2) || f.scorer.GeographicSimilarity(v1, v2) >= strongGeoThreshold
}

// MatchCriteria lists the tags explaining why a pair looks alike. Display only.
func (f *CandidateFinder) MatchCriteria(v1, v2 *models.Venue) []string {
	criteria := make([]string, 0, 5)
	if f.scorer.NameSimilarity(v1.Name, v2.Name) >= criteriaNameMin {
		criteria = append(criteria, models.CriteriaSimilarName)
	}
	if f.scorer.SamePostcode(v1, v2) {
		criteria = append(criteria, models.CriteriaSamePostcode)
	}
	if f.scorer.SameCity(v1, v2) {
		criteria = append(criteria, models.CriteriaSameCity)
	}
	if f.scorer.CoarseGeographicSimilarity(v1, v2) >= criteriaProximityMin {
		criteria = append(criteria, models.CriteriaGeographicProximity)
	}
	if f.scorer.SamePlaceID(v1, v2) {
		criteria = append(criteria, models.CriteriaSamePlaceID)
	}
	return criteria
}

// CalculateSimilarity loads both venues and reports their scores and decision.
func (f *CandidateFinder) CalculateSimilarity(ctx context.Context, id1, id2 int64, opts FinderOptions) (*SimilarityReport, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.CandidateFinder.CalculateSimilarity")
	defer span.End()

	v1, err := f.mustGet(ctx, id1)
	if err != nil {
		return nil, err
	}
	v2, err := f.mustGet(ctx, id2)
	if err != nil {
		return nil, err
	}

	return &SimilarityReport{
		Venue1ID:      v1.ID,
		Venue2ID:      v2.ID,
		Scores:        f.scorer.PairScores(v1, v2),
		IsDuplicate:   f.IsDuplicate(v1, v2, opts),
		MatchCriteria: f.MatchCriteria(v1, v2),
	}, nil
}

func (f *CandidateFinder) mustGet(ctx context.Context, id int64) (*models.Venue, error) {
	venue, err := f.venues.GetVenue(ctx, id)
	if err != nil {
		return nil, err
	}
	if venue == nil {
		return nil, fmt.Errorf("venue %d: %w", id, models.ErrVenueNotFound)
	}
	return venue, nil
}
