package merging

import (
	"context"
	"fmt"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	maxEventPoints  = 10
	maxRecencyBonus = 5.0
	recencyWindow   = 30 * 24 * time.Hour
	placeIDBonus    = 5
	slugBonus       = 1
)

// VenueScore breaks down how suitable a venue is as the surviving record.
type VenueScore struct {
	VenueID      int64   `json:"venue_id"`
	Total        float64 `json:"total"`
	Completeness int     `json:"completeness"`
	EventCount   int     `json:"event_count"`
	EventPoints  int     `json:"event_points"`
	RecencyBonus float64 `json:"recency_bonus"`
	PlaceIDBonus int     `json:"place_id_bonus"`
	SlugBonus    int     `json:"slug_bonus"`
}

// PrimarySelection orders a pair as recommended primary then secondary.
type PrimarySelection struct {
	Primary        *models.Venue `json:"primary"`
	Secondary      *models.Venue `json:"secondary"`
	PrimaryScore   VenueScore    `json:"primary_score"`
	SecondaryScore VenueScore    `json:"secondary_score"`
}

// DeterminePrimaryVenue recommends which venue should survive a merge. Ties favour venueID1.
func (o *MergeOrchestrator) DeterminePrimaryVenue(ctx context.Context, venueID1, venueID2 int64) (*PrimarySelection, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.MergeOrchestrator.DeterminePrimaryVenue")
	defer span.End()

	if venueID1 == venueID2 {
		return nil, fmt.Errorf("venue %d: %w", venueID1, models.ErrSelfMerge)
	}

	v1, err := o.requireVenue(ctx, venueID1)
	if err != nil {
		return nil, err
	}
	v2, err := o.requireVenue(ctx, venueID2)
	if err != nil {
		return nil, err
	}

	s1, err := o.scoreVenue(ctx, v1)
	if err != nil {
		return nil, err
	}
	s2, err := o.scoreVenue(ctx, v2)
	if err != nil {
		return nil, err
	}

	if s2.Total > s1.Total {
		return &PrimarySelection{Primary: v2, Secondary: v1, PrimaryScore: s2, SecondaryScore: s1}, nil
	}
	return &PrimarySelection{Primary: v1, Secondary: v2, PrimaryScore: s1, SecondaryScore: s2}, nil
}

func (o *MergeOrchestrator) scoreVenue(ctx context.Context, v *models.Venue) (VenueScore, error) {
	count, err := o.events.CountEventsByVenue(ctx, v.ID)
	if err != nil {
		return VenueScore{}, err
	}

	score := VenueScore{
		VenueID:      v.ID,
		Completeness: completeness(v),
		EventCount:   count,
		EventPoints:  min(count, maxEventPoints),
		RecencyBonus: recencyBonus(v.InsertedAt, o.now()),
	}
	if textValue(v.PlaceID) != nil {
		score.PlaceIDBonus = placeIDBonus
	}
	if cleanSlug(v.Slug) {
		score.SlugBonus = slugBonus
	}
	score.Total = float64(score.Completeness+score.EventPoints+score.PlaceIDBonus+score.SlugBonus) + score.RecencyBonus
	return score, nil
}

// completeness counts populated key fields: name, address, postcode, latitude, longitude, city.
func completeness(v *models.Venue) int {
	n := 0
	for _, populated := range []bool{
		v.Name != "",
		textValue(v.Address) != nil,
		textValue(v.Postcode) != nil,
		v.Latitude != nil,
		v.Longitude != nil,
		v.CityID != nil,
	} {
		if populated {
			n++
		}
	}
	return n
}

// recencyBonus decays linearly from 5 at creation to 0 after thirty days.
func recencyBonus(insertedAt, now time.Time) float64 {
	if insertedAt.IsZero() {
		return 0
	}
	age := now.Sub(insertedAt)
	if age <= 0 {
		return maxRecencyBonus
	}
	if age >= recencyWindow {
		return 0
	}
	return maxRecencyBonus * (1 - float64(age)/float64(recencyWindow))
}
