package merging

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	ActionSafe            = "safe"
	ActionReviewConflicts = "review_conflicts"
	ActionManualReview    = "manual_review"
)

type EstimatedChanges struct {
	EventsToMigrate   int      `json:"events_to_migrate"`
	ConflictingEvents int      `json:"conflicting_events"`
	MetadataChanges   bool     `json:"metadata_changes"`
	FieldsToUpdate    []string `json:"fields_to_update"`
}

// MergePreview is what MergeVenues would do, computed without writing.
type MergePreview struct {
	Primary           *models.Venue      `json:"primary"`
	Secondary         *models.Venue      `json:"secondary"`
	Conflicts         []FieldConflict    `json:"conflicts"`
	EventConflicts    []models.EventSlot `json:"event_conflicts"`
	EstimatedChanges  EstimatedChanges   `json:"estimated_changes"`
	RecommendedAction string             `json:"recommended_action"`
}

// PreviewMerge validates the request like MergeVenues and reports the planned changes.
func (o *MergeOrchestrator) PreviewMerge(ctx context.Context, primaryID, secondaryID int64, opts MergeOptions) (*MergePreview, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.MergeOrchestrator.PreviewMerge")
	defer span.End()

	opts = opts.withDefaults()
	s := &mergeState{primaryID: primaryID, secondaryID: secondaryID, opts: opts}
	if err := o.loadAndValidate(ctx, s); err != nil {
		return nil, &MergeError{Step: StepLoadValidate, Err: err}
	}

	migrate, conflicting := partitionEvents(s.primaryEvents, s.secondaryEvents)
	slots := make([]models.EventSlot, 0, len(conflicting))
	conflictIDs := make(map[int64]struct{}, len(conflicting))
	for _, id := range conflicting {
		conflictIDs[id] = struct{}{}
	}
	for _, e := range s.secondaryEvents {
		if _, ok := conflictIDs[e.ID]; ok {
			slots = append(slots, e.Slot())
		}
	}

	plan := planMetadata(s.primary, s.secondary, opts)
	conflicts := MetadataConflicts(s.primary, s.secondary)
	fields := append([]string{}, plan.Fields...)

	preview := &MergePreview{
		Primary:        s.primary,
		Secondary:      s.secondary,
		Conflicts:      conflicts,
		EventConflicts: slots,
		EstimatedChanges: EstimatedChanges{
			EventsToMigrate:   len(migrate),
			ConflictingEvents: len(conflicting),
			MetadataChanges:   plan.HasChanges(),
			FieldsToUpdate:    fields,
		},
		RecommendedAction: recommendAction(len(conflicts), len(migrate)),
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_venue_id":   primaryID,
		"secondary_venue_id": secondaryID,
		"recommended_action": preview.RecommendedAction,
	}).Debug("Previewed venue merge")

	return preview, nil
}

func recommendAction(conflicts, eventsToMigrate int) string {
	switch {
	case conflicts == 0 && eventsToMigrate <= 10:
		return ActionSafe
	case conflicts <= 3 && eventsToMigrate <= 50:
		return ActionReviewConflicts
	default:
		return ActionManualReview
	}
}
