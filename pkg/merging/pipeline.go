package merging

import (
	"context"
	"fmt"
	"slices"

	"github.com/Ramsey-B/clover/pkg/models"
)

// mergeState is threaded through the pipeline; each step reads what earlier steps produced.
type mergeState struct {
	primaryID   int64
	secondaryID int64
	opts        MergeOptions

	primary         *models.Venue
	secondary       *models.Venue
	primaryEvents   []models.Event
	secondaryEvents []models.Event

	migratedIDs []int64
	deletedIDs  []int64
	plan        MetadataPlan
	entry       *models.MergeLogEntry
}

type step struct {
	name string
	run  func(ctx context.Context, s *mergeState) error
}

func (o *MergeOrchestrator) pipeline() []step {
	return []step{
		{StepLoadValidate, o.loadAndValidate},
		{StepMigrateEvents, o.migrateEvents},
		{StepMergeMetadata, o.mergeMetadata},
		{StepSoftDelete, o.softDeleteSecondary},
		{StepWriteAuditLog, o.writeAuditLog},
	}
}

// runPipeline executes every step in order, stopping at the first failure.
func (o *MergeOrchestrator) runPipeline(ctx context.Context, s *mergeState) error {
	for _, st := range o.pipeline() {
		if err := st.run(ctx, s); err != nil {
			return &MergeError{Step: st.name, Err: err}
		}
	}
	return nil
}

func (o *MergeOrchestrator) loadAndValidate(ctx context.Context, s *mergeState) error {
	primary, secondary, err := o.loadPair(ctx, s.primaryID, s.secondaryID, s.opts)
	if err != nil {
		return err
	}
	s.primary, s.secondary = primary, secondary

	if s.primaryEvents, err = o.events.ListEventsByVenue(ctx, primary.ID); err != nil {
		return err
	}
	if s.secondaryEvents, err = o.events.ListEventsByVenue(ctx, secondary.ID); err != nil {
		return err
	}
	return nil
}

// loadPair checks options and both venues without touching the store's state.
func (o *MergeOrchestrator) loadPair(ctx context.Context, primaryID, secondaryID int64, opts MergeOptions) (*models.Venue, *models.Venue, error) {
	if err := checkRequest(primaryID, secondaryID, opts); err != nil {
		return nil, nil, err
	}

	primary, err := o.requireLive(ctx, primaryID)
	if err != nil {
		return nil, nil, err
	}
	secondary, err := o.requireLive(ctx, secondaryID)
	if err != nil {
		return nil, nil, err
	}
	return primary, secondary, nil
}

func (o *MergeOrchestrator) requireLive(ctx context.Context, id int64) (*models.Venue, error) {
	venue, err := o.requireVenue(ctx, id)
	if err != nil {
		return nil, err
	}
	if venue.IsDeleted() {
		return nil, fmt.Errorf("venue %d: %w", id, models.ErrVenueAlreadyDeleted)
	}
	return venue, nil
}

func (o *MergeOrchestrator) requireVenue(ctx context.Context, id int64) (*models.Venue, error) {
	venue, err := o.venues.GetVenue(ctx, id)
	if err != nil {
		return nil, err
	}
	if venue == nil {
		return nil, fmt.Errorf("venue %d: %w", id, models.ErrVenueNotFound)
	}
	return venue, nil
}

// partitionEvents splits secondary's events into those that can move to primary and
// those whose slot primary already holds.
func partitionEvents(primaryEvents, secondaryEvents []models.Event) (migrate, conflicting []int64) {
	taken := make(map[models.EventSlot]struct{}, len(primaryEvents))
	for _, e := range primaryEvents {
		taken[e.Slot()] = struct{}{}
	}

	migrate = make([]int64, 0, len(secondaryEvents))
	conflicting = make([]int64, 0)
	for _, e := range secondaryEvents {
		if _, ok := taken[e.Slot()]; ok {
			conflicting = append(conflicting, e.ID)
			continue
		}
		migrate = append(migrate, e.ID)
	}
	return migrate, conflicting
}

func (o *MergeOrchestrator) migrateEvents(ctx context.Context, s *mergeState) error {
	if s.opts.EventStrategy == EventsSelective {
		o.logger.WithContext(ctx).WithFields(map[string]any{
			"primary_venue_id":   s.primaryID,
			"secondary_venue_id": s.secondaryID,
		}).Warn("event_strategy=selective is not supported, migrating all events")
	}

	migrate, conflicting := partitionEvents(s.primaryEvents, s.secondaryEvents)

	// Conflicts go first so reassignment never collides on the slot constraint.
	if len(conflicting) > 0 {
		deleted, err := o.events.DeleteEvents(ctx, conflicting)
		if err != nil {
			return err
		}
		if int(deleted) != len(conflicting) {
			return fmt.Errorf("deleted %d of %d conflicting events", deleted, len(conflicting))
		}
	}
	if len(migrate) > 0 {
		moved, err := o.events.ReassignEvents(ctx, migrate, s.primary.ID)
		if err != nil {
			return err
		}
		if int(moved) != len(migrate) {
			return fmt.Errorf("migrated %d of %d events", moved, len(migrate))
		}
	}

	s.migratedIDs, s.deletedIDs = migrate, conflicting
	return nil
}

func (o *MergeOrchestrator) mergeMetadata(ctx context.Context, s *mergeState) error {
	s.plan = planMetadata(s.primary, s.secondary, s.opts)
	if !s.plan.HasChanges() {
		return nil
	}
	return o.venues.UpdateVenue(ctx, s.primary.ID, s.plan.Update)
}

func (o *MergeOrchestrator) softDeleteSecondary(ctx context.Context, s *mergeState) error {
	return o.venues.SoftDeleteVenue(ctx, s.secondary.ID, s.opts.PerformedBy, s.primary.ID, o.now())
}

func (o *MergeOrchestrator) writeAuditLog(ctx context.Context, s *mergeState) error {
	entry, err := o.logs.CreateMergeLog(ctx, &models.MergeLogEntry{
		ActionType:       models.ActionTypeMerge,
		PrimaryVenueID:   s.primary.ID,
		SecondaryVenueID: s.secondary.ID,
		PerformedBy:      s.opts.PerformedBy,
		Notes:            s.opts.Notes,
		Metadata: models.MergeLogMetadata{
			EventsMigrated:           len(s.migratedIDs),
			ConflictingEventsDeleted: len(s.deletedIDs),
			MigratedEventIDs:         s.migratedIDs,
			DeletedEventIDs:          s.deletedIDs,
			MetadataStrategy:         s.opts.MetadataStrategy,
			EventStrategy:            s.opts.EventStrategy,
			FieldOverrides:           slices.Clone(s.opts.FieldOverrides),
			FieldChanges:             s.plan.Changes,
			Snapshot: &models.MergeSnapshot{
				Primary:   s.primary,
				Secondary: s.secondary,
				Events:    s.secondaryEvents,
			},
		},
	})
	if err != nil {
		return err
	}
	s.entry = entry
	return nil
}
