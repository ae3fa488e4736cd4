// Package events turns merge decisions and detection runs into venue topic events.
package events

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/processor"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	EventVenueMerged        = "venue.merged"
	EventVenueNotDuplicate  = "venue.not_duplicate"
	EventDuplicatesDetected = "duplicates.detected"
)

type EventPublisher interface {
	Publish(ctx context.Context, event *kafka.VenueEvent) error
}

type Emitter struct {
	producer EventPublisher
	logger   ectologger.Logger
}

func NewEmitter(producer EventPublisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

type mergedPayload struct {
	LogID                    int64    `json:"log_id"`
	MergedIntoID             int64    `json:"merged_into_id"`
	EventsMigrated           int      `json:"events_migrated"`
	ConflictingEventsDeleted int      `json:"conflicting_events_deleted"`
	FieldsChanged            []string `json:"fields_changed"`
	PerformedBy              string   `json:"performed_by"`
}

// VenueMerged announces the secondary venue's removal, keyed by the secondary id.
func (e *Emitter) VenueMerged(ctx context.Context, entry *models.MergeLogEntry) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.VenueMerged")
	defer span.End()

	fields := make([]string, 0, len(entry.Metadata.FieldChanges))
	for f := range entry.Metadata.FieldChanges {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	return e.emit(ctx, EventVenueMerged, entry.SecondaryVenueID, entry.PrimaryVenueID, mergedPayload{
		LogID:                    entry.ID,
		MergedIntoID:             entry.PrimaryVenueID,
		EventsMigrated:           entry.Metadata.EventsMigrated,
		ConflictingEventsDeleted: entry.Metadata.ConflictingEventsDeleted,
		FieldsChanged:            fields,
		PerformedBy:              entry.PerformedBy,
	})
}

func (e *Emitter) VenueMarkedNotDuplicate(ctx context.Context, entry *models.MergeLogEntry) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.VenueMarkedNotDuplicate")
	defer span.End()

	return e.emit(ctx, EventVenueNotDuplicate, entry.PrimaryVenueID, entry.SecondaryVenueID, map[string]any{
		"log_id":       entry.ID,
		"performed_by": entry.PerformedBy,
	})
}

// DuplicatesDetected summarises a completed full scan.
func (e *Emitter) DuplicatesDetected(ctx context.Context, result processor.RunResult) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.DuplicatesDetected")
	defer span.End()

	return e.emit(ctx, EventDuplicatesDetected, 0, 0, result)
}

func (e *Emitter) emit(ctx context.Context, eventType string, venueID, relatedID int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := &kafka.VenueEvent{
		EventType:      eventType,
		VenueID:        venueID,
		RelatedVenueID: relatedID,
		Data:           data,
	}
	if err := e.producer.Publish(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		return err
	}
	return nil
}
