package models

import "time"

const (
	ActionTypeMerge        = "merge"
	ActionTypeNotDuplicate = "not_duplicate"
)

// FieldChange records one metadata field rewritten by a merge.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// MergeSnapshot holds both venues as they were before a merge.
type MergeSnapshot struct {
	Primary   *Venue  `json:"primary"`
	Secondary *Venue  `json:"secondary"`
	Events    []Event `json:"secondary_events,omitempty"`
}

// MergeLogMetadata is the structured metadata blob of an audit entry.
type MergeLogMetadata struct {
	EventsMigrated           int                    `json:"events_migrated"`
	ConflictingEventsDeleted int                    `json:"conflicting_events_deleted"`
	MigratedEventIDs         []int64                `json:"migrated_event_ids,omitempty"`
	DeletedEventIDs          []int64                `json:"deleted_event_ids,omitempty"`
	MetadataStrategy         string                 `json:"metadata_strategy,omitempty"`
	EventStrategy            string                 `json:"event_strategy,omitempty"`
	FieldOverrides           []string               `json:"field_overrides,omitempty"`
	FieldChanges             map[string]FieldChange `json:"field_changes,omitempty"`
	Snapshot                 *MergeSnapshot         `json:"snapshot,omitempty"`
}

// MergeLogEntry is one append-only audit record.
type MergeLogEntry struct {
	ID               int64            `json:"id"`
	ActionType       string           `json:"action_type"`
	PrimaryVenueID   int64            `json:"primary_venue_id"`
	SecondaryVenueID int64            `json:"secondary_venue_id"`
	PerformedBy      string           `json:"performed_by"`
	Notes            *string          `json:"notes,omitempty"`
	Metadata         MergeLogMetadata `json:"metadata"`
	InsertedAt       time.Time        `json:"inserted_at"`
}

// Involves reports whether the entry names the pair in either order.
func (e *MergeLogEntry) Involves(a, b int64) bool {
	return (e.PrimaryVenueID == a && e.SecondaryVenueID == b) || (e.PrimaryVenueID == b && e.SecondaryVenueID == a)
}

// MergeHistoryFilter narrows list_merge_history. Zero values do not filter.
type MergeHistoryFilter struct {
	VenueID    int64
	ActionType string
	From       *time.Time
	To         *time.Time
	Limit      int
}

const DefaultHistoryLimit = 100
