package merging

import (
	"fmt"
	"slices"

	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	MetadataPreferPrimary   = "prefer_primary"
	MetadataPreferSecondary = "prefer_secondary"
	MetadataCombine         = "combine"

	EventsMigrateAll = "migrate_all"
	// EventsSelective is accepted and behaves like EventsMigrateAll.
	EventsSelective = "selective"

	DefaultPerformedBy = "system"
)

// Mergeable venue fields, as accepted by FieldOverrides.
const (
	FieldName      = "name"
	FieldAddress   = "address"
	FieldPostcode  = "postcode"
	FieldLatitude  = "latitude"
	FieldLongitude = "longitude"
	FieldPlaceID   = "place_id"
	FieldSlug      = "slug"
	FieldCityID    = "city_id"
	FieldImages    = "images"
)

// MergeOptions configures MergeVenues and PreviewMerge.
type MergeOptions struct {
	MetadataStrategy string  `json:"metadata_strategy"`
	EventStrategy    string  `json:"event_strategy"`
	DryRun           bool    `json:"dry_run"`
	PerformedBy      string  `json:"performed_by"`
	Notes            *string `json:"notes,omitempty"`

	// FieldOverrides always take the secondary's value when it has one.
	FieldOverrides []string `json:"field_overrides,omitempty"`
}

func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		MetadataStrategy: MetadataCombine,
		EventStrategy:    EventsMigrateAll,
		PerformedBy:      DefaultPerformedBy,
	}
}

// withDefaults fills zero values so callers may pass a partial struct.
func (o MergeOptions) withDefaults() MergeOptions {
	if o.MetadataStrategy == "" {
		o.MetadataStrategy = MetadataCombine
	}
	if o.EventStrategy == "" {
		o.EventStrategy = EventsMigrateAll
	}
	if o.PerformedBy == "" {
		o.PerformedBy = DefaultPerformedBy
	}
	return o
}

func (o MergeOptions) validate() error {
	switch o.MetadataStrategy {
	case MetadataPreferPrimary, MetadataPreferSecondary, MetadataCombine:
	default:
		return fmt.Errorf("unknown metadata_strategy %q: %w", o.MetadataStrategy, models.ErrInvalidOption)
	}
	switch o.EventStrategy {
	case EventsMigrateAll, EventsSelective:
	default:
		return fmt.Errorf("unknown event_strategy %q: %w", o.EventStrategy, models.ErrInvalidOption)
	}
	for _, f := range o.FieldOverrides {
		if !IsMergeableField(f) {
			return fmt.Errorf("unknown field override %q: %w", f, models.ErrInvalidOption)
		}
	}
	return nil
}

func (o MergeOptions) overrides(field string) bool {
	return slices.Contains(o.FieldOverrides, field)
}

// NotDuplicateOptions configures CreateNotDuplicateLog.
type NotDuplicateOptions struct {
	PerformedBy string  `json:"performed_by"`
	Notes       *string `json:"notes,omitempty"`
}

func DefaultNotDuplicateOptions() NotDuplicateOptions {
	return NotDuplicateOptions{PerformedBy: DefaultPerformedBy}
}

// RollbackOptions is accepted by RollbackMerge for forward compatibility.
type RollbackOptions struct {
	PerformedBy string `json:"performed_by"`
}
