// Package merging folds a duplicate venue into its survivor: events move over,
// metadata is merged, the duplicate is soft-deleted and the decision is audited.
package merging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// StepCommit is reported when every step succeeded but the transaction did not commit.
const StepCommit = "commit"

type VenueStore interface {
	// GetVenue returns nil, nil when the venue does not exist.
	GetVenue(ctx context.Context, id int64) (*models.Venue, error)
	UpdateVenue(ctx context.Context, id int64, update models.VenueUpdate) error
	SoftDeleteVenue(ctx context.Context, id int64, deletedBy string, mergedIntoID int64, at time.Time) error
}

type EventStore interface {
	ListEventsByVenue(ctx context.Context, venueID int64) ([]models.Event, error)
	CountEventsByVenue(ctx context.Context, venueID int64) (int, error)
	ReassignEvents(ctx context.Context, eventIDs []int64, venueID int64) (int64, error)
	DeleteEvents(ctx context.Context, eventIDs []int64) (int64, error)
}

type MergeLogStore interface {
	CreateMergeLog(ctx context.Context, entry *models.MergeLogEntry) (*models.MergeLogEntry, error)
	// CreateNotDuplicateLog returns the existing entry with created=false when the pair is already logged.
	CreateNotDuplicateLog(ctx context.Context, entry *models.MergeLogEntry) (*models.MergeLogEntry, bool, error)
	GetMergeLog(ctx context.Context, id int64) (*models.MergeLogEntry, error)
	ListMergeLogs(ctx context.Context, filter models.MergeHistoryFilter) ([]*models.MergeLogEntry, error)
}

// Transactor runs fn in one unit of work; stores called with the ctx it receives join it.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// VenueLocker serialises merges touching the same venues across processes.
type VenueLocker interface {
	// LockVenues returns models.ErrMergeInProgress when any venue is held elsewhere.
	LockVenues(ctx context.Context, venueIDs ...int64) (unlock func(context.Context), err error)
}

// Publisher announces committed audit entries.
type Publisher interface {
	VenueMerged(ctx context.Context, entry *models.MergeLogEntry) error
	VenueMarkedNotDuplicate(ctx context.Context, entry *models.MergeLogEntry) error
}

// MergeResult describes a completed merge, or a dry run when DryRun is set.
type MergeResult struct {
	PrimaryVenueID           int64         `json:"primary_venue_id"`
	SecondaryVenueID         int64         `json:"secondary_venue_id"`
	LogID                    int64         `json:"log_id,omitempty"`
	EventsMigrated           int           `json:"events_migrated"`
	ConflictingEventsDeleted int           `json:"conflicting_events_deleted"`
	FieldsUpdated            []string      `json:"fields_updated"`
	DryRun                   bool          `json:"dry_run"`
	Preview                  *MergePreview `json:"preview,omitempty"`
	Errors                   []string      `json:"errors"`
}

// NotDuplicateResult carries the audit entry and whether this call created it.
type NotDuplicateResult struct {
	Entry   *models.MergeLogEntry `json:"entry"`
	Created bool                  `json:"created"`
}

type MergeOrchestrator struct {
	venues    VenueStore
	events    EventStore
	logs      MergeLogStore
	tx        Transactor
	locker    VenueLocker
	publisher Publisher
	logger    ectologger.Logger
	now       func() time.Time
}

func NewMergeOrchestrator(venues VenueStore, events EventStore, logs MergeLogStore, tx Transactor, logger ectologger.Logger) *MergeOrchestrator {
	return &MergeOrchestrator{
		venues: venues,
		events: events,
		logs:   logs,
		tx:     tx,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (o *MergeOrchestrator) WithLocker(l VenueLocker) *MergeOrchestrator {
	o.locker = l
	return o
}

func (o *MergeOrchestrator) WithPublisher(p Publisher) *MergeOrchestrator {
	o.publisher = p
	return o
}

// WithClock overrides the time source used for soft-delete stamps and recency scoring.
func (o *MergeOrchestrator) WithClock(now func() time.Time) *MergeOrchestrator {
	o.now = now
	return o
}

// MergeVenues folds secondary into primary atomically. With opts.DryRun it
// returns a preview instead and writes nothing.
func (o *MergeOrchestrator) MergeVenues(ctx context.Context, primaryID, secondaryID int64, opts MergeOptions) (*MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.MergeOrchestrator.MergeVenues")
	defer span.End()

	opts = opts.withDefaults()
	if opts.DryRun {
		return o.dryRun(ctx, primaryID, secondaryID, opts)
	}

	start := time.Now()
	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_venue_id":   primaryID,
		"secondary_venue_id": secondaryID,
		"metadata_strategy":  opts.MetadataStrategy,
		"performed_by":       opts.PerformedBy,
	})

	if err := checkRequest(primaryID, secondaryID, opts); err != nil {
		return nil, o.mergeFailed(log, &MergeError{Step: StepLoadValidate, Err: err}, start)
	}

	if o.locker != nil {
		unlock, err := o.locker.LockVenues(ctx, primaryID, secondaryID)
		metrics.RecordLock(lockOutcome(err))
		if err != nil {
			return nil, o.mergeFailed(log, &MergeError{Step: StepAcquireLock, Err: err}, start)
		}
		defer unlock(context.WithoutCancel(ctx))
	}

	state := &mergeState{primaryID: primaryID, secondaryID: secondaryID, opts: opts}
	err := o.tx.RunInTx(ctx, func(ctx context.Context) error {
		return o.runPipeline(ctx, state)
	})
	if err != nil {
		var me *MergeError
		if !errors.As(err, &me) {
			err = &MergeError{Step: StepCommit, Err: err}
		}
		return nil, o.mergeFailed(log, err, start)
	}

	result := &MergeResult{
		PrimaryVenueID:           primaryID,
		SecondaryVenueID:         secondaryID,
		LogID:                    state.entry.ID,
		EventsMigrated:           len(state.migratedIDs),
		ConflictingEventsDeleted: len(state.deletedIDs),
		FieldsUpdated:            append([]string{}, state.plan.Fields...),
		Errors:                   []string{},
	}

	metrics.RecordMerge("completed", "", time.Since(start).Seconds())
	metrics.RecordMergedEvents(result.EventsMigrated, result.ConflictingEventsDeleted)
	log.WithFields(map[string]any{
		"log_id":                     result.LogID,
		"events_migrated":            result.EventsMigrated,
		"conflicting_events_deleted": result.ConflictingEventsDeleted,
		"fields_updated":             result.FieldsUpdated,
	}).Info("Merged venues")

	if o.publisher != nil {
		if err := o.publisher.VenueMerged(ctx, state.entry); err != nil {
			log.WithError(err).Warn("Failed to publish venue merged event")
		}
	}

	return result, nil
}

func (o *MergeOrchestrator) dryRun(ctx context.Context, primaryID, secondaryID int64, opts MergeOptions) (*MergeResult, error) {
	preview, err := o.PreviewMerge(ctx, primaryID, secondaryID, opts)
	if err != nil {
		return nil, err
	}
	return &MergeResult{
		PrimaryVenueID:           primaryID,
		SecondaryVenueID:         secondaryID,
		EventsMigrated:           preview.EstimatedChanges.EventsToMigrate,
		ConflictingEventsDeleted: preview.EstimatedChanges.ConflictingEvents,
		FieldsUpdated:            append([]string{}, preview.EstimatedChanges.FieldsToUpdate...),
		DryRun:                   true,
		Preview:                  preview,
		Errors:                   []string{},
	}, nil
}

func (o *MergeOrchestrator) mergeFailed(log ectologger.Logger, err error, start time.Time) error {
	step := FailedStep(err)
	metrics.RecordMerge("failed", step, time.Since(start).Seconds())

	entry := log.WithError(err).WithField("step", step)
	if IsRejection(err) {
		entry.Warn("Merge rejected")
	} else {
		entry.Error("Merge failed")
	}
	return err
}

// IsRejection reports whether err is a refusal of the request rather than a store failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		models.ErrVenueNotFound,
		models.ErrVenueAlreadyDeleted,
		models.ErrSelfMerge,
		models.ErrInvalidOption,
		models.ErrMergeInProgress,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func lockOutcome(err error) string {
	switch {
	case err == nil:
		return "acquired"
	case errors.Is(err, models.ErrMergeInProgress):
		return "contended"
	default:
		return "error"
	}
}

func checkRequest(primaryID, secondaryID int64, opts MergeOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if primaryID == secondaryID {
		return fmt.Errorf("venue %d: %w", primaryID, models.ErrSelfMerge)
	}
	return nil
}

// RollbackMerge resolves the audit entry and then always refuses: merges cannot be undone.
func (o *MergeOrchestrator) RollbackMerge(ctx context.Context, logID int64, opts RollbackOptions) error {
	ctx, span := tracing.StartSpan(ctx, "merging.MergeOrchestrator.RollbackMerge")
	defer span.End()

	entry, err := o.logs.GetMergeLog(ctx, logID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("merge log %d: %w", logID, models.ErrMergeLogNotFound)
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"log_id":       logID,
		"action_type":  entry.ActionType,
		"performed_by": opts.PerformedBy,
	}).Warn("Merge rollback requested but not supported")

	return fmt.Errorf("merge log %d: %w", logID, models.ErrRollbackUnsupported)
}

// CreateNotDuplicateLog records that two venues are distinct. The pair is stored
// smaller id first, so repeated calls in either order return the original entry.
func (o *MergeOrchestrator) CreateNotDuplicateLog(ctx context.Context, venueID1, venueID2 int64, opts NotDuplicateOptions) (*NotDuplicateResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.MergeOrchestrator.CreateNotDuplicateLog")
	defer span.End()

	if venueID1 == venueID2 {
		return nil, fmt.Errorf("venue %d: %w", venueID1, models.ErrSelfMerge)
	}
	if opts.PerformedBy == "" {
		opts.PerformedBy = DefaultPerformedBy
	}
	for _, id := range []int64{venueID1, venueID2} {
		if _, err := o.requireVenue(ctx, id); err != nil {
			return nil, err
		}
	}

	pair := models.NewVenuePair(venueID1, venueID2)
	entry, created, err := o.logs.CreateNotDuplicateLog(ctx, &models.MergeLogEntry{
		ActionType:       models.ActionTypeNotDuplicate,
		PrimaryVenueID:   pair.Low,
		SecondaryVenueID: pair.High,
		PerformedBy:      opts.PerformedBy,
		Notes:            opts.Notes,
	})
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to record not-duplicate decision")
		return nil, err
	}

	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"log_id":             entry.ID,
		"primary_venue_id":   pair.Low,
		"secondary_venue_id": pair.High,
		"created":            created,
	})
	log.Info("Recorded not-duplicate decision")

	if created && o.publisher != nil {
		if err := o.publisher.VenueMarkedNotDuplicate(ctx, entry); err != nil {
			log.WithError(err).Warn("Failed to publish not-duplicate event")
		}
	}

	return &NotDuplicateResult{Entry: entry, Created: created}, nil
}

// ListMergeHistory returns audit entries newest first.
func (o *MergeOrchestrator) ListMergeHistory(ctx context.Context, filter models.MergeHistoryFilter) ([]*models.MergeLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.MergeOrchestrator.ListMergeHistory")
	defer span.End()

	switch filter.ActionType {
	case "", models.ActionTypeMerge, models.ActionTypeNotDuplicate:
	default:
		return nil, fmt.Errorf("unknown action_type %q: %w", filter.ActionType, models.ErrInvalidOption)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, fmt.Errorf("from is after to: %w", models.ErrInvalidOption)
	}
	if filter.Limit <= 0 {
		filter.Limit = models.DefaultHistoryLimit
	}

	return o.logs.ListMergeLogs(ctx, filter)
}
