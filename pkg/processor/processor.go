// Package processor runs duplicate detection over the venue population and
// keeps stored candidate pairs in step with the merge audit log.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// nameThresholdRelaxation widens the finder's name gate so weaker pairs reach storage.
const nameThresholdRelaxation = 0.9

// CandidateStore persists scored venue pairs.
type CandidateStore interface {
	// InsertCandidate stores c unless its pair exists, reporting whether a row was written.
	InsertCandidate(ctx context.Context, c *models.FuzzyDuplicateCandidate) (bool, error)
	DeleteAllCandidates(ctx context.Context) (int64, error)
	ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]*models.FuzzyDuplicateCandidate, error)
	CandidateStatistics(ctx context.Context) (*models.DuplicateStatistics, error)
	// MarkPendingPairs sets status on pending rows matching any pair in either order.
	MarkPendingPairs(ctx context.Context, pairs []models.VenuePair, status string) (int, error)
}

// MergeLogReader exposes the venue pairs recorded per audit action.
type MergeLogReader interface {
	ListPairsByAction(ctx context.Context, actionType string) ([]models.VenuePair, error)
}

type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier is told about completed full scans.
type Notifier interface {
	DuplicatesDetected(ctx context.Context, result RunResult) error
}

// Options configures a detection run.
type Options struct {
	BatchSize     int     `json:"batch_size"`
	MinConfidence float64 `json:"min_confidence"`
	ClearExisting bool    `json:"clear_existing"`
	// ProgressCallback, when set, is called after every batch with cumulative counts.
	ProgressCallback func(Progress) `json:"-"`
}

func DefaultOptions() Options {
	return Options{
		BatchSize:     100,
		MinConfidence: 0.70,
	}
}

func (o Options) validate() error {
	if o.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d: %w", o.BatchSize, models.ErrInvalidOption)
	}
	if o.MinConfidence < 0 || o.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1], got %v: %w", o.MinConfidence, models.ErrInvalidOption)
	}
	return nil
}

type Progress struct {
	BatchIndex       int `json:"batch_index"`
	TotalBatches     int `json:"total_batches"`
	Processed        int `json:"processed"`
	DuplicatesFound  int `json:"duplicates_found"`
	DuplicatesStored int `json:"duplicates_stored"`
}

type RunResult struct {
	Processed        int   `json:"processed"`
	DuplicatesFound  int   `json:"duplicates_found"`
	DuplicatesStored int   `json:"duplicates_stored"`
	Cleared          int64 `json:"cleared"`
}

type VenueResult struct {
	VenueID          int64 `json:"venue_id"`
	DuplicatesFound  int   `json:"duplicates_found"`
	DuplicatesStored int   `json:"duplicates_stored"`
}

type SyncResult struct {
	Merged   int `json:"merged"`
	Rejected int `json:"rejected"`
}

// BatchProcessor scans venues sequentially and stores candidate pairs.
type BatchProcessor struct {
	venues     matching.VenueReader
	finder     *matching.CandidateFinder
	candidates CandidateStore
	mergeLogs  MergeLogReader
	tx         Transactor
	notifier   Notifier
	logger     ectologger.Logger
}

func NewBatchProcessor(
	venues matching.VenueReader,
	finder *matching.CandidateFinder,
	candidates CandidateStore,
	mergeLogs MergeLogReader,
	tx Transactor,
	logger ectologger.Logger,
) *BatchProcessor {
	return &BatchProcessor{
		venues:     venues,
		finder:     finder,
		candidates: candidates,
		mergeLogs:  mergeLogs,
		tx:         tx,
		logger:     logger,
	}
}

// WithNotifier publishes a summary after each full run.
func (p *BatchProcessor) WithNotifier(n Notifier) *BatchProcessor {
	p.notifier = n
	return p
}

// ProcessAllVenues scans every live venue in id order, batch by batch.
// On cancellation it returns the counts reached so far with the context error.
func (p *BatchProcessor) ProcessAllVenues(ctx context.Context, opts Options) (RunResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.BatchProcessor.ProcessAllVenues")
	defer span.End()

	var result RunResult
	if err := opts.validate(); err != nil {
		return result, err
	}

	start := time.Now()
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size":     opts.BatchSize,
		"min_confidence": opts.MinConfidence,
		"clear_existing": opts.ClearExisting,
	})

	if opts.ClearExisting {
		cleared, err := p.candidates.DeleteAllCandidates(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to clear existing duplicate candidates")
			metrics.RecordDetectionRun("failed", time.Since(start).Seconds())
			return result, err
		}
		result.Cleared = cleared
		log.WithField("cleared", cleared).Info("Cleared existing duplicate candidates")
	}

	venues, err := p.venues.ListVenues(ctx, models.VenueFilter{})
	if err != nil {
		log.WithError(err).Error("Failed to list venues for duplicate detection")
		metrics.RecordDetectionRun("failed", time.Since(start).Seconds())
		return result, err
	}

	totalBatches := (len(venues) + opts.BatchSize - 1) / opts.BatchSize
	for batch := 0; batch < totalBatches; batch++ {
		lo := batch * opts.BatchSize
		hi := min(lo+opts.BatchSize, len(venues))

		for _, venue := range venues[lo:hi] {
			if err := ctx.Err(); err != nil {
				log.WithError(err).WithField("processed", result.Processed).Warn("Duplicate detection cancelled")
				metrics.RecordDetectionRun("cancelled", time.Since(start).Seconds())
				return result, err
			}

			vr, err := p.ProcessVenue(ctx, venue, opts)
			if err != nil {
				log.WithError(err).WithField("venue_id", venue.ID).Error("Failed to process venue")
				metrics.RecordDetectionRun("failed", time.Since(start).Seconds())
				return result, err
			}
			result.Processed++
			result.DuplicatesFound += vr.DuplicatesFound
			result.DuplicatesStored += vr.DuplicatesStored
		}

		if opts.ProgressCallback != nil {
			opts.ProgressCallback(Progress{
				BatchIndex:       batch + 1,
				TotalBatches:     totalBatches,
				Processed:        result.Processed,
				DuplicatesFound:  result.DuplicatesFound,
				DuplicatesStored: result.DuplicatesStored,
			})
		}
		log.WithFields(map[string]any{
			"batch":     batch + 1,
			"total":     totalBatches,
			"processed": result.Processed,
		}).Debug("Processed venue batch")
	}

	metrics.RecordDetectionRun("completed", time.Since(start).Seconds())
	log.WithFields(map[string]any{
		"processed":         result.Processed,
		"duplicates_found":  result.DuplicatesFound,
		"duplicates_stored": result.DuplicatesStored,
		"duration":          time.Since(start).String(),
	}).Info("Duplicate detection completed")

	if p.notifier != nil {
		if err := p.notifier.DuplicatesDetected(ctx, result); err != nil {
			log.WithError(err).Warn("Failed to publish duplicate detection summary")
		}
	}

	return result, nil
}

// ProcessVenueByID loads a live venue and runs ProcessVenue on it.
func (p *BatchProcessor) ProcessVenueByID(ctx context.Context, venueID int64, opts Options) (VenueResult, error) {
	venue, err := p.venues.GetVenue(ctx, venueID)
	if err != nil {
		return VenueResult{VenueID: venueID}, err
	}
	if venue == nil {
		return VenueResult{VenueID: venueID}, fmt.Errorf("venue %d: %w", venueID, models.ErrVenueNotFound)
	}
	if venue.IsDeleted() {
		return VenueResult{VenueID: venueID}, fmt.Errorf("venue %d: %w", venueID, models.ErrVenueAlreadyDeleted)
	}
	return p.ProcessVenue(ctx, venue, opts)
}

// ProcessVenue stores every candidate of venue scoring at least MinConfidence.
// Pairs already stored are left untouched.
func (p *BatchProcessor) ProcessVenue(ctx context.Context, venue *models.Venue, opts Options) (VenueResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.BatchProcessor.ProcessVenue")
	defer span.End()

	result := VenueResult{VenueID: venue.ID}
	if err := opts.validate(); err != nil {
		return result, err
	}

	finderOpts := matching.DefaultFinderOptions()
	finderOpts.NameThreshold = opts.MinConfidence * nameThresholdRelaxation

	candidates, err := p.finder.FindCandidates(ctx, venue, finderOpts)
	if err != nil {
		return result, err
	}

	for _, c := range candidates {
		result.DuplicatesFound++
		if c.Scores.Confidence < opts.MinConfidence {
			continue
		}

		pair := models.NewVenuePair(venue.ID, c.Venue.ID)
		inserted, err := p.candidates.InsertCandidate(ctx, &models.FuzzyDuplicateCandidate{
			Venue1ID:           pair.Low,
			Venue2ID:           pair.High,
			ConfidenceScore:    c.Scores.Confidence,
			NameSimilarity:     c.Scores.Name,
			LocationSimilarity: c.Scores.Location,
			MatchCriteria:      c.MatchCriteria,
			Status:             models.CandidateStatusPending,
		})
		if err != nil {
			return result, err
		}
		if inserted {
			result.DuplicatesStored++
		}
	}

	metrics.RecordVenueProcessed(result.DuplicatesStored)
	if result.DuplicatesFound > 0 {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"venue_id":          venue.ID,
			"duplicates_found":  result.DuplicatesFound,
			"duplicates_stored": result.DuplicatesStored,
		}).Debug("Processed venue for duplicates")
	}

	return result, nil
}

// GetStatistics aggregates stored pairs by confidence band and status.
func (p *BatchProcessor) GetStatistics(ctx context.Context) (*models.DuplicateStatistics, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.BatchProcessor.GetStatistics")
	defer span.End()

	return p.candidates.CandidateStatistics(ctx)
}

// ListCandidates returns stored pairs, highest confidence first.
func (p *BatchProcessor) ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]*models.FuzzyDuplicateCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.BatchProcessor.ListCandidates")
	defer span.End()

	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return p.candidates.ListCandidates(ctx, filter)
}

// SyncWithMergeLogs moves pending pairs to merged or rejected according to the audit log.
// Merges are applied first; a row already moved is never touched again.
func (p *BatchProcessor) SyncWithMergeLogs(ctx context.Context) (SyncResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.BatchProcessor.SyncWithMergeLogs")
	defer span.End()

	var result SyncResult
	err := p.tx.RunInTx(ctx, func(ctx context.Context) error {
		merged, err := p.markFromLogs(ctx, models.ActionTypeMerge, models.CandidateStatusMerged)
		if err != nil {
			return err
		}
		rejected, err := p.markFromLogs(ctx, models.ActionTypeNotDuplicate, models.CandidateStatusRejected)
		if err != nil {
			return err
		}
		result = SyncResult{Merged: merged, Rejected: rejected}
		return nil
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to sync duplicate candidates with merge logs")
		return SyncResult{}, err
	}

	metrics.RecordSync(result.Merged, result.Rejected)
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"merged":   result.Merged,
		"rejected": result.Rejected,
	}).Info("Synced duplicate candidates with merge logs")

	return result, nil
}

func (p *BatchProcessor) markFromLogs(ctx context.Context, actionType, status string) (int, error) {
	pairs, err := p.mergeLogs.ListPairsByAction(ctx, actionType)
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	seen := make(map[models.VenuePair]struct{}, len(pairs))
	unique := make([]models.VenuePair, 0, len(pairs))
	for _, pair := range pairs {
		key := models.NewVenuePair(pair.Low, pair.High)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}

	return p.candidates.MarkPendingPairs(ctx, unique, status)
}
