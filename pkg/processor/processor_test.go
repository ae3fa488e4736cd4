package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ts "github.com/Ramsey-B/clover/internal/testsupport"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
)

type recordingNotifier struct {
	results []RunResult
	err     error
}

func (n *recordingNotifier) DuplicatesDetected(_ context.Context, result RunResult) error {
	n.results = append(n.results, result)
	return n.err
}

func newProcessor(store *ts.MemStore) *BatchProcessor {
	logger := ts.SilentLogger()
	finder := matching.NewCandidateFinder(store, matching.NewScorer(), logger)
	return NewBatchProcessor(store, finder, store, store, store, logger)
}

// seedPopulation adds two duplicate pairs and one unrelated venue.
func seedPopulation(store *ts.MemStore) {
	store.AddVenue(ts.NewVenue("The Crown", ts.WithID(1), ts.WithCity(1), ts.WithPostcode("SW1A1AA")))
	store.AddVenue(ts.NewVenue("Crown", ts.WithID(2), ts.WithCity(1), ts.WithPostcode("SW1A1AA")))
	store.AddVenue(ts.NewVenue("Anchor", ts.WithID(3), ts.WithCity(1), ts.WithCoordinates(53.4, -2.2)))
	store.AddVenue(ts.NewVenue("Rose", ts.WithID(5), ts.WithPlaceID("p9")))
	store.AddVenue(ts.NewVenue("Thistle", ts.WithID(6), ts.WithPlaceID("p9")))
}

func TestProcessAllVenues_StoresEachPairOnce(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	seedPopulation(store)
	p := newProcessor(store)

	result, err := p.ProcessAllVenues(ctx, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 4, result.DuplicatesFound, "each pair is seen from both sides")
	assert.Equal(t, 2, result.DuplicatesStored)

	rows, err := store.ListCandidates(ctx, models.CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	pairs := map[models.VenuePair]bool{}
	for _, r := range rows {
		assert.Less(t, r.Venue1ID, r.Venue2ID)
		assert.Equal(t, models.CandidateStatusPending, r.Status)
		assert.GreaterOrEqual(t, r.ConfidenceScore, 0.70)
		assert.LessOrEqual(t, r.ConfidenceScore, 1.0)
		pairs[models.VenuePair{Low: r.Venue1ID, High: r.Venue2ID}] = true
	}
	assert.True(t, pairs[models.NewVenuePair(1, 2)])
	assert.True(t, pairs[models.NewVenuePair(5, 6)])

	again, err := p.ProcessAllVenues(ctx, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, again.DuplicatesFound)
	assert.Zero(t, again.DuplicatesStored)

	rows, err = store.ListCandidates(ctx, models.CandidateFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestProcessAllVenues_ClearExisting(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	seedPopulation(store)
	p := newProcessor(store)

	_, err := p.ProcessAllVenues(ctx, DefaultOptions())
	require.NoError(t, err)
	store.SetCandidateStatus(1, 2, models.CandidateStatusRejected)

	opts := DefaultOptions()
	opts.ClearExisting = true
	result, err := p.ProcessAllVenues(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Cleared)
	assert.Equal(t, 2, result.DuplicatesStored)

	rows, err := store.ListCandidates(ctx, models.CandidateFilter{Status: models.CandidateStatusRejected})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestProcessAllVenues_ProgressCallback(t *testing.T) {
	store := ts.NewMemStore()
	seedPopulation(store)
	p := newProcessor(store)

	var progress []Progress
	opts := DefaultOptions()
	opts.BatchSize = 2
	opts.ProgressCallback = func(pr Progress) { progress = append(progress, pr) }

	_, err := p.ProcessAllVenues(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, progress, 3)
	for i, pr := range progress {
		assert.Equal(t, i+1, pr.BatchIndex)
		assert.Equal(t, 3, pr.TotalBatches)
	}
	assert.Equal(t, 2, progress[0].Processed)
	assert.Equal(t, 5, progress[2].Processed)
	assert.Equal(t, 2, progress[2].DuplicatesStored)
}

func TestProcessAllVenues_MinConfidenceGatesStorage(t *testing.T) {
	store := ts.NewMemStore()
	store.AddVenue(ts.NewVenue("Red Lion", ts.WithID(1), ts.WithPostcode("M11AA")))
	store.AddVenue(ts.NewVenue("Red Lyon", ts.WithID(2), ts.WithPostcode("M11AA")))
	p := newProcessor(store)

	opts := DefaultOptions()
	opts.MinConfidence = 0.99
	result, err := p.ProcessAllVenues(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DuplicatesFound)
	assert.Zero(t, result.DuplicatesStored)

	result, err = p.ProcessAllVenues(context.Background(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, result.DuplicatesStored)
}

func TestProcessAllVenues_SkipsDeletedVenues(t *testing.T) {
	store := ts.NewMemStore()
	store.AddVenue(ts.NewVenue("Rose", ts.WithID(1), ts.WithPlaceID("p9")))
	store.AddVenue(ts.NewVenue("Rose", ts.WithID(2), ts.WithPlaceID("p9"), ts.Deleted()))
	p := newProcessor(store)

	result, err := p.ProcessAllVenues(context.Background(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.DuplicatesFound)
}

func TestProcessAllVenues_InvalidOptions(t *testing.T) {
	p := newProcessor(ts.NewMemStore())

	for name, opts := range map[string]Options{
		"zero batch size":         {BatchSize: 0, MinConfidence: 0.7},
		"negative min confidence": {BatchSize: 10, MinConfidence: -0.1},
		"min confidence above 1":  {BatchSize: 10, MinConfidence: 1.5},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.ProcessAllVenues(context.Background(), opts)
			assert.ErrorIs(t, err, models.ErrInvalidOption)
		})
	}
}

func TestProcessAllVenues_Cancelled(t *testing.T) {
	store := ts.NewMemStore()
	seedPopulation(store)
	p := newProcessor(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.ProcessAllVenues(ctx, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Processed)
}

func TestProcessAllVenues_StoreFailure(t *testing.T) {
	store := ts.NewMemStore()
	seedPopulation(store)
	boom := errors.New("insert failed")
	store.Failures["InsertCandidate"] = boom
	p := newProcessor(store)

	_, err := p.ProcessAllVenues(context.Background(), DefaultOptions())
	assert.ErrorIs(t, err, boom)
}

func TestProcessAllVenues_NotifiesOnCompletion(t *testing.T) {
	store := ts.NewMemStore()
	seedPopulation(store)
	notifier := &recordingNotifier{err: errors.New("broker down")}
	p := newProcessor(store).WithNotifier(notifier)

	result, err := p.ProcessAllVenues(context.Background(), DefaultOptions())
	require.NoError(t, err, "notification failures do not fail the run")
	require.Len(t, notifier.results, 1)
	assert.Equal(t, result, notifier.results[0])
}

func TestProcessVenueByID(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	seedPopulation(store)
	store.AddVenue(ts.NewVenue("Gone", ts.WithID(9), ts.Deleted()))
	p := newProcessor(store)

	result, err := p.ProcessVenueByID(ctx, 5, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.VenueID)
	assert.Equal(t, 1, result.DuplicatesFound)
	assert.Equal(t, 1, result.DuplicatesStored)

	_, err = p.ProcessVenueByID(ctx, 404, DefaultOptions())
	assert.ErrorIs(t, err, models.ErrVenueNotFound)

	_, err = p.ProcessVenueByID(ctx, 9, DefaultOptions())
	assert.ErrorIs(t, err, models.ErrVenueAlreadyDeleted)
}

func TestGetStatistics(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	for i, score := range []float64{0.95, 0.91, 0.80, 0.72} {
		_, err := store.InsertCandidate(ctx, &models.FuzzyDuplicateCandidate{
			Venue1ID:        int64(i*2 + 1),
			Venue2ID:        int64(i*2 + 2),
			ConfidenceScore: score,
			Status:          models.CandidateStatusPending,
		})
		require.NoError(t, err)
	}
	store.SetCandidateStatus(1, 2, models.CandidateStatusMerged)
	p := newProcessor(store)

	stats, err := p.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, models.ConfidenceBands{High: 2, Medium: 1, Low: 1}, stats.ByConfidence)
	assert.Equal(t, 3, stats.ByStatus[models.CandidateStatusPending])
	assert.Equal(t, 1, stats.ByStatus[models.CandidateStatusMerged])
	assert.InDelta(t, 0.845, stats.AverageConfidence, 1e-9)
}

func TestSyncWithMergeLogs(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	for _, pair := range []models.VenuePair{{Low: 1, High: 2}, {Low: 3, High: 4}, {Low: 5, High: 6}, {Low: 7, High: 8}} {
		_, err := store.InsertCandidate(ctx, &models.FuzzyDuplicateCandidate{
			Venue1ID: pair.Low, Venue2ID: pair.High, ConfidenceScore: 0.9, Status: models.CandidateStatusPending,
		})
		require.NoError(t, err)
	}
	store.SetCandidateStatus(7, 8, models.CandidateStatusReviewed)

	logs := []models.MergeLogEntry{
		// Reverse order still matches the stored pair.
		{ActionType: models.ActionTypeMerge, PrimaryVenueID: 2, SecondaryVenueID: 1},
		{ActionType: models.ActionTypeMerge, PrimaryVenueID: 1, SecondaryVenueID: 2},
		{ActionType: models.ActionTypeNotDuplicate, PrimaryVenueID: 3, SecondaryVenueID: 4},
		// Merge wins over a not-duplicate decision for the same pair.
		{ActionType: models.ActionTypeNotDuplicate, PrimaryVenueID: 1, SecondaryVenueID: 2},
		{ActionType: models.ActionTypeMerge, PrimaryVenueID: 7, SecondaryVenueID: 8},
	}
	for i := range logs {
		_, err := store.CreateMergeLog(ctx, &logs[i])
		require.NoError(t, err)
	}
	p := newProcessor(store)

	result, err := p.SyncWithMergeLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Merged: 1, Rejected: 1}, result)

	status := func(a, b int64) string {
		rows, err := store.ListCandidates(ctx, models.CandidateFilter{})
		require.NoError(t, err)
		for _, r := range rows {
			if r.Venue1ID == a && r.Venue2ID == b {
				return r.Status
			}
		}
		return ""
	}
	assert.Equal(t, models.CandidateStatusMerged, status(1, 2))
	assert.Equal(t, models.CandidateStatusRejected, status(3, 4))
	assert.Equal(t, models.CandidateStatusPending, status(5, 6))
	assert.Equal(t, models.CandidateStatusReviewed, status(7, 8), "non-pending rows are left alone")

	again, err := p.SyncWithMergeLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, again)
}

func TestSyncWithMergeLogs_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	_, err := store.InsertCandidate(ctx, &models.FuzzyDuplicateCandidate{
		Venue1ID: 1, Venue2ID: 2, ConfidenceScore: 0.9, Status: models.CandidateStatusPending,
	})
	require.NoError(t, err)
	_, err = store.CreateMergeLog(ctx, &models.MergeLogEntry{ActionType: models.ActionTypeMerge, PrimaryVenueID: 1, SecondaryVenueID: 2})
	require.NoError(t, err)

	p := newProcessor(store)
	calls := 0
	failing := &failingPairs{MemStore: store, failOn: 2, calls: &calls}
	p.mergeLogs = failing

	_, err = p.SyncWithMergeLogs(ctx)
	require.Error(t, err)

	rows, err := store.ListCandidates(ctx, models.CandidateFilter{Status: models.CandidateStatusPending})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "the merged transition is undone")
}

// failingPairs fails the nth ListPairsByAction call.
type failingPairs struct {
	*ts.MemStore
	failOn int
	calls  *int
}

func (f *failingPairs) ListPairsByAction(ctx context.Context, actionType string) ([]models.VenuePair, error) {
	*f.calls++
	if *f.calls == f.failOn {
		return nil, errors.New("log read failed")
	}
	return f.MemStore.ListPairsByAction(ctx, actionType)
}
