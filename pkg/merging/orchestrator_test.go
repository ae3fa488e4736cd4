package merging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ts "github.com/Ramsey-B/clover/internal/testsupport"
	"github.com/Ramsey-B/clover/pkg/models"
)

func newOrchestrator(store *ts.MemStore) *MergeOrchestrator {
	return NewMergeOrchestrator(store, store, store, store, ts.SilentLogger())
}

type fakeLocker struct {
	err      error
	locked   [][]int64
	unlocked int
}

func (l *fakeLocker) LockVenues(_ context.Context, venueIDs ...int64) (func(context.Context), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, venueIDs)
	return func(context.Context) { l.unlocked++ }, nil
}

type recordingPublisher struct {
	merged       []*models.MergeLogEntry
	notDuplicate []*models.MergeLogEntry
	err          error
}

func (p *recordingPublisher) VenueMerged(_ context.Context, entry *models.MergeLogEntry) error {
	p.merged = append(p.merged, entry)
	return p.err
}

func (p *recordingPublisher) VenueMarkedNotDuplicate(_ context.Context, entry *models.MergeLogEntry) error {
	p.notDuplicate = append(p.notDuplicate, entry)
	return p.err
}

// seedScenario gives primary (Mon,19:00) and secondary (Mon,19:00), (Tue,20:00).
func seedScenario(store *ts.MemStore) (primary, secondary *models.Venue) {
	primary = store.AddVenue(ts.NewVenue("The Crown", ts.WithID(1), ts.WithPostcode("SW1A1AA"), ts.WithCity(1)))
	secondary = store.AddVenue(ts.NewVenue("Crown Pub & Kitchen", ts.WithID(2), ts.WithPostcode("SW1A1AA"), ts.WithPlaceID("gp-1")))
	store.AddEvent(primary.ID, 1, "19:00:00")
	store.AddEvent(secondary.ID, 1, "19:00:00")
	store.AddEvent(secondary.ID, 2, "20:00:00")
	return primary, secondary
}

func slotsOf(events []models.Event) []models.EventSlot {
	out := make([]models.EventSlot, 0, len(events))
	for _, e := range events {
		out = append(out, e.Slot())
	}
	return out
}

func TestMergeVenues_MigratesEventsAndSoftDeletes(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	primary, secondary := seedScenario(store)
	originalEvents, err := store.ListEventsByVenue(ctx, primary.ID)
	require.NoError(t, err)

	result, err := newOrchestrator(store).MergeVenues(ctx, primary.ID, secondary.ID, DefaultMergeOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, result.EventsMigrated)
	assert.Equal(t, 1, result.ConflictingEventsDeleted)
	assert.Empty(t, result.Errors)
	assert.NotZero(t, result.LogID)

	events, err := store.ListEventsByVenue(ctx, primary.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.EventSlot{{DayOfWeek: 1, StartTime: "19:00:00"}, {DayOfWeek: 2, StartTime: "20:00:00"}}, slotsOf(events))
	assert.Equal(t, originalEvents[0].ID, events[0].ID, "the primary keeps its own conflicting event")

	left, err := store.ListEventsByVenue(ctx, secondary.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	gone, err := store.GetVenue(ctx, secondary.ID)
	require.NoError(t, err)
	require.True(t, gone.IsDeleted())
	assert.Equal(t, primary.ID, *gone.MergedIntoID)
	assert.Equal(t, DefaultPerformedBy, *gone.DeletedBy)

	survivor, err := store.GetVenue(ctx, primary.ID)
	require.NoError(t, err)
	assert.Equal(t, "Crown Pub & Kitchen", survivor.Name)
	assert.Equal(t, "gp-1", *survivor.PlaceID)
	assert.Equal(t, int64(1), *survivor.CityID)

	entry, err := store.GetMergeLog(ctx, result.LogID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.ActionTypeMerge, entry.ActionType)
	assert.Equal(t, 1, entry.Metadata.EventsMigrated)
	assert.Equal(t, 1, entry.Metadata.ConflictingEventsDeleted)
	assert.Equal(t, MetadataCombine, entry.Metadata.MetadataStrategy)
	assert.Contains(t, entry.Metadata.FieldChanges, FieldName)
	require.NotNil(t, entry.Metadata.Snapshot)
	assert.Equal(t, "The Crown", entry.Metadata.Snapshot.Primary.Name)
	assert.Len(t, entry.Metadata.Snapshot.Events, 2)
}

func TestMergeVenues_StartTimeSpellingsShareASlot(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	primary := store.AddVenue(ts.NewVenue("Crown", ts.WithID(1)))
	secondary := store.AddVenue(ts.NewVenue("Crown", ts.WithID(2)))
	kept := store.AddEvent(primary.ID, 1, "19:00")
	store.AddEvent(secondary.ID, 1, "19:00:00")

	result, err := newOrchestrator(store).MergeVenues(ctx, primary.ID, secondary.ID, DefaultMergeOptions())
	require.NoError(t, err)
	assert.Zero(t, result.EventsMigrated)
	assert.Equal(t, 1, result.ConflictingEventsDeleted)

	events, err := store.ListEventsByVenue(ctx, primary.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, kept.ID, events[0].ID)
	assert.Equal(t, []models.EventSlot{{DayOfWeek: 1, StartTime: "19:00:00"}}, slotsOf(events))
}

func TestMergeVenues_EventAccounting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	slot := func(n int) (int, string) {
		return n % 7, fmt.Sprintf("%02d:00:00", 18+n/7)
	}

	properties.Property("migrated plus deleted equals the secondary's events and primary slots stay unique", prop.ForAll(
		func(primarySlots, secondarySlots []int) bool {
			ctx := context.Background()
			store := ts.NewMemStore()
			p := store.AddVenue(ts.NewVenue("Crown", ts.WithID(1)))
			s := store.AddVenue(ts.NewVenue("Crown", ts.WithID(2)))
			seed := func(venueID int64, slots []int) int {
				seen := map[int]bool{}
				for _, n := range slots {
					if seen[n] {
						continue
					}
					seen[n] = true
					day, at := slot(n)
					store.AddEvent(venueID, day, at)
				}
				return len(seen)
			}
			seed(p.ID, primarySlots)
			secondaryCount := seed(s.ID, secondarySlots)

			result, err := newOrchestrator(store).MergeVenues(ctx, p.ID, s.ID, DefaultMergeOptions())
			if err != nil {
				return false
			}
			if result.EventsMigrated+result.ConflictingEventsDeleted != secondaryCount {
				return false
			}

			events, err := store.ListEventsByVenue(ctx, p.ID)
			if err != nil {
				return false
			}
			seen := map[models.EventSlot]bool{}
			for _, e := range events {
				if seen[e.Slot()] {
					return false
				}
				seen[e.Slot()] = true
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 20)),
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}

func TestMergeVenues_Rejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		primaryID   int64
		secondaryID int64
		opts        MergeOptions
		expected    error
	}{
		{name: "self merge", primaryID: 1, secondaryID: 1, opts: DefaultMergeOptions(), expected: models.ErrSelfMerge},
		{name: "missing primary", primaryID: 99, secondaryID: 2, opts: DefaultMergeOptions(), expected: models.ErrVenueNotFound},
		{name: "missing secondary", primaryID: 1, secondaryID: 99, opts: DefaultMergeOptions(), expected: models.ErrVenueNotFound},
		{name: "deleted secondary", primaryID: 1, secondaryID: 3, opts: DefaultMergeOptions(), expected: models.ErrVenueAlreadyDeleted},
		{name: "deleted primary", primaryID: 3, secondaryID: 1, opts: DefaultMergeOptions(), expected: models.ErrVenueAlreadyDeleted},
		{name: "unknown strategy", primaryID: 1, secondaryID: 2, opts: MergeOptions{MetadataStrategy: "newest"}, expected: models.ErrInvalidOption},
		{name: "unknown override", primaryID: 1, secondaryID: 2, opts: MergeOptions{FieldOverrides: []string{"phone"}}, expected: models.ErrInvalidOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := ts.NewMemStore()
			seedScenario(store)
			store.AddVenue(ts.NewVenue("Old Crown", ts.WithID(3), ts.Deleted()))

			_, err := newOrchestrator(store).MergeVenues(ctx, tt.primaryID, tt.secondaryID, tt.opts)
			require.ErrorIs(t, err, tt.expected)
			assert.Equal(t, StepLoadValidate, FailedStep(err))
			assert.True(t, IsRejection(err))

			logs, err := store.ListMergeLogs(ctx, models.MergeHistoryFilter{})
			require.NoError(t, err)
			assert.Empty(t, logs)
		})
	}
}

func TestMergeVenues_FailedStepRollsBack(t *testing.T) {
	ctx := context.Background()

	for method, step := range map[string]string{
		"DeleteEvents":    StepMigrateEvents,
		"ReassignEvents":  StepMigrateEvents,
		"UpdateVenue":     StepMergeMetadata,
		"SoftDeleteVenue": StepSoftDelete,
		"CreateMergeLog":  StepWriteAuditLog,
	} {
		t.Run(method, func(t *testing.T) {
			store := ts.NewMemStore()
			primary, secondary := seedScenario(store)
			boom := errors.New("store unavailable")
			store.Failures[method] = boom

			_, err := newOrchestrator(store).MergeVenues(ctx, primary.ID, secondary.ID, DefaultMergeOptions())
			require.ErrorIs(t, err, boom)
			assert.Equal(t, step, FailedStep(err))
			assert.False(t, IsRejection(err))

			delete(store.Failures, method)

			primaryEvents, err := store.ListEventsByVenue(ctx, primary.ID)
			require.NoError(t, err)
			assert.Len(t, primaryEvents, 1)
			secondaryEvents, err := store.ListEventsByVenue(ctx, secondary.ID)
			require.NoError(t, err)
			assert.Len(t, secondaryEvents, 2)

			p, err := store.GetVenue(ctx, primary.ID)
			require.NoError(t, err)
			assert.Equal(t, "The Crown", p.Name)
			assert.Nil(t, p.PlaceID)

			s, err := store.GetVenue(ctx, secondary.ID)
			require.NoError(t, err)
			assert.False(t, s.IsDeleted())

			logs, err := store.ListMergeLogs(ctx, models.MergeHistoryFilter{})
			require.NoError(t, err)
			assert.Empty(t, logs)
		})
	}
}

func TestMergeVenues_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	primary, secondary := seedScenario(store)

	opts := DefaultMergeOptions()
	opts.DryRun = true
	result, err := newOrchestrator(store).MergeVenues(ctx, primary.ID, secondary.ID, opts)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Zero(t, result.LogID)
	require.NotNil(t, result.Preview)
	assert.Equal(t, 1, result.EventsMigrated)
	assert.Equal(t, 1, result.ConflictingEventsDeleted)

	s, err := store.GetVenue(ctx, secondary.ID)
	require.NoError(t, err)
	assert.False(t, s.IsDeleted())
	events, err := store.ListEventsByVenue(ctx, secondary.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMergeVenues_SelectiveEventsBehaveLikeMigrateAll(t *testing.T) {
	store := ts.NewMemStore()
	primary, secondary := seedScenario(store)

	opts := DefaultMergeOptions()
	opts.EventStrategy = EventsSelective
	result, err := newOrchestrator(store).MergeVenues(context.Background(), primary.ID, secondary.ID, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EventsMigrated)
}

func TestMergeVenues_Locking(t *testing.T) {
	ctx := context.Background()

	t.Run("contended venue is refused before any write", func(t *testing.T) {
		store := ts.NewMemStore()
		primary, secondary := seedScenario(store)
		locker := &fakeLocker{err: fmt.Errorf("venue %d: %w", secondary.ID, models.ErrMergeInProgress)}

		_, err := newOrchestrator(store).WithLocker(locker).MergeVenues(ctx, primary.ID, secondary.ID, DefaultMergeOptions())
		require.ErrorIs(t, err, models.ErrMergeInProgress)
		assert.Equal(t, StepAcquireLock, FailedStep(err))

		s, err := store.GetVenue(ctx, secondary.ID)
		require.NoError(t, err)
		assert.False(t, s.IsDeleted())
	})

	t.Run("locks are released after the merge", func(t *testing.T) {
		store := ts.NewMemStore()
		primary, secondary := seedScenario(store)
		locker := &fakeLocker{}

		_, err := newOrchestrator(store).WithLocker(locker).MergeVenues(ctx, primary.ID, secondary.ID, DefaultMergeOptions())
		require.NoError(t, err)
		assert.Equal(t, [][]int64{{primary.ID, secondary.ID}}, locker.locked)
		assert.Equal(t, 1, locker.unlocked)
	})

	t.Run("self merge never reaches the locker", func(t *testing.T) {
		store := ts.NewMemStore()
		seedScenario(store)
		locker := &fakeLocker{}

		_, err := newOrchestrator(store).WithLocker(locker).MergeVenues(ctx, 1, 1, DefaultMergeOptions())
		require.ErrorIs(t, err, models.ErrSelfMerge)
		assert.Empty(t, locker.locked)
	})
}

func TestMergeVenues_PublishesAfterCommit(t *testing.T) {
	store := ts.NewMemStore()
	primary, secondary := seedScenario(store)
	publisher := &recordingPublisher{err: errors.New("broker down")}

	result, err := newOrchestrator(store).WithPublisher(publisher).MergeVenues(context.Background(), primary.ID, secondary.ID, DefaultMergeOptions())
	require.NoError(t, err, "publish failures do not undo the merge")
	require.Len(t, publisher.merged, 1)
	assert.Equal(t, result.LogID, publisher.merged[0].ID)
}

func TestPreviewMerge(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	primary, secondary := seedScenario(store)
	o := newOrchestrator(store)

	preview, err := o.PreviewMerge(ctx, primary.ID, secondary.ID, DefaultMergeOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, preview.EstimatedChanges.EventsToMigrate)
	assert.Equal(t, 1, preview.EstimatedChanges.ConflictingEvents)
	assert.Equal(t, []models.EventSlot{{DayOfWeek: 1, StartTime: "19:00:00"}}, preview.EventConflicts)
	assert.True(t, preview.EstimatedChanges.MetadataChanges)
	assert.Contains(t, preview.EstimatedChanges.FieldsToUpdate, FieldPlaceID)
	require.Len(t, preview.Conflicts, 1)
	assert.Equal(t, FieldName, preview.Conflicts[0].Field)
	assert.Equal(t, ActionReviewConflicts, preview.RecommendedAction)

	_, err = o.PreviewMerge(ctx, primary.ID, primary.ID, DefaultMergeOptions())
	assert.ErrorIs(t, err, models.ErrSelfMerge)
}

func TestDeterminePrimaryVenue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("events and place id outweigh an empty venue", func(t *testing.T) {
		store := ts.NewMemStore()
		x := ts.NewVenue("Crown", ts.WithID(1))
		x.InsertedAt = now
		y := ts.NewVenue("Crown", ts.WithID(2), ts.WithPlaceID("gp-1"))
		y.InsertedAt = now
		store.AddVenue(x)
		store.AddVenue(y)
		for day := 0; day < 5; day++ {
			store.AddEvent(y.ID, day, "19:00:00")
		}

		selection, err := newOrchestrator(store).WithClock(func() time.Time { return now }).DeterminePrimaryVenue(ctx, x.ID, y.ID)
		require.NoError(t, err)
		assert.Equal(t, y.ID, selection.Primary.ID)
		assert.Equal(t, x.ID, selection.Secondary.ID)
		assert.Equal(t, 5, selection.PrimaryScore.EventPoints)
		assert.Equal(t, placeIDBonus, selection.PrimaryScore.PlaceIDBonus)
		assert.InDelta(t, 5.0, selection.PrimaryScore.RecencyBonus, 1e-9)
		assert.InDelta(t, 1+5+5+5, selection.PrimaryScore.Total, 1e-9)
	})

	t.Run("ties favour the first argument", func(t *testing.T) {
		store := ts.NewMemStore()
		a := ts.NewVenue("Crown", ts.WithID(1))
		a.InsertedAt = now
		b := ts.NewVenue("Crown", ts.WithID(2))
		b.InsertedAt = now
		store.AddVenue(a)
		store.AddVenue(b)
		o := newOrchestrator(store).WithClock(func() time.Time { return now })

		selection, err := o.DeterminePrimaryVenue(ctx, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), selection.Primary.ID)
	})

	t.Run("event points are capped", func(t *testing.T) {
		store := ts.NewMemStore()
		v := store.AddVenue(ts.NewVenue("Crown", ts.WithID(1)))
		other := store.AddVenue(ts.NewVenue("Crown", ts.WithID(2)))
		for i := 0; i < 14; i++ {
			store.AddEvent(v.ID, i%7, fmt.Sprintf("%02d:00:00", 18+i/7))
		}

		selection, err := newOrchestrator(store).DeterminePrimaryVenue(ctx, other.ID, v.ID)
		require.NoError(t, err)
		assert.Equal(t, v.ID, selection.Primary.ID)
		assert.Equal(t, 14, selection.PrimaryScore.EventCount)
		assert.Equal(t, maxEventPoints, selection.PrimaryScore.EventPoints)
	})

	t.Run("missing venue", func(t *testing.T) {
		store := ts.NewMemStore()
		store.AddVenue(ts.NewVenue("Crown", ts.WithID(1)))
		_, err := newOrchestrator(store).DeterminePrimaryVenue(ctx, 1, 42)
		assert.ErrorIs(t, err, models.ErrVenueNotFound)
	})
}

func TestRecencyBonus(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 5.0, recencyBonus(now, now), 1e-9)
	assert.InDelta(t, 2.5, recencyBonus(now.Add(-15*24*time.Hour), now), 1e-9)
	assert.Zero(t, recencyBonus(now.Add(-31*24*time.Hour), now))
	assert.Zero(t, recencyBonus(time.Time{}, now))
}

func TestCreateNotDuplicateLog(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	seedScenario(store)
	publisher := &recordingPublisher{}
	o := newOrchestrator(store).WithPublisher(publisher)

	first, err := o.CreateNotDuplicateLog(ctx, 1, 2, DefaultNotDuplicateOptions())
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := o.CreateNotDuplicateLog(ctx, 1, 2, DefaultNotDuplicateOptions())
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	reversed, err := o.CreateNotDuplicateLog(ctx, 2, 1, NotDuplicateOptions{})
	require.NoError(t, err)
	assert.False(t, reversed.Created)

	history, err := o.ListMergeHistory(ctx, models.MergeHistoryFilter{ActionType: models.ActionTypeNotDuplicate})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Involves(1, 2))
	assert.Equal(t, DefaultPerformedBy, history[0].PerformedBy)
	assert.Len(t, publisher.notDuplicate, 1, "only the first call announces the decision")

	_, err = o.CreateNotDuplicateLog(ctx, 1, 1, DefaultNotDuplicateOptions())
	assert.ErrorIs(t, err, models.ErrSelfMerge)

	_, err = o.CreateNotDuplicateLog(ctx, 1, 77, DefaultNotDuplicateOptions())
	assert.ErrorIs(t, err, models.ErrVenueNotFound)
}

func TestRollbackMerge(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	primary, secondary := seedScenario(store)
	o := newOrchestrator(store)

	result, err := o.MergeVenues(ctx, primary.ID, secondary.ID, DefaultMergeOptions())
	require.NoError(t, err)

	err = o.RollbackMerge(ctx, result.LogID, RollbackOptions{PerformedBy: "ops"})
	assert.ErrorIs(t, err, models.ErrRollbackUnsupported)

	err = o.RollbackMerge(ctx, 9999, RollbackOptions{})
	assert.ErrorIs(t, err, models.ErrMergeLogNotFound)

	s, err := store.GetVenue(ctx, secondary.ID)
	require.NoError(t, err)
	assert.True(t, s.IsDeleted(), "rollback never changes state")
}

func TestListMergeHistory(t *testing.T) {
	ctx := context.Background()
	store := ts.NewMemStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Hour)
	}
	for id := int64(1); id <= 4; id++ {
		store.AddVenue(ts.NewVenue(fmt.Sprintf("Venue %d", id), ts.WithID(id)))
	}
	o := newOrchestrator(store)

	_, err := o.MergeVenues(ctx, 1, 2, DefaultMergeOptions())
	require.NoError(t, err)
	_, err = o.CreateNotDuplicateLog(ctx, 3, 4, DefaultNotDuplicateOptions())
	require.NoError(t, err)
	_, err = o.CreateNotDuplicateLog(ctx, 1, 3, DefaultNotDuplicateOptions())
	require.NoError(t, err)

	all, err := o.ListMergeHistory(ctx, models.MergeHistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].InsertedAt.After(all[1].InsertedAt), "newest first")

	forVenue, err := o.ListMergeHistory(ctx, models.MergeHistoryFilter{VenueID: 3})
	require.NoError(t, err)
	assert.Len(t, forVenue, 2)

	merges, err := o.ListMergeHistory(ctx, models.MergeHistoryFilter{ActionType: models.ActionTypeMerge})
	require.NoError(t, err)
	assert.Len(t, merges, 1)

	limited, err := o.ListMergeHistory(ctx, models.MergeHistoryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = o.ListMergeHistory(ctx, models.MergeHistoryFilter{ActionType: "delete"})
	assert.ErrorIs(t, err, models.ErrInvalidOption)

	from, to := base.Add(10*time.Hour), base
	_, err = o.ListMergeHistory(ctx, models.MergeHistoryFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, models.ErrInvalidOption)
}
