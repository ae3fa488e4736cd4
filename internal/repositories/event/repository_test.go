package event_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/repositories/event"
	"github.com/Ramsey-B/clover/internal/testsupport"
)

func TestRepository_Postgres(t *testing.T) {
	db := testsupport.PostgresDB(t)
	repo := event.NewRepository(db, testsupport.TestLogger())
	ctx := context.Background()

	primary := testsupport.InsertVenue(t, db, testsupport.NewVenue("Crown"))
	secondary := testsupport.InsertVenue(t, db, testsupport.NewVenue("The Crown"))
	testsupport.InsertEvent(t, db, primary.ID, 1, "19:00")
	clash := testsupport.InsertEvent(t, db, secondary.ID, 1, "19:00")
	free := testsupport.InsertEvent(t, db, secondary.ID, 2, "20:00")

	t.Run("reassign onto a taken slot fails", func(t *testing.T) {
		_, err := repo.ReassignEvents(ctx, []int64{clash.ID}, primary.ID)
		assert.Error(t, err)
	})

	t.Run("reassign and delete", func(t *testing.T) {
		n, err := repo.ReassignEvents(ctx, []int64{free.ID}, primary.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = repo.DeleteEvents(ctx, []int64{clash.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		count, err := repo.CountEventsByVenue(ctx, primary.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		events, err := repo.ListEventsByVenue(ctx, secondary.ID)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("start times come back canonical and alias on the slot key", func(t *testing.T) {
		other := testsupport.InsertVenue(t, db, testsupport.NewVenue("Crown Inn"))
		testsupport.InsertEvent(t, db, other.ID, 3, "21:30")

		events, err := repo.ListEventsByVenue(ctx, other.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "21:30:00", events[0].StartTime)

		_, err = db.ExecContext(ctx, "INSERT INTO events (venue_id, day_of_week, start_time) VALUES ($1, 3, '21:30:00')", other.ID)
		assert.Error(t, err)
	})

	t.Run("sunday has a single encoding", func(t *testing.T) {
		_, err := db.ExecContext(ctx, "INSERT INTO events (venue_id, day_of_week, start_time) VALUES ($1, 7, '10:00')", primary.ID)
		assert.Error(t, err)
	})

	t.Run("empty id lists are no-ops", func(t *testing.T) {
		n, err := repo.ReassignEvents(ctx, nil, primary.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = repo.DeleteEvents(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
