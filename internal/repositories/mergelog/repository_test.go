package mergelog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/repositories/mergelog"
	"github.com/Ramsey-B/clover/internal/testsupport"
	"github.com/Ramsey-B/clover/pkg/models"
)

func TestRepository_Postgres(t *testing.T) {
	db := testsupport.PostgresDB(t)
	repo := mergelog.NewRepository(db, testsupport.TestLogger())
	ctx := context.Background()

	merged, err := repo.CreateMergeLog(ctx, &models.MergeLogEntry{
		ActionType:       models.ActionTypeMerge,
		PrimaryVenueID:   1,
		SecondaryVenueID: 2,
		PerformedBy:      "tester",
		Metadata:         models.MergeLogMetadata{EventsMigrated: 3, MetadataStrategy: "combine"},
	})
	require.NoError(t, err)
	assert.NotZero(t, merged.ID)

	t.Run("not duplicate is idempotent", func(t *testing.T) {
		entry := &models.MergeLogEntry{ActionType: models.ActionTypeNotDuplicate, PrimaryVenueID: 3, SecondaryVenueID: 4, PerformedBy: "tester"}
		first, created, err := repo.CreateNotDuplicateLog(ctx, entry)
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := repo.CreateNotDuplicateLog(ctx, entry)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("get round trips metadata", func(t *testing.T) {
		got, err := repo.GetMergeLog(ctx, merged.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Metadata.EventsMigrated)

		missing, err := repo.GetMergeLog(ctx, 999999)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("list filters", func(t *testing.T) {
		all, err := repo.ListMergeLogs(ctx, models.MergeHistoryFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, models.ActionTypeNotDuplicate, all[0].ActionType)

		byVenue, err := repo.ListMergeLogs(ctx, models.MergeHistoryFilter{VenueID: 2})
		require.NoError(t, err)
		require.Len(t, byVenue, 1)
		assert.Equal(t, merged.ID, byVenue[0].ID)

		pairs, err := repo.ListPairsByAction(ctx, models.ActionTypeNotDuplicate)
		require.NoError(t, err)
		assert.Equal(t, []models.VenuePair{{Low: 3, High: 4}}, pairs)
	})
}
