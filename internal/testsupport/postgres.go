package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestLogger writes development-formatted logs, for integration tests.
func TestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func migrationFolder() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "db", "pg")
}

// PostgresDB connects to the database named by the DB_* variables, applies the
// migrations and empties every table. The test is skipped without DB_HOST or under -short.
func PostgresDB(t *testing.T) database.DB {
	t.Helper()

	if testing.Short() || os.Getenv("DB_HOST") == "" {
		t.Skip("postgres integration test: set DB_HOST to run")
	}

	cfg := database.ConnectionConfig{
		Host:     os.Getenv("DB_HOST"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER_NAME", "user"),
		Password: getEnv("DB_PASSWORD", "password"),
		Name:     getEnv("DB_NAME", "clover_test"),
		SSLMode:  "disable",
	}
	logger := TestLogger()

	conn, err := sqlx.Connect("postgres", cfg.DSN())
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { conn.Close() })

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: migrationFolder()})
	require.NoError(t, migrations.MigratePostgres(conn, cfg.Name))

	_, err = conn.Exec(`TRUNCATE venue_merge_logs, venue_fuzzy_duplicates, events, venues RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return database.NewDatabaseInstance(conn, logger)
}

// InsertVenue seeds v directly and sets its id.
func InsertVenue(t *testing.T, db database.DB, v *models.Venue) *models.Venue {
	t.Helper()

	ib := database.NewInsertBuilder()
	ib.InsertInto("venues")
	ib.Cols("name", "address", "postcode", "latitude", "longitude", "place_id", "city_id", "slug", "images", "deleted_at")
	ib.Values(v.Name, v.Address, v.Postcode, v.Latitude, v.Longitude, v.PlaceID, v.CityID, v.Slug, database.NewJSONB(v.Images), v.DeletedAt)
	ib.Returning("id")

	query, args := ib.Build()
	require.NoError(t, db.GetContext(context.Background(), &v.ID, query, args...))
	return v
}

// InsertEvent seeds an event for venueID.
func InsertEvent(t *testing.T, db database.DB, venueID int64, dayOfWeek int, startTime string) *models.Event {
	t.Helper()

	e := &models.Event{VenueID: venueID, DayOfWeek: dayOfWeek, StartTime: startTime}
	ib := database.NewInsertBuilder()
	ib.InsertInto("events")
	ib.Cols("venue_id", "day_of_week", "start_time")
	ib.Values(venueID, dayOfWeek, startTime)
	ib.Returning("id")

	query, args := ib.Build()
	require.NoError(t, db.GetContext(context.Background(), &e.ID, query, args...))
	return e
}
