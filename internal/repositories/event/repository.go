package event

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "events"

var columns = []string{"id", "venue_id", "title", "day_of_week", "start_time", "inserted_at", "updated_at"}

type eventRow struct {
	ID         int64     `db:"id"`
	VenueID    int64     `db:"venue_id"`
	Title      string    `db:"title"`
	DayOfWeek  int       `db:"day_of_week"`
	StartTime  string    `db:"start_time"`
	InsertedAt time.Time `db:"inserted_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r eventRow) toModel() models.Event {
	start, err := models.NormalizeStartTime(r.StartTime)
	if err != nil {
		start = r.StartTime
	}
	return models.Event{
		ID:         r.ID,
		VenueID:    r.VenueID,
		Title:      r.Title,
		DayOfWeek:  r.DayOfWeek,
		StartTime:  start,
		InsertedAt: r.InsertedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// Repository re-owns and deletes events on behalf of merges.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) ListEventsByVenue(ctx context.Context, venueID int64) ([]models.Event, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.ListEventsByVenue")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("venue_id", venueID))
	sb.OrderBy("id ASC")

	query, args := sb.Build()
	var rows []eventRow
	if err := database.GetExecutor(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("venue_id", venueID).Error("Failed to list events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list events")
	}

	events := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events, nil
}

func (r *Repository) CountEventsByVenue(ctx context.Context, venueID int64) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.CountEventsByVenue")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(table)
	sb.Where(sb.Equal("venue_id", venueID))

	query, args := sb.Build()
	var count int
	if err := database.GetExecutor(ctx, r.db).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("venue_id", venueID).Error("Failed to count events")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count events")
	}
	return count, nil
}

// ReassignEvents moves the events to venueID in one statement. A slot collision
// fails on the events_venue_slot_key constraint and aborts the transaction.
func (r *Repository) ReassignEvents(ctx context.Context, eventIDs []int64, venueID int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.ReassignEvents")
	defer span.End()

	if len(eventIDs) == 0 {
		return 0, nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("venue_id", venueID),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.In("id", idArgs(eventIDs)...))

	query, args := ub.Build()
	result, err := database.GetExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"venue_id": venueID,
			"count":    len(eventIDs),
		}).Error("Failed to reassign events")
		if database.IsUniqueViolation(err) {
			return 0, httperror.NewHTTPError(http.StatusConflict, "event slot already taken on target venue")
		}
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to reassign events")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

func (r *Repository) DeleteEvents(ctx context.Context, eventIDs []int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.DeleteEvents")
	defer span.End()

	if len(eventIDs) == 0 {
		return 0, nil
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.In("id", idArgs(eventIDs)...))

	query, args := db.Build()
	result, err := database.GetExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(eventIDs)).Error("Failed to delete events")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete events")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
