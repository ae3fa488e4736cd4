package mergelog

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

const table = "venue_merge_logs"

const notDuplicatePredicate = "action_type = 'not_duplicate'"

type mergeLogRow struct {
	ID               int64                                   `db:"id"`
	ActionType       string                                  `db:"action_type"`
	PrimaryVenueID   int64                                   `db:"primary_venue_id"`
	SecondaryVenueID int64                                   `db:"secondary_venue_id"`
	PerformedBy      string                                  `db:"performed_by"`
	Notes            *string                                 `db:"notes"`
	Metadata         database.JSONB[models.MergeLogMetadata] `db:"metadata"`
	InsertedAt       time.Time                               `db:"inserted_at"`
}

var mergeLogStruct = database.NewStruct(new(mergeLogRow))

func (r mergeLogRow) toModel() *models.MergeLogEntry {
	return &models.MergeLogEntry{
		ID:               r.ID,
		ActionType:       r.ActionType,
		PrimaryVenueID:   r.PrimaryVenueID,
		SecondaryVenueID: r.SecondaryVenueID,
		PerformedBy:      r.PerformedBy,
		Notes:            r.Notes,
		Metadata:         r.Metadata.GetValue(),
		InsertedAt:       r.InsertedAt,
	}
}

type insertedRow struct {
	ID         int64     `db:"id"`
	InsertedAt time.Time `db:"inserted_at"`
}

// Repository is the append-only audit trail of merge decisions.
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

func (r *Repository) insertBuilder(entry *models.MergeLogEntry) *database.InsertBuilder {
	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols("action_type", "primary_venue_id", "secondary_venue_id", "performed_by", "notes", "metadata", "inserted_at")
	ib.Values(entry.ActionType, entry.PrimaryVenueID, entry.SecondaryVenueID, entry.PerformedBy, entry.Notes, database.NewJSONB(entry.Metadata), time.Now().UTC())
	ib.Returning("id", "inserted_at")
	return ib
}

func (r *Repository) CreateMergeLog(ctx context.Context, entry *models.MergeLogEntry) (*models.MergeLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "mergelog.Repository.CreateMergeLog")
	defer span.End()

	query, args := r.insertBuilder(entry).Build()
	var inserted insertedRow
	if err := database.GetExecutor(ctx, r.db).GetContext(ctx, &inserted, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"action_type":        entry.ActionType,
			"primary_venue_id":   entry.PrimaryVenueID,
			"secondary_venue_id": entry.SecondaryVenueID,
		}).Error("Failed to create merge log")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create merge log")
	}

	out := *entry
	out.ID = inserted.ID
	out.InsertedAt = inserted.InsertedAt
	return &out, nil
}

// CreateNotDuplicateLog inserts a not_duplicate entry unless the pair already has one,
// in which case the existing entry is returned with created=false.
func (r *Repository) CreateNotDuplicateLog(ctx context.Context, entry *models.MergeLogEntry) (*models.MergeLogEntry, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "mergelog.Repository.CreateNotDuplicateLog")
	defer span.End()

	ib := r.insertBuilder(entry)
	ib.OnConflictDoNothing([]string{"primary_venue_id", "secondary_venue_id"}, notDuplicatePredicate)

	query, args := ib.Build()
	var inserted insertedRow
	err := database.GetExecutor(ctx, r.db).GetContext(ctx, &inserted, query, args...)
	switch {
	case err == nil:
		out := *entry
		out.ID = inserted.ID
		out.InsertedAt = inserted.InsertedAt
		return &out, true, nil
	case database.IsNoRows(err), database.IsUniqueViolation(err):
		existing, getErr := r.getNotDuplicate(ctx, entry.PrimaryVenueID, entry.SecondaryVenueID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	default:
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"primary_venue_id":   entry.PrimaryVenueID,
			"secondary_venue_id": entry.SecondaryVenueID,
		}).Error("Failed to create not-duplicate log")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create not-duplicate log")
	}
}

func (r *Repository) getNotDuplicate(ctx context.Context, primaryID, secondaryID int64) (*models.MergeLogEntry, error) {
	sb := mergeLogStruct.SelectFrom(table)
	sb.Where(
		sb.Equal("action_type", models.ActionTypeNotDuplicate),
		sb.Equal("primary_venue_id", primaryID),
		sb.Equal("secondary_venue_id", secondaryID),
	)

	query, args := sb.Build()
	var row mergeLogRow
	if err := database.GetExecutor(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load existing not-duplicate log")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load not-duplicate log")
	}
	return row.toModel(), nil
}

// GetMergeLog returns nil, nil when the id does not resolve.
func (r *Repository) GetMergeLog(ctx context.Context, id int64) (*models.MergeLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "mergelog.Repository.GetMergeLog")
	defer span.End()

	sb := mergeLogStruct.SelectFrom(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row mergeLogRow
	if err := database.GetExecutor(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("log_id", id).Error("Failed to get merge log")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge log")
	}
	return row.toModel(), nil
}

// ListMergeLogs returns entries newest first.
func (r *Repository) ListMergeLogs(ctx context.Context, filter models.MergeHistoryFilter) ([]*models.MergeLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "mergelog.Repository.ListMergeLogs")
	defer span.End()

	sb := mergeLogStruct.SelectFrom(table)
	where := []string{}
	if filter.VenueID != 0 {
		where = append(where, sb.Or(
			sb.Equal("primary_venue_id", filter.VenueID),
			sb.Equal("secondary_venue_id", filter.VenueID),
		))
	}
	if filter.ActionType != "" {
		where = append(where, sb.Equal("action_type", filter.ActionType))
	}
	if filter.From != nil {
		where = append(where, sb.GreaterEqualThan("inserted_at", *filter.From))
	}
	if filter.To != nil {
		where = append(where, sb.LessEqualThan("inserted_at", *filter.To))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("inserted_at DESC", "id DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultHistoryLimit
	}
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []mergeLogRow
	if err := database.GetExecutor(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge logs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge logs")
	}

	entries := make([]*models.MergeLogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toModel())
	}
	return entries, nil
}

type pairRow struct {
	PrimaryVenueID   int64 `db:"primary_venue_id"`
	SecondaryVenueID int64 `db:"secondary_venue_id"`
}

// ListPairsByAction returns every venue pair logged under actionType, smaller id first.
func (r *Repository) ListPairsByAction(ctx context.Context, actionType string) ([]models.VenuePair, error) {
	ctx, span := tracing.StartSpan(ctx, "mergelog.Repository.ListPairsByAction")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("primary_venue_id", "secondary_venue_id")
	sb.Distinct()
	sb.From(table)
	sb.Where(sb.Equal("action_type", actionType))

	query, args := sb.Build()
	var rows []pairRow
	if err := database.GetExecutor(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("action_type", actionType).Error("Failed to list logged pairs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list logged pairs")
	}

	pairs := make([]models.VenuePair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, models.NewVenuePair(row.PrimaryVenueID, row.SecondaryVenueID))
	}
	return pairs, nil
}
