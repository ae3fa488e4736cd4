package venue

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "venues"

type venueRow struct {
	ID           int64                               `db:"id"`
	Name         string                              `db:"name"`
	Address      *string                             `db:"address"`
	Postcode     *string                             `db:"postcode"`
	Latitude     *float64                            `db:"latitude"`
	Longitude    *float64                            `db:"longitude"`
	PlaceID      *string                             `db:"place_id"`
	CityID       *int64                              `db:"city_id"`
	Slug         *string                             `db:"slug"`
	Images       database.JSONB[[]models.VenueImage] `db:"images"`
	DeletedAt    *time.Time                          `db:"deleted_at"`
	DeletedBy    *string                             `db:"deleted_by"`
	MergedIntoID *int64                              `db:"merged_into_id"`
	InsertedAt   time.Time                           `db:"inserted_at"`
	UpdatedAt    time.Time                           `db:"updated_at"`
}

var venueStruct = database.NewStruct(new(venueRow))

func (r venueRow) toModel() *models.Venue {
	return &models.Venue{
		ID:           r.ID,
		Name:         r.Name,
		Address:      r.Address,
		Postcode:     r.Postcode,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		PlaceID:      r.PlaceID,
		CityID:       r.CityID,
		Slug:         r.Slug,
		Images:       r.Images.GetValue(),
		DeletedAt:    r.DeletedAt,
		DeletedBy:    r.DeletedBy,
		MergedIntoID: r.MergedIntoID,
		InsertedAt:   r.InsertedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// Repository reads venues and applies merge mutations to them.
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

// GetVenue returns nil, nil when no venue has the id. Soft-deleted venues are returned.
func (r *Repository) GetVenue(ctx context.Context, id int64) (*models.Venue, error) {
	ctx, span := tracing.StartSpan(ctx, "venue.Repository.GetVenue")
	defer span.End()

	sb := venueStruct.SelectFrom(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row venueRow
	if err := database.GetExecutor(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("venue_id", id).Error("Failed to get venue")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get venue")
	}

	return row.toModel(), nil
}

// ListVenues returns venues matching filter ordered by id.
func (r *Repository) ListVenues(ctx context.Context, filter models.VenueFilter) ([]*models.Venue, error) {
	ctx, span := tracing.StartSpan(ctx, "venue.Repository.ListVenues")
	defer span.End()

	sb := venueStruct.SelectFrom(table)
	where := []string{}
	if !filter.IncludeDeleted {
		where = append(where, sb.IsNull("deleted_at"))
	}
	if filter.CityID != nil {
		where = append(where, sb.Equal("city_id", *filter.CityID))
	}
	if filter.ExcludeID != 0 {
		where = append(where, sb.NotEqual("id", filter.ExcludeID))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("id ASC")

	query, args := sb.Build()
	var rows []venueRow
	if err := database.GetExecutor(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list venues")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list venues")
	}

	venues := make([]*models.Venue, 0, len(rows))
	for _, row := range rows {
		venues = append(venues, row.toModel())
	}
	return venues, nil
}

// UpdateVenue writes the non-nil columns of update.
func (r *Repository) UpdateVenue(ctx context.Context, id int64, update models.VenueUpdate) error {
	ctx, span := tracing.StartSpan(ctx, "venue.Repository.UpdateVenue")
	defer span.End()

	if update.IsEmpty() {
		return nil
	}

	ub := database.NewUpdateBuilder()
	ub.Update(table)

	assignments := []string{ub.Assign("updated_at", time.Now().UTC())}
	if update.Name != nil {
		assignments = append(assignments, ub.Assign("name", *update.Name))
	}
	if update.Address != nil {
		assignments = append(assignments, ub.Assign("address", *update.Address))
	}
	if update.Postcode != nil {
		assignments = append(assignments, ub.Assign("postcode", *update.Postcode))
	}
	if update.Latitude != nil {
		assignments = append(assignments, ub.Assign("latitude", *update.Latitude))
	}
	if update.Longitude != nil {
		assignments = append(assignments, ub.Assign("longitude", *update.Longitude))
	}
	if update.PlaceID != nil {
		assignments = append(assignments, ub.Assign("place_id", *update.PlaceID))
	}
	if update.CityID != nil {
		assignments = append(assignments, ub.Assign("city_id", *update.CityID))
	}
	if update.Slug != nil {
		assignments = append(assignments, ub.Assign("slug", *update.Slug))
	}
	if update.Images != nil {
		assignments = append(assignments, ub.Assign("images", database.NewJSONB(*update.Images)))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := database.GetExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("venue_id", id).Error("Failed to update venue")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update venue")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("venue %d: %w", id, models.ErrVenueNotFound)
	}
	return nil
}

// SoftDeleteVenue stamps a live venue as deleted and records the venue it was merged into.
func (r *Repository) SoftDeleteVenue(ctx context.Context, id int64, deletedBy string, mergedIntoID int64, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "venue.Repository.SoftDeleteVenue")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("deleted_at", at),
		ub.Assign("deleted_by", deletedBy),
		ub.Assign("merged_into_id", mergedIntoID),
		ub.Assign("updated_at", at),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := database.GetExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("venue_id", id).Error("Failed to soft delete venue")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to soft delete venue")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return r.missingVenueError(ctx, id)
	}
	return nil
}

// missingVenueError tells a venue that never existed apart from one a concurrent
// merge already soft deleted.
func (r *Repository) missingVenueError(ctx context.Context, id int64) error {
	venue, err := r.GetVenue(ctx, id)
	if err != nil {
		return err
	}
	if venue != nil {
		return fmt.Errorf("venue %d: %w", id, models.ErrVenueAlreadyDeleted)
	}
	return fmt.Errorf("venue %d: %w", id, models.ErrVenueNotFound)
}
