package fuzzyduplicate

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "venue_fuzzy_duplicates"

type candidateRow struct {
	ID                 int64          `db:"id"`
	Venue1ID           int64          `db:"venue1_id"`
	Venue2ID           int64          `db:"venue2_id"`
	ConfidenceScore    float64        `db:"confidence_score"`
	NameSimilarity     float64        `db:"name_similarity"`
	LocationSimilarity float64        `db:"location_similarity"`
	MatchCriteria      pq.StringArray `db:"match_criteria"`
	Status             string         `db:"status"`
	InsertedAt         time.Time      `db:"inserted_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

var candidateStruct = database.NewStruct(new(candidateRow))

func (r candidateRow) toModel() *models.FuzzyDuplicateCandidate {
	return &models.FuzzyDuplicateCandidate{
		ID:                 r.ID,
		Venue1ID:           r.Venue1ID,
		Venue2ID:           r.Venue2ID,
		ConfidenceScore:    r.ConfidenceScore,
		NameSimilarity:     r.NameSimilarity,
		LocationSimilarity: r.LocationSimilarity,
		MatchCriteria:      []string(r.MatchCriteria),
		Status:             r.Status,
		InsertedAt:         r.InsertedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// Repository persists scored venue pairs.
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

// InsertCandidate stores c unless its pair already exists. The pair is stored
// smaller id first; created reports whether a row was written.
func (r *Repository) InsertCandidate(ctx context.Context, c *models.FuzzyDuplicateCandidate) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "fuzzyduplicate.Repository.InsertCandidate")
	defer span.End()

	pair := models.NewVenuePair(c.Venue1ID, c.Venue2ID)
	status := c.Status
	if status == "" {
		status = models.CandidateStatusPending
	}
	now := time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols("venue1_id", "venue2_id", "confidence_score", "name_similarity", "location_similarity", "match_criteria", "status", "inserted_at", "updated_at")
	ib.Values(pair.Low, pair.High, c.ConfidenceScore, c.NameSimilarity, c.LocationSimilarity, pq.Array(c.MatchCriteria), status, now, now)
	ib.OnConflictDoNothing([]string{"venue1_id", "venue2_id"}, "")
	ib.Returning("id")

	query, args := ib.Build()
	var id int64
	if err := database.GetExecutor(ctx, r.db).GetContext(ctx, &id, query, args...); err != nil {
		if database.IsNoRows(err) || database.IsUniqueViolation(err) {
			return false, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"venue1_id": pair.Low,
			"venue2_id": pair.High,
		}).Error("Failed to insert duplicate candidate")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert duplicate candidate")
	}

	c.ID = id
	c.Venue1ID, c.Venue2ID = pair.Low, pair.High
	c.Status = status
	c.InsertedAt, c.UpdatedAt = now, now
	return true, nil
}

func (r *Repository) DeleteAllCandidates(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "fuzzyduplicate.Repository.DeleteAllCandidates")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(table)

	query, args := db.Build()
	result, err := database.GetExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear duplicate candidates")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to clear duplicate candidates")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// ListCandidates returns stored rows, highest confidence first.
func (r *Repository) ListCandidates(ctx context.Context, filter models.CandidateFilter) ([]*models.FuzzyDuplicateCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "fuzzyduplicate.Repository.ListCandidates")
	defer span.End()

	sb := candidateStruct.SelectFrom(table)
	where := []string{sb.GreaterEqualThan("confidence_score", filter.MinConfidence)}
	if filter.Status != "" {
		where = append(where, sb.Equal("status", filter.Status))
	}
	sb.Where(where...)
	sb.OrderBy("confidence_score DESC", "id ASC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}

	query, args := sb.Build()
	var rows []candidateRow
	if err := database.GetExecutor(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list duplicate candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list duplicate candidates")
	}

	candidates := make([]*models.FuzzyDuplicateCandidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, row.toModel())
	}
	return candidates, nil
}

type statisticsRow struct {
	Total                     int     `db:"total"`
	High                      int     `db:"high"`
	Medium                    int     `db:"medium"`
	Low                       int     `db:"low"`
	AverageConfidence         float64 `db:"avg_confidence"`
	AverageNameSimilarity     float64 `db:"avg_name_similarity"`
	AverageLocationSimilarity float64 `db:"avg_location_similarity"`
}

type statusCountRow struct {
	Status string `db:"status"`
	Count  int    `db:"count"`
}

// CandidateStatistics aggregates stored rows by confidence band and status.
func (r *Repository) CandidateStatistics(ctx context.Context) (*models.DuplicateStatistics, error) {
	ctx, span := tracing.StartSpan(ctx, "fuzzyduplicate.Repository.CandidateStatistics")
	defer span.End()

	exec := database.GetExecutor(ctx, r.db)

	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE confidence_score >= $1) AS high,
			COUNT(*) FILTER (WHERE confidence_score >= $2 AND confidence_score < $1) AS medium,
			COUNT(*) FILTER (WHERE confidence_score < $2) AS low,
			COALESCE(AVG(confidence_score), 0) AS avg_confidence,
			COALESCE(AVG(name_similarity), 0) AS avg_name_similarity,
			COALESCE(AVG(location_similarity), 0) AS avg_location_similarity
		FROM venue_fuzzy_duplicates
	`

	var agg statisticsRow
	if err := exec.GetContext(ctx, &agg, query, models.HighConfidenceMin, models.MediumConfidenceMin); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to aggregate duplicate candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get duplicate statistics")
	}

	sb := database.NewSelectBuilder()
	sb.Select("status", "COUNT(*) AS count")
	sb.From(table)
	sb.GroupBy("status")

	statusQuery, args := sb.Build()
	var counts []statusCountRow
	if err := exec.SelectContext(ctx, &counts, statusQuery, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count duplicate candidates by status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get duplicate statistics")
	}

	stats := &models.DuplicateStatistics{
		Total: agg.Total,
		ByConfidence: models.ConfidenceBands{
			High:   agg.High,
			Medium: agg.Medium,
			Low:    agg.Low,
		},
		ByStatus:                  make(map[string]int, len(counts)),
		AverageConfidence:         agg.AverageConfidence,
		AverageNameSimilarity:     agg.AverageNameSimilarity,
		AverageLocationSimilarity: agg.AverageLocationSimilarity,
	}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
	}
	return stats, nil
}

// MarkPendingPairs moves pending rows for any of pairs to status. Terminal rows are untouched.
func (r *Repository) MarkPendingPairs(ctx context.Context, pairs []models.VenuePair, status string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "fuzzyduplicate.Repository.MarkPendingPairs")
	defer span.End()

	if len(pairs) == 0 {
		return 0, nil
	}

	lows := make([]int64, len(pairs))
	highs := make([]int64, len(pairs))
	for i, p := range pairs {
		pair := models.NewVenuePair(p.Low, p.High)
		lows[i], highs[i] = pair.Low, pair.High
	}

	query := `
		UPDATE venue_fuzzy_duplicates
		SET status = $1, updated_at = $2
		WHERE status = $3
		AND (venue1_id, venue2_id) IN (SELECT * FROM unnest($4::bigint[], $5::bigint[]))
	`

	result, err := database.GetExecutor(ctx, r.db).ExecContext(ctx, query,
		status, time.Now().UTC(), models.CandidateStatusPending, pq.Array(lows), pq.Array(highs))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status": status,
			"pairs":  len(pairs),
		}).Error("Failed to update duplicate candidate status")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update duplicate candidate status")
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}
