package duplicate

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/processor"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// Handler serves duplicate detection and candidate review endpoints.
type Handler struct {
	finder    *matching.CandidateFinder
	processor *processor.BatchProcessor
	defaults  processor.Options
	logger    ectologger.Logger
}

// NewHandler builds a handler. defaults seeds detection runs whose request omits an option.
func NewHandler(finder *matching.CandidateFinder, p *processor.BatchProcessor, defaults processor.Options, logger ectologger.Logger) *Handler {
	return &Handler{
		finder:    finder,
		processor: p,
		defaults:  defaults,
		logger:    logger,
	}
}

// Register mounts the routes on the /api/v1 group.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/venues/similarity", h.CalculateSimilarity)
	g.GET("/venues/:id/duplicates", h.FindPotentialDuplicates)

	g.GET("/duplicates", h.ListCandidates)
	g.GET("/duplicates/statistics", h.GetStatistics)
	g.POST("/duplicates/detect", h.ProcessAllVenues)
	g.POST("/duplicates/venues/:id/detect", h.ProcessVenue)
	g.POST("/duplicates/sync", h.SyncWithMergeLogs)
}

type findRequest struct {
	VenueID        int64   `param:"id" validate:"required,gt=0"`
	NameThreshold  float64 `query:"name_threshold" validate:"gte=0,lte=1"`
	IncludeDeleted bool    `query:"include_deleted"`
}

// FindPotentialDuplicates lists venues the duplicate rule accepts for the given venue.
func (h *Handler) FindPotentialDuplicates(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[findRequest](c)
	if err != nil {
		return err
	}

	opts := matching.DefaultFinderOptions()
	if req.NameThreshold > 0 {
		opts.NameThreshold = req.NameThreshold
	}
	opts.ExcludeSoftDeleted = !req.IncludeDeleted

	candidates, err := h.finder.FindPotentialDuplicates(ctx, req.VenueID, opts)
	if err != nil {
		return utils.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, candidates)
}

type similarityRequest struct {
	Venue1ID int64 `query:"venue1_id" validate:"required,gt=0"`
	Venue2ID int64 `query:"venue2_id" validate:"required,gt=0"`
}

// CalculateSimilarity reports the score triple, decision and match criteria for two venues.
func (h *Handler) CalculateSimilarity(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[similarityRequest](c)
	if err != nil {
		return err
	}

	report, err := h.finder.CalculateSimilarity(ctx, req.Venue1ID, req.Venue2ID, matching.DefaultFinderOptions())
	if err != nil {
		return utils.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, report)
}

type listRequest struct {
	Status        string  `query:"status" validate:"omitempty,oneof=pending reviewed merged rejected"`
	MinConfidence float64 `query:"min_confidence" validate:"gte=0,lte=1"`
	Limit         int     `query:"limit" validate:"gte=0,lte=1000"`
}

// ListCandidates lists stored pairs, highest confidence first.
func (h *Handler) ListCandidates(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[listRequest](c)
	if err != nil {
		return err
	}

	filter := models.CandidateFilter{Status: req.Status, MinConfidence: req.MinConfidence, Limit: req.Limit}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	candidates, err := h.processor.ListCandidates(ctx, filter)
	if err != nil {
		return utils.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, candidates)
}

func (h *Handler) GetStatistics(c echo.Context) error {
	stats, err := h.processor.GetStatistics(c.Request().Context())
	if err != nil {
		return utils.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

type detectRequest struct {
	VenueID       int64    `param:"id"`
	BatchSize     *int     `json:"batch_size" validate:"omitempty,gt=0,lte=10000"`
	MinConfidence *float64 `json:"min_confidence" validate:"omitempty,gte=0,lte=1"`
	ClearExisting bool     `json:"clear_existing"`
}

func (h *Handler) options(req detectRequest) processor.Options {
	opts := h.defaults
	if req.BatchSize != nil {
		opts.BatchSize = *req.BatchSize
	}
	if req.MinConfidence != nil {
		opts.MinConfidence = *req.MinConfidence
	}
	opts.ClearExisting = req.ClearExisting
	return opts
}

// ProcessAllVenues runs a full detection scan synchronously.
func (h *Handler) ProcessAllVenues(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[detectRequest](c)
	if err != nil {
		return err
	}

	result, err := h.processor.ProcessAllVenues(ctx, h.options(req))
	if err != nil {
		return utils.ToHTTPError(err)
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"processed":         result.Processed,
		"duplicates_stored": result.DuplicatesStored,
	}).Info("Detection run requested over API completed")

	return c.JSON(http.StatusOK, result)
}

// ProcessVenue stores candidates for a single venue.
func (h *Handler) ProcessVenue(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[detectRequest](c)
	if err != nil {
		return err
	}
	if req.VenueID <= 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "venue id must be a positive integer")
	}

	result, err := h.processor.ProcessVenueByID(ctx, req.VenueID, h.options(req))
	if err != nil {
		return utils.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// SyncWithMergeLogs settles pending pairs against the audit log.
func (h *Handler) SyncWithMergeLogs(c echo.Context) error {
	result, err := h.processor.SyncWithMergeLogs(c.Request().Context())
	if err != nil {
		return utils.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}
