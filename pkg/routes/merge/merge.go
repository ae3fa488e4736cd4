package merge

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// Handler serves the merge, audit history and not-duplicate endpoints.
type Handler struct {
	orchestrator *merging.MergeOrchestrator
	logger       ectologger.Logger
}

func NewHandler(orchestrator *merging.MergeOrchestrator, logger ectologger.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Register mounts the routes on the /api/v1 group.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/merges", h.ListMergeHistory)
	g.POST("/merges", h.MergeVenues)
	g.POST("/merges/preview", h.PreviewMerge)
	g.GET("/merges/primary", h.DeterminePrimaryVenue)
	g.POST("/merges/not-duplicate", h.CreateNotDuplicateLog)
	g.POST("/merges/:id/rollback", h.RollbackMerge)
}

// performedBy prefers an explicit value, then the authenticated user.
func performedBy(c echo.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if user := appctx.GetUserID(c.Request().Context()); user != "" {
		return user
	}
	return merging.DefaultPerformedBy
}

type mergeRequest struct {
	PrimaryVenueID   int64    `json:"primary_venue_id" validate:"required,gt=0"`
	SecondaryVenueID int64    `json:"secondary_venue_id" validate:"required,gt=0"`
	MetadataStrategy string   `json:"metadata_strategy" validate:"omitempty,oneof=prefer_primary prefer_secondary combine"`
	EventStrategy    string   `json:"event_strategy" validate:"omitempty,oneof=migrate_all selective"`
	FieldOverrides   []string `json:"field_overrides"`
	Notes            *string  `json:"notes"`
	PerformedBy      string   `json:"performed_by"`
	DryRun           bool     `json:"dry_run"`
}

func (r mergeRequest) options(c echo.Context) merging.MergeOptions {
	opts := merging.DefaultMergeOptions()
	if r.MetadataStrategy != "" {
		opts.MetadataStrategy = r.MetadataStrategy
	}
	if r.EventStrategy != "" {
		opts.EventStrategy = r.EventStrategy
	}
	opts.FieldOverrides = r.FieldOverrides
	opts.Notes = r.Notes
	opts.DryRun = r.DryRun
	opts.PerformedBy = performedBy(c, r.PerformedBy)
	return opts
}

// MergeVenues folds the secondary venue into the primary. dry_run returns a preview.
func (h *Handler) MergeVenues(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[mergeRequest](c)
	if err != nil {
		return err
	}

	result, err := h.orchestrator.MergeVenues(ctx, req.PrimaryVenueID, req.SecondaryVenueID, req.options(c))
	if err != nil {
		return utils.ToHTTPError(err)
	}

	if result.DryRun {
		return c.JSON(http.StatusOK, result)
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) PreviewMerge(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[mergeRequest](c)
	if err != nil {
		return err
	}

	preview, err := h.orchestrator.PreviewMerge(ctx, req.PrimaryVenueID, req.SecondaryVenueID, req.options(c))
	if err != nil {
		return utils.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, preview)
}

type pairQuery struct {
	Venue1ID int64 `query:"venue1_id" validate:"required,gt=0"`
	Venue2ID int64 `query:"venue2_id" validate:"required,gt=0"`
}

// DeterminePrimaryVenue recommends which of two venues should survive.
func (h *Handler) DeterminePrimaryVenue(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[pairQuery](c)
	if err != nil {
		return err
	}

	selection, err := h.orchestrator.DeterminePrimaryVenue(ctx, req.Venue1ID, req.Venue2ID)
	if err != nil {
		return utils.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, selection)
}

type historyRequest struct {
	VenueID    int64  `query:"venue_id" validate:"gte=0"`
	ActionType string `query:"action_type" validate:"omitempty,oneof=merge not_duplicate"`
	From       string `query:"from" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	To         string `query:"to" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit      int    `query:"limit" validate:"gte=0,lte=1000"`
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}

// ListMergeHistory returns audit entries newest first.
func (h *Handler) ListMergeHistory(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[historyRequest](c)
	if err != nil {
		return err
	}

	entries, err := h.orchestrator.ListMergeHistory(ctx, models.MergeHistoryFilter{
		VenueID:    req.VenueID,
		ActionType: req.ActionType,
		From:       parseTime(req.From),
		To:         parseTime(req.To),
		Limit:      req.Limit,
	})
	if err != nil {
		return utils.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, entries)
}

type notDuplicateRequest struct {
	Venue1ID    int64   `json:"venue1_id" validate:"required,gt=0"`
	Venue2ID    int64   `json:"venue2_id" validate:"required,gt=0"`
	Notes       *string `json:"notes"`
	PerformedBy string  `json:"performed_by"`
}

// CreateNotDuplicateLog records a reviewer's decision that two venues are distinct.
// Repeating the decision returns the original entry with 200 instead of 201.
func (h *Handler) CreateNotDuplicateLog(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[notDuplicateRequest](c)
	if err != nil {
		return err
	}

	result, err := h.orchestrator.CreateNotDuplicateLog(ctx, req.Venue1ID, req.Venue2ID, merging.NotDuplicateOptions{
		PerformedBy: performedBy(c, req.PerformedBy),
		Notes:       req.Notes,
	})
	if err != nil {
		return utils.ToHTTPError(err)
	}

	if result.Created {
		return c.JSON(http.StatusCreated, result)
	}
	return c.JSON(http.StatusOK, result)
}

type rollbackRequest struct {
	LogID int64 `param:"id"`
}

// RollbackMerge always fails; merges are permanent.
func (h *Handler) RollbackMerge(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[rollbackRequest](c)
	if err != nil {
		return err
	}
	if req.LogID <= 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "log id must be a positive integer")
	}

	err = h.orchestrator.RollbackMerge(ctx, req.LogID, merging.RollbackOptions{PerformedBy: performedBy(c, "")})
	return utils.ToHTTPError(err)
}
