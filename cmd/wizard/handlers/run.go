package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/cmd/wizard/container"
	"github.com/lyzr/mutwizard/cmd/wizard/middleware"
	"github.com/lyzr/mutwizard/cmd/wizard/service"
	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/feedback"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/staging"
	"github.com/lyzr/mutwizard/common/validation"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// RunHandler handles run requests
type RunHandler struct {
	sessions *service.SessionManager
	archive  *service.ReportArchive
	status   *feedback.RedisSink
	log      *logger.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(c *container.Container) *RunHandler {
	return &RunHandler{
		sessions: c.Sessions,
		archive:  c.Archive,
		status:   c.Status,
		log:      c.Components.Logger,
	}
}

type refinementRequest struct {
	Method string `json:"method" validate:"omitempty,oneof=default sculpt"`
	Cycles int    `json:"cycles" validate:"omitempty,min=1,max=1000"`
}

type startRunRequest struct {
	Mode         string            `json:"mode" validate:"required,oneof=batch individual step"`
	OnFailure    string            `json:"on_failure" validate:"omitempty,oneof=stop_run skip_and_continue"`
	Order        string            `json:"order" validate:"omitempty,oneof=residue insertion"`
	FromImport   bool              `json:"from_import"`
	SharedTarget string            `json:"shared_target" validate:"omitempty,aminoacid"`
	Refinement   refinementRequest `json:"refinement"`
}

func (r startRunRequest) options() engine.Options {
	return engine.Options{
		Mode:         engine.Mode(r.Mode),
		OnFailure:    engine.FailurePolicy(r.OnFailure),
		Order:        staging.Order(r.Order),
		FromImport:   r.FromImport,
		SharedTarget: r.SharedTarget,
		Refinement: engine.Refinement{
			Method: engine.RefinementMethod(r.Refinement.Method),
			Cycles: r.Refinement.Cycles,
		},
	}
}

type rotamerRequest struct {
	Index *int `json:"index" validate:"required"`
}

func (h *RunHandler) session(c echo.Context) (*service.Session, error) {
	return h.sessions.Get(middleware.GetOwner(c))
}

// Start begins a run over the staged records. Batch and Individual runs
// are executed before the response is written.
// POST /api/v1/runs
func (h *RunHandler) Start(c echo.Context) error {
	var req startRunRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	res, err := s.StartRun(c.Request().Context(), req.options())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Advance processes the next record of a step-by-step run
// POST /api/v1/runs/current/advance
func (h *RunHandler) Advance(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	step, err := s.Advance(c.Request().Context())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, step)
}

// OverrideRotamer picks another candidate rotamer for the record just applied
// POST /api/v1/runs/current/rotamer
func (h *RunHandler) OverrideRotamer(c echo.Context) error {
	var req rotamerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	rec, err := s.OverrideRotamer(c.Request().Context(), *req.Index)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Abort stops the current run; unprocessed records stay staged
// POST /api/v1/runs/current/abort
func (h *RunHandler) Abort(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	if err := s.Abort(c.Request().Context()); err != nil {
		return respondError(c, h.log, err)
	}

	report, err := s.Report()
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, report)
}

// CurrentReport returns the report of the current run
// GET /api/v1/runs/current/report
func (h *RunHandler) CurrentReport(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	report, err := s.Report()
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, report)
}

// GetRun returns a run report, the live one if it is the session's current
// run, the persisted one otherwise
// GET /api/v1/runs/:id
func (h *RunHandler) GetRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respondError(c, h.log, fmt.Errorf("%w: run id must be a UUID", validation.ErrInvalidRequest))
	}

	owner := middleware.GetOwner(c)
	if s, ok := h.sessions.Lookup(owner); ok {
		if report, err := s.Report(); err == nil && report.RunID == id {
			return c.JSON(http.StatusOK, report)
		}
	}

	report, err := h.archive.Get(c.Request().Context(), owner, id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, report)
}

// ListRuns lists the most recent persisted reports
// GET /api/v1/runs?limit=20
func (h *RunHandler) ListRuns(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return respondError(c, h.log, fmt.Errorf("%w: limit must be in [1, %d]", validation.ErrInvalidRequest, maxListLimit))
		}
		limit = n
	}

	reports, err := h.archive.List(c.Request().Context(), middleware.GetOwner(c), limit)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  reports,
		"limit": limit,
	})
}

// LiveStatus returns the latest status per residue as published to Redis
// GET /api/v1/runs/:id/status
func (h *RunHandler) LiveStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respondError(c, h.log, fmt.Errorf("%w: run id must be a UUID", validation.ErrInvalidRequest))
	}
	if h.status == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "live status is disabled",
		})
	}

	statuses, err := h.status.Statuses(c.Request().Context(), id.String())
	if err != nil {
		return respondError(c, h.log, err)
	}
	if len(statuses) == 0 {
		return respondError(c, h.log, fmt.Errorf("%w: no live status for run %s", mutation.ErrNotFound, id))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":   id,
		"statuses": statuses,
	})
}
