package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/cmd/wizard/container"
	"github.com/lyzr/mutwizard/cmd/wizard/middleware"
	"github.com/lyzr/mutwizard/cmd/wizard/service"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/lyzr/mutwizard/common/staging"
	"github.com/lyzr/mutwizard/common/validation"
)

// maxPatchBytes bounds a target patch body
const maxPatchBytes = 1 << 20

// StagingHandler handles staging table requests
type StagingHandler struct {
	sessions *service.SessionManager
	patches  *validation.PatchValidator
	log      *logger.Logger
}

// NewStagingHandler creates a new staging handler
func NewStagingHandler(c *container.Container) *StagingHandler {
	return &StagingHandler{
		sessions: c.Sessions,
		patches:  c.Patches,
		log:      c.Components.Logger,
	}
}

type addRequest struct {
	Residue string `json:"residue" validate:"required,residue"`
	Target  string `json:"target" validate:"required,aminoacid"`
	// Source is looked up in the structure when empty
	Source string `json:"source"`
}

type selectionRequest struct {
	Target string `json:"target" validate:"required,aminoacid"`
	// Filter is a CEL expression over chain, seq, icode, and type
	Filter string `json:"filter"`
}

type targetRequest struct {
	Target string `json:"target" validate:"required,aminoacid"`
}

func (h *StagingHandler) session(c echo.Context) (*service.Session, error) {
	return h.sessions.Get(middleware.GetOwner(c))
}

// List returns every staged record
// GET /api/v1/staging?order=residue
func (h *StagingHandler) List(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	order := staging.Order(c.QueryParam("order"))
	switch order {
	case "", staging.OrderInsertion, staging.OrderResidue:
	default:
		return respondError(c, h.log, fmt.Errorf("%w: order must be residue or insertion", validation.ErrInvalidRequest))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"records": s.Records(order),
		"counts":  s.Table.Counts(),
	})
}

// Add stages one residue
// POST /api/v1/staging
func (h *StagingHandler) Add(c echo.Context) error {
	var req addRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	id, err := residue.Parse(req.Residue)
	if err != nil {
		return respondError(c, h.log, err)
	}

	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	rec, err := s.Add(c.Request().Context(), id, req.Target, req.Source)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

// StageSelection stages the viewer's current selection
// POST /api/v1/staging/selection
func (h *StagingHandler) StageSelection(c echo.Context) error {
	var req selectionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	records, err := s.StageSelection(c.Request().Context(), req.Target, req.Filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"records": records,
	})
}

// SetTarget retargets a staged residue
// PUT /api/v1/staging/:residue/target
func (h *StagingHandler) SetTarget(c echo.Context) error {
	id, err := residueParam(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	var req targetRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	rec, err := s.Table.SetTarget(id, req.Target)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Skip excludes a staged residue from future runs
// POST /api/v1/staging/:residue/skip
func (h *StagingHandler) Skip(c echo.Context) error {
	id, err := residueParam(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	rec, err := s.Table.Skip(id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Remove unstages a residue; removing an absent residue is a no-op
// DELETE /api/v1/staging/:residue
func (h *StagingHandler) Remove(c echo.Context) error {
	id, err := residueParam(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	s.Table.Remove(id)
	return c.NoContent(http.StatusNoContent)
}

// Clear empties the staging table
// DELETE /api/v1/staging
func (h *StagingHandler) Clear(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	if err := s.Clear(); err != nil {
		return respondError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Targets returns the staged targets as {"A 123": "TRP"}
// GET /api/v1/staging/targets
func (h *StagingHandler) Targets(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, s.Table.Targets())
}

// PatchTargets applies an RFC 6902 patch to the targets document
// PATCH /api/v1/staging/targets
func (h *StagingHandler) PatchTargets(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPatchBytes))
	if err != nil {
		return respondError(c, h.log, fmt.Errorf("%w: failed to read patch: %v", validation.ErrInvalidRequest, err))
	}
	if err := h.patches.Validate(body); err != nil {
		return respondError(c, h.log, err)
	}

	s, err := h.session(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	changed, err := s.Table.ApplyTargetPatch(body)
	if err != nil {
		return respondError(c, h.log, fmt.Errorf("%w: %v", validation.ErrInvalidRequest, err))
	}

	h.log.Info("target patch applied", "owner_id", s.Owner, "changed", len(changed))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"changed": changed,
		"targets": s.Table.Targets(),
	})
}
