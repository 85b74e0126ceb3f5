package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/cmd/wizard/container"
	"github.com/lyzr/mutwizard/cmd/wizard/middleware"
	"github.com/lyzr/mutwizard/cmd/wizard/service"
	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/logger"
)

// ExportHandler handles structure export requests
type ExportHandler struct {
	sessions *service.SessionManager
	log      *logger.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(c *container.Container) *ExportHandler {
	return &ExportHandler{
		sessions: c.Sessions,
		log:      c.Components.Logger,
	}
}

type exportRequest struct {
	Format string `json:"format" validate:"required,oneof=pdb session both"`
	// Force exports even if severe clashes are found
	Force bool `json:"force"`
}

// Export writes the mutated structure
// POST /api/v1/exports
func (h *ExportHandler) Export(c echo.Context) error {
	var req exportRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	s, err := h.sessions.Get(middleware.GetOwner(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	paths, err := s.Export(c.Request().Context(), engine.ExportFormat(req.Format), req.Force)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"format": req.Format,
		"paths":  paths,
	})
}
