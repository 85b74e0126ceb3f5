package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/cmd/wizard/container"
	"github.com/lyzr/mutwizard/cmd/wizard/middleware"
	"github.com/lyzr/mutwizard/cmd/wizard/service"
	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/logger"
)

// SessionHandler handles the owner's session as a whole
type SessionHandler struct {
	sessions *service.SessionManager
	log      *logger.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(c *container.Container) *SessionHandler {
	return &SessionHandler{
		sessions: c.Sessions,
		log:      c.Components.Logger,
	}
}

type runSummary struct {
	ID      uuid.UUID       `json:"id"`
	Mode    engine.Mode     `json:"mode"`
	State   engine.RunState `json:"state"`
	Pending int             `json:"pending"`
}

// Get summarises the session
// GET /api/v1/session
func (h *SessionHandler) Get(c echo.Context) error {
	s, err := h.sessions.Get(middleware.GetOwner(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	resp := map[string]interface{}{
		"owner":    s.Owner,
		"records":  s.Table.Len(),
		"counts":   s.Table.Counts(),
		"defaults": s.Engine.Defaults(),
	}
	if run := s.Engine.Current(); run != nil {
		resp["run"] = runSummary{
			ID:      run.ID(),
			Mode:    run.Options().Mode,
			State:   run.State(),
			Pending: run.Pending(),
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Reset drops the session; a running run must be aborted first
// DELETE /api/v1/session
func (h *SessionHandler) Reset(c echo.Context) error {
	if err := h.sessions.Reset(middleware.GetOwner(c)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

