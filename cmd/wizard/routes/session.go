package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/cmd/wizard/container"
	"github.com/lyzr/mutwizard/cmd/wizard/handlers"
)

// RegisterSessionRoutes registers the session and export routes
func RegisterSessionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSessionHandler(c)
	exports := handlers.NewExportHandler(c)

	e.GET("/api/v1/session", h.Get)           // GET /api/v1/session
	e.DELETE("/api/v1/session", h.Reset)      // DELETE /api/v1/session
	e.POST("/api/v1/exports", exports.Export) // POST /api/v1/exports
}
