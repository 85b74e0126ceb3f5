package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/cmd/wizard/container"
	"github.com/lyzr/mutwizard/cmd/wizard/handlers"
)

// RegisterRunRoutes registers all run routes
func RegisterRunRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewRunHandler(c)

	runs := e.Group("/api/v1/runs")
	{
		runs.POST("", h.Start)                           // POST /api/v1/runs
		runs.GET("", h.ListRuns)                         // GET /api/v1/runs?limit=20
		runs.POST("/current/advance", h.Advance)         // POST /api/v1/runs/current/advance
		runs.POST("/current/rotamer", h.OverrideRotamer) // POST /api/v1/runs/current/rotamer
		runs.POST("/current/abort", h.Abort)             // POST /api/v1/runs/current/abort
		runs.GET("/current/report", h.CurrentReport)     // GET /api/v1/runs/current/report
		runs.GET("/:id", h.GetRun)                       // GET /api/v1/runs/0190...
		runs.GET("/:id/status", h.LiveStatus)            // GET /api/v1/runs/0190.../status
	}
}
