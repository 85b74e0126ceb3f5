package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/cmd/wizard/container"
	"github.com/lyzr/mutwizard/cmd/wizard/handlers"
)

// RegisterStagingRoutes registers the staging table and import routes
func RegisterStagingRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewStagingHandler(c)
	imports := handlers.NewImportHandler(c)

	// Staging routes
	staging := e.Group("/api/v1/staging")
	{
		staging.GET("", h.List)                      // GET /api/v1/staging?order=residue
		staging.POST("", h.Add)                      // POST /api/v1/staging
		staging.DELETE("", h.Clear)                  // DELETE /api/v1/staging
		staging.POST("/selection", h.StageSelection) // POST /api/v1/staging/selection
		staging.GET("/targets", h.Targets)           // GET /api/v1/staging/targets
		staging.PATCH("/targets", h.PatchTargets)    // PATCH /api/v1/staging/targets
		staging.PUT("/:residue/target", h.SetTarget) // PUT /api/v1/staging/A:123/target
		staging.POST("/:residue/skip", h.Skip)       // POST /api/v1/staging/A:123/skip
		staging.DELETE("/:residue", h.Remove)        // DELETE /api/v1/staging/A:123
	}

	e.POST("/api/v1/imports", imports.Import) // POST /api/v1/imports
}
