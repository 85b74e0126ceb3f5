package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/mutwizard/cmd/wizard/container"
	wizardmw "github.com/lyzr/mutwizard/cmd/wizard/middleware"
	"github.com/lyzr/mutwizard/cmd/wizard/routes"
	"github.com/lyzr/mutwizard/common/bootstrap"
	"github.com/lyzr/mutwizard/common/db"
	commonmw "github.com/lyzr/mutwizard/common/middleware"
	"github.com/lyzr/mutwizard/common/ratelimit"
	"github.com/lyzr/mutwizard/common/repository"
	"github.com/lyzr/mutwizard/common/server"
)

const serviceName = "wizard"

func main() {
	ctx := context.Background()

	// Bootstrap common components (DB, Redis, logger, queue, cache, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName, bootstrap.WithDBInitHook(func(database *db.DB) error {
		return repository.NewReportRepository(database).EnsureSchema(ctx)
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap %s: %v\n", serviceName, err)
		os.Exit(1)
	}

	// Initialize service container (all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		_ = components.Shutdown(ctx)
		os.Exit(1)
	}

	e := setupEcho(serviceContainer)
	setupMiddleware(e, serviceContainer)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	err = startServer(ctx, e, components)
	_ = components.Shutdown(ctx)
	if err != nil {
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho(c *container.Container) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = c.Validator
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, c *container.Container) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(wizardmw.ExtractOwner())

	if c.Limiter != nil {
		cfg := c.Components.Config.RateLimit
		e.Use(commonmw.GlobalRateLimitMiddleware(c.Limiter, ratelimit.GlobalConfig{
			Limit:         cfg.GlobalLimit,
			WindowSeconds: cfg.WindowSeconds,
		}))
		e.Use(commonmw.OwnerRateLimitMiddleware(c.Limiter, wizardmw.GetOwner, cfg.OwnerLimit, cfg.WindowSeconds))
	}
}

// setupHealthCheck registers the health check and metrics endpoints
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": serviceName,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": serviceName,
		})
	})

	if components.Telemetry != nil {
		e.GET("/metrics", echo.WrapHandler(components.Telemetry.MetricsHandler()))
	}
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterStagingRoutes(e, serviceContainer)
	routes.RegisterRunRoutes(e, serviceContainer)
	routes.RegisterSessionRoutes(e, serviceContainer)
}

// startServer serves until SIGINT/SIGTERM, then drains in-flight requests
func startServer(ctx context.Context, e *echo.Echo, components *bootstrap.Components) error {
	cfg := components.Config
	srv := server.New(server.Opts{
		Name:         serviceName,
		Port:         cfg.Service.Port,
		WriteTimeout: cfg.Service.WriteTimeout,
	}, e, components.Logger)

	if err := srv.Start(ctx); err != nil {
		components.Logger.Error("Server error", "error", err)
		return err
	}
	return nil
}
