package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/mutwizard/common/bootstrap"
	"github.com/lyzr/mutwizard/common/server"
)

const serviceName = "fanout"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Only Redis is needed to relay status
	components, err := bootstrap.Setup(ctx, serviceName,
		bootstrap.WithoutDB(),
		bootstrap.WithoutQueue(),
		bootstrap.WithoutCache(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap %s: %v\n", serviceName, err)
		os.Exit(1)
	}
	log := components.Logger

	if components.Redis == nil {
		log.Error("fanout requires Redis")
		_ = components.Shutdown(ctx)
		os.Exit(1)
	}

	hub := NewHub(log)
	go hub.Run(ctx)

	subscriber := NewRedisSubscriber(components.Redis, components.Config.Redis.FeedbackChannel, hub, log)
	go func() {
		if err := subscriber.Start(ctx); err != nil {
			log.Error("redis subscriber stopped", "error", err)
			cancel()
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := NewServer(hub, log)
	e.GET("/ws", s.HandleWebSocket) // GET /ws?owner=alice&run_id=...
	e.GET("/stats", s.Stats)        // GET /stats
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
	})

	// Upgraded connections set their own deadlines per frame
	srv := server.New(server.Opts{
		Name: serviceName,
		Port: components.Config.Service.Port,
	}, e, log)

	err = srv.Start(ctx)
	cancel()
	_ = components.Shutdown(context.Background())
	if err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
