package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lyzr/mutwizard/common/cache"
	"github.com/lyzr/mutwizard/common/config"
	"github.com/lyzr/mutwizard/common/db"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/metrics"
	"github.com/lyzr/mutwizard/common/queue"
	"github.com/lyzr/mutwizard/common/redis"
	"github.com/lyzr/mutwizard/common/telemetry"
)

// Setup initializes all service components.
// This is the main entry point for all services.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment,
	)

	// 3. Metrics registry
	components.Registry = prometheus.NewRegistry()
	components.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	components.Metrics = metrics.New(components.Registry)

	// 4. Initialize database (if enabled)
	if !options.skipDB && cfg.Database.Enabled {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, cfg, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				_ = components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 5. Initialize Redis (if enabled). Live feedback is best effort, so an
	// unreachable Redis only disables it.
	if !options.skipRedis && cfg.Redis.Enabled {
		components.Redis, err = redis.Dial(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, components.Logger)
		if err != nil {
			components.Logger.Warn("redis unavailable, live feedback disabled", "error", err)
		} else {
			components.addCleanup(func() error {
				components.Logger.Info("closing redis connection")
				return components.Redis.Close()
			})
		}
	}

	// 6. Initialize queue (if not skipped)
	if !options.skipQueue {
		components.Queue = queue.NewMemoryQueue(components.Logger)
		components.addCleanup(func() error {
			components.Logger.Info("closing queue")
			return components.Queue.Close()
		})
	}

	// 7. Initialize cache (if not skipped)
	if !options.skipCache {
		components.Cache = cache.NewMemoryCache(components.Logger)
		components.addCleanup(func() error {
			return components.Cache.Close()
		})
	}

	// 8. Initialize telemetry (if not skipped)
	if !options.skipTelemetry {
		components.Telemetry = telemetry.New(telemetry.Opts{
			PprofPort:     cfg.Telemetry.PprofPort,
			MetricsPort:   cfg.Telemetry.MetricsPort,
			EnablePprof:   cfg.Telemetry.EnablePprof,
			EnableMetrics: cfg.Telemetry.EnableMetrics,
			Gatherer:      components.Registry,
		}, components.Logger)

		if err := components.Telemetry.Start(ctx); err != nil {
			// Don't fail startup if telemetry fails
			components.Logger.Warn("failed to start telemetry", "error", err)
		}
		components.addCleanup(func() error {
			return components.Telemetry.Shutdown(context.Background())
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"queue", components.Queue != nil,
		"cache", components.Cache != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
