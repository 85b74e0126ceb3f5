package container

import (
	"context"
	"fmt"

	"github.com/lyzr/mutwizard/cmd/wizard/service"
	"github.com/lyzr/mutwizard/common/bootstrap"
	"github.com/lyzr/mutwizard/common/clients"
	"github.com/lyzr/mutwizard/common/condition"
	"github.com/lyzr/mutwizard/common/feedback"
	"github.com/lyzr/mutwizard/common/queue"
	"github.com/lyzr/mutwizard/common/ratelimit"
	"github.com/lyzr/mutwizard/common/repository"
	"github.com/lyzr/mutwizard/common/validation"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components
	Structure  service.Structure

	// Repositories (nil when the database is disabled)
	ReportRepo *repository.ReportRepository

	// Optional Redis-backed pieces
	Limiter *ratelimit.RateLimiter
	Status  *feedback.RedisSink

	// Request checking
	Validator *validation.RequestValidator
	Patches   *validation.PatchValidator

	// Services
	Filter   *condition.Filter
	Sessions *service.SessionManager
	Archive  *service.ReportArchive
}

// NewContainer initializes all services against the configured structure
// bridge
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	structure := clients.NewStructureClient(&clients.StructureClientOpts{
		BaseURL: cfg.Structure.URL,
		Timeout: cfg.Structure.Timeout,
		Logger:  components.Logger,
	})
	return NewContainerWithStructure(ctx, components, structure)
}

// NewContainerWithStructure initializes all services against the given
// structure bridge
func NewContainerWithStructure(ctx context.Context, components *bootstrap.Components, structure service.Structure) (*Container, error) {
	cfg := components.Config

	filter, err := condition.NewFilter()
	if err != nil {
		return nil, fmt.Errorf("failed to create selection filter: %w", err)
	}

	c := &Container{
		Components: components,
		Structure:  structure,
		Validator:  validation.NewRequestValidator(),
		Patches:    validation.NewPatchValidator(),
		Filter:     filter,
	}

	opts := &service.SessionManagerOpts{
		Structure: structure,
		LookupTTL: cfg.Structure.LookupCacheTTL,
		Filter:    filter,
		Metrics:   components.Metrics,
		Channel:   cfg.Redis.FeedbackChannel,
		StatusTTL: cfg.Redis.StatusTTL,
		Defaults:  service.DefaultsFromConfig(cfg.Engine),
		Logger:    components.Logger,
	}
	// interfaces are only set for present components
	if components.Cache != nil {
		opts.Cache = components.Cache
	}
	if components.Queue != nil {
		opts.Queue = components.Queue
	}
	if components.Redis != nil {
		opts.Redis = components.Redis
		c.Status = feedback.NewRedisSink(&feedback.RedisSinkOpts{Client: components.Redis})
		if cfg.RateLimit.Enabled {
			c.Limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), components.Logger)
			opts.Limiter = c.Limiter
		}
	}

	c.Sessions, err = service.NewSessionManager(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	var store service.ReportStore
	if components.DB != nil {
		c.ReportRepo = repository.NewReportRepository(components.DB)
		store = c.ReportRepo
	}
	var runs queue.Queue
	if components.Queue != nil {
		runs = components.Queue
	}
	c.Archive = service.NewReportArchive(store, runs, components.Logger)
	if err := c.Archive.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start report archive: %w", err)
	}

	components.Logger.Info("service container initialized",
		"structure_url", cfg.Structure.URL,
		"report_persistence", store != nil,
		"rate_limit", c.Limiter != nil,
		"live_status", c.Status != nil)

	return c, nil
}
