package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/mutwizard/common/cache"
	"github.com/lyzr/mutwizard/common/condition"
	"github.com/lyzr/mutwizard/common/config"
	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/feedback"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/metrics"
	"github.com/lyzr/mutwizard/common/queue"
	"github.com/lyzr/mutwizard/common/redis"
	"github.com/lyzr/mutwizard/common/staging"
)

// AnonymousOwner keys the session of requests without an X-User-ID header
const AnonymousOwner = "anonymous"

// Structure is everything the structure bridge provides to a session
type Structure interface {
	engine.Primitive
	engine.Lookup
	engine.Exporter
	engine.ClashScanner
	staging.SelectionSource
}

// SessionManager hands out one Session per owner, created on first use
type SessionManager struct {
	structure Structure
	cache     cache.Cache
	lookupTTL time.Duration
	filter    *condition.Filter
	metrics   *metrics.Metrics
	redis     *redis.Client
	channel   string
	statusTTL time.Duration
	queue     queue.Queue
	limiter   RunLimiter
	defaults  engine.Defaults
	log       *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// SessionManagerOpts contains options for creating a session manager.
// Cache, Metrics, Redis, Queue, and Limiter are optional.
type SessionManagerOpts struct {
	Structure Structure
	Cache     cache.Cache
	LookupTTL time.Duration
	Filter    *condition.Filter
	Metrics   *metrics.Metrics
	Redis     *redis.Client
	Channel   string
	StatusTTL time.Duration
	Queue     queue.Queue
	Limiter   RunLimiter
	Defaults  engine.Defaults
	Logger    *logger.Logger
}

// NewSessionManager creates a session manager
func NewSessionManager(opts *SessionManagerOpts) (*SessionManager, error) {
	if opts.Structure == nil {
		return nil, fmt.Errorf("structure bridge is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	filter := opts.Filter
	if filter == nil {
		var err error
		if filter, err = condition.NewFilter(); err != nil {
			return nil, err
		}
	}

	return &SessionManager{
		structure: opts.Structure,
		cache:     opts.Cache,
		lookupTTL: opts.LookupTTL,
		filter:    filter,
		metrics:   opts.Metrics,
		redis:     opts.Redis,
		channel:   opts.Channel,
		statusTTL: opts.StatusTTL,
		queue:     opts.Queue,
		limiter:   opts.Limiter,
		defaults:  opts.Defaults,
		log:       opts.Logger,
		sessions:  make(map[string]*Session),
	}, nil
}

// Get returns the owner's session, creating it if needed
func (m *SessionManager) Get(owner string) (*Session, error) {
	owner = ownerOrAnonymous(owner)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, exists := m.sessions[owner]; exists {
		return s, nil
	}

	s, err := m.newSession(owner)
	if err != nil {
		return nil, err
	}
	m.sessions[owner] = s
	m.log.Info("session created", "owner", owner)
	return s, nil
}

// Lookup returns the owner's session without creating one
func (m *SessionManager) Lookup(owner string) (*Session, bool) {
	owner = ownerOrAnonymous(owner)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[owner]
	return s, exists
}

// Reset drops the owner's session. A session with a Running run is kept.
func (m *SessionManager) Reset(owner string) error {
	owner = ownerOrAnonymous(owner)

	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[owner]
	if !exists {
		return nil
	}
	if err := s.Engine.Reset(); err != nil {
		return err
	}
	delete(m.sessions, owner)
	m.log.Info("session reset", "owner", owner)
	return nil
}

// Len returns the number of live sessions
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// newSession must be called with mu held
func (m *SessionManager) newSession(owner string) (*Session, error) {
	log := m.log.WithOwner(owner)
	table := staging.NewTable()

	sinks := []engine.Sink{feedback.NewLogSink(log)}
	observers := []engine.RunObserver{}

	var lookup *cache.LookupCache
	if m.cache != nil {
		lookup = cache.NewLookupCache(m.structure, m.cache, m.lookupTTL, owner)
		sinks = append(sinks, lookup)
	}
	if m.metrics != nil {
		sinks = append(sinks, m.metrics)
		observers = append(observers, m.metrics)
	}
	if m.redis != nil {
		sinks = append(sinks, feedback.NewRedisSink(&feedback.RedisSinkOpts{
			Client:    m.redis,
			Channel:   m.channel,
			StatusTTL: m.statusTTL,
			OwnerID:   owner,
		}))
	}
	if m.queue != nil {
		observers = append(observers, NewRunPublisher(m.queue, owner, log))
	}

	defaults := m.defaults
	eng, err := engine.New(&engine.EngineOpts{
		Table:        table,
		Primitive:    m.structure,
		Lookup:       m.structure,
		Exporter:     m.structure,
		ClashScanner: m.structure,
		Sinks:        sinks,
		Observers:    observers,
		Defaults:     &defaults,
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine for %s: %w", owner, err)
	}

	return &Session{
		Owner:     owner,
		Table:     table,
		Engine:    eng,
		lookup:    lookup,
		selection: m.structure,
		filter:    m.filter,
		metrics:   m.metrics,
		limiter:   m.limiter,
		log:       log,
	}, nil
}

// DefaultsFromConfig builds the engine policy defaults from configuration
func DefaultsFromConfig(cfg config.EngineConfig) engine.Defaults {
	d := engine.Defaults{
		BatchOnFailure:      engine.FailurePolicy(cfg.BatchOnFailure),
		IndividualOnFailure: engine.FailurePolicy(cfg.IndividualOnFailure),
		StepOnFailure:       engine.FailurePolicy(cfg.StepOnFailure),
		Refinement:          engine.Refinement{Method: engine.RefinementMethod(cfg.Refinement)},
	}
	if d.Refinement.Method == engine.RefineSculpt {
		d.Refinement.Cycles = cfg.SculptCycles
	}
	return d
}
