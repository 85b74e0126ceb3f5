package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lyzr/mutwizard/common/cache"
	"github.com/lyzr/mutwizard/common/condition"
	"github.com/lyzr/mutwizard/common/csvimport"
	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/metrics"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/ratelimit"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/lyzr/mutwizard/common/staging"
)

var (
	// ErrInvalidFilter is returned for a selection filter that does not compile
	ErrInvalidFilter = errors.New("invalid selection filter")

	// ErrEmptySelection is returned when staging from a selection picks nothing
	ErrEmptySelection = errors.New("selection is empty")

	// ErrRateLimited is matched by every *RateLimitError
	ErrRateLimited = errors.New("run rate limit exceeded")
)

// RunLimiter bounds how often an owner may start runs
type RunLimiter interface {
	CheckTieredLimit(ctx context.Context, owner string, tier ratelimit.RunTier) (*ratelimit.RateLimitResult, error)
}

// RateLimitError refuses a run start
type RateLimitError struct {
	Tier              ratelimit.RunTier
	Limit             int64
	RetryAfterSeconds int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("run rate limit exceeded for %s runs (%d per window), retry in %ds", e.Tier, e.Limit, e.RetryAfterSeconds)
}

// Is makes errors.Is(err, ErrRateLimited) hold
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Session is one owner's staging table and the engine that runs over it
type Session struct {
	Owner  string
	Table  *staging.Table
	Engine *engine.Engine

	lookup    *cache.LookupCache
	selection staging.SelectionSource
	filter    *condition.Filter
	metrics   *metrics.Metrics
	limiter   RunLimiter
	log       *logger.Logger

	// fromImport is set while the table was last filled by a CSV import
	mu         sync.Mutex
	fromImport bool
}

// ImportResult is the outcome of a CSV import into the session
type ImportResult struct {
	Imported []mutation.Record    `json:"imported"`
	Errors   []csvimport.LineError `json:"line_errors"`
	Lines    int                   `json:"lines"`
}

// StartResult is returned by StartRun. Report is set once a Batch or
// Individual run has been executed.
type StartResult struct {
	RunID   uuid.UUID       `json:"run_id"`
	State   engine.RunState `json:"state"`
	Pending int             `json:"pending"`
	Report  *engine.Report  `json:"report,omitempty"`
}

// Records lists every record in insertion or residue order
func (s *Session) Records(order staging.Order) []mutation.Record {
	if order == staging.OrderResidue {
		return s.Table.Sorted()
	}
	return s.Table.All()
}

// Add stages one residue. A missing source type is resolved against the
// loaded structure; an unknown residue is refused.
func (s *Session) Add(ctx context.Context, id residue.ID, target, source string) (mutation.Record, error) {
	if source == "" && s.lookup != nil {
		observed, found, err := s.lookup.LookupResidue(ctx, id)
		if err != nil {
			return mutation.Record{}, fmt.Errorf("failed to look up %s: %w", id, err)
		}
		if !found {
			return mutation.Record{}, fmt.Errorf("%w: residue %s is not in the structure", mutation.ErrNotFound, id)
		}
		source = observed
	}

	rec, err := s.Table.Add(id, target, source)
	if err != nil {
		return rec, err
	}
	s.setFromImport(false)
	s.log.Debug("residue staged", "residue", id.String(), "target", rec.TargetType)
	return rec, nil
}

// StageSelection stages every selected residue matching filter with the
// same target
func (s *Session) StageSelection(ctx context.Context, target, filter string) ([]mutation.Record, error) {
	if s.selection == nil {
		return nil, fmt.Errorf("no selection source configured")
	}
	target = residue.Normalize(target)
	if !residue.IsRecognized(target) {
		return nil, fmt.Errorf("%w: %q", mutation.ErrInvalidTarget, target)
	}
	if strings.TrimSpace(filter) != "" {
		if err := s.filter.Compile(filter); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
	}

	sel, err := s.selection.CurrentSelection(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read selection: %w", err)
	}
	picked, err := s.filter.Select(filter, sel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if len(picked) == 0 {
		return nil, ErrEmptySelection
	}

	out := make([]mutation.Record, 0, len(picked))
	for _, p := range picked {
		rec, err := s.Table.Add(p.Residue, target, p.ObservedType)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	s.setFromImport(false)

	s.log.Info("selection staged", "residues", len(out), "target", target, "filter", filter)
	return out, nil
}

// Import parses a CSV mutation list and merges its records into the table
func (s *Session) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var lookup csvimport.Lookup
	if s.lookup != nil {
		lookup = s.lookup
	}

	res, err := csvimport.Parse(ctx, r, lookup)
	if err != nil {
		return nil, err
	}

	s.Table.Merge(res.Records)
	if len(res.Records) > 0 {
		s.setFromImport(true)
	}
	if s.metrics != nil {
		s.metrics.ObserveImport(len(res.Records), len(res.Errors))
	}

	s.log.Info("mutation list imported",
		"lines", res.Lines,
		"imported", len(res.Records),
		"rejected", len(res.Errors))

	return &ImportResult{
		Imported: res.Records,
		Errors:   res.Errors,
		Lines:    res.Lines,
	}, nil
}

// StartRun begins a run over the Staged records. Batch and Individual runs
// are executed to completion before returning; a Step run is left for
// Advance.
func (s *Session) StartRun(ctx context.Context, opts engine.Options) (*StartResult, error) {
	if err := s.checkLimit(ctx, opts.Mode); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.fromImport {
		opts.FromImport = true
	}
	s.mu.Unlock()

	run, err := s.Engine.Start(ctx, opts)
	if err != nil {
		return nil, err
	}

	res := &StartResult{RunID: run.ID()}
	if run.Options().Mode != engine.ModeStep && run.State() == engine.StateRunning {
		report, err := run.Execute(ctx)
		if err != nil {
			return nil, err
		}
		res.Report = &report
	}
	res.State = run.State()
	res.Pending = run.Pending()
	if res.Report == nil && res.State != engine.StateRunning {
		report := run.Report()
		res.Report = &report
	}
	return res, nil
}

// Advance processes the next record of the current Step run
func (s *Session) Advance(ctx context.Context) (engine.StepResult, error) {
	run, err := s.current()
	if err != nil {
		return engine.StepResult{}, err
	}
	return run.Advance(ctx)
}

// OverrideRotamer replaces the rotamer of the record just applied
func (s *Session) OverrideRotamer(ctx context.Context, index int) (mutation.Record, error) {
	run, err := s.current()
	if err != nil {
		return mutation.Record{}, err
	}
	return run.OverrideRotamer(ctx, index)
}

// Abort stops the current run
func (s *Session) Abort(ctx context.Context) error {
	run, err := s.current()
	if err != nil {
		return err
	}
	return run.Abort(ctx)
}

// Report returns the report of the current run
func (s *Session) Report() (engine.Report, error) {
	run, err := s.current()
	if err != nil {
		return engine.Report{}, err
	}
	return run.Report(), nil
}

// Export writes the structure once no run is active
func (s *Session) Export(ctx context.Context, format engine.ExportFormat, force bool) ([]string, error) {
	return s.Engine.Export(ctx, format, force)
}

// Clear empties the staging table. A finished run is forgotten; a Running
// run keeps going over its snapshot but can no longer write into the table.
func (s *Session) Clear() error {
	s.Table.Clear()
	s.setFromImport(false)

	if err := s.Engine.Reset(); err != nil && !errors.Is(err, engine.ErrRunActive) {
		return err
	}
	return nil
}

// checkLimit fails open: an unreachable limiter never blocks a run
func (s *Session) checkLimit(ctx context.Context, mode engine.Mode) error {
	if s.limiter == nil {
		return nil
	}

	staged := s.Table.Counts()[mutation.StatusStaged]
	profile := ratelimit.InspectRun(staged, mode == engine.ModeStep)

	res, err := s.limiter.CheckTieredLimit(ctx, s.Owner, profile.Tier)
	if err != nil {
		s.log.Warn("run rate limit check failed, allowing run", "error", err)
		return nil
	}
	if !res.Allowed {
		return &RateLimitError{Tier: profile.Tier, Limit: res.Limit, RetryAfterSeconds: res.RetryAfterSeconds}
	}
	return nil
}

func (s *Session) current() (*engine.Run, error) {
	run := s.Engine.Current()
	if run == nil {
		return nil, engine.ErrNoRun
	}
	return run, nil
}

func (s *Session) setFromImport(v bool) {
	s.mu.Lock()
	s.fromImport = v
	s.mu.Unlock()
}
