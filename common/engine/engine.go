// Package engine drives staged mutations through the external mutation
// primitive in Batch, Individual, or Step-by-Step mode.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/lyzr/mutwizard/common/staging"
)

// Engine owns at most one active run over a staging table
type Engine struct {
	table     *staging.Table
	primitive Primitive
	rotamers  RotamerPolicy
	lookup    Lookup
	exporter  Exporter
	clashes   ClashScanner
	sinks     []Sink
	observers []RunObserver
	defaults  Defaults
	logger    Logger

	mu      sync.Mutex
	current *Run
}

// EngineOpts contains options for creating an engine
type EngineOpts struct {
	Table     *staging.Table
	Primitive Primitive

	// RotamerPolicy defaults to HighestScore
	RotamerPolicy RotamerPolicy

	// Lookup enables structure drift detection (optional)
	Lookup Lookup

	Exporter     Exporter
	ClashScanner ClashScanner

	Sinks     []Sink
	Observers []RunObserver

	// Defaults zero value means DefaultPolicy()
	Defaults *Defaults
	Logger   Logger
}

// New creates an engine
func New(opts *EngineOpts) (*Engine, error) {
	if opts.Table == nil {
		return nil, fmt.Errorf("engine: staging table is required")
	}
	if opts.Primitive == nil {
		return nil, fmt.Errorf("engine: mutation primitive is required")
	}

	e := &Engine{
		table:     opts.Table,
		primitive: opts.Primitive,
		rotamers:  opts.RotamerPolicy,
		lookup:    opts.Lookup,
		exporter:  opts.Exporter,
		clashes:   opts.ClashScanner,
		sinks:     opts.Sinks,
		observers: opts.Observers,
		defaults:  DefaultPolicy(),
		logger:    opts.Logger,
	}
	if e.rotamers == nil {
		e.rotamers = HighestScore{}
	}
	if opts.Defaults != nil {
		e.defaults = *opts.Defaults
	}
	if e.logger == nil {
		e.logger = nopLogger{}
	}
	return e, nil
}

// Table returns the staging table the engine runs over
func (e *Engine) Table() *staging.Table {
	return e.table
}

// Defaults returns the policy defaults in effect
func (e *Engine) Defaults() Defaults {
	return e.defaults
}

// Start snapshots the Staged records of the table and begins a run.
// Batch and Individual runs are then driven by Execute, Step runs by Advance.
func (e *Engine) Start(ctx context.Context, opts Options) (*Run, error) {
	opts, err := opts.resolve(e.defaults)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.current != nil && e.current.State() == StateRunning {
		e.mu.Unlock()
		return nil, ErrRunActive
	}

	snapshot := e.table.Checkout(opts.Order)
	if opts.SharedTarget != "" {
		for i := range snapshot {
			if err := snapshot[i].SetTarget(opts.SharedTarget); err != nil {
				e.mu.Unlock()
				e.table.Release(recordIDs(snapshot)...)
				return nil, err
			}
			e.table.Commit(snapshot[i])
		}
	}

	run := newRun(e, opts, snapshot)
	e.current = run
	e.mu.Unlock()

	run.log.Info("run started",
		"mode", opts.Mode,
		"on_failure", opts.OnFailure,
		"order", opts.Order,
		"records", len(snapshot),
		"refinement", opts.Refinement.Method)

	// Nothing to do: the run is complete as soon as it starts
	if len(snapshot) == 0 {
		run.mu.Lock()
		run.finishLocked(StateCompleted)
		run.mu.Unlock()
		run.notifyFinished(ctx)
	}

	return run, nil
}

// Current returns the most recent run, or nil
func (e *Engine) Current() *Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Reset forgets the most recent run. A Running run is refused.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && e.current.State() == StateRunning {
		return ErrRunActive
	}
	e.current = nil
	return nil
}

// Export writes the current structure once no run is Running. If a clash
// scanner is configured and finds severe clashes around applied residues,
// the export is refused unless force is set.
func (e *Engine) Export(ctx context.Context, format ExportFormat, force bool) ([]string, error) {
	if e.exporter == nil {
		return nil, fmt.Errorf("engine: no structure exporter configured")
	}
	if !format.Valid() {
		return nil, fmt.Errorf("unknown export format %q", format)
	}
	if run := e.Current(); run != nil && run.State() == StateRunning {
		return nil, ErrRunActive
	}

	if e.clashes != nil && !force {
		var applied []residue.ID
		for _, rec := range e.table.Sorted() {
			if rec.Status == mutation.StatusApplied {
				applied = append(applied, rec.Residue)
			}
		}
		if len(applied) > 0 {
			n, err := e.clashes.CountClashes(ctx, applied)
			if err != nil {
				e.logger.Warn("clash scan failed, exporting anyway", "error", err)
			} else if n > 0 {
				return nil, fmt.Errorf("%w: %d clashes around %d mutated residues", ErrClashesDetected, n, len(applied))
			}
		}
	}

	paths, err := e.exporter.ExportStructure(ctx, format)
	if err != nil {
		return nil, fmt.Errorf("failed to export structure: %w", err)
	}
	e.logger.Info("structure exported", "format", format, "paths", paths)
	return paths, nil
}

func recordIDs(records []mutation.Record) []uuid.UUID {
	ids := make([]uuid.UUID, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}

func newRunID() uuid.UUID {
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}

func now() time.Time {
	return time.Now().UTC()
}
