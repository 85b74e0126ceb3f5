package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
)

// StepResult is returned by Advance
type StepResult struct {
	Record     mutation.Record `json:"record"`
	Candidates []Candidate     `json:"candidates,omitempty"`
	State      RunState        `json:"state"`
	Remaining  int             `json:"remaining"`
}

// lastApplied remembers the record a Step-mode override may still change
type lastApplied struct {
	pos        int
	candidates []Candidate
}

// Run is one pass over a fixed snapshot of Staged records
type Run struct {
	id     uuid.UUID
	opts   Options
	engine *Engine
	log    Logger

	mu       sync.Mutex
	state    RunState
	records  []mutation.Record
	cursor   int
	busy     bool
	abortReq bool
	last     *lastApplied
	agg      *aggregator
}

func newRun(e *Engine, opts Options, snapshot []mutation.Record) *Run {
	id := newRunID()
	return &Run{
		id:      id,
		opts:    opts,
		engine:  e,
		log:     withRunID(e.logger, id),
		state:   StateRunning,
		records: snapshot,
		agg:     newAggregator(id, opts, snapshot, now()),
	}
}

// ID returns the run id
func (r *Run) ID() uuid.UUID {
	return r.id
}

// Options returns the resolved run options
func (r *Run) Options() Options {
	return r.opts
}

// State returns the run-level state
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pending returns how many snapshot records have not been processed
func (r *Run) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records) - r.cursor
}

// Report returns a snapshot of the aggregated results
func (r *Run) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agg.snapshot()
}

// Execute drives a Batch or Individual run to Completed or Aborted on the
// caller's goroutine. Abort and context cancellation are honoured between
// records; a primitive call in flight always finishes.
func (r *Run) Execute(ctx context.Context) (Report, error) {
	if r.opts.Mode == ModeStep {
		return Report{}, fmt.Errorf("%w: step-by-step runs are driven by Advance", mutation.ErrInvalidState)
	}
	if err := r.acquire(); err != nil {
		return Report{}, err
	}

	for {
		r.mu.Lock()
		if r.cursor >= len(r.records) {
			r.finishLocked(r.endState())
			r.busy = false
			r.mu.Unlock()
			break
		}
		if r.abortReq || ctx.Err() != nil {
			r.finishLocked(StateAborted)
			r.busy = false
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()

		if stop := r.process(ctx); stop {
			r.mu.Lock()
			r.finishLocked(StateAborted)
			r.busy = false
			r.mu.Unlock()
			break
		}
	}

	r.notifyFinished(ctx)
	return r.Report(), nil
}

// Advance processes exactly one snapshot record and returns control.
// Only valid for Step-by-Step runs.
func (r *Run) Advance(ctx context.Context) (StepResult, error) {
	if r.opts.Mode != ModeStep {
		return StepResult{}, fmt.Errorf("%w: advance is only valid in step-by-step mode", mutation.ErrInvalidState)
	}
	if err := r.acquire(); err != nil {
		return StepResult{}, err
	}

	r.mu.Lock()
	pos := r.cursor
	r.mu.Unlock()

	stop := r.process(ctx)

	r.mu.Lock()
	switch {
	case stop || r.abortReq:
		r.finishLocked(StateAborted)
	case r.cursor >= len(r.records):
		r.finishLocked(StateCompleted)
	}
	r.busy = false
	res := StepResult{
		Record:    r.records[pos].Clone(),
		State:     r.state,
		Remaining: len(r.records) - r.cursor,
	}
	if r.last != nil && r.last.pos == pos {
		res.Candidates = append([]Candidate(nil), r.last.candidates...)
	}
	finished := r.state != StateRunning
	r.mu.Unlock()

	if finished {
		r.notifyFinished(ctx)
	}
	return res, nil
}

// OverrideRotamer replaces the rotamer chosen for the record applied by the
// most recent Advance. index must be one of that record's candidates. The
// run stays busy until the override lands, so Advance cannot move past the
// record meanwhile.
func (r *Run) OverrideRotamer(ctx context.Context, index int) (mutation.Record, error) {
	if r.opts.Mode != ModeStep {
		return mutation.Record{}, fmt.Errorf("%w: rotamer override is only valid in step-by-step mode", mutation.ErrInvalidState)
	}

	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return mutation.Record{}, fmt.Errorf("%w: a step is in progress", mutation.ErrInvalidState)
	}
	if r.last == nil {
		r.mu.Unlock()
		return mutation.Record{}, fmt.Errorf("%w: no applied record awaiting inspection", mutation.ErrInvalidState)
	}
	r.busy = true
	last := r.last
	rec := r.records[last.pos].Clone()
	r.mu.Unlock()
	defer r.release(ctx)

	if _, ok := candidatePosition(last.candidates, index); !ok {
		return rec, fmt.Errorf("%w: %d is not a candidate for %s", mutation.ErrInvalidRotamerIndex, index, rec.Residue)
	}

	if setter, ok := r.engine.primitive.(RotamerSetter); ok {
		if err := setter.SetRotamer(ctx, rec.Residue, index); err != nil {
			return rec, asPrimitiveError(err)
		}
	}

	r.mu.Lock()
	prev := r.records[last.pos].Status
	if err := r.records[last.pos].Reselect(index); err != nil {
		r.mu.Unlock()
		return rec, err
	}
	rec = r.records[last.pos].Clone()
	r.agg.record(last.pos, rec, false)
	r.mu.Unlock()

	r.engine.table.Commit(rec)
	r.log.Info("rotamer overridden", "residue", rec.Residue.String(), "rotamer", index)
	r.emit(ctx, Event{Record: rec, Previous: prev, Candidates: len(last.candidates)})
	return rec, nil
}

// release clears busy after an override and finishes an abort requested
// while it ran
func (r *Run) release(ctx context.Context) {
	r.mu.Lock()
	r.busy = false
	aborted := r.abortReq && r.state == StateRunning
	if aborted {
		r.finishLocked(StateAborted)
	}
	r.mu.Unlock()

	if aborted {
		r.notifyFinished(ctx)
	}
}

// Abort stops the run. A record in flight completes first; the records not
// yet processed stay Staged.
func (r *Run) Abort(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRunning {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: run is %s", mutation.ErrInvalidState, state)
	}
	r.abortReq = true
	if r.busy {
		// whoever holds the run finishes it once the current record lands
		r.mu.Unlock()
		r.log.Info("abort requested, waiting for in-flight record")
		return nil
	}
	r.finishLocked(StateAborted)
	r.mu.Unlock()

	r.notifyFinished(ctx)
	return nil
}

// acquire marks the run busy; concurrent drivers are refused
func (r *Run) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning {
		return fmt.Errorf("%w: run is %s", mutation.ErrInvalidState, r.state)
	}
	if r.busy {
		return fmt.Errorf("%w: run is already being driven", mutation.ErrInvalidState)
	}
	r.busy = true
	return nil
}

// endState is the state of a run whose snapshot is exhausted
func (r *Run) endState() RunState {
	if r.abortReq {
		return StateAborted
	}
	return StateCompleted
}

// process runs the per-record sub-machine on the record at the cursor and
// reports whether the continuation policy stops the run
func (r *Run) process(ctx context.Context) bool {
	r.mu.Lock()
	pos := r.cursor
	rec := &r.records[pos]
	if err := rec.Start(); err != nil {
		// A snapshot only holds Staged records
		r.mu.Unlock()
		r.log.Error("snapshot record not startable", "residue", rec.Residue.String(), "error", err)
		r.advanceCursor()
		return false
	}
	started := rec.Clone()
	r.agg.record(pos, started, false)
	r.last = nil
	r.mu.Unlock()

	r.engine.table.Commit(started)
	r.emit(ctx, Event{Record: started, Previous: mutation.StatusStaged})

	// 1. Detect structure drift (advisory)
	drift := r.checkDrift(ctx, started)

	// 2. Call the primitive. It is atomic from the engine's point of view,
	// so caller cancellation must not reach it.
	t0 := time.Now()
	candidates, err := r.engine.primitive.Apply(context.WithoutCancel(ctx), ApplyRequest{
		Residue:    started.Residue,
		Target:     started.TargetType,
		Refinement: r.opts.Refinement,
	})
	elapsed := time.Since(t0)

	// 3. Resolve the outcome
	stop := false
	pickPos := -1
	r.mu.Lock()
	switch {
	case err != nil:
		_ = rec.Fail(asPrimitiveError(err).Reason)
		stop = r.opts.OnFailure == StopRun

	case len(candidates) == 0:
		if r.opts.OnFailure == SkipAndContinue {
			_ = rec.Skip()
		} else {
			_ = rec.Fail(ErrNoCandidates.Error())
			stop = true
		}

	default:
		pickPos, err = r.engine.rotamers.Select(candidates)
		if err == nil && (pickPos < 0 || pickPos >= len(candidates)) {
			err = fmt.Errorf("rotamer policy returned position %d for %d candidates", pickPos, len(candidates))
		}
		if err != nil {
			_ = rec.Fail(err.Error())
			stop = r.opts.OnFailure == StopRun
			break
		}
		_ = rec.Apply(candidates[pickPos].Index)
		if r.opts.Mode == ModeStep {
			r.last = &lastApplied{pos: pos, candidates: append([]Candidate(nil), candidates...)}
		}
	}
	done := rec.Clone()
	r.agg.record(pos, done, drift)
	r.cursor++
	r.mu.Unlock()

	r.engine.table.Commit(done)

	switch done.Status {
	case mutation.StatusApplied:
		r.log.Info("mutation applied",
			"residue", done.Residue.String(),
			"target", done.TargetType,
			"rotamer", *done.SelectedRotamer,
			"candidates", len(candidates),
			"duration_ms", elapsed.Milliseconds())
	case mutation.StatusFailed:
		r.log.Warn("mutation failed",
			"residue", done.Residue.String(),
			"target", done.TargetType,
			"reason", done.ErrorReason,
			"stop_run", stop)
	case mutation.StatusSkipped:
		r.log.Warn("mutation skipped, no rotamer candidates",
			"residue", done.Residue.String(),
			"target", done.TargetType)
	}

	r.emit(ctx, Event{
		Record:     done,
		Previous:   mutation.StatusInProgress,
		Candidates: len(candidates),
		Drift:      drift,
		Duration:   elapsed,
	})

	return stop
}

func (r *Run) advanceCursor() {
	r.mu.Lock()
	r.cursor++
	r.mu.Unlock()
}

// checkDrift compares the structure's current residue type with the type
// observed at staging time
func (r *Run) checkDrift(ctx context.Context, rec mutation.Record) bool {
	if r.engine.lookup == nil || rec.SourceType == "" || rec.SourceType == residue.Unknown {
		return false
	}
	observed, found, err := r.engine.lookup.LookupResidue(ctx, rec.Residue)
	if err != nil || !found {
		r.log.Debug("drift check skipped", "residue", rec.Residue.String(), "found", found, "error", err)
		return false
	}
	if residue.Normalize(observed) == rec.SourceType {
		return false
	}
	r.log.Warn("structure drift detected",
		"residue", rec.Residue.String(),
		"staged_as", rec.SourceType,
		"observed", observed)
	return true
}

// finishLocked must be called with mu held. Records the run never reached
// go back to the table unreserved.
func (r *Run) finishLocked(state RunState) {
	if r.state != StateRunning {
		return
	}
	r.state = state
	r.agg.finish(state, now())
	r.engine.table.Release(recordIDs(r.records[r.cursor:])...)
}

func (r *Run) notifyFinished(ctx context.Context) {
	report := r.Report()
	r.log.Info("run finished",
		"state", report.State,
		"applied", report.Counts.Applied,
		"failed", report.Counts.Failed,
		"skipped", report.Counts.Skipped,
		"pending", report.Counts.Pending)

	for _, o := range r.engine.observers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("run observer panicked", "panic", p)
				}
			}()
			o.OnRunFinished(ctx, report.Snapshot())
		}()
	}
}

// emit delivers ev to every sink; sink failures never reach the run
func (r *Run) emit(ctx context.Context, ev Event) {
	ev.RunID = r.id
	ev.Mode = r.opts.Mode
	ev.At = now()

	for _, s := range r.engine.sinks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("feedback sink panicked", "panic", p, "residue", ev.Record.Residue.String())
				}
			}()
			if err := s.OnRecordStatusChanged(ctx, ev); err != nil {
				r.log.Warn("feedback sink failed", "error", err, "residue", ev.Record.Residue.String())
			}
		}()
	}
}

// asPrimitiveError normalises any primitive failure into a PrimitiveError
func asPrimitiveError(err error) *mutation.PrimitiveError {
	var pe *mutation.PrimitiveError
	if errors.As(err, &pe) {
		return pe
	}
	return &mutation.PrimitiveError{Reason: err.Error(), Err: err}
}

type runLogger struct {
	Logger
	runID string
}

func withRunID(l Logger, id uuid.UUID) Logger {
	return runLogger{Logger: l, runID: id.String()}
}

func (l runLogger) Info(msg string, kv ...interface{}) {
	l.Logger.Info(msg, append([]interface{}{"run_id", l.runID}, kv...)...)
}

func (l runLogger) Error(msg string, kv ...interface{}) {
	l.Logger.Error(msg, append([]interface{}{"run_id", l.runID}, kv...)...)
}

func (l runLogger) Warn(msg string, kv ...interface{}) {
	l.Logger.Warn(msg, append([]interface{}{"run_id", l.runID}, kv...)...)
}

func (l runLogger) Debug(msg string, kv ...interface{}) {
	l.Logger.Debug(msg, append([]interface{}{"run_id", l.runID}, kv...)...)
}
