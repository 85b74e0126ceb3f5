package engine

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
)

// Entry is the outcome of one snapshot record
type Entry struct {
	Residue     residue.ID      `json:"residue"`
	SourceType  string          `json:"source_type"`
	TargetType  string          `json:"target_type"`
	Status      mutation.Status `json:"status"`
	Rotamer     *int            `json:"rotamer,omitempty"`
	ErrorReason string          `json:"error_reason,omitempty"`
	Drift       bool            `json:"drift,omitempty"`
}

// Counts summarises a run
type Counts struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Pending int `json:"pending"`
}

// Report is a point-in-time view of a run
type Report struct {
	RunID      uuid.UUID     `json:"run_id"`
	Mode       Mode          `json:"mode"`
	State      RunState      `json:"state"`
	OnFailure  FailurePolicy `json:"on_failure"`
	Counts     Counts        `json:"counts"`
	Entries    []Entry       `json:"entries"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Snapshot returns a deep copy safe to hand to other goroutines
func (r Report) Snapshot() Report {
	out := r
	out.Entries = make([]Entry, len(r.Entries))
	for i, e := range r.Entries {
		if e.Rotamer != nil {
			v := *e.Rotamer
			e.Rotamer = &v
		}
		out.Entries[i] = e
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Failures returns the failed entries
func (r Report) Failures() []Entry {
	return slices.DeleteFunc(slices.Clone(r.Entries), func(e Entry) bool {
		return e.Status != mutation.StatusFailed
	})
}

// aggregator accumulates per-record outcomes for one run.
// It is only touched with the owning Run's mutex held.
type aggregator struct {
	report Report
}

func newAggregator(runID uuid.UUID, opts Options, snapshot []mutation.Record, started time.Time) *aggregator {
	entries := make([]Entry, len(snapshot))
	for i, rec := range snapshot {
		entries[i] = entryFor(rec)
	}
	a := &aggregator{report: Report{
		RunID:     runID,
		Mode:      opts.Mode,
		State:     StateRunning,
		OnFailure: opts.OnFailure,
		Entries:   entries,
		StartedAt: started,
	}}
	a.recount()
	return a
}

func entryFor(rec mutation.Record) Entry {
	e := Entry{
		Residue:     rec.Residue,
		SourceType:  rec.SourceType,
		TargetType:  rec.TargetType,
		Status:      rec.Status,
		ErrorReason: rec.ErrorReason,
	}
	if rec.SelectedRotamer != nil {
		v := *rec.SelectedRotamer
		e.Rotamer = &v
	}
	return e
}

// record updates the entry at position i
func (a *aggregator) record(i int, rec mutation.Record, drift bool) {
	e := entryFor(rec)
	e.Drift = drift || a.report.Entries[i].Drift
	a.report.Entries[i] = e
	a.recount()
}

func (a *aggregator) finish(state RunState, at time.Time) {
	a.report.State = state
	a.report.FinishedAt = &at
}

func (a *aggregator) recount() {
	var c Counts
	for _, e := range a.report.Entries {
		switch e.Status {
		case mutation.StatusApplied:
			c.Applied++
		case mutation.StatusFailed:
			c.Failed++
		case mutation.StatusSkipped:
			c.Skipped++
		default:
			c.Pending++
		}
	}
	a.report.Counts = c
}

func (a *aggregator) snapshot() Report {
	return a.report.Snapshot()
}
