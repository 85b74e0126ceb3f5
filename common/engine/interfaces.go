package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
)

// Candidate is one rotamer placement returned by the primitive
type Candidate struct {
	Index int     `json:"rotamer_index"`
	Score float64 `json:"score"`
}

// ApplyRequest is one call into the mutation primitive
type ApplyRequest struct {
	Residue    residue.ID `json:"residue"`
	Target     string     `json:"target"`
	Refinement Refinement `json:"refinement"`
}

// Primitive swaps a residue's sidechain and returns candidate rotamers.
// Failures should be *mutation.PrimitiveError; any other error is wrapped
// into one by the engine.
type Primitive interface {
	Apply(ctx context.Context, req ApplyRequest) ([]Candidate, error)
}

// RotamerSetter is optionally implemented by a Primitive so a manual
// rotamer override is reflected in the structure
type RotamerSetter interface {
	SetRotamer(ctx context.Context, id residue.ID, index int) error
}

// Lookup resolves the residue type currently present in the structure
type Lookup interface {
	LookupResidue(ctx context.Context, id residue.ID) (observedType string, found bool, err error)
}

// Event is emitted after every record status change
type Event struct {
	RunID      uuid.UUID       `json:"run_id"`
	Mode       Mode            `json:"mode"`
	Record     mutation.Record `json:"record"`
	Previous   mutation.Status `json:"previous"`
	Candidates int             `json:"candidates,omitempty"`
	Drift      bool            `json:"drift,omitempty"`
	Duration   time.Duration   `json:"duration,omitempty"`
	At         time.Time       `json:"at"`
}

// Sink receives record status changes. Delivery is best effort: errors are
// logged and panics recovered, neither affects the run.
type Sink interface {
	OnRecordStatusChanged(ctx context.Context, ev Event) error
}

// RunObserver is told when a run reaches Completed or Aborted
type RunObserver interface {
	OnRunFinished(ctx context.Context, report Report)
}

// ExportFormat selects what the exporter writes
type ExportFormat string

const (
	ExportPDB     ExportFormat = "pdb"
	ExportSession ExportFormat = "session"
	ExportBoth    ExportFormat = "both"
)

// Valid reports whether f is a known format
func (f ExportFormat) Valid() bool {
	return f == ExportPDB || f == ExportSession || f == ExportBoth
}

// Exporter writes the final structural state and returns the written paths
type Exporter interface {
	ExportStructure(ctx context.Context, format ExportFormat) ([]string, error)
}

// ClashScanner counts severe steric clashes around the given residues
type ClashScanner interface {
	CountClashes(ctx context.Context, residues []residue.ID) (int, error)
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}
