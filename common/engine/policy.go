package engine

import (
	"errors"
	"fmt"

	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/lyzr/mutwizard/common/staging"
)

var (
	// ErrRunActive is returned when a run is already Running
	ErrRunActive = errors.New("a run is already in progress")

	// ErrNoRun is returned when no run has been started
	ErrNoRun = errors.New("no run")

	// ErrClashesDetected refuses an export with severe clashes unless forced
	ErrClashesDetected = errors.New("severe steric clashes detected")
)

// Mode is the driving logic of a run
type Mode string

const (
	ModeBatch      Mode = "batch"
	ModeIndividual Mode = "individual"
	ModeStep       Mode = "step"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModeBatch || m == ModeIndividual || m == ModeStep
}

// RunState is the run-level state
type RunState string

const (
	StateIdle      RunState = "IDLE"
	StateRunning   RunState = "RUNNING"
	StateCompleted RunState = "COMPLETED"
	StateAborted   RunState = "ABORTED"
)

// FailurePolicy decides what a Failed record does to the run
type FailurePolicy string

const (
	// StopRun ends the run Aborted on the first failure
	StopRun FailurePolicy = "stop_run"
	// SkipAndContinue moves on to the next record
	SkipAndContinue FailurePolicy = "skip_and_continue"
)

// Valid reports whether p is a known policy
func (p FailurePolicy) Valid() bool {
	return p == StopRun || p == SkipAndContinue
}

// RefinementMethod selects post-mutation refinement
type RefinementMethod string

const (
	RefineDefault RefinementMethod = "default"
	RefineSculpt  RefinementMethod = "sculpt"
)

const (
	MinSculptCycles     = 1
	MaxSculptCycles     = 1000
	DefaultSculptCycles = 10
)

// Refinement is forwarded to the primitive with every call
type Refinement struct {
	Method RefinementMethod `json:"method" yaml:"method"`
	Cycles int              `json:"cycles,omitempty" yaml:"cycles"`
}

func (r Refinement) normalize() (Refinement, error) {
	switch r.Method {
	case "", RefineDefault:
		return Refinement{Method: RefineDefault}, nil
	case RefineSculpt:
		if r.Cycles == 0 {
			r.Cycles = DefaultSculptCycles
		}
		if r.Cycles < MinSculptCycles || r.Cycles > MaxSculptCycles {
			return r, fmt.Errorf("sculpt cycles must be in [%d, %d], got %d", MinSculptCycles, MaxSculptCycles, r.Cycles)
		}
		return r, nil
	default:
		return r, fmt.Errorf("unknown refinement method %q", r.Method)
	}
}

// Defaults are the deployment-wide policy defaults
type Defaults struct {
	BatchOnFailure      FailurePolicy `json:"batch_on_failure" yaml:"batch_on_failure"`
	IndividualOnFailure FailurePolicy `json:"individual_on_failure" yaml:"individual_on_failure"`
	StepOnFailure       FailurePolicy `json:"step_on_failure" yaml:"step_on_failure"`
	Refinement          Refinement    `json:"refinement" yaml:"refinement"`
}

// DefaultPolicy returns the built-in defaults: stop on the first failure in
// Step mode, continue past failures otherwise
func DefaultPolicy() Defaults {
	return Defaults{
		BatchOnFailure:      SkipAndContinue,
		IndividualOnFailure: SkipAndContinue,
		StepOnFailure:       StopRun,
		Refinement:          Refinement{Method: RefineDefault},
	}
}

func (d Defaults) onFailure(mode Mode) FailurePolicy {
	var p FailurePolicy
	switch mode {
	case ModeBatch:
		p = d.BatchOnFailure
	case ModeIndividual:
		p = d.IndividualOnFailure
	case ModeStep:
		p = d.StepOnFailure
	}
	if p == "" {
		return DefaultPolicy().onFailure(mode)
	}
	return p
}

// Options configure one run
type Options struct {
	Mode      Mode          `json:"mode"`
	OnFailure FailurePolicy `json:"on_failure,omitempty"`
	Order     staging.Order `json:"order,omitempty"`

	// FromImport marks a run seeded by a CSV import: file order is kept
	// unless Order says otherwise
	FromImport bool `json:"from_import,omitempty"`

	// SharedTarget retargets every snapshot record (Batch only)
	SharedTarget string `json:"shared_target,omitempty"`

	Refinement Refinement `json:"refinement"`
}

// resolve fills unset fields from defaults and validates the result
func (o Options) resolve(d Defaults) (Options, error) {
	if !o.Mode.Valid() {
		return o, fmt.Errorf("unknown mode %q", o.Mode)
	}

	if o.OnFailure == "" {
		o.OnFailure = d.onFailure(o.Mode)
	}
	if !o.OnFailure.Valid() {
		return o, fmt.Errorf("unknown failure policy %q", o.OnFailure)
	}

	switch o.Order {
	case "":
		o.Order = staging.OrderResidue
		if o.FromImport {
			o.Order = staging.OrderInsertion
		}
	case staging.OrderResidue, staging.OrderInsertion:
	default:
		return o, fmt.Errorf("unknown order %q", o.Order)
	}

	if o.SharedTarget != "" {
		if o.Mode != ModeBatch {
			return o, fmt.Errorf("%w: shared target is only valid in batch mode", mutation.ErrInvalidState)
		}
		o.SharedTarget = residue.Normalize(o.SharedTarget)
		if !residue.IsRecognized(o.SharedTarget) {
			return o, fmt.Errorf("%w: %q", mutation.ErrInvalidTarget, o.SharedTarget)
		}
	}

	if o.Refinement.Method == "" {
		o.Refinement = d.Refinement
	}
	ref, err := o.Refinement.normalize()
	if err != nil {
		return o, err
	}
	o.Refinement = ref

	return o, nil
}
