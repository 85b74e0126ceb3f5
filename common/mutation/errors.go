package mutation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTarget is returned for an unrecognised amino acid code
	ErrInvalidTarget = errors.New("invalid target residue type")

	// ErrInvalidState is returned when an operation is illegal for the
	// record's (or run's) current status
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidRotamerIndex is returned for a manual override that does not
	// reference a candidate of the just-applied record
	ErrInvalidRotamerIndex = errors.New("invalid rotamer index")

	// ErrMutationPrimitive matches every *PrimitiveError via errors.Is
	ErrMutationPrimitive = errors.New("mutation primitive failed")

	// ErrNotFound is returned for an unknown residue or run
	ErrNotFound = errors.New("not found")
)

// PrimitiveError is the failure of the external single-residue mutation
// primitive. The reason is opaque to the engine.
type PrimitiveError struct {
	Reason string
	Err    error
}

// NewPrimitiveError builds a PrimitiveError from a reason string
func NewPrimitiveError(format string, args ...any) *PrimitiveError {
	return &PrimitiveError{Reason: fmt.Sprintf(format, args...)}
}

func (e *PrimitiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mutation primitive: %s: %v", e.Reason, e.Err)
	}
	return "mutation primitive: " + e.Reason
}

// Unwrap exposes the underlying transport error, if any
func (e *PrimitiveError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrMutationPrimitive) hold for every PrimitiveError
func (e *PrimitiveError) Is(target error) bool {
	return target == ErrMutationPrimitive
}
