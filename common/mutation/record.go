package mutation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/mutwizard/common/residue"
)

// Status represents where a record is in its lifecycle
type Status string

const (
	StatusStaged     Status = "STAGED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusApplied    Status = "APPLIED"
	StatusFailed     Status = "FAILED"
	StatusSkipped    Status = "SKIPPED"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusApplied || s == StatusFailed || s == StatusSkipped
}

// Record is one staged or applied point mutation.
//
// Records are plain values: the staging table and the engine each hold their
// own copies, and ID identifies the generation so a run result can be written
// back only to the record it was taken from.
type Record struct {
	ID      uuid.UUID  `json:"id"`
	Residue residue.ID `json:"residue"`

	// SourceType is the residue type observed at staging time (advisory)
	SourceType string `json:"source_type"`
	TargetType string `json:"target_type"`

	Status Status `json:"status"`

	// SelectedRotamer is set iff Status == StatusApplied
	SelectedRotamer *int `json:"selected_rotamer,omitempty"`

	// ErrorReason is set iff Status == StatusFailed
	ErrorReason string `json:"error_reason,omitempty"`

	StagedAt  time.Time `json:"staged_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a Staged record, validating the target code
func New(id residue.ID, target, source string) (Record, error) {
	target = residue.Normalize(target)
	if !residue.IsRecognized(target) {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}

	source = residue.Normalize(source)
	if source == "" {
		source = residue.Unknown
	}

	now := time.Now()
	return Record{
		ID:         uuid.New(),
		Residue:    id,
		SourceType: source,
		TargetType: target,
		Status:     StatusStaged,
		StagedAt:   now,
		UpdatedAt:  now,
	}, nil
}

// SetTarget changes the requested target; only legal while Staged
func (r *Record) SetTarget(target string) error {
	if r.Status != StatusStaged {
		return fmt.Errorf("%w: cannot retarget %s while %s", ErrInvalidState, r.Residue, r.Status)
	}
	target = residue.Normalize(target)
	if !residue.IsRecognized(target) {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	r.TargetType = target
	r.touch()
	return nil
}

// Start moves Staged -> InProgress
func (r *Record) Start() error {
	return r.transition(StatusStaged, StatusInProgress)
}

// Apply moves InProgress -> Applied with the chosen rotamer
func (r *Record) Apply(rotamer int) error {
	if err := r.transition(StatusInProgress, StatusApplied); err != nil {
		return err
	}
	r.SelectedRotamer = &rotamer
	return nil
}

// Fail moves InProgress -> Failed with a reason
func (r *Record) Fail(reason string) error {
	if err := r.transition(StatusInProgress, StatusFailed); err != nil {
		return err
	}
	r.ErrorReason = reason
	return nil
}

// Skip moves Staged or InProgress -> Skipped
func (r *Record) Skip() error {
	if r.Status != StatusStaged && r.Status != StatusInProgress {
		return fmt.Errorf("%w: cannot skip %s while %s", ErrInvalidState, r.Residue, r.Status)
	}
	r.Status = StatusSkipped
	r.touch()
	return nil
}

// Reselect replaces the rotamer of an Applied record
func (r *Record) Reselect(rotamer int) error {
	if r.Status != StatusApplied {
		return fmt.Errorf("%w: %s is %s, not applied", ErrInvalidState, r.Residue, r.Status)
	}
	r.SelectedRotamer = &rotamer
	r.touch()
	return nil
}

func (r *Record) transition(from, to Status) error {
	if r.Status != from {
		return fmt.Errorf("%w: %s: %s -> %s not allowed", ErrInvalidState, r.Residue, r.Status, to)
	}
	r.Status = to
	r.touch()
	return nil
}

func (r *Record) touch() {
	r.UpdatedAt = time.Now()
}

// Clone returns a copy that shares no pointers with r
func (r Record) Clone() Record {
	if r.SelectedRotamer != nil {
		v := *r.SelectedRotamer
		r.SelectedRotamer = &v
	}
	return r
}
