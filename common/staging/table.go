package staging

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
)

// Order selects the iteration order of a snapshot
type Order string

const (
	// OrderInsertion iterates in the order residues were first staged
	OrderInsertion Order = "insertion"
	// OrderResidue iterates by chain, sequence number, insertion code
	OrderResidue Order = "residue"
)

// SelectedResidue is one residue picked in the viewer
type SelectedResidue struct {
	Residue      residue.ID `json:"residue"`
	ObservedType string     `json:"observed_type"`
}

// SelectionSource exposes the viewer's current selection
type SelectionSource interface {
	CurrentSelection(ctx context.Context) ([]SelectedResidue, error)
}

// Table is the ordered, deduplicated set of mutation records.
//
// Records never leave the table by reference: every accessor returns copies,
// and run results come back through Commit. Records checked out by a run
// cannot be retargeted or skipped until the run commits a final status or
// releases them.
type Table struct {
	mu       sync.RWMutex
	order    []residue.ID
	records  map[residue.ID]*mutation.Record
	reserved map[uuid.UUID]struct{}
}

// NewTable creates an empty staging table
func NewTable() *Table {
	return &Table{
		records:  make(map[residue.ID]*mutation.Record),
		reserved: make(map[uuid.UUID]struct{}),
	}
}

// Add inserts a Staged record for id, replacing any existing one.
// A replaced residue keeps its insertion position.
func (t *Table) Add(id residue.ID, target, source string) (mutation.Record, error) {
	rec, err := mutation.New(id, target, source)
	if err != nil {
		return mutation.Record{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.put(rec)
	return rec.Clone(), nil
}

// Merge inserts imported records, replacing existing residues
func (t *Table) Merge(records []mutation.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rec := range records {
		t.put(rec.Clone())
	}
}

// put must be called with mu held
func (t *Table) put(rec mutation.Record) {
	if old, exists := t.records[rec.Residue]; exists {
		delete(t.reserved, old.ID)
	} else {
		t.order = append(t.order, rec.Residue)
	}
	t.records[rec.Residue] = &rec
}

// Remove deletes the record for id; no-op if absent
func (t *Table) Remove(id residue.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.remove(id)
}

func (t *Table) remove(id residue.ID) {
	rec, exists := t.records[id]
	if !exists {
		return
	}
	delete(t.reserved, rec.ID)
	delete(t.records, id)
	t.order = slices.DeleteFunc(t.order, func(o residue.ID) bool { return o == id })
}

// SetTarget retargets a Staged record
func (t *Table) SetTarget(id residue.ID, target string) (mutation.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[id]
	if !exists {
		return mutation.Record{}, fmt.Errorf("%w: %s", mutation.ErrNotFound, id)
	}
	if err := t.checkFree(rec); err != nil {
		return mutation.Record{}, err
	}
	if err := rec.SetTarget(target); err != nil {
		return mutation.Record{}, err
	}
	return rec.Clone(), nil
}

// Skip excludes a Staged record from future runs
func (t *Table) Skip(id residue.ID) (mutation.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[id]
	if !exists {
		return mutation.Record{}, fmt.Errorf("%w: %s", mutation.ErrNotFound, id)
	}
	if rec.Status != mutation.StatusStaged {
		return mutation.Record{}, fmt.Errorf("%w: %s is %s", mutation.ErrInvalidState, id, rec.Status)
	}
	if err := t.checkFree(rec); err != nil {
		return mutation.Record{}, err
	}
	if err := rec.Skip(); err != nil {
		return mutation.Record{}, err
	}
	return rec.Clone(), nil
}

// checkFree must be called with mu held
func (t *Table) checkFree(rec *mutation.Record) error {
	if _, held := t.reserved[rec.ID]; held {
		return fmt.Errorf("%w: %s is part of a running run", mutation.ErrInvalidState, rec.Residue)
	}
	return nil
}

// Get returns the record for id
func (t *Table) Get(id residue.ID) (mutation.Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, exists := t.records[id]
	if !exists {
		return mutation.Record{}, false
	}
	return rec.Clone(), true
}

// Len returns the number of records
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// All returns every record in insertion order
func (t *Table) All() []mutation.Record {
	return t.list(OrderInsertion, nil)
}

// Sorted returns every record in residue order
func (t *Table) Sorted() []mutation.Record {
	return t.list(OrderResidue, nil)
}

// Staged returns a snapshot of the Staged records in the given order
func (t *Table) Staged(order Order) []mutation.Record {
	return t.list(order, func(r *mutation.Record) bool {
		return r.Status == mutation.StatusStaged
	})
}

// Checkout snapshots the Staged records like Staged and reserves them for a
// run in the same critical section
func (t *Table) Checkout(order Order) []mutation.Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.listLocked(order, func(r *mutation.Record) bool {
		return r.Status == mutation.StatusStaged
	})
	for _, rec := range out {
		t.reserved[rec.ID] = struct{}{}
	}
	return out
}

// Release hands records a run did not finish back to the user
func (t *Table) Release(ids ...uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		delete(t.reserved, id)
	}
}

func (t *Table) list(order Order, keep func(*mutation.Record) bool) []mutation.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.listLocked(order, keep)
}

func (t *Table) listLocked(order Order, keep func(*mutation.Record) bool) []mutation.Record {
	ids := slices.Clone(t.order)
	if order == OrderResidue {
		residue.Sort(ids)
	}

	out := make([]mutation.Record, 0, len(ids))
	for _, id := range ids {
		rec := t.records[id]
		if keep != nil && !keep(rec) {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out
}

// Commit writes a run result back into the table. It only succeeds if the
// table still holds the same record generation; a residue that was removed
// or re-staged since the snapshot is left alone. A terminal status ends the
// record's reservation.
func (t *Table) Commit(rec mutation.Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.Status.IsTerminal() {
		delete(t.reserved, rec.ID)
	}
	current, exists := t.records[rec.Residue]
	if !exists || current.ID != rec.ID {
		return false
	}
	clone := rec.Clone()
	t.records[rec.Residue] = &clone
	return true
}

// Clear empties the table. Structural edits already applied are unaffected.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.order = nil
	t.records = make(map[residue.ID]*mutation.Record)
	t.reserved = make(map[uuid.UUID]struct{})
}

// Counts returns the number of records per status
func (t *Table) Counts() map[mutation.Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[mutation.Status]int)
	for _, rec := range t.records {
		counts[rec.Status]++
	}
	return counts
}
