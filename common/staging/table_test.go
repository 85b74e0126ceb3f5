package staging

import (
	"math/rand"
	"testing"

	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(chain string, seq int) residue.ID {
	return residue.New(chain, seq, "")
}

func TestAdd_ReplacesInPlace(t *testing.T) {
	tbl := NewTable()

	_, err := tbl.Add(id("B", 5), "GLY", "ALA")
	require.NoError(t, err)
	first, err := tbl.Add(id("A", 123), "TRP", "LEU")
	require.NoError(t, err)

	second, err := tbl.Add(id("A", 123), "ALA", "LEU")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	all := tbl.All()
	require.Len(t, all, 2)
	assert.Equal(t, id("B", 5), all[0].Residue)
	assert.Equal(t, id("A", 123), all[1].Residue, "replacement keeps insertion position")
	assert.Equal(t, "ALA", all[1].TargetType)
	assert.Equal(t, mutation.StatusStaged, all[1].Status)

	counts := tbl.Counts()
	assert.Equal(t, 2, counts[mutation.StatusStaged])
	assert.Zero(t, counts[mutation.StatusApplied])
	assert.Zero(t, counts[mutation.StatusFailed])
}

func TestAdd_InvalidTarget(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Add(id("A", 1), "FOO", "ALA")
	assert.ErrorIs(t, err, mutation.ErrInvalidTarget)
	assert.Zero(t, tbl.Len())
}

func TestDedupInvariant_RandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tbl := NewTable()
	targets := []string{"ALA", "GLY", "TRP"}

	for i := 0; i < 2000; i++ {
		rid := id([]string{"A", "B"}[rng.Intn(2)], rng.Intn(15))
		if rng.Intn(3) == 0 {
			tbl.Remove(rid)
		} else {
			_, err := tbl.Add(rid, targets[rng.Intn(len(targets))], "UNK")
			require.NoError(t, err)
		}

		seen := make(map[residue.ID]bool)
		for _, rec := range tbl.All() {
			require.False(t, seen[rec.Residue], "duplicate residue %s after op %d", rec.Residue, i)
			seen[rec.Residue] = true
		}
		require.Equal(t, len(seen), tbl.Len())
	}
}

func TestRemove_Absent(t *testing.T) {
	tbl := NewTable()
	tbl.Remove(id("A", 1))
	assert.Zero(t, tbl.Len())
}

func TestSetTarget(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.SetTarget(id("A", 1), "GLY")
	assert.ErrorIs(t, err, mutation.ErrNotFound)

	rec, err := tbl.Add(id("A", 1), "TRP", "ALA")
	require.NoError(t, err)

	updated, err := tbl.SetTarget(id("A", 1), "gly")
	require.NoError(t, err)
	assert.Equal(t, "GLY", updated.TargetType)
	assert.Equal(t, rec.ID, updated.ID, "retarget keeps the record generation")

	// once the engine moved it on, retargeting is refused
	require.NoError(t, rec.Start())
	require.NoError(t, rec.Apply(0))
	rec.TargetType = "GLY"
	require.True(t, tbl.Commit(rec))

	_, err = tbl.SetTarget(id("A", 1), "VAL")
	assert.ErrorIs(t, err, mutation.ErrInvalidState)
}

func TestSkip(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Add(id("A", 1), "TRP", "ALA")
	require.NoError(t, err)
	_, err = tbl.Add(id("A", 2), "TRP", "ALA")
	require.NoError(t, err)

	skipped, err := tbl.Skip(id("A", 1))
	require.NoError(t, err)
	assert.Equal(t, mutation.StatusSkipped, skipped.Status)

	_, err = tbl.Skip(id("A", 1))
	assert.ErrorIs(t, err, mutation.ErrInvalidState)

	staged := tbl.Staged(OrderInsertion)
	require.Len(t, staged, 1)
	assert.Equal(t, id("A", 2), staged[0].Residue)
}

func TestOrders(t *testing.T) {
	tbl := NewTable()
	for _, rid := range []residue.ID{id("B", 2), id("A", 10), id("A", 2)} {
		_, err := tbl.Add(rid, "ALA", "GLY")
		require.NoError(t, err)
	}

	residues := func(recs []mutation.Record) []residue.ID {
		out := make([]residue.ID, len(recs))
		for i, r := range recs {
			out[i] = r.Residue
		}
		return out
	}

	assert.Equal(t, []residue.ID{id("B", 2), id("A", 10), id("A", 2)}, residues(tbl.All()))
	assert.Equal(t, []residue.ID{id("A", 2), id("A", 10), id("B", 2)}, residues(tbl.Sorted()))
	assert.Equal(t, []residue.ID{id("A", 2), id("A", 10), id("B", 2)}, residues(tbl.Staged(OrderResidue)))
}

func TestCheckout_ReservesUntilCommitOrRelease(t *testing.T) {
	tbl := NewTable()
	for seq := 1; seq <= 3; seq++ {
		_, err := tbl.Add(id("A", seq), "TRP", "ALA")
		require.NoError(t, err)
	}
	_, err := tbl.Skip(id("A", 3))
	require.NoError(t, err)

	out := tbl.Checkout(OrderResidue)
	require.Len(t, out, 2)

	_, err = tbl.SetTarget(id("A", 1), "VAL")
	assert.ErrorIs(t, err, mutation.ErrInvalidState)
	_, err = tbl.Skip(id("A", 2))
	assert.ErrorIs(t, err, mutation.ErrInvalidState)

	// an InProgress write-back keeps the reservation, a final status ends it
	first := out[0]
	require.NoError(t, first.Start())
	require.True(t, tbl.Commit(first))
	_, err = tbl.SetTarget(id("A", 1), "VAL")
	assert.ErrorIs(t, err, mutation.ErrInvalidState)
	require.NoError(t, first.Apply(2))
	require.True(t, tbl.Commit(first))

	_, err = tbl.Add(id("A", 1), "GLY", "TRP")
	require.NoError(t, err)
	_, err = tbl.SetTarget(id("A", 1), "VAL")
	assert.NoError(t, err, "re-staged residue is a new generation")

	tbl.Release(out[1].ID)
	_, err = tbl.Skip(id("A", 2))
	assert.NoError(t, err)
}

func TestCommit_Generation(t *testing.T) {
	tbl := NewTable()
	rec, err := tbl.Add(id("A", 1), "TRP", "ALA")
	require.NoError(t, err)

	snap := tbl.Staged(OrderInsertion)[0]
	require.NoError(t, snap.Start())

	// re-staged while the run holds the old copy
	_, err = tbl.Add(id("A", 1), "GLY", "ALA")
	require.NoError(t, err)
	assert.False(t, tbl.Commit(snap), "stale generation must not overwrite")

	got, ok := tbl.Get(id("A", 1))
	require.True(t, ok)
	assert.Equal(t, "GLY", got.TargetType)
	assert.Equal(t, mutation.StatusStaged, got.Status)

	tbl.Remove(id("A", 1))
	assert.False(t, tbl.Commit(rec))
	assert.Zero(t, tbl.Len())
}

func TestSnapshotIsolation(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Add(id("A", 1), "TRP", "ALA")
	require.NoError(t, err)

	snap := tbl.Staged(OrderInsertion)
	snap[0].TargetType = "GLY"

	got, _ := tbl.Get(id("A", 1))
	assert.Equal(t, "TRP", got.TargetType)
}

func TestMergeAndClear(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Add(id("A", 1), "TRP", "ALA")
	require.NoError(t, err)

	imported, err := mutation.New(id("A", 1), "GLY", "ALA")
	require.NoError(t, err)
	extra, err := mutation.New(id("C", 9), "VAL", "ILE")
	require.NoError(t, err)

	tbl.Merge([]mutation.Record{imported, extra})
	require.Equal(t, 2, tbl.Len())

	got, _ := tbl.Get(id("A", 1))
	assert.Equal(t, "GLY", got.TargetType, "an import re-targets an already-staged residue")

	tbl.Clear()
	assert.Zero(t, tbl.Len())
	assert.Empty(t, tbl.All())
}
