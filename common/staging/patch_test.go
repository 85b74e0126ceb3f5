package staging

import (
	"testing"

	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stagedTable(t *testing.T) *Table {
	t.Helper()
	tbl := NewTable()
	_, err := tbl.Add(id("A", 123), "TRP", "LEU")
	require.NoError(t, err)
	_, err = tbl.Add(id("B", 5), "GLY", "SER")
	require.NoError(t, err)
	return tbl
}

func TestTargets(t *testing.T) {
	tbl := stagedTable(t)
	assert.Equal(t, map[string]string{"A 123": "TRP", "B 5": "GLY"}, tbl.Targets())
}

func TestApplyTargetPatch(t *testing.T) {
	tbl := stagedTable(t)

	changed, err := tbl.ApplyTargetPatch([]byte(`[
		{"op": "replace", "path": "/A 123", "value": "ala"},
		{"op": "remove", "path": "/B 5"},
		{"op": "add", "path": "/C 7", "value": "VAL"}
	]`))
	require.NoError(t, err)
	require.Len(t, changed, 2)
	assert.Equal(t, id("A", 123), changed[0].Residue)
	assert.Equal(t, id("C", 7), changed[1].Residue)

	assert.Equal(t, map[string]string{"A 123": "ALA", "C 7": "VAL"}, tbl.Targets())

	added, ok := tbl.Get(id("C", 7))
	require.True(t, ok)
	assert.Equal(t, residue.Unknown, added.SourceType)
}

func TestApplyTargetPatch_AllOrNothing(t *testing.T) {
	tbl := stagedTable(t)

	_, err := tbl.ApplyTargetPatch([]byte(`[
		{"op": "replace", "path": "/A 123", "value": "ALA"},
		{"op": "replace", "path": "/B 5", "value": "NOPE"}
	]`))
	assert.ErrorIs(t, err, mutation.ErrInvalidTarget)
	assert.Equal(t, map[string]string{"A 123": "TRP", "B 5": "GLY"}, tbl.Targets())

	_, err = tbl.ApplyTargetPatch([]byte(`[{"op": "add", "path": "/not-a-residue", "value": "ALA"}]`))
	assert.ErrorIs(t, err, residue.ErrMalformed)

	_, err = tbl.ApplyTargetPatch([]byte(`{"op": "bogus"}`))
	assert.Error(t, err)
}
