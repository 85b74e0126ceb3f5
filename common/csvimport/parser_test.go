package csvimport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapLookup resolves residues from a fixed structure
type mapLookup struct {
	types map[residue.ID]string
	err   error
	calls int
}

func (m *mapLookup) LookupResidue(ctx context.Context, id residue.ID) (string, bool, error) {
	m.calls++
	if m.err != nil {
		return "", false, m.err
	}
	t, ok := m.types[id]
	return t, ok, nil
}

func parse(t *testing.T, input string, lookup Lookup) *Result {
	t.Helper()
	res, err := Parse(context.Background(), strings.NewReader(input), lookup)
	require.NoError(t, err)
	return res
}

func TestParse_DuplicateFirstWins(t *testing.T) {
	res := parse(t, "A 123,TRP\nA 123,ALA", nil)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "TRP", res.Records[0].TargetType)
	assert.Equal(t, residue.New("A", 123, ""), res.Records[0].Residue)
	assert.Equal(t, mutation.StatusStaged, res.Records[0].Status)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Line)
	assert.Equal(t, "A 123,ALA", res.Errors[0].Raw)
	assert.Contains(t, res.Errors[0].Reason, "line 1")
	assert.False(t, res.OK())
}

func TestParse_BadLineDoesNotAbort(t *testing.T) {
	res := parse(t, "A 123,TRP\nX\nB 5,GLY", nil)

	require.Len(t, res.Records, 2)
	assert.Equal(t, residue.New("A", 123, ""), res.Records[0].Residue)
	assert.Equal(t, residue.New("B", 5, ""), res.Records[1].Residue)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Line)
	assert.Equal(t, "X", res.Errors[0].Raw)
	assert.Equal(t, 3, res.Lines)
}

func TestParse_LineErrors(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		reason string
	}{
		{"three columns", "A 1,TRP,GLY", "2 comma-separated columns"},
		{"no space", "A1,TRP", "malformed residue"},
		{"two spaces", "A  1,TRP", "malformed residue"},
		{"bad number", "A x,TRP", "malformed residue"},
		{"unknown code", "A 1,XYZ", "unrecognized amino acid"},
		{"empty target", "A 1,", "unrecognized amino acid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parse(t, tt.line, nil)
			assert.Empty(t, res.Records)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, 1, res.Errors[0].Line)
			assert.Contains(t, res.Errors[0].Reason, tt.reason)
		})
	}
}

func TestParse_Tolerances(t *testing.T) {
	input := "\ufeffA 52B , trp\r\n\r\n  \nB -3,MSE\r\n"
	res := parse(t, input, nil)

	require.Empty(t, res.Errors)
	require.Len(t, res.Records, 2)
	assert.Equal(t, residue.New("A", 52, "B"), res.Records[0].Residue)
	assert.Equal(t, "TRP", res.Records[0].TargetType)
	assert.Equal(t, residue.Unknown, res.Records[0].SourceType)
	assert.Equal(t, residue.New("B", -3, ""), res.Records[1].Residue)
	assert.Equal(t, "MSE", res.Records[1].TargetType)
	assert.Equal(t, 4, res.Lines)
}

func TestParse_BlankLinesKeepNumbering(t *testing.T) {
	res := parse(t, "A 1,TRP\n\nA 1,GLY", nil)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Line)
}

func TestParse_Lookup(t *testing.T) {
	lookup := &mapLookup{types: map[residue.ID]string{
		residue.New("A", 123, ""): "LEU",
	}}

	res := parse(t, "A 123,TRP\nZ 9,GLY", lookup)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "LEU", res.Records[0].SourceType)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Line)
	assert.Contains(t, res.Errors[0].Reason, "not found")
}

func TestParse_LookupError(t *testing.T) {
	lookup := &mapLookup{err: errors.New("structure unavailable")}

	res := parse(t, "A 1,TRP\nA 2,GLY", lookup)

	assert.Empty(t, res.Records)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0].Reason, "structure unavailable")
	assert.Equal(t, 2, lookup.calls)
}

func TestParse_DuplicateSkipsLookup(t *testing.T) {
	lookup := &mapLookup{types: map[residue.ID]string{
		residue.New("A", 1, ""): "ALA",
	}}

	res := parse(t, "A 1,TRP\nA 1,GLY", lookup)
	require.Len(t, res.Records, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, lookup.calls)
}

func TestParse_FailedLineDoesNotClaimResidue(t *testing.T) {
	res := parse(t, "A 1,XYZ\nA 1,GLY", nil)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "GLY", res.Records[0].TargetType)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Line)
}

func TestParse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Parse(ctx, strings.NewReader("A 1,TRP"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mutations.csv")
	require.NoError(t, os.WriteFile(path, []byte("A 1,TRP\nB 2,GLY\n"), 0o600))

	res, err := ParseFile(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.True(t, res.OK())

	_, err = ParseFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.Error(t, err)
}
