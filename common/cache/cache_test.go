package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) *MemoryCache {
	c := NewMemoryCache(logger.New("error", "text"))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, 1, c.Stats()["entries"])

	require.NoError(t, c.Set(ctx, "gone", []byte("v"), -time.Second))
	_, ok, _ = c.Get(ctx, "gone")
	assert.False(t, ok, "expired entries are not returned")

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
}

type countingLookup struct {
	calls int
	types map[residue.ID]string
	err   error
}

func (l *countingLookup) LookupResidue(ctx context.Context, id residue.ID) (string, bool, error) {
	l.calls++
	if l.err != nil {
		return "", false, l.err
	}
	t, ok := l.types[id]
	return t, ok, nil
}

func TestLookupCache(t *testing.T) {
	ctx := context.Background()
	a1 := residue.New("A", 1, "")
	a2 := residue.New("A", 2, "")
	next := &countingLookup{types: map[residue.ID]string{a1: "LEU"}}
	lc := NewLookupCache(next, newCache(t), time.Minute, "u1")

	for i := 0; i < 3; i++ {
		typ, found, err := lc.LookupResidue(ctx, a1)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "LEU", typ)
	}
	assert.Equal(t, 1, next.calls)

	// negative answers are cached too
	_, found, err := lc.LookupResidue(ctx, a2)
	require.NoError(t, err)
	assert.False(t, found)
	_, _, _ = lc.LookupResidue(ctx, a2)
	assert.Equal(t, 2, next.calls)

	// a finished mutation invalidates the residue
	next.types[a1] = "TRP"
	require.NoError(t, lc.OnRecordStatusChanged(ctx, engine.Event{
		Record: mutation.Record{Residue: a1, Status: mutation.StatusApplied},
	}))
	typ, _, _ := lc.LookupResidue(ctx, a1)
	assert.Equal(t, "TRP", typ)
	assert.Equal(t, 3, next.calls)
}

func TestLookupCache_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	a1 := residue.New("A", 1, "")
	next := &countingLookup{err: errors.New("bridge down")}
	lc := NewLookupCache(next, newCache(t), time.Minute, "u1")

	_, _, err := lc.LookupResidue(ctx, a1)
	assert.Error(t, err)

	next.err = nil
	next.types = map[residue.ID]string{a1: "GLY"}
	typ, found, err := lc.LookupResidue(ctx, a1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "GLY", typ)
}
