package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
)

// ResidueLookup resolves residue types against the loaded structure
type ResidueLookup interface {
	LookupResidue(ctx context.Context, id residue.ID) (observedType string, found bool, err error)
}

type lookupEntry struct {
	Type  string `json:"type"`
	Found bool   `json:"found"`
}

// LookupCache fronts a ResidueLookup with a TTL cache. It is also an
// engine sink: a residue's entry is dropped as soon as a mutation on it
// finishes, since its observed type has changed.
type LookupCache struct {
	next  ResidueLookup
	cache Cache
	ttl   time.Duration
	ns    string
}

// NewLookupCache wraps next. ns namespaces the keys so several sessions can
// share one cache.
func NewLookupCache(next ResidueLookup, c Cache, ttl time.Duration, ns string) *LookupCache {
	return &LookupCache{next: next, cache: c, ttl: ttl, ns: ns}
}

func (l *LookupCache) key(id residue.ID) string {
	return "residue:" + l.ns + ":" + id.Key()
}

// LookupResidue returns the cached answer or asks the underlying lookup.
// Errors are never cached.
func (l *LookupCache) LookupResidue(ctx context.Context, id residue.ID) (string, bool, error) {
	if raw, ok, err := l.cache.Get(ctx, l.key(id)); err == nil && ok {
		var e lookupEntry
		if json.Unmarshal(raw, &e) == nil {
			return e.Type, e.Found, nil
		}
	}

	observed, found, err := l.next.LookupResidue(ctx, id)
	if err != nil {
		return "", false, err
	}

	if raw, err := json.Marshal(lookupEntry{Type: observed, Found: found}); err == nil {
		_ = l.cache.Set(ctx, l.key(id), raw, l.ttl)
	}
	return observed, found, nil
}

// Invalidate drops the entry for id
func (l *LookupCache) Invalidate(ctx context.Context, id residue.ID) error {
	return l.cache.Delete(ctx, l.key(id))
}

// OnRecordStatusChanged implements engine.Sink
func (l *LookupCache) OnRecordStatusChanged(ctx context.Context, ev engine.Event) error {
	if ev.Record.Status == mutation.StatusInProgress {
		return nil
	}
	return l.Invalidate(ctx, ev.Record.Residue)
}
