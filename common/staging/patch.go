package staging

import (
	"encoding/json"
	"fmt"
	"slices"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
)

// Targets returns the Staged targets keyed by canonical residue text,
// e.g. {"A 123": "TRP"}
func (t *Table) Targets() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.targets()
}

func (t *Table) targets() map[string]string {
	doc := make(map[string]string)
	for id, rec := range t.records {
		if rec.Status == mutation.StatusStaged {
			doc[id.String()] = rec.TargetType
		}
	}
	return doc
}

// ApplyTargetPatch applies an RFC 6902 JSON Patch to the Targets document.
// Changed values retarget, new keys stage a residue of unknown source type,
// removed keys unstage. Either every change applies or none does.
func (t *Table) ApplyTargetPatch(patchJSON []byte) ([]mutation.Record, error) {
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode patch: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	before := t.targets()
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal targets: %w", err)
	}

	afterJSON, err := patch.Apply(beforeJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to apply patch operations: %w", err)
	}

	var after map[string]string
	if err := json.Unmarshal(afterJSON, &after); err != nil {
		return nil, fmt.Errorf("patched document is not a target map: %w", err)
	}

	// 1. Validate everything before touching the table
	type change struct {
		id     residue.ID
		target string
	}
	var upserts []change
	for key, target := range after {
		id, err := residue.Parse(key)
		if err != nil {
			return nil, err
		}
		target = residue.Normalize(target)
		if !residue.IsRecognized(target) {
			return nil, fmt.Errorf("%w: %q for %s", mutation.ErrInvalidTarget, target, key)
		}
		if before[key] != target {
			if rec, exists := t.records[id]; exists && rec.Status == mutation.StatusStaged {
				if err := t.checkFree(rec); err != nil {
					return nil, err
				}
			}
			upserts = append(upserts, change{id: id, target: target})
		}
	}

	slices.SortFunc(upserts, func(a, b change) int { return residue.Compare(a.id, b.id) })

	var removals []residue.ID
	for key := range before {
		if _, kept := after[key]; !kept {
			id, err := residue.Parse(key)
			if err != nil {
				return nil, err
			}
			removals = append(removals, id)
		}
	}

	// 2. Apply
	changed := make([]mutation.Record, 0, len(upserts))
	for _, c := range upserts {
		if rec, exists := t.records[c.id]; exists && rec.Status == mutation.StatusStaged {
			if err := rec.SetTarget(c.target); err != nil {
				return nil, err
			}
			changed = append(changed, rec.Clone())
			continue
		}
		rec, err := mutation.New(c.id, c.target, residue.Unknown)
		if err != nil {
			return nil, err
		}
		t.put(rec)
		changed = append(changed, rec.Clone())
	}
	for _, id := range removals {
		t.remove(id)
	}

	return changed, nil
}
