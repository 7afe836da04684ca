// Package provenance implements WARP's provenance index: a multimap
// from entity-id to the sorted set of patch-hashes that read or wrote
// it, and the backward causal cone traversal it supports (spec.md
// §4.5). It is built fresh during full materialization, cloned from a
// loaded checkpoint when one exists, and updated incrementally as
// patches commit, following the common build/clone/incremental-update
// index lifecycle, generalized here from vector ids to graph entity
// ids.
package provenance

import (
	"fmt"
	"sort"
	"sync"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/patch"
)

// Index maps an entity-id (node-id or edge-key) to the sorted,
// deduplicated set of patch-hashes whose reads or writes declaration
// named it. A nil Reads or Writes on a patch means "unknown" (spec.md
// §4.1) and that patch is skipped entirely — an index that can't prove
// completeness for a patch must not pretend to.
type Index struct {
	mu      sync.RWMutex
	entries map[string][]codec.Hash
}

// NewIndex returns an empty provenance index.
func NewIndex() *Index {
	return &Index{entries: make(map[string][]codec.Hash)}
}

// Record appends patchHash to every entity in reads ∪ writes. Called
// once per patch, in causal order, during full materialization or
// eager incremental commit. If either reads or writes is nil the patch
// declares incomplete I/O and is not recorded for any entity — callers
// degrade (spec.md ErrProvenanceDegraded) rather than index partially.
func (idx *Index) Record(patchHash codec.Hash, reads, writes []string) {
	if reads == nil || writes == nil {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	seen := make(map[string]struct{}, len(reads)+len(writes))
	for _, e := range reads {
		seen[e] = struct{}{}
	}
	for _, e := range writes {
		seen[e] = struct{}{}
	}
	for e := range seen {
		idx.append(e, patchHash)
	}
}

// append inserts patchHash into entity's list, keeping it sorted and
// deduplicated. Callers hold idx.mu.
func (idx *Index) append(entity string, patchHash codec.Hash) {
	list := idx.entries[entity]
	i := sort.Search(len(list), func(i int) bool { return list[i] >= patchHash })
	if i < len(list) && list[i] == patchHash {
		return
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = patchHash
	idx.entries[entity] = list
}

// PatchesFor returns the sorted patch-hashes recorded against entity.
func (idx *Index) PatchesFor(entity string) []codec.Hash {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	list := idx.entries[entity]
	out := make([]codec.Hash, len(list))
	copy(out, list)
	return out
}

// Clone returns an independent deep copy, used when resuming
// materialization from a loaded checkpoint's provenance.cbor.
func (idx *Index) Clone() *Index {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := NewIndex()
	for e, list := range idx.entries {
		cp := make([]codec.Hash, len(list))
		copy(cp, list)
		out.entries[e] = cp
	}
	return out
}

// Canonical renders the index as the sorted-key value tree pkg/codec
// hashes and pkg/checkpoint stores as provenance.cbor.
func (idx *Index) Canonical() map[string]any {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]any, len(idx.entries))
	for e, list := range idx.entries {
		hashes := make([]any, len(list))
		for i, h := range list {
			hashes[i] = string(h)
		}
		out[e] = hashes
	}
	return out
}

// FromCanonical decodes the value tree Canonical produces back into an Index.
func FromCanonical(v any) (*Index, error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return nil, fmt.Errorf("provenance: %w", err)
	}
	idx := NewIndex()
	for entity, listV := range m {
		list, err := codec.AsList(listV)
		if err != nil {
			return nil, fmt.Errorf("provenance[%q]: %w", entity, err)
		}
		hashes := make([]codec.Hash, 0, len(list))
		for _, item := range list {
			s, err := codec.AsString(item)
			if err != nil {
				return nil, fmt.Errorf("provenance[%q]: %w", entity, err)
			}
			hashes = append(hashes, codec.Hash(s))
		}
		sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
		idx.entries[entity] = hashes
	}
	return idx, nil
}

// Loader resolves a patch-hash to its decoded Patch, with caching left
// to the caller (spec.md §4.5 step 2: "cache patches by hash to avoid
// double I/O").
type Loader func(hash codec.Hash) (*patch.Patch, error)

// Slice computes the backward causal cone of entity seed: every patch
// that (transitively, through reads) contributed to seed's current
// value, sorted causally and ready to fold through the reducer from
// empty state (spec.md §4.5). The returned patches are deduplicated by
// hash and causally ordered; folding them reproduces exactly the state
// visible at seed and its dependencies, and may omit patches irrelevant
// to seed that a full materialization would still carry.
func Slice(idx *Index, load Loader, seed string) ([]*patch.Patch, error) {
	visitedEntities := map[string]struct{}{seed: {}}
	queue := []string{seed}
	patchesByHash := make(map[codec.Hash]*patch.Patch)

	for len(queue) > 0 {
		entity := queue[0]
		queue = queue[1:]

		for _, h := range idx.PatchesFor(entity) {
			p, ok := patchesByHash[h]
			if !ok {
				loaded, err := load(h)
				if err != nil {
					return nil, fmt.Errorf("provenance: load patch %s: %w", h, err)
				}
				patchesByHash[h] = loaded
				p = loaded
			}
			for _, r := range p.Reads {
				if _, seen := visitedEntities[r]; seen {
					continue
				}
				visitedEntities[r] = struct{}{}
				queue = append(queue, r)
			}
		}
	}

	out := make([]*patch.Patch, 0, len(patchesByHash))
	for _, p := range patchesByHash {
		out = append(out, p)
	}
	patch.SortCausally(out)
	return out, nil
}
