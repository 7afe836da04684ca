package materialize

import (
	"context"
	"fmt"
	"sort"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/patch"
	"github.com/orneryd/warp/pkg/reducer"
	"github.com/orneryd/warp/pkg/refs"
)

// seekCacheKey builds the persistent seek-cache key for a ceiling
// replay, scoped by graph, ceiling, and a fingerprint of the current
// writer frontier (spec.md §4.3b: "keyed cache... under (ceiling,
// frontier-fingerprint)").
func seekCacheKey(graph string, ceiling uint64, fingerprint codec.Hash) string {
	return fmt.Sprintf("warp/%s/ceiling-seek/%d/%s", graph, ceiling, fingerprint)
}

func frontierFingerprint(writerRefs map[string]codec.Hash) codec.Hash {
	m := make(map[string]any, len(writerRefs))
	for name, hash := range writerRefs {
		m[name] = string(hash)
	}
	return codec.HashValue(m)
}

// materializeCeiling replays every patch with lamport <= ceiling from
// each writer's full history, bypassing any checkpoint and skipping
// auto-checkpoint and GC entirely (spec.md §4.3b). A persistent seek
// cache keyed on (ceiling, frontier-fingerprint) avoids repeating the
// full replay for a ceiling query issued again against the same
// frontier; a cache hit marks the result's provenance degraded because
// the per-entity provenance index was not rebuilt for it.
func (h *Handle) materializeCeiling(ctx context.Context, ceiling uint64, wantReceipts bool) (*Result, error) {
	writerRefs, err := h.adapter.ListRefs(refs.WritersPrefix(h.graph))
	if err != nil {
		return nil, fmt.Errorf("materialize: list refs: %w", err)
	}
	fingerprint := frontierFingerprint(writerRefs)
	cacheKey := seekCacheKey(h.graph, ceiling, fingerprint)

	if state, ok := h.loadSeekCache(cacheKey); ok {
		h.mu.Lock()
		h.provenanceDegraded = true
		h.mu.Unlock()
		return &Result{State: state, ProvenanceDegraded: true}, nil
	}

	writerNames := make([]string, 0, len(writerRefs))
	for name := range writerRefs {
		writerNames = append(writerNames, name)
	}
	sort.Strings(writerNames)

	var allPatches []*patch.Patch
	for _, refName := range writerNames {
		tipHash := writerRefs[refName]
		writer, ok := refs.WriterFromTipRef(h.graph, refName)
		if !ok {
			continue
		}
		_, chain, err := ancestryRelation(h.adapter, tipHash, "")
		if err != nil {
			return nil, fmt.Errorf("materialize: writer %s: %w", writer, err)
		}
		for _, commitHash := range chain {
			info, err := h.adapter.GetNodeInfo(commitHash)
			if err != nil {
				return nil, fmt.Errorf("materialize: writer %s: %w", writer, err)
			}
			msg, err := refs.ParseMessage(info.Message)
			if err != nil || msg.Kind != refs.KindPatch {
				continue
			}
			patchHash, ok := msg.Trailers["patch-oid"]
			if !ok {
				continue
			}
			raw, err := h.adapter.ReadBlob(codec.Hash(patchHash))
			if err != nil {
				return nil, fmt.Errorf("materialize: writer %s: read patch blob: %w", writer, err)
			}
			val, err := codec.Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("materialize: writer %s: decode patch: %w", writer, err)
			}
			p, err := patch.FromMap(val)
			if err != nil {
				return nil, fmt.Errorf("materialize: writer %s: %w", writer, err)
			}
			if p.Lamport > ceiling {
				continue
			}
			allPatches = append(allPatches, p)
		}
	}

	patch.SortCausally(allPatches)

	state := gstate.New()
	var receipts []*reducer.TickReceipt
	for _, p := range allPatches {
		r, err := reducer.Join(state, p, p.Hash(), reducer.Options{CollectReceipts: wantReceipts})
		if err != nil {
			return nil, fmt.Errorf("materialize: ceiling fold: %w", err)
		}
		if wantReceipts {
			receipts = append(receipts, r)
		}
	}

	if len(allPatches) > 0 {
		h.saveSeekCache(cacheKey, state)
	}

	return &Result{State: state, Receipts: receipts}, nil
}

// loadSeekCache reads and decodes the cached state at key, if any. A
// corrupted entry is deleted (best-effort) and reported as a miss so
// the caller falls through to a full replay.
func (h *Handle) loadSeekCache(key string) (*gstate.State, bool) {
	hashStr, ok, err := h.adapter.ConfigGet(key)
	if err != nil || !ok || hashStr == "" {
		return nil, false
	}
	raw, err := h.adapter.ReadBlob(codec.Hash(hashStr))
	if err != nil {
		_ = h.adapter.ConfigSet(key, "")
		return nil, false
	}
	val, err := codec.Decode(raw)
	if err != nil {
		_ = h.adapter.ConfigSet(key, "")
		return nil, false
	}
	state, err := gstate.FromCanonical(val)
	if err != nil {
		_ = h.adapter.ConfigSet(key, "")
		return nil, false
	}
	return state, true
}

// saveSeekCache best-effort writes state to the blob store and records
// its hash under key; failures are silently ignored since the seek
// cache is purely an optimization (spec.md §4.3b: "best-effort write
// back").
func (h *Handle) saveSeekCache(key string, state *gstate.State) {
	hash, err := h.adapter.WriteBlob(codec.Encode(state.Canonical()))
	if err != nil {
		return
	}
	_ = h.adapter.ConfigSet(key, string(hash))
}
