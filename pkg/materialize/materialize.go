// Package materialize implements WARP's materialization engine: folding
// a graph's patch history (optionally resuming from a checkpoint) into
// a queryable gstate.State, auto-checkpointing and running GC as it
// goes, and dispatching a diff to subscribers (spec.md §4.3), in the
// spirit of a loader that rebuilds an in-memory graph from a durable
// log — generalized here from a single linear log read to per-writer
// ancestry-checked chain walks.
package materialize

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orneryd/warp/pkg/checkpoint"
	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/diffwatch"
	"github.com/orneryd/warp/pkg/gc"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/patch"
	"github.com/orneryd/warp/pkg/provenance"
	"github.com/orneryd/warp/pkg/reducer"
	"github.com/orneryd/warp/pkg/refs"
	"github.com/orneryd/warp/pkg/store"
	"github.com/orneryd/warp/pkg/warperr"
)

// CheckpointPolicy governs when a full materialize auto-creates a
// checkpoint (spec.md §4.3: "if patch-count since last checkpoint
// exceeds its threshold").
type CheckpointPolicy struct {
	Enabled   bool
	Threshold int // patches since last checkpoint; 0 disables auto-checkpoint even if Enabled
}

// Options controls one call to Handle.MaterializeFull.
type Options struct {
	Ceiling  *uint64 // Lamport upper bound; non-nil switches to the ceiling path (§4.3b)
	Receipts bool
}

// Result is everything one materialize call produced.
type Result struct {
	State    *gstate.State
	Receipts []*reducer.TickReceipt
	Diff     diffwatch.Diff

	CheckpointCreated bool
	CheckpointErr     error // non-fatal; never aborts materialize, caller logs it

	GC gc.Result

	ProvenanceDegraded bool
}

// Handle is one graph's materialization state: the cached gstate.State,
// the writer frontier it was built from, the provenance index, and the
// policies governing auto-checkpoint and GC. A Handle is not safe for
// concurrent use from multiple goroutines beyond the locking its own
// methods perform — spec.md §5 requires state never be shared across OS
// threads.
type Handle struct {
	adapter store.Adapter
	graph   string

	checkpointPolicy CheckpointPolicy
	gcPolicy         gc.Policy

	dispatcher *diffwatch.Dispatcher
	adjacency  *adjacencyCache

	mu                         sync.Mutex
	cachedState                *gstate.State
	cachedStateHash             codec.Hash
	dirty                       bool
	provenanceIdx               *provenance.Index
	provenanceDegraded          bool
	frontier                    map[string]codec.Hash
	patchesSinceCheckpoint      int
	patchesSinceLastCompaction  uint64
	lastCompactionAt            time.Time
}

// New returns a Handle with no cached state; the first Materialize call
// performs a full rebuild.
func New(adapter store.Adapter, graph string, checkpointPolicy CheckpointPolicy, gcPolicy gc.Policy) *Handle {
	return &Handle{
		adapter:          adapter,
		graph:            graph,
		checkpointPolicy: checkpointPolicy,
		gcPolicy:         gcPolicy,
		dispatcher:       diffwatch.NewDispatcher(),
		adjacency:        newAdjacencyCache(16),
		frontier:         make(map[string]codec.Hash),
		dirty:            true,
	}
}

// Dispatcher exposes the handle's diff dispatcher so callers can
// Subscribe or Watch it.
func (h *Handle) Dispatcher() *diffwatch.Dispatcher {
	return h.dispatcher
}

// State returns the last-materialized state and whether the cache is
// dirty (spec.md warperr.ErrStaleState territory — a caller with
// auto-materialize disabled should treat a dirty cache as unusable).
func (h *Handle) State() (state *gstate.State, dirty bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cachedState, h.dirty
}

// MarkDirty flags the cached state as stale, so State reports dirty
// until the next MaterializeFull — used when a caller knows the cache no
// longer matches storage (pkg/warp.Graph.Patch calls it when folding a
// just-committed patch into the cache fails).
func (h *Handle) MarkDirty() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirty = true
}

// HasFrontierChanged implements diffwatch.FrontierChecker: true iff any
// writer ref under this graph now points somewhere other than what this
// handle last materialized from.
func (h *Handle) HasFrontierChanged() (bool, error) {
	current, err := h.adapter.ListRefs(refs.WritersPrefix(h.graph))
	if err != nil {
		return false, fmt.Errorf("materialize: list refs: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(current) != len(h.frontier) {
		return true, nil
	}
	for name, hash := range current {
		writer, ok := refs.WriterFromTipRef(h.graph, name)
		if !ok {
			continue
		}
		if h.frontier[writer] != hash {
			return true, nil
		}
	}
	return false, nil
}

// quietMaterializer adapts Handle to diffwatch.Materializer (a bare
// Materialize(ctx) error), for Dispatcher.Watch's poll loop.
type quietMaterializer struct{ h *Handle }

func (q quietMaterializer) Materialize(ctx context.Context) error {
	_, err := q.h.MaterializeFull(ctx, Options{})
	return err
}

// AsMaterializer returns the diffwatch.Materializer view of h.
func (h *Handle) AsMaterializer() diffwatch.Materializer {
	return quietMaterializer{h: h}
}

// MaterializeFull is WARP's primary materialize entry (spec.md §4.3).
// A non-nil Options.Ceiling delegates to the time-travel path (§4.3b)
// and skips auto-checkpoint and GC entirely.
func (h *Handle) MaterializeFull(ctx context.Context, opts Options) (*Result, error) {
	if opts.Ceiling != nil {
		return h.materializeCeiling(ctx, *opts.Ceiling, opts.Receipts)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cp, hasCheckpoint, err := checkpoint.Load(h.adapter, h.graph)
	if err != nil {
		return nil, fmt.Errorf("materialize: load checkpoint: %w", err)
	}

	var state *gstate.State
	var priorFrontier map[string]codec.Hash
	var idx *provenance.Index
	if hasCheckpoint {
		state = cp.State
		priorFrontier = cp.Frontier
		if cp.Provenance != nil {
			idx = cp.Provenance.Clone()
		} else {
			idx = provenance.NewIndex()
		}
	} else {
		state = gstate.New()
		priorFrontier = map[string]codec.Hash{}
		idx = provenance.NewIndex()
	}

	writerRefs, err := h.adapter.ListRefs(refs.WritersPrefix(h.graph))
	if err != nil {
		return nil, fmt.Errorf("materialize: list refs: %w", err)
	}

	writerNames := make([]string, 0, len(writerRefs))
	for name := range writerRefs {
		writerNames = append(writerNames, name)
	}
	sort.Strings(writerNames)

	newFrontier := make(map[string]codec.Hash, len(writerRefs))
	var allPatches []*patch.Patch

	for _, refName := range writerNames {
		tipHash := writerRefs[refName]
		writer, ok := refs.WriterFromTipRef(h.graph, refName)
		if !ok {
			continue
		}
		newFrontier[writer] = tipHash

		frontierHash := priorFrontier[writer]
		relation, chain, err := ancestryRelation(h.adapter, tipHash, frontierHash)
		if err != nil {
			return nil, fmt.Errorf("materialize: writer %s: %w", writer, err)
		}
		switch relation {
		case RelationSame:
			continue
		case RelationBehind:
			return nil, fmt.Errorf("materialize: writer %s: %w", writer, warperr.ErrBackfillRejected)
		case RelationDiverged:
			return nil, fmt.Errorf("materialize: writer %s: %w", writer, warperr.ErrWriterForked)
		}

		for _, commitHash := range chain {
			info, err := h.adapter.GetNodeInfo(commitHash)
			if err != nil {
				return nil, fmt.Errorf("materialize: writer %s: %w", writer, err)
			}
			msg, err := refs.ParseMessage(info.Message)
			if err != nil {
				return nil, fmt.Errorf("materialize: writer %s: %w: %w", writer, warperr.ErrInvalidPatchMessage, err)
			}
			if msg.Kind != refs.KindPatch {
				continue
			}
			patchHash, ok := msg.Trailers["patch-oid"]
			if !ok {
				return nil, fmt.Errorf("materialize: writer %s: commit %s missing patch-oid trailer", writer, commitHash)
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
			if !hasCheckpoint && p.Schema < patch.Schema {
				return nil, fmt.Errorf("materialize: writer %s: %w", writer, warperr.ErrMigrationRequired)
			}
			allPatches = append(allPatches, p)
		}
	}

	patch.SortCausally(allPatches)

	var receipts []*reducer.TickReceipt
	for _, p := range allPatches {
		hash := p.Hash()
		r, err := reducer.Join(state, p, hash, reducer.Options{CollectReceipts: opts.Receipts})
		if err != nil {
			return nil, fmt.Errorf("materialize: %w", err)
		}
		if opts.Receipts {
			receipts = append(receipts, r)
		}
		idx.Record(hash, p.Reads, p.Writes)
	}

	h.patchesSinceCheckpoint += len(allPatches)
	h.patchesSinceLastCompaction += uint64(len(allPatches))

	previous := h.cachedState
	d := diffwatch.Compute(previous, state)

	result := &Result{State: state, Receipts: receipts, Diff: d}

	if h.checkpointPolicy.Enabled && h.checkpointPolicy.Threshold > 0 &&
		h.patchesSinceCheckpoint >= h.checkpointPolicy.Threshold {
		if _, err := checkpoint.Create(h.adapter, h.graph, state, newFrontier, idx); err != nil {
			result.CheckpointErr = fmt.Errorf("materialize: checkpoint create: %w", err)
		} else {
			result.CheckpointCreated = true
			h.patchesSinceCheckpoint = 0
		}
	}

	result.GC = gc.Run(state, h.gcPolicy, h.patchesSinceLastCompaction, h.lastCompactionAt)
	if result.GC.Ran {
		h.patchesSinceLastCompaction = 0
		h.lastCompactionAt = time.Now()
	}

	h.cachedState = state
	h.cachedStateHash = state.StateHash()
	h.dirty = false
	h.provenanceIdx = idx
	h.provenanceDegraded = false
	h.frontier = newFrontier

	h.adjacency.put(h.cachedStateHash, BuildAdjacency(state))
	h.dispatcher.Notify(state)

	return result, nil
}

// EagerApply folds one freshly-committed local patch into the cached
// state in place, without a full re-materialize, when the cache is
// clean (spec.md §4.3: "Eager application"). If the cache is already
// dirty, it records the patch having invalidated the cache further and
// returns (nil, nil): the caller must rely on a future MaterializeFull.
func (h *Handle) EagerApply(p *patch.Patch) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cachedState == nil || h.dirty {
		h.dirty = true
		return nil, nil
	}

	previous := h.cachedState.Clone()
	hash := p.Hash()
	tip, err := h.adapter.ReadRef(refs.WriterTip(h.graph, string(p.Writer)))
	if err != nil {
		h.dirty = true
		return nil, fmt.Errorf("materialize: eager apply: read writer tip: %w", err)
	}
	if _, err := reducer.Join(h.cachedState, p, hash, reducer.Options{}); err != nil {
		h.dirty = true
		return nil, fmt.Errorf("materialize: eager apply: %w", err)
	}
	if h.provenanceIdx != nil {
		h.provenanceIdx.Record(hash, p.Reads, p.Writes)
	}
	h.patchesSinceCheckpoint++
	h.patchesSinceLastCompaction++
	h.cachedStateHash = h.cachedState.StateHash()
	h.frontier[string(p.Writer)] = tip

	d := diffwatch.Compute(previous, h.cachedState)
	h.adjacency.put(h.cachedStateHash, BuildAdjacency(h.cachedState))
	h.dispatcher.Notify(h.cachedState)

	return &Result{State: h.cachedState, Diff: d}, nil
}

// Adjacency returns the cached adjacency for the current state,
// building and caching it on first use after a materialize.
func (h *Handle) Adjacency() *Adjacency {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cachedState == nil {
		return &Adjacency{Outgoing: map[string][]Neighbor{}, Incoming: map[string][]Neighbor{}}
	}
	if adj, ok := h.adjacency.get(h.cachedStateHash); ok {
		return adj
	}
	adj := BuildAdjacency(h.cachedState)
	h.adjacency.put(h.cachedStateHash, adj)
	return adj
}

// Provenance returns the handle's provenance index and whether it is
// currently degraded (spec.md ErrProvenanceDegraded territory). Callers
// must check degraded before calling provenance.Slice.
func (h *Handle) Provenance() (idx *provenance.Index, degraded bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.provenanceIdx, h.provenanceDegraded
}

// PatchesFor is the provenance-query surface spec.md §4.3b names
// ("patchesFor(anyId)"): the patch-hashes recorded against entity in
// h's index. It refuses with warperr.ErrProvenanceDegraded once a
// ceiling seek has served a cached result, since that skipped
// rebuilding the per-entity index; a fresh full MaterializeFull clears
// the degraded flag again.
func (h *Handle) PatchesFor(entity string) ([]codec.Hash, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.provenanceDegraded {
		return nil, warperr.ErrProvenanceDegraded
	}
	if h.provenanceIdx == nil {
		return nil, nil
	}
	return h.provenanceIdx.PatchesFor(entity), nil
}

// Slice computes the backward causal cone of entity seed (spec.md
// §4.5) against h's current provenance index, refusing with
// warperr.ErrProvenanceDegraded under the same condition as
// PatchesFor. The returned patches are causally ordered and ready to
// fold through the reducer from an empty state.
func (h *Handle) Slice(seed string) ([]*patch.Patch, error) {
	h.mu.Lock()
	if h.provenanceDegraded {
		h.mu.Unlock()
		return nil, warperr.ErrProvenanceDegraded
	}
	idx := h.provenanceIdx
	h.mu.Unlock()

	if idx == nil {
		return nil, nil
	}
	return provenance.Slice(idx, func(hash codec.Hash) (*patch.Patch, error) {
		return patch.LoadByHash(h.adapter, hash)
	}, seed)
}

// Frontier returns a copy of the writer tips this handle last
// materialized from.
func (h *Handle) Frontier() map[string]codec.Hash {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make(map[string]codec.Hash, len(h.frontier))
	for w, hash := range h.frontier {
		cp[w] = hash
	}
	return cp
}

// AdoptSynced replaces the cached state with one a caller merged
// out-of-band (spec.md §4.7: sync's client-side Apply folds a remote's
// patches via the reducer directly into a gstate.State, without
// replaying them through this handle's own commit-chain walk). newState
// must already be byte-for-byte what a full materialize over the
// updated frontier would produce; the caller is responsible for that
// invariant since AdoptSynced has no way to verify it.
func (h *Handle) AdoptSynced(newState *gstate.State, newFrontier map[string]codec.Hash) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous := h.cachedState
	d := diffwatch.Compute(previous, newState)

	h.cachedState = newState
	h.cachedStateHash = newState.StateHash()
	h.dirty = false
	h.frontier = make(map[string]codec.Hash, len(newFrontier))
	for w, hash := range newFrontier {
		h.frontier[w] = hash
	}

	h.adjacency.put(h.cachedStateHash, BuildAdjacency(newState))
	h.dispatcher.Notify(newState)

	return Result{State: newState, Diff: d}
}
