// Package warp is WARP's embedder-facing API: Graph is the single
// handle an application opens once per replica and uses to read, write,
// sync, checkpoint, and fork a graph (spec.md §5: "pkg/warp.Graph is the
// handle; two Graph values never share mutable state"). It wires
// together every lower package — store, patch, reducer, materialize,
// checkpoint, gc, sync, fork — behind one embedding-friendly facade,
// the same way a database driver wires storage, indexing, and query
// behind a single DB handle.
package warp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/orneryd/warp/pkg/audit"
	"github.com/orneryd/warp/pkg/checkpoint"
	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/config"
	"github.com/orneryd/warp/pkg/crdt"
	"github.com/orneryd/warp/pkg/fork"
	"github.com/orneryd/warp/pkg/gc"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/materialize"
	"github.com/orneryd/warp/pkg/patch"
	"github.com/orneryd/warp/pkg/reducer"
	"github.com/orneryd/warp/pkg/store"
	warpsync "github.com/orneryd/warp/pkg/sync"
	"github.com/orneryd/warp/pkg/warperr"
)

// ErrClosed is returned by every Graph method once Close has run.
var ErrClosed = errors.New("warp: graph is closed")

// Options configures Open. Every field has a usable zero value except
// where noted.
type Options struct {
	// Writer identifies this replica's write identity on the graph. If
	// empty, Open generates a random one (spec.md doesn't mandate a
	// shape for writer ids beyond uniqueness within a graph).
	Writer crdt.WriterID

	// DeleteWithData governs NodeRemove/EdgeRemove when incident data
	// still exists. Defaults to patch.DeleteWarn.
	DeleteWithData patch.DeleteWithDataPolicy

	Checkpoint materialize.CheckpointPolicy
	GC         gc.Policy

	// AuditSink receives every TickReceipt produced by local writes and
	// by sync Apply. Defaults to audit.NopSink{}.
	AuditSink audit.Sink
}

func (o Options) withDefaults() Options {
	if o.DeleteWithData == "" {
		o.DeleteWithData = patch.DeleteWarn
	}
	if o.AuditSink == nil {
		o.AuditSink = audit.NopSink{}
	}
	return o
}

// Graph is one replica's handle onto one content-addressed graph. All
// methods are safe for concurrent use; internally they serialize
// through a single mutex, matching spec.md §5's "single-threaded
// cooperative per graph handle" — suspension points are limited to the
// storage/sync I/O inside the call, not concurrent mutation of Graph
// state itself.
type Graph struct {
	mu     sync.Mutex
	closed bool

	adapter store.Adapter
	name    string
	writer  crdt.WriterID
	policy  patch.DeleteWithDataPolicy

	handle    *materialize.Handle
	auditSink audit.Sink

	lastLamport uint64
}

// Open wires a Graph onto an already-constructed store.Adapter. Most
// callers should use OpenWithConfig instead; Open is for callers who
// already manage adapter lifecycle themselves (tests, multi-graph
// servers sharing one Badger instance).
func Open(adapter store.Adapter, graphName string, opts Options) (*Graph, error) {
	if graphName == "" {
		return nil, fmt.Errorf("warp: graph name must not be empty")
	}
	opts = opts.withDefaults()
	if opts.Writer == "" {
		opts.Writer = crdt.WriterID(uuid.NewString())
	}

	g := &Graph{
		adapter:   adapter,
		name:      graphName,
		writer:    opts.Writer,
		policy:    opts.DeleteWithData,
		handle:    materialize.New(adapter, graphName, opts.Checkpoint, opts.GC),
		auditSink: opts.AuditSink,
	}

	if _, err := g.handle.MaterializeFull(context.Background(), materialize.Options{}); err != nil {
		return nil, fmt.Errorf("warp: open %s: %w", graphName, err)
	}
	g.lastLamport = g.writerFrontierLamport()

	return g, nil
}

// OpenWithConfig builds the store.Adapter described by cfg.Storage
// (memory or Badger) and opens a Graph on it: cfg.Storage.Backend
// picks BadgerDB for a durable replica or falls back to the in-memory
// adapter for anything else.
func OpenWithConfig(cfg *config.Config) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}

	var adapter store.Adapter
	switch cfg.Storage.Backend {
	case "badger":
		a, err := store.NewBadgerAdapter(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("warp: open badger storage at %s: %w", cfg.Storage.DataDir, err)
		}
		adapter = a
	default: // "memory", already validated to one of these two
		adapter = store.NewMemoryAdapter()
	}

	return Open(adapter, cfg.Graph.Name, Options{
		Writer:     crdt.WriterID(cfg.Graph.Writer),
		Checkpoint: materialize.CheckpointPolicy{Enabled: cfg.Checkpoint.Enabled, Threshold: cfg.Checkpoint.Threshold},
		GC: gc.Policy{
			Enabled:            cfg.GC.Enabled,
			MinTombstoneCount:  cfg.GC.MinTombstoneCount,
			MinTombstoneRatio:  cfg.GC.MinTombstoneRatio,
			MinPatchesSinceRun: cfg.GC.MinPatchesSinceRun,
			MinTimeSinceRun:    cfg.GC.MinTimeSinceRun,
		},
	})
}

// Close releases the Graph. It does not close the underlying adapter —
// callers who built the adapter themselves (via Open) own its
// lifecycle; OpenWithConfig-opened Badger adapters are exposed through
// Adapter() for the same reason, so Close there is still the caller's
// job — WARP's adapter may be shared across Graphs, so closing the
// underlying engine here would be unsafe to do implicitly.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// Adapter returns the underlying store.Adapter, e.g. so a caller can
// Close a Badger-backed adapter OpenWithConfig built.
func (g *Graph) Adapter() store.Adapter {
	return g.adapter
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// Writer returns this replica's writer id.
func (g *Graph) Writer() crdt.WriterID { return g.writer }

func (g *Graph) checkOpen() error {
	if g.closed {
		return ErrClosed
	}
	return nil
}

// Materialize rebuilds (or incrementally extends) the cached state from
// every writer's chain, auto-checkpointing and running GC per the
// Options the Graph was opened with (spec.md §4.3).
func (g *Graph) Materialize(ctx context.Context) (*materialize.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	return g.handle.MaterializeFull(ctx, materialize.Options{Receipts: true})
}

// MaterializeAt time-travels to the state as of the given Lamport
// ceiling (spec.md §4.3b).
func (g *Graph) MaterializeAt(ctx context.Context, ceiling uint64) (*materialize.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	return g.handle.MaterializeFull(ctx, materialize.Options{Ceiling: &ceiling, Receipts: true})
}

// Slice computes the backward causal cone of entity seed (spec.md
// §4.5) — every patch that transitively contributed to seed's current
// value, folded through the reducer from empty state into the
// returned gstate.State. It refuses with warperr.ErrProvenanceDegraded
// if the last materialize was a ceiling seek served from the seek
// cache, since that skipped rebuilding the provenance index a slice
// depends on.
func (g *Graph) Slice(seed string) (*gstate.State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkOpen(); err != nil {
		return nil, err
	}

	patches, err := g.handle.Slice(seed)
	if err != nil {
		return nil, fmt.Errorf("warp: slice %s: %w", seed, err)
	}

	state, _, err := reducer.Reduce(patches, gstate.New(), reducer.Options{})
	if err != nil {
		return nil, fmt.Errorf("warp: slice %s: fold: %w", seed, err)
	}
	return state, nil
}

// PatchesFor returns the provenance patch-hashes recorded against
// entity (spec.md §4.3b "patchesFor(anyId)"), refusing with
// warperr.ErrProvenanceDegraded under the same condition as Slice.
func (g *Graph) PatchesFor(entity string) ([]codec.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	return g.handle.PatchesFor(entity)
}

// State returns the last-materialized state and whether the handle has
// marked it dirty (see materialize.Handle.MarkDirty). It does not check
// whether writer refs moved in storage since the last Materialize call.
func (g *Graph) State() (*gstate.State, bool) {
	return g.handle.State()
}

// Patch builds and commits one local patch: build is called with a
// fresh *patch.Builder bound to this Graph's writer and current state;
// the resulting patch is committed to the adapter and eagerly folded
// into the cached state (spec.md §4.2 commit pipeline + §4.3 eager
// apply). Returns the new commit hash.
func (g *Graph) Patch(build func(b *patch.Builder) error) (codec.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkOpen(); err != nil {
		return "", err
	}

	state, dirty := g.handle.State()
	if state == nil {
		return "", fmt.Errorf("warp: patch: %w", warperr.ErrNoState)
	}
	if dirty {
		return "", fmt.Errorf("warp: patch: %w", warperr.ErrStaleState)
	}

	b := patch.NewBuilder(g.writer, state, g.policy, g.lastLamport, g.adapter)
	if err := build(b); err != nil {
		return "", fmt.Errorf("warp: build patch: %w", err)
	}
	p := b.Build()

	commitHash, err := patch.Commit(g.adapter, g.name, p, b.ContentBlobs())
	if err != nil {
		return "", fmt.Errorf("warp: commit patch: %w", err)
	}
	g.lastLamport = p.Lamport

	receipt, err := reducer.Join(state, p, p.Hash(), reducer.Options{CollectReceipts: true})
	if err != nil {
		// The patch is already durably committed; a local fold failure
		// just means this handle's cache is stale until the next
		// Materialize, not that the write was lost.
		g.handle.MarkDirty()
		return commitHash, fmt.Errorf("warp: local fold: %w", err)
	}
	if receipt != nil {
		g.auditSink.Record(receipt)
	}

	if _, err := g.handle.EagerApply(p); err != nil {
		g.handle.MarkDirty()
	}

	return commitHash, nil
}

// Checkpoint materializes (if stale) and creates a checkpoint commit
// from the current state (spec.md §4.4).
func (g *Graph) Checkpoint(ctx context.Context) (*checkpoint.Checkpoint, error) {
	g.mu.Lock()
	if err := g.checkOpen(); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	_, dirty := g.handle.State()
	g.mu.Unlock()

	if dirty {
		if _, err := g.Materialize(ctx); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	state, _ := g.handle.State()
	frontier := g.frontier()
	idx, _ := g.handle.Provenance()
	return checkpoint.Create(g.adapter, g.name, state, frontier, idx)
}

// Anchor records every writer's current tip in a coverage anchor commit
// (spec.md §9's "Graph.Anchor() calls"), without creating a full
// checkpoint.
func (g *Graph) Anchor() (codec.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkOpen(); err != nil {
		return "", err
	}
	return checkpoint.CreateAnchor(g.adapter, g.name, g.frontier())
}

func (g *Graph) frontier() map[string]codec.Hash {
	return g.handle.Frontier()
}

func (g *Graph) writerFrontierLamport() uint64 {
	state, _ := g.handle.State()
	if state == nil {
		return 0
	}
	return gstate.ComputeAppliedVV(state)[g.writer]
}

// Sync runs one pairwise sync round against endpoint over transport,
// applying the remote's response into the cached state and recording
// receipts to the Graph's audit sink (spec.md §4.7).
func (g *Graph) Sync(ctx context.Context, transport warpsync.Transport, endpoint string, opts warpsync.SessionOptions) (map[string]codec.Hash, <-chan warpsync.Event, error) {
	g.mu.Lock()
	if err := g.checkOpen(); err != nil {
		g.mu.Unlock()
		return nil, nil, err
	}
	state, dirty := g.handle.State()
	if state == nil {
		g.mu.Unlock()
		return nil, nil, fmt.Errorf("warp: sync: %w", warperr.ErrNoState)
	}
	if dirty {
		g.mu.Unlock()
		return nil, nil, fmt.Errorf("warp: sync: %w", warperr.ErrStaleState)
	}
	localFrontier := g.handle.Frontier()
	state = state.Clone()
	g.mu.Unlock()

	events := make(chan warpsync.Event, 16)
	session := &warpsync.Session{
		Transport:      transport,
		Endpoint:       endpoint,
		MaxRetries:     opts.MaxRetries,
		InitialBackoff: opts.InitialBackoff,
		MaxBackoff:     opts.MaxBackoff,
		Events:         events,
	}

	// session.Run folds the response straight into state via the
	// reducer (pkg/sync.Apply) — it never touches g.adapter. state (a
	// clone of the cached state) is mutated in place, and newFrontier is
	// the server's full frontier,
	// which may include writers g never materialized locally.
	newFrontier, err := session.Run(ctx, state, localFrontier, g.auditSink, reducer.Options{CollectReceipts: true})
	close(events)
	if err != nil {
		return nil, events, fmt.Errorf("warp: sync: %w", err)
	}

	g.mu.Lock()
	g.handle.AdoptSynced(state, newFrontier)
	g.mu.Unlock()

	return newFrontier, events, nil
}

// Serve returns an http.Handler implementing the server side of the
// sync protocol for this graph (spec.md §4.7), for embedding into a
// caller's own HTTP mux.
func (g *Graph) Serve() *warpsync.Handler {
	return &warpsync.Handler{Adapter: g.adapter, Graph: g.name}
}

// Fork creates a new graph ForkName whose writer ref starts at the
// given commit hash on this graph's writer chain (spec.md §4.9).
func (g *Graph) Fork(at codec.Hash, forkName string) (codec.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkOpen(); err != nil {
		return "", err
	}
	return fork.Fork(g.adapter, fork.Request{
		SourceGraph: g.name,
		Writer:      string(g.writer),
		At:          at,
		ForkName:    forkName,
	})
}

// Wormhole captures this graph's writer's commits strictly after from
// up to and including to (spec.md §4.9).
func (g *Graph) Wormhole(from, to codec.Hash) (*fork.Wormhole, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	return fork.CreateWormhole(g.adapter, g.name, string(g.writer), from, to)
}

