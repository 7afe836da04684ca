package patch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/crdt"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/warperr"
)

// DeleteWithDataPolicy governs whether NodeRemove/EdgeRemove is allowed
// to orphan live edges or properties (spec.md §4.2).
type DeleteWithDataPolicy string

const (
	DeleteReject  DeleteWithDataPolicy = "reject"
	DeleteCascade DeleteWithDataPolicy = "cascade"
	DeleteWarn    DeleteWithDataPolicy = "warn"
)

// ContentWriter is the slice of the storage adapter a Builder needs to
// inline-attach content blobs: write the bytes, get back their content
// address.
type ContentWriter interface {
	WriteBlob(data []byte) (codec.Hash, error)
}

// Builder accumulates one writer's next patch: BEGIN (NewBuilder) →
// buffer ops (AddNode/RemoveNode/...) → COMMIT (Build), mirroring the
// buffer-then-apply shape of a storage transaction, except a Builder
// never touches storage itself — Build returns a Patch for the caller
// to hand to the reducer and commit pipeline.
type Builder struct {
	writer  crdt.WriterID
	state   *gstate.State
	policy  DeleteWithDataPolicy
	content ContentWriter

	lastLamport uint64 // writer's most recently committed patch lamport

	ops           []Op
	nextCounter   uint64 // next dot counter this builder will allocate for writer
	contentBlobs  []codec.Hash
	reads, writes map[string]struct{}
}

// NewBuilder starts a patch for writer against a read-only view of
// state. lastLamport is the writer's most recent committed patch
// lamport (0 if the writer has none); the built patch's lamport is
// lastLamport+1. content may be nil if this builder never attaches
// inline content.
func NewBuilder(writer crdt.WriterID, state *gstate.State, policy DeleteWithDataPolicy, lastLamport uint64, content ContentWriter) *Builder {
	return &Builder{
		writer:      writer,
		state:       state,
		policy:      policy,
		content:     content,
		lastLamport: lastLamport,
		nextCounter: state.ObservedFrontier[writer] + 1,
		reads:       make(map[string]struct{}),
		writes:      make(map[string]struct{}),
	}
}

func (b *Builder) allocDot() crdt.Dot {
	d := crdt.Dot{Writer: b.writer, Counter: b.nextCounter}
	b.nextCounter++
	return d
}

func (b *Builder) markRead(id string)  { b.reads[id] = struct{}{} }
func (b *Builder) markWrite(id string) { b.writes[id] = struct{}{} }

// AddNode buffers a NodeAdd op with a freshly allocated dot for id. A
// re-add of an already-alive id is allowed — OR-Set semantics treat it
// as a new observation, not an error.
func (b *Builder) AddNode(id string) error {
	if gstate.IsReservedNodeID(id) {
		return fmt.Errorf("patch: node id %q is reserved", id)
	}
	if strings.ContainsRune(id, 0) {
		return fmt.Errorf("patch: node id %q contains a NUL byte", id)
	}
	b.ops = append(b.ops, NodeAdd(id, b.allocDot()))
	b.markWrite(id)
	return nil
}

// RemoveNode buffers a NodeRemove op tombstoning every dot id is
// currently alive by. Enforces the delete-with-data policy against the
// builder's state snapshot:
//   - reject: fails if id has any alive incident edge or any property.
//   - cascade: buffers EdgeRemove ops for every alive incident edge first.
//   - warn: allows the remove; incident edges become dangling and are
//     masked at read time (spec.md §3 invariant 3), not deleted.
func (b *Builder) RemoveNode(id string) error {
	b.markRead(id)
	if !b.state.HasNode(id) {
		return warperr.ErrEntityNotFound
	}
	incident := b.incidentEdges(id)
	hasProps := len(b.state.GetNodeProps(id)) > 0
	if len(incident) > 0 || hasProps {
		switch b.policy {
		case DeleteReject:
			return fmt.Errorf("patch: %w: node %q has live data", warperr.ErrBackfillRejected, id)
		case DeleteCascade:
			for _, e := range incident {
				if err := b.RemoveEdge(e.From, e.To, e.Label); err != nil {
					return err
				}
			}
		case DeleteWarn:
			// allowed; edges go dangling
		default:
			return fmt.Errorf("patch: unknown delete-with-data policy %q", b.policy)
		}
	}
	observed := b.state.NodeAlive.LiveDots(id)
	b.ops = append(b.ops, NodeRemove(id, observed))
	b.markWrite(id)
	return nil
}

func (b *Builder) incidentEdges(id string) []gstate.Edge {
	var out []gstate.Edge
	for _, e := range b.state.GetEdges() {
		if e.From == id || e.To == id {
			out = append(out, e)
		}
	}
	return out
}

// AddEdge buffers an EdgeAdd op. Both endpoints must currently be alive
// (adding an edge to a dead or not-yet-created node is a caller error,
// enforced here rather than left to the reducer — spec.md §4.1 assumes
// policy was enforced upstream).
func (b *Builder) AddEdge(from, to, label string) error {
	if !b.state.HasNode(from) || !b.state.HasNode(to) {
		return fmt.Errorf("patch: %w: edge endpoints must be alive nodes", warperr.ErrInvalidPatchMessage)
	}
	b.ops = append(b.ops, EdgeAdd(from, to, label, b.allocDot()))
	b.markWrite(gstate.EdgeKey(from, to, label))
	return nil
}

// RemoveEdge buffers an EdgeRemove op tombstoning every dot the edge is
// currently alive by.
func (b *Builder) RemoveEdge(from, to, label string) error {
	key := gstate.EdgeKey(from, to, label)
	b.markRead(key)
	if !b.state.HasEdge(from, to, label) {
		return warperr.ErrEntityNotFound
	}
	observed := b.state.EdgeAlive.LiveDots(key)
	b.ops = append(b.ops, EdgeRemove(from, to, label, observed))
	b.markWrite(key)
	return nil
}

// SetNodeProp buffers a PropSet op targeting a node property.
func (b *Builder) SetNodeProp(nodeID, key string, value any) error {
	if !b.state.HasNode(nodeID) {
		return warperr.ErrEntityNotFound
	}
	b.ops = append(b.ops, PropSet(nodeID, key, value))
	b.markWrite(nodeID)
	return nil
}

// SetEdgeProp buffers a PropSet op targeting an edge property.
func (b *Builder) SetEdgeProp(from, to, label, key string, value any) error {
	if !b.state.HasEdge(from, to, label) {
		return warperr.ErrEntityNotFound
	}
	b.ops = append(b.ops, PropSet(gstate.EdgeKey(from, to, label), key, value))
	b.markWrite(gstate.EdgeKey(from, to, label))
	return nil
}

// AttachContent writes data as an inline content blob, records its
// address on target's "_content" property, and remembers the blob
// address so the patch's tree can reference it — preventing the
// storage layer from GC'ing the content object (spec.md §4.2).
func (b *Builder) AttachContent(target, key string, data []byte) error {
	if b.content == nil {
		return fmt.Errorf("patch: builder has no content writer configured")
	}
	hash, err := b.content.WriteBlob(data)
	if err != nil {
		return fmt.Errorf("patch: attach content: %w", err)
	}
	b.contentBlobs = append(b.contentBlobs, hash)
	if from, to, label, ok := gstate.SplitEdgeKey(target); ok {
		return b.SetEdgeProp(from, to, label, key, string(hash))
	}
	return b.SetNodeProp(target, key, string(hash))
}

// ContentBlobs returns the content-addresses of every blob attached to
// this patch so far.
func (b *Builder) ContentBlobs() []codec.Hash {
	out := make([]codec.Hash, len(b.contentBlobs))
	copy(out, b.contentBlobs)
	return out
}

// OpCount returns the number of ops buffered so far.
func (b *Builder) OpCount() int { return len(b.ops) }

// Build finalizes the buffered ops into a Patch: schema, writer,
// lamport (lastLamport+1), the causal context (a snapshot of state's
// observed frontier at builder creation time), and sorted reads/writes
// declarations. It does not reset the builder; callers discard it after
// a successful Build.
func (b *Builder) Build() *Patch {
	return &Patch{
		Schema:  Schema,
		Writer:  b.writer,
		Lamport: b.lastLamport + 1,
		Context: b.state.ObservedFrontier.Clone(),
		Ops:     append([]Op(nil), b.ops...),
		Reads:   setToSortedSlice(b.reads),
		Writes:  setToSortedSlice(b.writes),
	}
}

func setToSortedSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
