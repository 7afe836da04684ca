// Package gstate defines WARP's canonical graph state shape: the
// OR-Sets of alive nodes/edges, the LWW property registers, the
// observed frontier, and the edge birth-event map used for clean-slate
// property filtering after a delete-then-re-add (spec.md §3).
package gstate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/crdt"
)

// sep separates the components of an encoded edge key or prop key.
// It is the NUL byte, which cannot appear in a node-id supplied through
// the public API (the builder rejects it).
const sep = "\x00"

// EdgePropPrefix reserves a namespace for edge properties so they can
// never collide with a node-id used as a property-map key. Disallowing
// this literal string as a node-id is the caller's (patch builder's)
// responsibility — the reducer does not defend against it (spec.md §9,
// Open Question).
const EdgePropPrefix = "__edge_prop__"

// IsReservedNodeID reports whether id collides with the edge-property
// namespace reservation.
func IsReservedNodeID(id string) bool {
	return id == EdgePropPrefix
}

// EdgeKey canonically encodes an edge identity as from\0to\0label.
func EdgeKey(from, to, label string) string {
	return from + sep + to + sep + label
}

// SplitEdgeKey decodes an edge key back into its three components.
func SplitEdgeKey(key string) (from, to, label string, ok bool) {
	parts := strings.SplitN(key, sep, 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// NodePropKey encodes a node property's location in the flat prop map.
func NodePropKey(nodeID, key string) string {
	return nodeID + sep + key
}

// EdgePropKey encodes an edge property's location in the flat prop map,
// namespaced under EdgePropPrefix so it can never collide with a node
// property key.
func EdgePropKey(edgeKey, key string) string {
	return EdgePropPrefix + sep + edgeKey + sep + key
}

// Edge is a materialized, queryable edge (from, to, label).
type Edge struct {
	From  string
	To    string
	Label string
}

// Less orders edges by (from, to, label), the deterministic order
// required everywhere edges are iterated externally (spec.md §9).
func (e Edge) Less(o Edge) bool {
	if e.From != o.From {
		return e.From < o.From
	}
	if e.To != o.To {
		return e.To < o.To
	}
	return e.Label < o.Label
}

// State is WARP's canonical graph state (spec.md §3).
type State struct {
	NodeAlive        *crdt.ORSet[string]
	EdgeAlive        *crdt.ORSet[string]
	Prop             map[string]crdt.LWWRegister
	ObservedFrontier crdt.VersionVector
	EdgeBirthEvent   map[string]crdt.EventID
}

// New returns an empty graph state.
func New() *State {
	return &State{
		NodeAlive:        crdt.NewORSet[string](),
		EdgeAlive:        crdt.NewORSet[string](),
		Prop:             make(map[string]crdt.LWWRegister),
		ObservedFrontier: crdt.NewVersionVector(),
		EdgeBirthEvent:   make(map[string]crdt.EventID),
	}
}

// Clone returns a deep, independent copy of s.
func (s *State) Clone() *State {
	out := &State{
		NodeAlive:        s.NodeAlive.Clone(),
		EdgeAlive:        s.EdgeAlive.Clone(),
		Prop:             make(map[string]crdt.LWWRegister, len(s.Prop)),
		ObservedFrontier: s.ObservedFrontier.Clone(),
		EdgeBirthEvent:   make(map[string]crdt.EventID, len(s.EdgeBirthEvent)),
	}
	for k, v := range s.Prop {
		out.Prop[k] = v
	}
	for k, v := range s.EdgeBirthEvent {
		out.EdgeBirthEvent[k] = v
	}
	return out
}

// HasNode reports whether id is alive.
func (s *State) HasNode(id string) bool {
	return s.NodeAlive.Alive(id)
}

// HasEdge reports whether (from,to,label) is alive AND both endpoints
// are alive. Dangling edges (an alive edge whose endpoint was removed)
// are masked here, at read time, never deleted from the CRDT itself
// (spec.md §3 invariant 3).
func (s *State) HasEdge(from, to, label string) bool {
	key := EdgeKey(from, to, label)
	if !s.EdgeAlive.Alive(key) {
		return false
	}
	return s.NodeAlive.Alive(from) && s.NodeAlive.Alive(to)
}

// GetNodes returns every alive node-id, sorted ascending.
func (s *State) GetNodes() []string {
	return crdt.AliveElements(s.NodeAlive, func(a, b string) bool { return a < b })
}

// GetEdges returns every alive, non-dangling edge, sorted by
// (from, to, label).
func (s *State) GetEdges() []Edge {
	keys := crdt.AliveElements(s.EdgeAlive, func(a, b string) bool { return a < b })
	out := make([]Edge, 0, len(keys))
	for _, key := range keys {
		from, to, label, ok := SplitEdgeKey(key)
		if !ok {
			continue
		}
		if !s.NodeAlive.Alive(from) || !s.NodeAlive.Alive(to) {
			continue
		}
		out = append(out, Edge{From: from, To: to, Label: label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// GetNodeProps returns the node's properties as key -> value, reading
// straight from the LWW registers (node properties have no clean-slate
// filter in the canonical shape — only edges carry a birth event).
func (s *State) GetNodeProps(id string) map[string]any {
	prefix := id + sep
	out := make(map[string]any)
	for k, reg := range s.Prop {
		if strings.HasPrefix(k, EdgePropPrefix) {
			continue
		}
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		out[strings.TrimPrefix(k, prefix)] = reg.Value
	}
	return out
}

// GetEdgeProps returns the edge's properties, filtering out any
// register whose event-id predates the edge's most recent birth event
// (clean-slate filtering after delete-then-re-add, spec.md §3
// invariant 4).
func (s *State) GetEdgeProps(edgeKey string) map[string]any {
	birth, hasBirth := s.EdgeBirthEvent[edgeKey]
	prefix := EdgePropKey(edgeKey, "")
	out := make(map[string]any)
	for k, reg := range s.Prop {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if hasBirth && reg.EventID.Less(birth) {
			continue
		}
		out[strings.TrimPrefix(k, prefix)] = reg.Value
	}
	return out
}

// Canonical returns the sorted-key value tree that pkg/codec hashes to
// produce the state hash (spec.md §6). Two replicas that agree on
// content agree on this hash.
func (s *State) Canonical() map[string]any {
	return map[string]any{
		"nodeAlive": encodeORSet(s.NodeAlive),
		"edgeAlive": encodeORSet(s.EdgeAlive),
		"prop":      encodeProps(s.Prop),
		"frontier":  encodeVV(s.ObservedFrontier),
		"edgeBirth": encodeBirths(s.EdgeBirthEvent),
	}
}

// encodeORSet renders the full internal state of an OR-Set — every
// element's complete dot set plus the independent tombstone set — not
// just its visible projection, so a decoded State is bit-for-bit
// equivalent to the original for GC/compaction purposes, not merely
// query-equivalent.
func encodeORSet(set *crdt.ORSet[string]) map[string]any {
	elements := make([]string, 0, len(set.Entries))
	for el := range set.Entries {
		elements = append(elements, el)
	}
	sort.Strings(elements)
	entries := make(map[string]any, len(elements))
	for _, el := range elements {
		dots := set.AllDots(el)
		sort.Slice(dots, func(i, j int) bool { return dots[i].Less(dots[j]) })
		strs := make([]any, len(dots))
		for i, d := range dots {
			strs[i] = d.String()
		}
		entries[el] = strs
	}
	tombs := make([]crdt.Dot, 0, len(set.Tombstones))
	for d := range set.Tombstones {
		tombs = append(tombs, d)
	}
	sort.Slice(tombs, func(i, j int) bool { return tombs[i].Less(tombs[j]) })
	tombStrs := make([]any, len(tombs))
	for i, d := range tombs {
		tombStrs[i] = d.String()
	}
	return map[string]any{"entries": entries, "tombstones": tombStrs}
}

func encodeProps(props map[string]crdt.LWWRegister) map[string]any {
	out := make(map[string]any, len(props))
	for k, reg := range props {
		out[k] = map[string]any{
			"lamport": reg.EventID.Lamport,
			"writer":  string(reg.EventID.Writer),
			"hash":    reg.EventID.PatchHash,
			"opIndex": int64(reg.EventID.OpIndex),
			"value":   reg.Value,
		}
	}
	return out
}

func encodeVV(vv crdt.VersionVector) map[string]any {
	out := make(map[string]any, len(vv))
	for w, c := range vv {
		out[string(w)] = c
	}
	return out
}

func encodeBirths(m map[string]crdt.EventID) map[string]any {
	out := make(map[string]any, len(m))
	for k, e := range m {
		out[k] = map[string]any{
			"lamport": e.Lamport,
			"writer":  string(e.Writer),
			"hash":    e.PatchHash,
			"opIndex": int64(e.OpIndex),
		}
	}
	return out
}

// StateHash is the stable content hash of s's canonical encoding.
func (s *State) StateHash() codec.Hash {
	return codec.HashValue(s.Canonical())
}

// FromCanonical reconstructs a State from the value tree Canonical
// produces, the decode side pkg/checkpoint needs to rehydrate a
// schema>=2 state.cbor blob back into live OR-Sets, LWW registers, a
// frontier, and edge birth events.
func FromCanonical(v any) (*State, error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return nil, fmt.Errorf("gstate: %w", err)
	}
	nodeAliveV, err := codec.Field(m, "nodeAlive")
	if err != nil {
		return nil, fmt.Errorf("gstate: %w", err)
	}
	nodeAlive, err := decodeORSet(nodeAliveV)
	if err != nil {
		return nil, fmt.Errorf("gstate: nodeAlive: %w", err)
	}
	edgeAliveV, err := codec.Field(m, "edgeAlive")
	if err != nil {
		return nil, fmt.Errorf("gstate: %w", err)
	}
	edgeAlive, err := decodeORSet(edgeAliveV)
	if err != nil {
		return nil, fmt.Errorf("gstate: edgeAlive: %w", err)
	}
	propV, err := codec.Field(m, "prop")
	if err != nil {
		return nil, fmt.Errorf("gstate: %w", err)
	}
	prop, err := decodeProps(propV)
	if err != nil {
		return nil, fmt.Errorf("gstate: prop: %w", err)
	}
	frontierV, err := codec.Field(m, "frontier")
	if err != nil {
		return nil, fmt.Errorf("gstate: %w", err)
	}
	frontier, err := decodeVV(frontierV)
	if err != nil {
		return nil, fmt.Errorf("gstate: frontier: %w", err)
	}
	edgeBirthV, err := codec.Field(m, "edgeBirth")
	if err != nil {
		return nil, fmt.Errorf("gstate: %w", err)
	}
	edgeBirth, err := decodeBirths(edgeBirthV)
	if err != nil {
		return nil, fmt.Errorf("gstate: edgeBirth: %w", err)
	}
	return &State{
		NodeAlive:        nodeAlive,
		EdgeAlive:        edgeAlive,
		Prop:             prop,
		ObservedFrontier: frontier,
		EdgeBirthEvent:   edgeBirth,
	}, nil
}

func decodeORSet(v any) (*crdt.ORSet[string], error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return nil, err
	}
	entriesV, err := codec.Field(m, "entries")
	if err != nil {
		return nil, err
	}
	entriesM, err := codec.AsMap(entriesV)
	if err != nil {
		return nil, err
	}
	set := crdt.NewORSet[string]()
	for el, dotsV := range entriesM {
		dotStrs, err := codec.AsList(dotsV)
		if err != nil {
			return nil, fmt.Errorf("element %q: %w", el, err)
		}
		dots := make(map[crdt.Dot]struct{}, len(dotStrs))
		for _, item := range dotStrs {
			s, err := codec.AsString(item)
			if err != nil {
				return nil, err
			}
			d, ok := parseDot(s)
			if !ok {
				return nil, fmt.Errorf("malformed dot string %q", s)
			}
			dots[d] = struct{}{}
		}
		set.Entries[el] = dots
	}
	tombsV, err := codec.Field(m, "tombstones")
	if err != nil {
		return nil, err
	}
	tombList, err := codec.AsList(tombsV)
	if err != nil {
		return nil, err
	}
	for _, item := range tombList {
		s, err := codec.AsString(item)
		if err != nil {
			return nil, err
		}
		d, ok := parseDot(s)
		if !ok {
			return nil, fmt.Errorf("malformed dot string %q", s)
		}
		set.Tombstones[d] = struct{}{}
	}
	return set, nil
}

func decodeProps(v any) (map[string]crdt.LWWRegister, error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]crdt.LWWRegister, len(m))
	for k, regV := range m {
		regM, err := codec.AsMap(regV)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		evt, err := decodeEventFields(regM)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		value, err := codec.Field(regM, "value")
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		out[k] = crdt.LWWRegister{EventID: evt, Value: value}
	}
	return out, nil
}

func decodeVV(v any) (crdt.VersionVector, error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return nil, err
	}
	vv := crdt.NewVersionVector()
	for w, cV := range m {
		c, err := codec.AsUint64(cV)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", w, err)
		}
		vv[crdt.WriterID(w)] = c
	}
	return vv, nil
}

func decodeBirths(v any) (map[string]crdt.EventID, error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]crdt.EventID, len(m))
	for k, evtV := range m {
		evtM, err := codec.AsMap(evtV)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		evt, err := decodeEventFields(evtM)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		out[k] = evt
	}
	return out, nil
}

func decodeEventFields(m map[string]any) (crdt.EventID, error) {
	lamportV, err := codec.Field(m, "lamport")
	if err != nil {
		return crdt.EventID{}, err
	}
	lamport, err := codec.AsUint64(lamportV)
	if err != nil {
		return crdt.EventID{}, err
	}
	writer, err := codec.Field(m, "writer")
	if err != nil {
		return crdt.EventID{}, err
	}
	writerS, err := codec.AsString(writer)
	if err != nil {
		return crdt.EventID{}, err
	}
	hashV, err := codec.Field(m, "hash")
	if err != nil {
		return crdt.EventID{}, err
	}
	hashS, err := codec.AsString(hashV)
	if err != nil {
		return crdt.EventID{}, err
	}
	opIndexV, err := codec.Field(m, "opIndex")
	if err != nil {
		return crdt.EventID{}, err
	}
	opIndex, err := codec.AsInt64(opIndexV)
	if err != nil {
		return crdt.EventID{}, err
	}
	return crdt.EventID{
		Lamport:   lamport,
		Writer:    crdt.WriterID(writerS),
		PatchHash: hashS,
		OpIndex:   int(opIndex),
	}, nil
}

// parseDot parses the "<writer>@<counter>" rendering Dot.String produces.
func parseDot(s string) (crdt.Dot, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '@' {
			var counter uint64
			if _, err := fmt.Sscanf(s[i+1:], "%d", &counter); err != nil {
				return crdt.Dot{}, false
			}
			return crdt.Dot{Writer: crdt.WriterID(s[:i]), Counter: counter}, true
		}
	}
	return crdt.Dot{}, false
}

// ComputeAppliedVV computes the pointwise max of counters across every
// writer that appears in any live or tombstoned dot in state (spec.md
// §4.6). This is always safe to call and is independent of
// ObservedFrontier, which may exceed it (frontier includes patch
// contexts for entities that never touched the OR-Sets, e.g. pure
// PropSet patches).
func ComputeAppliedVV(s *State) crdt.VersionVector {
	vv := crdt.NewVersionVector()
	observeSet := func(set *crdt.ORSet[string]) {
		for el := range set.Entries {
			for _, d := range set.AllDots(el) {
				vv.ObserveDot(d)
			}
		}
		for d := range set.Tombstones {
			vv.ObserveDot(d)
		}
	}
	observeSet(s.NodeAlive)
	observeSet(s.EdgeAlive)
	return vv
}
