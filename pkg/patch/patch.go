// Package patch defines WARP's patch wire format and the builder that
// accumulates ops into one, matching a writer's per-patch lifecycle
// from spec.md §3 and §4.2.
package patch

import (
	"fmt"
	"sort"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/crdt"
)

// Schema is the current patch schema version.
const Schema = 2

// OpType names a recognized op kind. Any other string decoded from the
// wire is kept as an Unknown op (spec.md §3: "Unknown op types are
// accepted silently... such ops contribute nothing to state or
// receipts").
type OpType string

const (
	OpNodeAdd    OpType = "NodeAdd"
	OpNodeRemove OpType = "NodeRemove"
	OpEdgeAdd    OpType = "EdgeAdd"
	OpEdgeRemove OpType = "EdgeRemove"
	OpPropSet    OpType = "PropSet"
)

// Op is one entry in a patch's op list. Not every field is meaningful
// for every Type; see the per-type constructors below.
type Op struct {
	Type OpType

	// NodeAdd / EdgeAdd
	Dot crdt.Dot

	// NodeRemove / EdgeRemove
	ObservedDots []crdt.Dot

	// NodeAdd / NodeRemove
	NodeID string

	// EdgeAdd / EdgeRemove
	From, To, Label string

	// PropSet
	Target string
	Key    string
	Value  any

	// Unknown carries the raw decoded fields of an op type this build
	// doesn't recognize, so it round-trips losslessly through re-encode.
	Unknown map[string]any
}

func NodeAdd(id string, dot crdt.Dot) Op {
	return Op{Type: OpNodeAdd, NodeID: id, Dot: dot}
}

func NodeRemove(id string, observed []crdt.Dot) Op {
	return Op{Type: OpNodeRemove, NodeID: id, ObservedDots: observed}
}

func EdgeAdd(from, to, label string, dot crdt.Dot) Op {
	return Op{Type: OpEdgeAdd, From: from, To: to, Label: label, Dot: dot}
}

func EdgeRemove(from, to, label string, observed []crdt.Dot) Op {
	return Op{Type: OpEdgeRemove, From: from, To: to, Label: label, ObservedDots: observed}
}

func PropSet(target, key string, value any) Op {
	return Op{Type: OpPropSet, Target: target, Key: key, Value: value}
}

// Patch is one writer's atomic batch of ops (spec.md §3).
type Patch struct {
	Schema  int
	Writer  crdt.WriterID
	Lamport uint64
	Context crdt.VersionVector
	Ops     []Op
	Reads   []string // nil means "unknown", not "empty"
	Writes  []string
}

// MaxWriterCounter returns the highest counter among dots this patch
// attaches for Writer — used by the reducer to advance the observed
// frontier's entry for this writer (spec.md §4.1).
func (p *Patch) MaxWriterCounter() uint64 {
	var max uint64
	for _, op := range p.Ops {
		if op.Dot.Writer == p.Writer && op.Dot.Counter > max {
			max = op.Dot.Counter
		}
		for _, d := range op.ObservedDots {
			if d.Writer == p.Writer && d.Counter > max {
				max = d.Counter
			}
		}
	}
	return max
}

// ToMap renders p as the canonical sorted-key value tree from spec.md
// §6. Encoding this with pkg/codec is what two peers must agree on
// byte-for-byte for patch-hash equality.
func (p *Patch) ToMap() map[string]any {
	ctx := make(map[string]any, len(p.Context))
	for w, c := range p.Context {
		ctx[string(w)] = c
	}
	ops := make([]any, len(p.Ops))
	for i, op := range p.Ops {
		ops[i] = opToMap(op)
	}
	m := map[string]any{
		"schema":  int64(p.Schema),
		"writer":  string(p.Writer),
		"lamport": p.Lamport,
		"context": ctx,
		"ops":     ops,
	}
	if p.Reads != nil {
		m["reads"] = stringsToAny(p.Reads)
	}
	if p.Writes != nil {
		m["writes"] = stringsToAny(p.Writes)
	}
	return m
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func opToMap(op Op) map[string]any {
	if op.Unknown != nil {
		return op.Unknown
	}
	switch op.Type {
	case OpNodeAdd:
		return map[string]any{"type": string(op.Type), "id": op.NodeID, "dot": dotToMap(op.Dot)}
	case OpNodeRemove:
		return map[string]any{"type": string(op.Type), "id": op.NodeID, "observedDots": dotsToStrings(op.ObservedDots)}
	case OpEdgeAdd:
		return map[string]any{"type": string(op.Type), "from": op.From, "to": op.To, "label": op.Label, "dot": dotToMap(op.Dot)}
	case OpEdgeRemove:
		return map[string]any{"type": string(op.Type), "from": op.From, "to": op.To, "label": op.Label, "observedDots": dotsToStrings(op.ObservedDots)}
	case OpPropSet:
		return map[string]any{"type": string(op.Type), "target": op.Target, "key": op.Key, "value": op.Value}
	default:
		return map[string]any{"type": string(op.Type)}
	}
}

func dotToMap(d crdt.Dot) map[string]any {
	return map[string]any{"writer": string(d.Writer), "counter": d.Counter}
}

func dotsToStrings(dots []crdt.Dot) []any {
	out := make([]any, len(dots))
	for i, d := range dots {
		out[i] = d.String()
	}
	return out
}

// Hash is the content address of p — the hash the patch blob would
// take on when written to the storage adapter, assuming byte-identical
// canonical encoding (spec.md §9 "codec symmetry").
func (p *Patch) Hash() codec.Hash {
	return codec.HashValue(p.ToMap())
}

// CausalKey returns p's position in the causal sort order (spec.md
// §4.1): (lamport, writer, patch-hash).
func (p *Patch) CausalKey() crdt.CausalKey {
	return crdt.CausalKey{Lamport: p.Lamport, Writer: p.Writer, PatchHash: string(p.Hash())}
}

// SortCausally sorts patches ascending by CausalKey, in place.
func SortCausally(patches []*Patch) {
	sort.Slice(patches, func(i, j int) bool {
		return patches[i].CausalKey().Less(patches[j].CausalKey())
	})
}

// FromMap reconstructs a Patch from the generic value tree produced by
// codec.Decode. Malformed input returns a codec-flavored error rather
// than panicking (spec.md §7).
func FromMap(v any) (*Patch, error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	schemaV, err := codec.Field(m, "schema")
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	schema, err := codec.AsInt64(schemaV)
	if err != nil {
		return nil, fmt.Errorf("patch: schema: %w", err)
	}
	writerV, err := codec.Field(m, "writer")
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	writer, err := codec.AsString(writerV)
	if err != nil {
		return nil, fmt.Errorf("patch: writer: %w", err)
	}
	lamportV, err := codec.Field(m, "lamport")
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	lamport, err := codec.AsUint64(lamportV)
	if err != nil {
		return nil, fmt.Errorf("patch: lamport: %w", err)
	}
	ctxV, err := codec.Field(m, "context")
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	ctxMap, err := codec.AsMap(ctxV)
	if err != nil {
		return nil, fmt.Errorf("patch: context: %w", err)
	}
	ctx := crdt.NewVersionVector()
	for w, c := range ctxMap {
		cnt, err := codec.AsUint64(c)
		if err != nil {
			return nil, fmt.Errorf("patch: context[%s]: %w", w, err)
		}
		ctx[crdt.WriterID(w)] = cnt
	}
	opsV, err := codec.Field(m, "ops")
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	opsList, err := codec.AsList(opsV)
	if err != nil {
		return nil, fmt.Errorf("patch: ops: %w", err)
	}
	ops := make([]Op, 0, len(opsList))
	for i, raw := range opsList {
		op, err := opFromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("patch: ops[%d]: %w", i, err)
		}
		ops = append(ops, op)
	}
	p := &Patch{
		Schema:  int(schema),
		Writer:  crdt.WriterID(writer),
		Lamport: lamport,
		Context: ctx,
		Ops:     ops,
	}
	if readsV, ok := codec.OptField(m, "reads"); ok {
		p.Reads, err = decodeStringList(readsV)
		if err != nil {
			return nil, fmt.Errorf("patch: reads: %w", err)
		}
	}
	if writesV, ok := codec.OptField(m, "writes"); ok {
		p.Writes, err = decodeStringList(writesV)
		if err != nil {
			return nil, fmt.Errorf("patch: writes: %w", err)
		}
	}
	return p, nil
}

func decodeStringList(v any) ([]string, error) {
	list, err := codec.AsList(v)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(list))
	for i, item := range list {
		s, err := codec.AsString(item)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func opFromMap(v any) (Op, error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return Op{}, err
	}
	typeV, err := codec.Field(m, "type")
	if err != nil {
		return Op{}, err
	}
	typeStr, err := codec.AsString(typeV)
	if err != nil {
		return Op{}, err
	}
	switch OpType(typeStr) {
	case OpNodeAdd:
		id, err := fieldString(m, "id")
		if err != nil {
			return Op{}, err
		}
		dot, err := dotFromMap(m, "dot")
		if err != nil {
			return Op{}, err
		}
		return NodeAdd(id, dot), nil
	case OpNodeRemove:
		id, err := fieldString(m, "id")
		if err != nil {
			return Op{}, err
		}
		dots, err := dotsFromField(m, "observedDots")
		if err != nil {
			return Op{}, err
		}
		return NodeRemove(id, dots), nil
	case OpEdgeAdd:
		from, to, label, err := fieldEdge(m)
		if err != nil {
			return Op{}, err
		}
		dot, err := dotFromMap(m, "dot")
		if err != nil {
			return Op{}, err
		}
		return EdgeAdd(from, to, label, dot), nil
	case OpEdgeRemove:
		from, to, label, err := fieldEdge(m)
		if err != nil {
			return Op{}, err
		}
		dots, err := dotsFromField(m, "observedDots")
		if err != nil {
			return Op{}, err
		}
		return EdgeRemove(from, to, label, dots), nil
	case OpPropSet:
		target, err := fieldString(m, "target")
		if err != nil {
			return Op{}, err
		}
		key, err := fieldString(m, "key")
		if err != nil {
			return Op{}, err
		}
		value, err := codec.Field(m, "value")
		if err != nil {
			return Op{}, err
		}
		return PropSet(target, key, value), nil
	default:
		return Op{Type: OpType(typeStr), Unknown: m}, nil
	}
}

func fieldString(m map[string]any, key string) (string, error) {
	v, err := codec.Field(m, key)
	if err != nil {
		return "", err
	}
	return codec.AsString(v)
}

func fieldEdge(m map[string]any) (from, to, label string, err error) {
	if from, err = fieldString(m, "from"); err != nil {
		return
	}
	if to, err = fieldString(m, "to"); err != nil {
		return
	}
	label, err = fieldString(m, "label")
	return
}

func dotFromMap(m map[string]any, key string) (crdt.Dot, error) {
	v, err := codec.Field(m, key)
	if err != nil {
		return crdt.Dot{}, err
	}
	dm, err := codec.AsMap(v)
	if err != nil {
		return crdt.Dot{}, err
	}
	writer, err := fieldString(dm, "writer")
	if err != nil {
		return crdt.Dot{}, err
	}
	counterV, err := codec.Field(dm, "counter")
	if err != nil {
		return crdt.Dot{}, err
	}
	counter, err := codec.AsUint64(counterV)
	if err != nil {
		return crdt.Dot{}, err
	}
	return crdt.Dot{Writer: crdt.WriterID(writer), Counter: counter}, nil
}

func dotsFromField(m map[string]any, key string) ([]crdt.Dot, error) {
	v, err := codec.Field(m, key)
	if err != nil {
		return nil, err
	}
	list, err := codec.AsList(v)
	if err != nil {
		return nil, err
	}
	out := make([]crdt.Dot, 0, len(list))
	for _, item := range list {
		s, err := codec.AsString(item)
		if err != nil {
			return nil, err
		}
		d, ok := parseDotString(s)
		if !ok {
			return nil, fmt.Errorf("malformed dot string %q", s)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseDotString(s string) (crdt.Dot, bool) {
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
