// Package reducer folds patches into graph state: the join operation at
// the center of WARP's CRDT engine (spec.md §4.1).
package reducer

import (
	"fmt"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/crdt"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/patch"
)

// Outcome classifies how one op affected state.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeRedundant  Outcome = "redundant"
	OutcomeSuperseded Outcome = "superseded"
)

// OpReceipt records the result of applying one op.
type OpReceipt struct {
	Op      patch.OpType
	Target  string
	Result  Outcome
	Reason  string
	Winner  *WinnerInfo // set on OutcomeSuperseded for PropSet
}

// WinnerInfo identifies the register that won a PropSet join the caller
// lost.
type WinnerInfo struct {
	Writer  crdt.WriterID
	Lamport uint64
}

// TickReceipt is the frozen result of one Join call.
type TickReceipt struct {
	PatchHash codec.Hash
	Writer    crdt.WriterID
	Lamport   uint64
	Ops       []OpReceipt
}

// Options controls a Join or Reduce call.
type Options struct {
	CollectReceipts bool
}

// Join applies p's ops, in order, to state in place and returns the
// tick receipt when requested (spec.md §4.1). Malformed patch ops
// surface as an error from the codec layer rather than a panic; Join
// never partially-applies a patch with a structural decode error, but a
// patch that decoded cleanly always applies fully — there is no
// mid-patch abort on semantic grounds, since the reducer assumes
// builder-side policy was already enforced.
func Join(state *gstate.State, p *patch.Patch, patchHash codec.Hash, opts Options) (*TickReceipt, error) {
	var receipts []OpReceipt
	if opts.CollectReceipts {
		receipts = make([]OpReceipt, 0, len(p.Ops))
	}

	for i, op := range p.Ops {
		eventID := crdt.EventID{Lamport: p.Lamport, Writer: p.Writer, PatchHash: string(patchHash), OpIndex: i}
		r, err := applyOp(state, op, eventID)
		if err != nil {
			return nil, fmt.Errorf("reducer: op %d: %w", i, err)
		}
		if opts.CollectReceipts {
			receipts = append(receipts, r)
		}
	}

	state.ObservedFrontier.MergeFrom(p.Context)
	if max := p.MaxWriterCounter(); max > 0 {
		state.ObservedFrontier.Observe(p.Writer, max)
	}

	if !opts.CollectReceipts {
		return nil, nil
	}
	return &TickReceipt{PatchHash: patchHash, Writer: p.Writer, Lamport: p.Lamport, Ops: receipts}, nil
}

func applyOp(state *gstate.State, op patch.Op, eventID crdt.EventID) (OpReceipt, error) {
	switch op.Type {
	case patch.OpNodeAdd:
		result := state.NodeAlive.Add(op.NodeID, op.Dot)
		return OpReceipt{Op: op.Type, Target: op.NodeID, Result: setOutcome(result)}, nil

	case patch.OpNodeRemove:
		result := state.NodeAlive.Remove(op.ObservedDots)
		return OpReceipt{Op: op.Type, Target: op.NodeID, Result: setOutcome(result)}, nil

	case patch.OpEdgeAdd:
		key := gstate.EdgeKey(op.From, op.To, op.Label)
		result := state.EdgeAlive.Add(key, op.Dot)
		if result == crdt.Applied {
			if cur, ok := state.EdgeBirthEvent[key]; !ok || cur.Less(eventID) {
				state.EdgeBirthEvent[key] = eventID
			}
		}
		return OpReceipt{Op: op.Type, Target: key, Result: setOutcome(result)}, nil

	case patch.OpEdgeRemove:
		key := gstate.EdgeKey(op.From, op.To, op.Label)
		result := state.EdgeAlive.Remove(op.ObservedDots)
		return OpReceipt{Op: op.Type, Target: key, Result: setOutcome(result)}, nil

	case patch.OpPropSet:
		return applyPropSet(state, op, eventID)

	default:
		// Unknown op types are accepted silently and contribute nothing
		// (spec.md §3: forward-compatible).
		return OpReceipt{Op: op.Type, Result: OutcomeRedundant, Reason: "unknown op type ignored"}, nil
	}
}

func setOutcome(r crdt.AddResult) Outcome {
	if r == crdt.Applied {
		return OutcomeApplied
	}
	return OutcomeRedundant
}

func applyPropSet(state *gstate.State, op patch.Op, eventID crdt.EventID) (OpReceipt, error) {
	key := propKey(op.Target, op.Key)
	incoming := crdt.LWWRegister{EventID: eventID, Value: op.Value}
	existing := state.Prop[key]
	winner, outcome := existing.Join(incoming)
	state.Prop[key] = winner

	receipt := OpReceipt{Op: op.Type, Target: op.Target}
	switch outcome {
	case crdt.OutcomeApplied:
		receipt.Result = OutcomeApplied
	case crdt.OutcomeRedundant:
		receipt.Result = OutcomeRedundant
	case crdt.OutcomeSuperseded:
		receipt.Result = OutcomeSuperseded
		receipt.Winner = &WinnerInfo{Writer: winner.EventID.Writer, Lamport: winner.EventID.Lamport}
	}
	return receipt, nil
}

// propKey resolves a PropSet target into its flat storage key: an edge
// key (from\0to\0label) if target decodes as one, a plain node-id
// otherwise.
func propKey(target, key string) string {
	if _, _, _, ok := gstate.SplitEdgeKey(target); ok {
		return gstate.EdgePropKey(target, key)
	}
	return gstate.NodePropKey(target, key)
}

// Reduce folds patches, in the caller-supplied order, starting from
// initial (or a fresh empty state if nil). Callers must sort patches
// causally beforehand when determinism across replicas is required —
// Reduce itself applies in whatever order it's given (spec.md §4.1).
func Reduce(patches []*patch.Patch, initial *gstate.State, opts Options) (*gstate.State, []*TickReceipt, error) {
	state := initial
	if state == nil {
		state = gstate.New()
	}
	var receipts []*TickReceipt
	if opts.CollectReceipts {
		receipts = make([]*TickReceipt, 0, len(patches))
	}
	for _, p := range patches {
		r, err := Join(state, p, p.Hash(), opts)
		if err != nil {
			return nil, nil, err
		}
		if opts.CollectReceipts {
			receipts = append(receipts, r)
		}
	}
	return state, receipts, nil
}
