package checkpoint

import (
	"fmt"
	"sort"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/crdt"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/store"
)

// writeBlobValue canonically encodes v and stores it as a content-addressed blob.
func writeBlobValue(adapter store.Adapter, v any) (codec.Hash, error) {
	return adapter.WriteBlob(codec.Encode(v))
}

// readBlobValue reads and decodes the blob at hash back into the
// generic value tree. A zero hash (an entry the checkpoint tree never
// wrote, e.g. no provenance index) is never passed here by callers.
func readBlobValue(adapter store.Adapter, hash codec.Hash) (any, error) {
	raw, err := adapter.ReadBlob(hash)
	if err != nil {
		return nil, err
	}
	return codec.Decode(raw)
}

func frontierToMap(frontier map[string]codec.Hash) map[string]any {
	out := make(map[string]any, len(frontier))
	for writer, hash := range frontier {
		out[writer] = string(hash)
	}
	return out
}

func mapToFrontier(v any) (map[string]codec.Hash, error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return nil, fmt.Errorf("frontier: %w", err)
	}
	out := make(map[string]codec.Hash, len(m))
	for writer, hashV := range m {
		hashS, err := codec.AsString(hashV)
		if err != nil {
			return nil, fmt.Errorf("frontier[%q]: %w", writer, err)
		}
		out[writer] = codec.Hash(hashS)
	}
	return out, nil
}

func vvToMap(vv crdt.VersionVector) map[string]any {
	out := make(map[string]any, len(vv))
	for w, c := range vv {
		out[string(w)] = c
	}
	return out
}

func mapToVV(v any) (crdt.VersionVector, error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return nil, fmt.Errorf("versionVector: %w", err)
	}
	vv := crdt.NewVersionVector()
	for w, cV := range m {
		c, err := codec.AsUint64(cV)
		if err != nil {
			return nil, fmt.Errorf("versionVector[%q]: %w", w, err)
		}
		vv[crdt.WriterID(w)] = c
	}
	return vv, nil
}

// visibleProjection renders just the query-visible surface of state —
// alive nodes/edges and their current properties — with none of the
// OR-Set internals a schema>=2 reader needs. It exists only so schema<2
// checkpoints (written by a peer that hasn't adopted the authoritative
// state.cbor shape yet) remain loadable; new checkpoints always carry
// state.cbor too.
func visibleProjection(state *gstate.State) map[string]any {
	nodes := state.GetNodes()
	nodeList := make([]any, len(nodes))
	nodeProps := make(map[string]any, len(nodes))
	for i, id := range nodes {
		nodeList[i] = id
		if props := state.GetNodeProps(id); len(props) > 0 {
			nodeProps[id] = props
		}
	}

	edges := state.GetEdges()
	edgeList := make([]any, len(edges))
	edgeProps := make(map[string]any, len(edges))
	for i, e := range edges {
		edgeList[i] = map[string]any{"from": e.From, "to": e.To, "label": e.Label}
		key := gstate.EdgeKey(e.From, e.To, e.Label)
		if props := state.GetEdgeProps(key); len(props) > 0 {
			edgeProps[key] = props
		}
	}

	return map[string]any{
		"nodes":     nodeList,
		"edges":     edgeList,
		"nodeProps": nodeProps,
		"edgeProps": edgeProps,
	}
}

// stateFromCanonical decodes an authoritative schema>=2 state.cbor
// payload straight into a live gstate.State.
func stateFromCanonical(v any) (*gstate.State, error) {
	return gstate.FromCanonical(v)
}

// stateFromVisible rehydrates a legacy (schema<2) visible.cbor payload
// into a gstate.State by synthesizing one dot per node/edge and one LWW
// event per property, all attributed to legacyWriter at lamport 0. The
// resulting state supports reads immediately; it carries no tombstones,
// so a writer resuming from it replays its own chain from the frontier
// recorded alongside it rather than from this synthetic history.
func stateFromVisible(v any) (*gstate.State, error) {
	m, err := codec.AsMap(v)
	if err != nil {
		return nil, fmt.Errorf("visible: %w", err)
	}
	state := gstate.New()
	counter := uint64(0)
	nextDot := func() crdt.Dot {
		counter++
		return crdt.Dot{Writer: crdt.WriterID(legacyWriter), Counter: counter}
	}
	opIndex := 0
	nextEventID := func() crdt.EventID {
		opIndex++
		return crdt.EventID{Lamport: 0, Writer: crdt.WriterID(legacyWriter), PatchHash: "", OpIndex: opIndex}
	}

	nodesV, err := codec.Field(m, "nodes")
	if err != nil {
		return nil, fmt.Errorf("visible: %w", err)
	}
	nodes, err := codec.AsList(nodesV)
	if err != nil {
		return nil, fmt.Errorf("visible.nodes: %w", err)
	}
	ids := make([]string, 0, len(nodes))
	for _, item := range nodes {
		id, err := codec.AsString(item)
		if err != nil {
			return nil, fmt.Errorf("visible.nodes: %w", err)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		state.NodeAlive.Add(id, nextDot())
	}

	edgesV, err := codec.Field(m, "edges")
	if err != nil {
		return nil, fmt.Errorf("visible: %w", err)
	}
	edges, err := codec.AsList(edgesV)
	if err != nil {
		return nil, fmt.Errorf("visible.edges: %w", err)
	}
	type edgeRec struct{ key, from, to, label string }
	recs := make([]edgeRec, 0, len(edges))
	for _, item := range edges {
		em, err := codec.AsMap(item)
		if err != nil {
			return nil, fmt.Errorf("visible.edges: %w", err)
		}
		from, err := fieldString(em, "from")
		if err != nil {
			return nil, err
		}
		to, err := fieldString(em, "to")
		if err != nil {
			return nil, err
		}
		label, err := fieldString(em, "label")
		if err != nil {
			return nil, err
		}
		recs = append(recs, edgeRec{key: gstate.EdgeKey(from, to, label), from: from, to: to, label: label})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].key < recs[j].key })
	for _, r := range recs {
		dot := nextDot()
		state.EdgeAlive.Add(r.key, dot)
		state.EdgeBirthEvent[r.key] = crdt.EventID{Lamport: 0, Writer: crdt.WriterID(legacyWriter), PatchHash: "", OpIndex: -1}
	}

	nodePropsV, ok := codec.OptField(m, "nodeProps")
	if ok {
		if err := rehydrateProps(nodePropsV, state, nextEventID, gstate.NodePropKey); err != nil {
			return nil, fmt.Errorf("visible.nodeProps: %w", err)
		}
	}
	edgePropsV, ok := codec.OptField(m, "edgeProps")
	if ok {
		if err := rehydrateProps(edgePropsV, state, nextEventID, gstate.EdgePropKey); err != nil {
			return nil, fmt.Errorf("visible.edgeProps: %w", err)
		}
	}

	return state, nil
}

func rehydrateProps(v any, state *gstate.State, nextEventID func() crdt.EventID, keyFn func(owner, key string) string) error {
	m, err := codec.AsMap(v)
	if err != nil {
		return err
	}
	owners := make([]string, 0, len(m))
	for owner := range m {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		propsM, err := codec.AsMap(m[owner])
		if err != nil {
			return fmt.Errorf("%q: %w", owner, err)
		}
		keys := make([]string, 0, len(propsM))
		for k := range propsM {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			state.Prop[keyFn(owner, k)] = crdt.LWWRegister{EventID: nextEventID(), Value: propsM[k]}
		}
	}
	return nil
}

func fieldString(m map[string]any, key string) (string, error) {
	v, err := codec.Field(m, key)
	if err != nil {
		return "", err
	}
	return codec.AsString(v)
}
