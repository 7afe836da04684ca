package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/warp/pkg/crdt"
)

func TestPatchHashIsStableAcrossEqualContent(t *testing.T) {
	p1 := &Patch{Schema: Schema, Writer: "w1", Lamport: 1, Context: crdt.VersionVector{"w1": 1},
		Ops: []Op{NodeAdd("alice", crdt.Dot{Writer: "w1", Counter: 1})}}
	p2 := &Patch{Schema: Schema, Writer: "w1", Lamport: 1, Context: crdt.VersionVector{"w1": 1},
		Ops: []Op{NodeAdd("alice", crdt.Dot{Writer: "w1", Counter: 1})}}

	assert.Equal(t, p1.Hash(), p2.Hash())
}

func TestPatchHashChangesWithOpContent(t *testing.T) {
	p1 := &Patch{Schema: Schema, Writer: "w1", Lamport: 1, Context: crdt.NewVersionVector(),
		Ops: []Op{NodeAdd("alice", crdt.Dot{Writer: "w1", Counter: 1})}}
	p2 := &Patch{Schema: Schema, Writer: "w1", Lamport: 1, Context: crdt.NewVersionVector(),
		Ops: []Op{NodeAdd("bob", crdt.Dot{Writer: "w1", Counter: 1})}}

	assert.NotEqual(t, p1.Hash(), p2.Hash())
}

func TestPatchMaxWriterCounterConsidersDotsAndObservedDots(t *testing.T) {
	p := &Patch{Writer: "w1", Ops: []Op{
		NodeAdd("alice", crdt.Dot{Writer: "w1", Counter: 3}),
		NodeRemove("bob", []crdt.Dot{{Writer: "w1", Counter: 7}, {Writer: "w2", Counter: 99}}),
	}}
	assert.Equal(t, uint64(7), p.MaxWriterCounter())
}

func TestPatchCausalKeyAndSortCausally(t *testing.T) {
	p1 := &Patch{Schema: Schema, Writer: "w2", Lamport: 1, Context: crdt.NewVersionVector()}
	p2 := &Patch{Schema: Schema, Writer: "w1", Lamport: 1, Context: crdt.NewVersionVector()}
	p3 := &Patch{Schema: Schema, Writer: "w1", Lamport: 2, Context: crdt.NewVersionVector()}

	patches := []*Patch{p3, p1, p2}
	SortCausally(patches)

	assert.Equal(t, []*Patch{p2, p1, p3}, patches)
}

func TestPatchToMapFromMapRoundTrips(t *testing.T) {
	p := &Patch{
		Schema:  Schema,
		Writer:  "w1",
		Lamport: 3,
		Context: crdt.VersionVector{"w1": 2},
		Ops: []Op{
			NodeAdd("alice", crdt.Dot{Writer: "w1", Counter: 1}),
			EdgeAdd("alice", "bob", "knows", crdt.Dot{Writer: "w1", Counter: 2}),
			PropSet("alice", "age", int64(30)),
			NodeRemove("carol", []crdt.Dot{{Writer: "w1", Counter: 1}}),
			EdgeRemove("alice", "bob", "knows", []crdt.Dot{{Writer: "w1", Counter: 2}}),
		},
		Reads:  []string{"alice"},
		Writes: []string{"alice", "bob"},
	}

	restored, err := FromMap(p.ToMap())
	require.NoError(t, err)
	assert.Equal(t, p.Hash(), restored.Hash())
	assert.Equal(t, p.Reads, restored.Reads)
	assert.Equal(t, p.Writes, restored.Writes)
	require.Len(t, restored.Ops, len(p.Ops))
	assert.Equal(t, OpNodeAdd, restored.Ops[0].Type)
	assert.Equal(t, "alice", restored.Ops[0].NodeID)
}

func TestPatchFromMapPreservesUnknownOpType(t *testing.T) {
	p := &Patch{Schema: Schema, Writer: "w1", Lamport: 1, Context: crdt.NewVersionVector(),
		Ops: []Op{{Type: "FutureOp", Unknown: map[string]any{"type": "FutureOp", "payload": "x"}}}}

	restored, err := FromMap(p.ToMap())
	require.NoError(t, err)
	require.Len(t, restored.Ops, 1)
	assert.Equal(t, OpType("FutureOp"), restored.Ops[0].Type)
}

func TestPatchFromMapRejectsMissingField(t *testing.T) {
	_, err := FromMap(map[string]any{})
	assert.Error(t, err)
}

func TestPatchReadsNilMeansOmittedFromMap(t *testing.T) {
	p := &Patch{Schema: Schema, Writer: "w1", Lamport: 1, Context: crdt.NewVersionVector()}
	m := p.ToMap()
	_, hasReads := m["reads"]
	_, hasWrites := m["writes"]
	assert.False(t, hasReads)
	assert.False(t, hasWrites)
}
