package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/warp/pkg/crdt"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/store"
	"github.com/orneryd/warp/pkg/warperr"
)

func TestBuilderAddNodeRejectsReservedID(t *testing.T) {
	b := NewBuilder("w1", gstate.New(), DeleteWarn, 0, nil)
	err := b.AddNode(gstate.EdgePropPrefix)
	assert.Error(t, err)
}

func TestBuilderAddNodeAllocatesIncrementingDots(t *testing.T) {
	state := gstate.New()
	b := NewBuilder("w1", state, DeleteWarn, 0, nil)
	require.NoError(t, b.AddNode("alice"))
	require.NoError(t, b.AddNode("bob"))

	require.Len(t, b.ops, 2)
	assert.Equal(t, uint64(1), b.ops[0].Dot.Counter)
	assert.Equal(t, uint64(2), b.ops[1].Dot.Counter)
}

func TestBuilderAddNodeStartsCounterAfterObservedFrontier(t *testing.T) {
	state := gstate.New()
	state.ObservedFrontier.Observe("w1", 5)
	b := NewBuilder("w1", state, DeleteWarn, 0, nil)
	require.NoError(t, b.AddNode("alice"))
	assert.Equal(t, uint64(6), b.ops[0].Dot.Counter)
}

func TestBuilderRemoveNodeErrorsWhenNotAlive(t *testing.T) {
	b := NewBuilder("w1", gstate.New(), DeleteWarn, 0, nil)
	err := b.RemoveNode("ghost")
	assert.ErrorIs(t, err, warperr.ErrEntityNotFound)
}

func TestBuilderRemoveNodeRejectPolicyFailsWithLiveEdge(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alice", crdt.Dot{Writer: "w1", Counter: 1})
	state.NodeAlive.Add("bob", crdt.Dot{Writer: "w1", Counter: 2})
	state.EdgeAlive.Add(gstate.EdgeKey("alice", "bob", "knows"), crdt.Dot{Writer: "w1", Counter: 3})

	b := NewBuilder("w1", state, DeleteReject, 3, nil)
	err := b.RemoveNode("alice")
	assert.ErrorIs(t, err, warperr.ErrBackfillRejected)
}

func TestBuilderRemoveNodeCascadePolicyRemovesIncidentEdgesFirst(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alice", crdt.Dot{Writer: "w1", Counter: 1})
	state.NodeAlive.Add("bob", crdt.Dot{Writer: "w1", Counter: 2})
	state.EdgeAlive.Add(gstate.EdgeKey("alice", "bob", "knows"), crdt.Dot{Writer: "w1", Counter: 3})

	b := NewBuilder("w1", state, DeleteCascade, 3, nil)
	require.NoError(t, b.RemoveNode("alice"))

	var sawEdgeRemove, sawNodeRemove bool
	for _, op := range b.ops {
		switch op.Type {
		case OpEdgeRemove:
			sawEdgeRemove = true
		case OpNodeRemove:
			sawNodeRemove = true
		}
	}
	assert.True(t, sawEdgeRemove, "cascade must buffer an EdgeRemove before the NodeRemove")
	assert.True(t, sawNodeRemove)
}

func TestBuilderRemoveNodeWarnPolicyAllowsDanglingEdge(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alice", crdt.Dot{Writer: "w1", Counter: 1})
	state.NodeAlive.Add("bob", crdt.Dot{Writer: "w1", Counter: 2})
	state.EdgeAlive.Add(gstate.EdgeKey("alice", "bob", "knows"), crdt.Dot{Writer: "w1", Counter: 3})

	b := NewBuilder("w1", state, DeleteWarn, 3, nil)
	require.NoError(t, b.RemoveNode("alice"))

	for _, op := range b.ops {
		assert.NotEqual(t, OpEdgeRemove, op.Type, "warn policy must not buffer an edge removal")
	}
}

func TestBuilderAddEdgeRequiresBothEndpointsAlive(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alice", crdt.Dot{Writer: "w1", Counter: 1})
	b := NewBuilder("w1", state, DeleteWarn, 1, nil)

	err := b.AddEdge("alice", "bob", "knows")
	assert.Error(t, err)
}

func TestBuilderRemoveEdgeErrorsWhenNotAlive(t *testing.T) {
	b := NewBuilder("w1", gstate.New(), DeleteWarn, 0, nil)
	err := b.RemoveEdge("alice", "bob", "knows")
	assert.ErrorIs(t, err, warperr.ErrEntityNotFound)
}

func TestBuilderSetNodePropRequiresAliveNode(t *testing.T) {
	b := NewBuilder("w1", gstate.New(), DeleteWarn, 0, nil)
	err := b.SetNodeProp("ghost", "age", int64(1))
	assert.ErrorIs(t, err, warperr.ErrEntityNotFound)
}

func TestBuilderSetEdgePropRequiresAliveEdge(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alice", crdt.Dot{Writer: "w1", Counter: 1})
	state.NodeAlive.Add("bob", crdt.Dot{Writer: "w1", Counter: 2})
	b := NewBuilder("w1", state, DeleteWarn, 2, nil)

	err := b.SetEdgeProp("alice", "bob", "knows", "since", "2020")
	assert.ErrorIs(t, err, warperr.ErrEntityNotFound)
}

func TestBuilderAttachContentWithoutWriterErrors(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alice", crdt.Dot{Writer: "w1", Counter: 1})
	b := NewBuilder("w1", state, DeleteWarn, 1, nil)

	err := b.AttachContent("alice", "avatar", []byte("x"))
	assert.Error(t, err)
}

func TestBuilderAttachContentWritesBlobAndSetsProp(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	state := gstate.New()
	state.NodeAlive.Add("alice", crdt.Dot{Writer: "w1", Counter: 1})
	b := NewBuilder("w1", state, DeleteWarn, 1, adapter)

	require.NoError(t, b.AttachContent("alice", "avatar", []byte("hello")))
	require.Len(t, b.ContentBlobs(), 1)

	var sawPropSet bool
	for _, op := range b.ops {
		if op.Type == OpPropSet && op.Key == "avatar" {
			sawPropSet = true
			assert.Equal(t, string(b.ContentBlobs()[0]), op.Value)
		}
	}
	assert.True(t, sawPropSet)
}

func TestBuilderBuildSetsLamportAndSortedReadsWrites(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alice", crdt.Dot{Writer: "w1", Counter: 1})
	b := NewBuilder("w1", state, DeleteWarn, 4, nil)

	require.NoError(t, b.AddNode("zoe"))
	require.NoError(t, b.RemoveNode("alice"))

	p := b.Build()
	assert.Equal(t, uint64(5), p.Lamport)
	assert.Equal(t, Schema, p.Schema)
	assert.Equal(t, []string{"alice"}, p.Reads)
	assert.Equal(t, []string{"alice", "zoe"}, p.Writes)
}

func TestBuilderOpCountTracksBufferedOps(t *testing.T) {
	state := gstate.New()
	b := NewBuilder("w1", state, DeleteWarn, 0, nil)
	assert.Equal(t, 0, b.OpCount())
	require.NoError(t, b.AddNode("alice"))
	assert.Equal(t, 1, b.OpCount())
}
