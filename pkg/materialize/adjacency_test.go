package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/crdt"
	"github.com/orneryd/warp/pkg/gstate"
)

func TestBuildAdjacencySortsNeighborsByIDThenLabel(t *testing.T) {
	state := gstate.New()
	counter := uint64(0)
	nextDot := func() crdt.Dot {
		counter++
		return crdt.Dot{Writer: "w1", Counter: counter}
	}
	for _, id := range []string{"a", "b", "c"} {
		state.NodeAlive.Add(id, nextDot())
	}
	state.EdgeAlive.Add(gstate.EdgeKey("a", "c", "z"), nextDot())
	state.EdgeAlive.Add(gstate.EdgeKey("a", "b", "x"), nextDot())
	state.EdgeAlive.Add(gstate.EdgeKey("a", "b", "y"), nextDot())

	adj := BuildAdjacency(state)

	out := adj.Outgoing["a"]
	if assert.Len(t, out, 3) {
		assert.Equal(t, "b", out[0].ID)
		assert.Equal(t, "x", out[0].Label)
		assert.Equal(t, "b", out[1].ID)
		assert.Equal(t, "y", out[1].Label)
		assert.Equal(t, "c", out[2].ID)
	}
}

func TestAdjacencyCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newAdjacencyCache(2)
	a, b, cc := codec.Hash("a"), codec.Hash("b"), codec.Hash("c")

	c.put(a, &Adjacency{})
	c.put(b, &Adjacency{})
	_, ok := c.get(a) // touch a so it's most-recently-used
	assert.True(t, ok)

	c.put(cc, &Adjacency{}) // evicts b, the least recently used

	_, ok = c.get(b)
	assert.False(t, ok)
	_, ok = c.get(a)
	assert.True(t, ok)
	_, ok = c.get(cc)
	assert.True(t, ok)
}
