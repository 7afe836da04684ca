package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/reducer"
)

func receipt(hash string) *reducer.TickReceipt {
	return &reducer.TickReceipt{PatchHash: codec.Hash(hash)}
}

func TestNopSinkDiscards(t *testing.T) {
	var s NopSink
	s.Record(receipt("a"))
}

func TestRingSinkRetainsUpToCapacityOldestFirst(t *testing.T) {
	s := NewRingSink(3)
	s.Record(receipt("a"))
	s.Record(receipt("b"))

	recent := s.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, codec.Hash("a"), recent[0].PatchHash)
	assert.Equal(t, codec.Hash("b"), recent[1].PatchHash)
	assert.Equal(t, 2, s.Len())
}

func TestRingSinkOverwritesOldestWhenFull(t *testing.T) {
	s := NewRingSink(2)
	s.Record(receipt("a"))
	s.Record(receipt("b"))
	s.Record(receipt("c"))

	recent := s.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, codec.Hash("b"), recent[0].PatchHash)
	assert.Equal(t, codec.Hash("c"), recent[1].PatchHash)
	assert.Equal(t, 2, s.Len())
}
