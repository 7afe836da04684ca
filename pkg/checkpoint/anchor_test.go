package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/patch"
	"github.com/orneryd/warp/pkg/refs"
	"github.com/orneryd/warp/pkg/store"
)

func TestCreateAnchorRecordsEveryWriterTip(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	w1 := newWriterChain(adapter, "g1", "w1")
	t1 := w1.commit(t, func(b *patch.Builder) { require.NoError(t, b.AddNode("alice")) })
	w2 := newWriterChain(adapter, "g1", "w2")
	t2 := w2.commit(t, func(b *patch.Builder) { require.NoError(t, b.AddNode("carol")) })

	hash, err := CreateAnchor(adapter, "g1", map[string]codec.Hash{"w1": t1, "w2": t2})
	require.NoError(t, err)

	info, err := adapter.GetNodeInfo(hash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []codec.Hash{t1, t2}, info.Parents)

	coverage, err := adapter.ReadRef(refs.Coverage("g1"))
	require.NoError(t, err)
	assert.Equal(t, hash, coverage)
}

func TestCreateAnchorAdvancesCoverageOnEachCall(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	w1 := newWriterChain(adapter, "g1", "w1")
	t1 := w1.commit(t, func(b *patch.Builder) { require.NoError(t, b.AddNode("alice")) })

	first, err := CreateAnchor(adapter, "g1", map[string]codec.Hash{"w1": t1})
	require.NoError(t, err)

	t2 := w1.commit(t, func(b *patch.Builder) { require.NoError(t, b.AddNode("bob")) })
	second, err := CreateAnchor(adapter, "g1", map[string]codec.Hash{"w1": t2})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	coverage, err := adapter.ReadRef(refs.Coverage("g1"))
	require.NoError(t, err)
	assert.Equal(t, second, coverage)
}

func TestCreateAnchorOmitsEmptyFrontierEntries(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	hash, err := CreateAnchor(adapter, "g1", map[string]codec.Hash{"w1": ""})
	require.NoError(t, err)

	info, err := adapter.GetNodeInfo(hash)
	require.NoError(t, err)
	assert.Empty(t, info.Parents)
}
