package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/crdt"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/patch"
	"github.com/orneryd/warp/pkg/reducer"
	"github.com/orneryd/warp/pkg/refs"
	"github.com/orneryd/warp/pkg/store"
)

type writerChain struct {
	adapter     store.Adapter
	graph       string
	writer      crdt.WriterID
	state       *gstate.State
	lastLamport uint64
}

func newWriterChain(adapter store.Adapter, graph string, writer crdt.WriterID) *writerChain {
	return &writerChain{adapter: adapter, graph: graph, writer: writer, state: gstate.New()}
}

func (w *writerChain) commit(t *testing.T, build func(b *patch.Builder)) codec.Hash {
	t.Helper()
	b := patch.NewBuilder(w.writer, w.state, patch.DeleteWarn, w.lastLamport, w.adapter)
	build(b)
	p := b.Build()
	commitHash, err := patch.Commit(w.adapter, w.graph, p, b.ContentBlobs())
	require.NoError(t, err)
	_, err = reducer.Join(w.state, p, p.Hash(), reducer.Options{})
	require.NoError(t, err)
	w.lastLamport = p.Lamport
	return commitHash
}

func TestCreateAndLoadRoundTrips(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	w1 := newWriterChain(adapter, "g1", "w1")
	w1.commit(t, func(b *patch.Builder) { require.NoError(t, b.AddNode("alice")) })
	tip := w1.commit(t, func(b *patch.Builder) { require.NoError(t, b.AddNode("bob")) })

	frontier := map[string]codec.Hash{"w1": tip}
	cp, err := Create(adapter, "g1", w1.state, frontier, nil)
	require.NoError(t, err)
	assert.Equal(t, Schema, cp.Schema)

	loaded, ok, err := Load(adapter, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loaded.State.HasNode("alice"))
	assert.True(t, loaded.State.HasNode("bob"))
	assert.Equal(t, tip, loaded.Frontier["w1"])
}

func TestLoadMissingCheckpointReturnsNotOK(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	_, ok, err := Load(adapter, "g1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateAdvancesCoverageAnchor(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	w1 := newWriterChain(adapter, "g1", "w1")
	tip := w1.commit(t, func(b *patch.Builder) { require.NoError(t, b.AddNode("alice")) })

	_, err := Create(adapter, "g1", w1.state, map[string]codec.Hash{"w1": tip}, nil)
	require.NoError(t, err)

	anchorHash, err := adapter.ReadRef(refs.Coverage("g1"))
	require.NoError(t, err)
	assert.NotEmpty(t, anchorHash)

	info, err := adapter.GetNodeInfo(anchorHash)
	require.NoError(t, err)
	msg, err := refs.ParseMessage(info.Message)
	require.NoError(t, err)
	assert.Equal(t, refs.KindAnchor, msg.Kind)
	assert.Equal(t, "g1", msg.Trailers["graph"])
	require.Len(t, info.Parents, 1)
	assert.Equal(t, tip, info.Parents[0])
}

func TestCreateWithoutProvenanceIndexLoadsNil(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	w1 := newWriterChain(adapter, "g1", "w1")
	tip := w1.commit(t, func(b *patch.Builder) { require.NoError(t, b.AddNode("alice")) })

	cp, err := Create(adapter, "g1", w1.state, map[string]codec.Hash{"w1": tip}, nil)
	require.NoError(t, err)
	assert.Nil(t, cp.Provenance)

	loaded, ok, err := Load(adapter, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, loaded.Provenance)
}
