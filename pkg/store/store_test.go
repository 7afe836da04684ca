package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/warp/pkg/codec"
)

// adapters returns one of every Adapter implementation under test, each
// a fresh, empty instance. Both Memory and Badger (in-memory mode) must
// satisfy the same contract.
func adapters(t *testing.T) map[string]Adapter {
	t.Helper()
	badger, err := NewBadgerAdapterWithOptions(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = badger.Close() })
	return map[string]Adapter{
		"memory": NewMemoryAdapter(),
		"badger": badger,
	}
}

func TestAdapterRefLifecycle(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			_, err := a.ReadRef("refs/missing")
			assert.ErrorIs(t, err, ErrRefNotFound)

			require.NoError(t, a.UpdateRef("refs/a", "h1"))
			got, err := a.ReadRef("refs/a")
			require.NoError(t, err)
			assert.Equal(t, codec.Hash("h1"), got)

			require.NoError(t, a.DeleteRef("refs/a"))
			_, err = a.ReadRef("refs/a")
			assert.ErrorIs(t, err, ErrRefNotFound)
		})
	}
}

func TestAdapterListRefsFiltersByPrefix(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, a.UpdateRef("refs/warp/g1/writers/w1", "h1"))
			require.NoError(t, a.UpdateRef("refs/warp/g1/writers/w2", "h2"))
			require.NoError(t, a.UpdateRef("refs/warp/g1/checkpoint", "h3"))

			got, err := a.ListRefs("refs/warp/g1/writers/")
			require.NoError(t, err)
			assert.Len(t, got, 2)
			assert.Equal(t, codec.Hash("h1"), got["refs/warp/g1/writers/w1"])
		})
	}
}

func TestAdapterCompareAndSwapRefDetectsConflict(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, a.CompareAndSwapRef("refs/a", "h1", ""))

			err := a.CompareAndSwapRef("refs/a", "h2", "")
			assert.ErrorIs(t, err, ErrRefConflict, "CAS against empty expectedOld must fail once the ref exists")

			require.NoError(t, a.CompareAndSwapRef("refs/a", "h2", "h1"))
			got, err := a.ReadRef("refs/a")
			require.NoError(t, err)
			assert.Equal(t, codec.Hash("h2"), got)

			err = a.CompareAndSwapRef("refs/a", "h3", "stale")
			assert.ErrorIs(t, err, ErrRefConflict)
		})
	}
}

func TestAdapterBlobRoundTrip(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			hash, err := a.WriteBlob([]byte("hello"))
			require.NoError(t, err)

			got, err := a.ReadBlob(hash)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), got)

			_, err = a.ReadBlob("missing")
			assert.ErrorIs(t, err, ErrObjectNotFound)
		})
	}
}

func TestAdapterTreeRoundTripSortsEntries(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			h1, err := a.WriteBlob([]byte("a"))
			require.NoError(t, err)
			h2, err := a.WriteBlob([]byte("b"))
			require.NoError(t, err)

			treeHash, err := a.WriteTree([]TreeEntry{{Name: "z", Hash: h2}, {Name: "a", Hash: h1}})
			require.NoError(t, err)

			entries, err := a.ReadTreeOids(treeHash)
			require.NoError(t, err)
			assert.Equal(t, h1, entries["a"])
			assert.Equal(t, h2, entries["z"])

			_, err = a.ReadTreeOids("missing")
			assert.ErrorIs(t, err, ErrObjectNotFound)
		})
	}
}

func TestAdapterTreeHashIsContentAddressedRegardlessOfInputOrder(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			h1, err := a.WriteBlob([]byte("a"))
			require.NoError(t, err)
			h2, err := a.WriteBlob([]byte("b"))
			require.NoError(t, err)

			first, err := a.WriteTree([]TreeEntry{{Name: "a", Hash: h1}, {Name: "z", Hash: h2}})
			require.NoError(t, err)
			second, err := a.WriteTree([]TreeEntry{{Name: "z", Hash: h2}, {Name: "a", Hash: h1}})
			require.NoError(t, err)

			assert.Equal(t, first, second)
		})
	}
}

func TestAdapterCommitNodeWithTreeRecordsParentsAndTree(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			treeHash, err := a.WriteTree(nil)
			require.NoError(t, err)

			first, err := a.CommitNodeWithTree(treeHash, nil, "patch\ngraph: g1\n")
			require.NoError(t, err)

			second, err := a.CommitNodeWithTree(treeHash, []codec.Hash{first}, "patch\ngraph: g1\n")
			require.NoError(t, err)

			info, err := a.GetNodeInfo(second)
			require.NoError(t, err)
			assert.Equal(t, []codec.Hash{first}, info.Parents)
			assert.Equal(t, treeHash, info.Tree)
			assert.Equal(t, "patch\ngraph: g1\n", info.Message)

			exists, err := a.NodeExists(second)
			require.NoError(t, err)
			assert.True(t, exists)

			missing, err := a.NodeExists("nope")
			require.NoError(t, err)
			assert.False(t, missing)
		})
	}
}

func TestAdapterCommitNodeWithoutTree(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			hash, err := a.CommitNode("anchor\ngraph: g1\n", nil)
			require.NoError(t, err)

			msg, err := a.ShowNode(hash)
			require.NoError(t, err)
			assert.Equal(t, "anchor\ngraph: g1\n", msg)

			_, err = a.GetNodeInfo("missing")
			assert.ErrorIs(t, err, ErrObjectNotFound)
		})
	}
}

func TestAdapterConfigGetSet(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := a.ConfigGet("k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, a.ConfigSet("k", "v"))
			v, ok, err := a.ConfigGet("k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", v)
		})
	}
}

func TestAdapterPing(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			result, err := a.Ping()
			require.NoError(t, err)
			assert.True(t, result.OK)
		})
	}
}
