package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/store"
)

func mustCommit(t *testing.T, adapter store.Adapter, message string, parents []codec.Hash) codec.Hash {
	t.Helper()
	h, err := adapter.CommitNode(message, parents)
	require.NoError(t, err)
	return h
}

func TestAncestryRelationSame(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	root := mustCommit(t, adapter, "root", nil)

	rel, chain, err := ancestryRelation(adapter, root, root)
	require.NoError(t, err)
	assert.Equal(t, RelationSame, rel)
	assert.Empty(t, chain)
}

func TestAncestryRelationAheadFromEmptyFrontier(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	root := mustCommit(t, adapter, "root", nil)
	tip := mustCommit(t, adapter, "child", []codec.Hash{root})

	rel, chain, err := ancestryRelation(adapter, tip, "")
	require.NoError(t, err)
	assert.Equal(t, RelationAhead, rel)
	require.Len(t, chain, 2)
	assert.Equal(t, root, chain[0])
	assert.Equal(t, tip, chain[1])
}

func TestAncestryRelationAheadFromMidChain(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	root := mustCommit(t, adapter, "root", nil)
	mid := mustCommit(t, adapter, "mid", []codec.Hash{root})
	tip := mustCommit(t, adapter, "tip", []codec.Hash{mid})

	rel, chain, err := ancestryRelation(adapter, tip, mid)
	require.NoError(t, err)
	assert.Equal(t, RelationAhead, rel)
	require.Len(t, chain, 1)
	assert.Equal(t, tip, chain[0])
}

func TestAncestryRelationBehind(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	root := mustCommit(t, adapter, "root", nil)
	ahead := mustCommit(t, adapter, "ahead", []codec.Hash{root})

	// frontier (ahead) is newer than tip (root): the checkpoint already
	// saw commits this "writer" no longer has, a backfill attempt.
	rel, _, err := ancestryRelation(adapter, root, ahead)
	require.NoError(t, err)
	assert.Equal(t, RelationBehind, rel)
}

func TestAncestryRelationDiverged(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	root := mustCommit(t, adapter, "root", nil)
	branchA := mustCommit(t, adapter, "branch-a", []codec.Hash{root})
	branchB := mustCommit(t, adapter, "branch-b", []codec.Hash{root})

	rel, _, err := ancestryRelation(adapter, branchA, branchB)
	require.NoError(t, err)
	assert.Equal(t, RelationDiverged, rel)
}
