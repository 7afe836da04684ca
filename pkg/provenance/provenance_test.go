package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/patch"
)

func TestRecordSkipsPatchesWithUnknownIO(t *testing.T) {
	idx := NewIndex()
	idx.Record("h1", nil, []string{"alice"})
	idx.Record("h2", []string{"alice"}, nil)
	assert.Empty(t, idx.PatchesFor("alice"))
}

func TestRecordIndexesEveryEntityInReadsAndWrites(t *testing.T) {
	idx := NewIndex()
	idx.Record("h1", []string{"alice"}, []string{"bob"})
	assert.Equal(t, []codec.Hash{"h1"}, idx.PatchesFor("alice"))
	assert.Equal(t, []codec.Hash{"h1"}, idx.PatchesFor("bob"))
}

func TestRecordKeepsEntriesSortedAndDeduplicated(t *testing.T) {
	idx := NewIndex()
	idx.Record("h2", nil, nil) // ignored, unknown
	idx.Record("h3", []string{"alice"}, []string{"alice"})
	idx.Record("h1", []string{"alice"}, []string{})
	idx.Record("h1", []string{"alice"}, []string{}) // duplicate, no-op

	assert.Equal(t, []codec.Hash{"h1", "h3"}, idx.PatchesFor("alice"))
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	idx := NewIndex()
	idx.Record("h1", []string{"alice"}, []string{})

	clone := idx.Clone()
	idx.Record("h2", []string{"alice"}, []string{})

	assert.Equal(t, []codec.Hash{"h1"}, clone.PatchesFor("alice"))
	assert.Equal(t, []codec.Hash{"h1", "h2"}, idx.PatchesFor("alice"))
}

func TestCanonicalRoundTripsThroughFromCanonical(t *testing.T) {
	idx := NewIndex()
	idx.Record("h1", []string{"alice"}, []string{"bob"})

	restored, err := FromCanonical(idx.Canonical())
	require.NoError(t, err)
	assert.Equal(t, idx.PatchesFor("alice"), restored.PatchesFor("alice"))
	assert.Equal(t, idx.PatchesFor("bob"), restored.PatchesFor("bob"))
}

func TestSliceWalksBackwardCausalConeThroughReads(t *testing.T) {
	idx := NewIndex()

	base := &patch.Patch{Schema: 1, Writer: "w1", Lamport: 1, Writes: []string{"alice"}, Reads: []string{}}
	derived := &patch.Patch{Schema: 1, Writer: "w1", Lamport: 2, Reads: []string{"alice"}, Writes: []string{"bob"}}

	baseHash := base.Hash()
	derivedHash := derived.Hash()
	idx.Record(baseHash, base.Reads, base.Writes)
	idx.Record(derivedHash, derived.Reads, derived.Writes)

	loader := func(h codec.Hash) (*patch.Patch, error) {
		switch h {
		case baseHash:
			return base, nil
		case derivedHash:
			return derived, nil
		default:
			t.Fatalf("unexpected load of %s", h)
			return nil, nil
		}
	}

	got, err := Slice(idx, loader, "bob")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Lamport)
	assert.Equal(t, uint64(2), got[1].Lamport)
}

func TestSliceReturnsOnlySeedPatchWhenNoReadsChain(t *testing.T) {
	idx := NewIndex()
	p := &patch.Patch{Schema: 1, Writer: "w1", Lamport: 1, Reads: []string{}, Writes: []string{"alice"}}
	h := p.Hash()
	idx.Record(h, p.Reads, p.Writes)

	loader := func(hash codec.Hash) (*patch.Patch, error) { return p, nil }

	got, err := Slice(idx, loader, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, h, got[0].Hash())
}
