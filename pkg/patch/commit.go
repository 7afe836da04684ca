package patch

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/refs"
	"github.com/orneryd/warp/pkg/store"
)

// Commit writes p to adapter as the storage commit sequence spec.md §4.2
// describes: blob the encoded patch, tree it together with any inline
// content blobs sorted by name, commit the tree with the writer's prior
// tip (if any) as parent, then CAS-update the writer's tip ref so a
// concurrent writer on the same ref loses the race instead of silently
// overwriting it. contentBlobs is normally Builder.ContentBlobs().
func Commit(adapter store.Adapter, graph string, p *Patch, contentBlobs []codec.Hash) (codec.Hash, error) {
	patchHash, err := adapter.WriteBlob(codec.Encode(p.ToMap()))
	if err != nil {
		return "", fmt.Errorf("patch: write patch blob: %w", err)
	}

	entries := make([]store.TreeEntry, 0, 1+len(contentBlobs))
	entries = append(entries, store.TreeEntry{Name: "patch.cbor", Hash: patchHash})
	for _, h := range contentBlobs {
		entries = append(entries, store.TreeEntry{Name: "content/" + string(h), Hash: h})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	treeHash, err := adapter.WriteTree(entries)
	if err != nil {
		return "", fmt.Errorf("patch: write tree: %w", err)
	}

	tipRef := refs.WriterTip(graph, string(p.Writer))
	priorTip, err := adapter.ReadRef(tipRef)
	if err != nil {
		if !errors.Is(err, store.ErrRefNotFound) {
			return "", fmt.Errorf("patch: read writer tip: %w", err)
		}
		priorTip = ""
	}

	var parents []codec.Hash
	if priorTip != "" {
		parents = []codec.Hash{priorTip}
	}

	msg, err := refs.NewMessage(refs.KindPatch, map[string]string{
		"graph":     graph,
		"writer":    string(p.Writer),
		"lamport":   strconv.FormatUint(p.Lamport, 10),
		"patch-oid": string(patchHash),
		"schema":    strconv.Itoa(Schema),
	})
	if err != nil {
		return "", fmt.Errorf("patch: build commit message: %w", err)
	}

	commitHash, err := adapter.CommitNodeWithTree(treeHash, parents, msg.Encode())
	if err != nil {
		return "", fmt.Errorf("patch: commit node: %w", err)
	}

	if err := adapter.CompareAndSwapRef(tipRef, commitHash, priorTip); err != nil {
		return "", fmt.Errorf("patch: update writer tip: %w", err)
	}

	return commitHash, nil
}

// LoadByHash resolves a content hash produced by Commit's blob write
// (equivalently, Patch.Hash — both hash the same canonical encoding)
// back into a Patch. Used wherever a patch needs to be fetched by hash
// alone rather than walked from a writer's chain, e.g. provenance's
// causal-cone slicing.
func LoadByHash(adapter store.Adapter, hash codec.Hash) (*Patch, error) {
	raw, err := adapter.ReadBlob(hash)
	if err != nil {
		return nil, fmt.Errorf("patch: read blob %s: %w", hash, err)
	}
	val, err := codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("patch: decode %s: %w", hash, err)
	}
	p, err := FromMap(val)
	if err != nil {
		return nil, fmt.Errorf("patch: %s: %w", hash, err)
	}
	return p, nil
}
