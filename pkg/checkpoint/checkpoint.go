// Package checkpoint implements WARP's checkpoint lifecycle: summarizing
// a prefix of patch history into a commit whose tree holds the
// authoritative state, its frontier, and its applied version vector
// (spec.md §4.4), following the familiar snapshot-create/save/load
// cycle but writing content-addressed tree entries instead of a single
// JSON blob on disk.
package checkpoint

import (
	"fmt"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/crdt"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/provenance"
	"github.com/orneryd/warp/pkg/refs"
	"github.com/orneryd/warp/pkg/store"
	"github.com/orneryd/warp/pkg/warperr"
)

// Schema is the current checkpoint schema version. Checkpoints with
// Schema < 2 are legacy: they carry only a visible-state projection,
// not the authoritative OR-Sets, and are a compatibility gate only.
const Schema = 2

const legacyWriter = "__checkpoint__"

// Checkpoint is the decoded contents of a checkpoint commit's tree.
type Checkpoint struct {
	CommitHash codec.Hash
	Schema     int
	State      *gstate.State
	Frontier   map[string]codec.Hash // writer -> tip hash at checkpoint time
	AppliedVV  crdt.VersionVector
	Provenance *provenance.Index // nil if none was stored
}

// Create materializes a checkpoint from the given state (already folded
// up to frontier) and commits it: compact tombstoned dots bounded by
// appliedVV, write blobs and tree (entries sorted by name), commit with
// every writer tip as a parent, and update the checkpoint ref.
func Create(adapter store.Adapter, graph string, state *gstate.State, frontier map[string]codec.Hash, idx *provenance.Index) (*Checkpoint, error) {
	appliedVV := gstate.ComputeAppliedVV(state)
	compacted := state.Clone()
	compacted.NodeAlive.Compact(appliedVV)
	compacted.EdgeAlive.Compact(appliedVV)

	stateHash, err := writeBlobValue(adapter, compacted.Canonical())
	if err != nil {
		return nil, fmt.Errorf("checkpoint: write state: %w", err)
	}
	visibleHash, err := writeBlobValue(adapter, visibleProjection(compacted))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: write visible: %w", err)
	}
	frontierHash, err := writeBlobValue(adapter, frontierToMap(frontier))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: write frontier: %w", err)
	}
	appliedVVHash, err := writeBlobValue(adapter, vvToMap(appliedVV))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: write appliedVV: %w", err)
	}

	entries := []store.TreeEntry{
		{Name: "appliedVV.cbor", Hash: appliedVVHash},
		{Name: "frontier.cbor", Hash: frontierHash},
		{Name: "state.cbor", Hash: stateHash},
		{Name: "visible.cbor", Hash: visibleHash},
	}
	var indexHash codec.Hash
	if idx != nil {
		indexHash, err = writeBlobValue(adapter, idx.Canonical())
		if err != nil {
			return nil, fmt.Errorf("checkpoint: write provenance: %w", err)
		}
		entries = append(entries, store.TreeEntry{Name: "provenance.cbor", Hash: indexHash})
	}

	treeHash, err := adapter.WriteTree(entries)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: write tree: %w", err)
	}

	parents := make([]codec.Hash, 0, len(frontier))
	for _, h := range frontier {
		parents = append(parents, h)
	}
	msg, err := refs.NewMessage(refs.KindCheckpoint, map[string]string{
		"graph":        graph,
		"state-hash":   string(compacted.StateHash()),
		"frontier-oid": string(frontierHash),
		"index-oid":    string(indexHash),
		"schema":       fmt.Sprintf("%d", Schema),
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	commitHash, err := adapter.CommitNodeWithTree(treeHash, parents, msg.Encode())
	if err != nil {
		return nil, fmt.Errorf("checkpoint: commit: %w", err)
	}
	if err := adapter.UpdateRef(refs.Checkpoint(graph), commitHash); err != nil {
		return nil, fmt.Errorf("checkpoint: update ref: %w", err)
	}
	if _, err := CreateAnchor(adapter, graph, frontier); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	return &Checkpoint{
		CommitHash: commitHash,
		Schema:     Schema,
		State:      compacted,
		Frontier:   frontier,
		AppliedVV:  appliedVV,
		Provenance: idx,
	}, nil
}

// Load reads the graph's current checkpoint, if any. ok is false (with
// a nil error) when the graph has no checkpoint ref yet.
func Load(adapter store.Adapter, graph string) (cp *Checkpoint, ok bool, err error) {
	commitHash, err := adapter.ReadRef(refs.Checkpoint(graph))
	if err != nil {
		if err == store.ErrRefNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("checkpoint: read ref: %w", err)
	}
	return loadAt(adapter, commitHash)
}

func loadAt(adapter store.Adapter, commitHash codec.Hash) (*Checkpoint, bool, error) {
	info, err := adapter.GetNodeInfo(commitHash)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: %w", err)
	}
	msg, err := refs.ParseMessage(info.Message)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: %w: %w", warperr.ErrInvalidPatchMessage, err)
	}
	schema := 1
	if s, ok := msg.Trailers["schema"]; ok {
		fmt.Sscanf(s, "%d", &schema)
	}

	if info.Tree == "" {
		return nil, false, fmt.Errorf("checkpoint: commit %s has no tree", commitHash)
	}
	tree, err := adapter.ReadTreeOids(info.Tree)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: read tree: %w", err)
	}

	frontierVal, err := readBlobValue(adapter, tree["frontier.cbor"])
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: read frontier: %w", err)
	}
	frontier, err := mapToFrontier(frontierVal)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: %w", err)
	}

	var state *gstate.State
	if schema >= 2 {
		stateVal, err := readBlobValue(adapter, tree["state.cbor"])
		if err != nil {
			return nil, false, fmt.Errorf("checkpoint: read state: %w", err)
		}
		state, err = stateFromCanonical(stateVal)
		if err != nil {
			return nil, false, fmt.Errorf("checkpoint: decode state: %w", err)
		}
	} else {
		visibleVal, err := readBlobValue(adapter, tree["visible.cbor"])
		if err != nil {
			return nil, false, fmt.Errorf("checkpoint: read visible: %w", err)
		}
		state, err = stateFromVisible(visibleVal)
		if err != nil {
			return nil, false, fmt.Errorf("checkpoint: rehydrate legacy visible state: %w", err)
		}
	}

	var appliedVV crdt.VersionVector
	if hash, ok := tree["appliedVV.cbor"]; ok {
		val, err := readBlobValue(adapter, hash)
		if err != nil {
			return nil, false, fmt.Errorf("checkpoint: read appliedVV: %w", err)
		}
		appliedVV, err = mapToVV(val)
		if err != nil {
			return nil, false, fmt.Errorf("checkpoint: %w", err)
		}
	} else {
		appliedVV = gstate.ComputeAppliedVV(state)
	}

	var idx *provenance.Index
	if hash, ok := tree["provenance.cbor"]; ok && hash != "" {
		val, err := readBlobValue(adapter, hash)
		if err != nil {
			return nil, false, fmt.Errorf("checkpoint: read provenance: %w", err)
		}
		idx, err = provenance.FromCanonical(val)
		if err != nil {
			return nil, false, fmt.Errorf("checkpoint: %w", err)
		}
	}

	return &Checkpoint{
		CommitHash: commitHash,
		Schema:     schema,
		State:      state,
		Frontier:   frontier,
		AppliedVV:  appliedVV,
		Provenance: idx,
	}, true, nil
}
