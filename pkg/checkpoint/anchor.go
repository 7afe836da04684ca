package checkpoint

import (
	"fmt"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/refs"
	"github.com/orneryd/warp/pkg/store"
)

// CreateAnchor records every writer's current tip as an empty commit
// and advances the graph's coverage ref to it. Anchors carry no
// semantics of their own beyond "all these tips existed at once"; no
// package reads the coverage ref back (pkg/fork checks ancestry by
// walking the writer's chain from its tip).
func CreateAnchor(adapter store.Adapter, graph string, frontier map[string]codec.Hash) (codec.Hash, error) {
	parents := make([]codec.Hash, 0, len(frontier))
	for _, h := range frontier {
		if h != "" {
			parents = append(parents, h)
		}
	}
	msg, err := refs.NewMessage(refs.KindAnchor, map[string]string{"graph": graph})
	if err != nil {
		return "", fmt.Errorf("checkpoint: build anchor message: %w", err)
	}
	hash, err := adapter.CommitNode(msg.Encode(), parents)
	if err != nil {
		return "", fmt.Errorf("checkpoint: commit anchor: %w", err)
	}
	if err := adapter.UpdateRef(refs.Coverage(graph), hash); err != nil {
		return "", fmt.Errorf("checkpoint: update coverage ref: %w", err)
	}
	return hash, nil
}
