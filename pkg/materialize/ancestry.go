package materialize

import (
	"fmt"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/store"
)

// Relation classifies how one commit relates to another along a
// writer's (single-parent, linear) commit chain (spec.md §4.3).
type Relation string

const (
	RelationSame     Relation = "same"
	RelationAhead    Relation = "ahead"
	RelationBehind   Relation = "behind"
	RelationDiverged Relation = "diverged"
)

// ancestryRelation walks tip's parent chain looking for frontier, then
// (if not found) walks frontier's parent chain looking for tip — a
// bidirectional walk that is cheap because writer chains are
// single-parent and linear, never needing a general DAG reachability
// search. On RelationAhead, chain holds every commit strictly between
// frontier (exclusive) and tip (inclusive), oldest first, ready to fold
// in causal order. An empty frontier hash means "no prior checkpoint
// frontier for this writer" and is always RelationAhead with chain
// equal to the writer's entire history back to its root commit.
func ancestryRelation(adapter store.Adapter, tip, frontier codec.Hash) (Relation, []codec.Hash, error) {
	if tip == frontier {
		return RelationSame, nil, nil
	}

	var fromTip []codec.Hash
	cur := tip
	for cur != "" {
		if cur == frontier {
			chain := make([]codec.Hash, len(fromTip))
			for i, h := range fromTip {
				chain[len(fromTip)-1-i] = h
			}
			return RelationAhead, chain, nil
		}
		info, err := adapter.GetNodeInfo(cur)
		if err != nil {
			return "", nil, fmt.Errorf("materialize: walk tip chain: %w", err)
		}
		fromTip = append(fromTip, cur)
		if len(info.Parents) == 0 {
			cur = ""
			break
		}
		cur = info.Parents[0]
	}

	if frontier == "" {
		chain := make([]codec.Hash, len(fromTip))
		for i, h := range fromTip {
			chain[len(fromTip)-1-i] = h
		}
		return RelationAhead, chain, nil
	}

	cur = frontier
	for cur != "" {
		if cur == tip {
			return RelationBehind, nil, nil
		}
		info, err := adapter.GetNodeInfo(cur)
		if err != nil {
			return "", nil, fmt.Errorf("materialize: walk frontier chain: %w", err)
		}
		if len(info.Parents) == 0 {
			break
		}
		cur = info.Parents[0]
	}

	return RelationDiverged, nil, nil
}
