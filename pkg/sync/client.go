package sync

import (
	"fmt"

	"github.com/orneryd/warp/pkg/audit"
	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/patch"
	"github.com/orneryd/warp/pkg/reducer"
	"github.com/orneryd/warp/pkg/warperr"
)

// Apply decodes resp's patches, sorts them into causal order across
// writers, and folds them into state via the reducer (spec.md §4.7,
// client side). It returns resp.Frontier unchanged — the caller's new
// last-known-frontier snapshot — and every tick receipt produced, in
// application order. If sink is non-nil every receipt is also recorded
// there, regardless of opts.CollectReceipts.
func Apply(state *gstate.State, resp Response, sink audit.Sink, opts reducer.Options) (map[string]codec.Hash, []*reducer.TickReceipt, error) {
	if sink != nil {
		opts.CollectReceipts = true
	}

	patches := make([]*patch.Patch, 0, len(resp.Patches))
	for _, env := range resp.Patches {
		v, err := codec.Decode(env.PatchBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: decode patch %s: %v", warperr.ErrSyncProtocol, env.Sha, err)
		}
		p, err := patch.FromMap(v)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: patch %s: %v", warperr.ErrSyncProtocol, env.Sha, err)
		}
		patches = append(patches, p)
	}
	patch.SortCausally(patches)

	receipts := make([]*reducer.TickReceipt, 0, len(patches))
	for _, p := range patches {
		hash := p.Hash()
		receipt, err := reducer.Join(state, p, hash, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("sync: join patch %s: %w", hash, err)
		}
		if receipt == nil {
			continue
		}
		receipts = append(receipts, receipt)
		if sink != nil {
			sink.Record(receipt)
		}
	}

	return resp.Frontier, receipts, nil
}
