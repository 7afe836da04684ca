package fork

import (
	"fmt"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/patch"
	"github.com/orneryd/warp/pkg/reducer"
	"github.com/orneryd/warp/pkg/refs"
	"github.com/orneryd/warp/pkg/store"
	"github.com/orneryd/warp/pkg/warperr"
)

// WormholePatch is one commit captured into a Wormhole: its content
// address and the raw canonically-encoded patch bytes, the same shape
// a sync response ships (spec.md §4.9's "replayable payload").
type WormholePatch struct {
	Hash  codec.Hash
	Bytes []byte
}

// Wormhole is a contiguous, replayable capture of one writer's commits
// from From (exclusive) to To (inclusive). Replaying it against state
// already at From's state, then applying every patch after To, must
// yield the same result as replaying the writer's full history
// (spec.md §4.9's round-trip invariant).
type Wormhole struct {
	Writer  string
	From    codec.Hash
	To      codec.Hash
	Patches []WormholePatch // oldest first
}

// CreateWormhole captures writer's commits strictly after from up to
// and including to. Both hashes must already be commits that belong to
// the same writer's patch chain, and from must be an ancestor of to.
// from=="" captures from the writer's genesis commit (there is no
// commit hash to name "before the first one").
func CreateWormhole(adapter store.Adapter, graph, writer string, from, to codec.Hash) (*Wormhole, error) {
	if to == "" {
		return nil, fmt.Errorf("%w: to hash is required", warperr.ErrWormholeInvalidRange)
	}

	toMsg, err := commitMessage(adapter, to)
	if err != nil {
		return nil, fmt.Errorf("%w: to %s: %v", warperr.ErrWormholeShaNotFound, to, err)
	}
	if toMsg.Kind != refs.KindPatch {
		return nil, fmt.Errorf("%w: to %s is a %s commit", warperr.ErrWormholeNotPatch, to, toMsg.Kind)
	}
	if toMsg.Trailers["writer"] != writer || toMsg.Trailers["graph"] != graph {
		return nil, fmt.Errorf("%w: to commit belongs to writer %q in graph %q, not %q in %q", warperr.ErrWormholeMultiWriter, toMsg.Trailers["writer"], toMsg.Trailers["graph"], writer, graph)
	}

	if from != "" {
		fromMsg, err := commitMessage(adapter, from)
		if err != nil {
			return nil, fmt.Errorf("%w: from %s: %v", warperr.ErrWormholeShaNotFound, from, err)
		}
		if fromMsg.Kind != refs.KindPatch {
			return nil, fmt.Errorf("%w: from %s is a %s commit", warperr.ErrWormholeNotPatch, from, fromMsg.Kind)
		}
		if fromMsg.Trailers["writer"] != writer || fromMsg.Trailers["graph"] != graph {
			return nil, fmt.Errorf("%w: from commit belongs to writer %q in graph %q, not %q in %q", warperr.ErrWormholeMultiWriter, fromMsg.Trailers["writer"], fromMsg.Trailers["graph"], writer, graph)
		}
	}

	chain, found, err := chainBetween(adapter, to, from)
	if err != nil {
		return nil, fmt.Errorf("fork: walk wormhole range: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s is not an ancestor of %s", warperr.ErrWormholeInvalidRange, from, to)
	}

	patches := make([]WormholePatch, 0, len(chain))
	for _, h := range chain {
		bytes, err := loadPatchBytes(adapter, h)
		if err != nil {
			return nil, fmt.Errorf("fork: load patch %s: %w", h, err)
		}
		patches = append(patches, WormholePatch{Hash: h, Bytes: bytes})
	}

	return &Wormhole{Writer: writer, From: from, To: to, Patches: patches}, nil
}

// Compose concatenates two adjacent wormholes (spec.md §4.9: "Two
// adjacent wormholes compose by concatenation"). Adjacent means the
// same writer and a.To == b.From.
func Compose(a, b *Wormhole) (*Wormhole, error) {
	if a.Writer != b.Writer {
		return nil, fmt.Errorf("%w: wormholes belong to different writers", warperr.ErrWormholeMultiWriter)
	}
	if a.To != b.From {
		return nil, fmt.Errorf("%w: wormholes are not adjacent (%s != %s)", warperr.ErrWormholeInvalidRange, a.To, b.From)
	}
	patches := make([]WormholePatch, 0, len(a.Patches)+len(b.Patches))
	patches = append(patches, a.Patches...)
	patches = append(patches, b.Patches...)
	return &Wormhole{Writer: a.Writer, From: a.From, To: b.To, Patches: patches}, nil
}

// Replay decodes and folds w's patches into state, in capture order
// (already causal: a writer's chain is linear).
func Replay(state *gstate.State, w *Wormhole, opts reducer.Options) ([]*reducer.TickReceipt, error) {
	receipts := make([]*reducer.TickReceipt, 0, len(w.Patches))
	for _, wp := range w.Patches {
		v, err := codec.Decode(wp.Bytes)
		if err != nil {
			return nil, fmt.Errorf("fork: decode patch %s: %w", wp.Hash, err)
		}
		p, err := patch.FromMap(v)
		if err != nil {
			return nil, fmt.Errorf("fork: patch %s: %w", wp.Hash, err)
		}
		hash := p.Hash()
		r, err := reducer.Join(state, p, hash, opts)
		if err != nil {
			return nil, fmt.Errorf("fork: join patch %s: %w", hash, err)
		}
		if r != nil {
			receipts = append(receipts, r)
		}
	}
	return receipts, nil
}

func commitMessage(adapter store.Adapter, hash codec.Hash) (refs.Message, error) {
	info, err := adapter.GetNodeInfo(hash)
	if err != nil {
		return refs.Message{}, err
	}
	return refs.ParseMessage(info.Message)
}

// chainBetween returns to's ancestors strictly after from (exclusive),
// up to and including to, oldest first, plus found=true if from was
// reached (from=="" matches at the writer's root commit, since there is
// no hash for "before the first commit"). found=false means from is not
// an ancestor of to.
func chainBetween(adapter store.Adapter, to, from codec.Hash) (chain []codec.Hash, found bool, err error) {
	cur := to
	for cur != "" {
		if cur == from {
			reverse(chain)
			return chain, true, nil
		}
		info, err := adapter.GetNodeInfo(cur)
		if err != nil {
			return nil, false, err
		}
		chain = append(chain, cur)
		if len(info.Parents) == 0 {
			if from == "" {
				reverse(chain)
				return chain, true, nil
			}
			return nil, false, nil
		}
		cur = info.Parents[0]
	}
	return nil, false, nil
}

func reverse(chain []codec.Hash) {
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
}

func loadPatchBytes(adapter store.Adapter, commitHash codec.Hash) ([]byte, error) {
	info, err := adapter.GetNodeInfo(commitHash)
	if err != nil {
		return nil, err
	}
	if info.Tree == "" {
		return nil, fmt.Errorf("commit %s has no tree", commitHash)
	}
	tree, err := adapter.ReadTreeOids(info.Tree)
	if err != nil {
		return nil, err
	}
	patchHash, ok := tree["patch.cbor"]
	if !ok {
		return nil, fmt.Errorf("commit %s tree missing patch.cbor", commitHash)
	}
	return adapter.ReadBlob(patchHash)
}
