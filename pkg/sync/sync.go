// Package sync implements WARP's pairwise, stateless, single round-trip
// sync protocol (spec.md §4.7): a client asks a server for everything
// past its known frontier, the server walks each writer's chain back to
// that point, and the client folds what comes back through the reducer.
// Transport is plain HTTP + JSON; Session layers retry, backoff, and
// lifecycle events (connecting, sent, applied, ...) on top of it.
package sync

import (
	"fmt"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/refs"
	"github.com/orneryd/warp/pkg/store"
)

// PatchEnvelope is one writer's patch as shipped over the wire: the raw
// canonically-encoded bytes plus their content address, so the client
// can verify byte-identical decoding without re-deriving the hash.
type PatchEnvelope struct {
	WriterID   string
	Sha        codec.Hash
	PatchBytes []byte
}

// Request is a sync-request: the requester's last-known tip per writer.
// A writer absent from Frontier means the requester has never seen it.
type Request struct {
	Frontier map[string]codec.Hash
}

// Response is a sync-response: the server's current frontier (so the
// client learns about writers it didn't know existed) plus every patch
// the requester is missing, oldest-first within each writer's chain.
type Response struct {
	Frontier map[string]codec.Hash
	Patches  []PatchEnvelope
}

// BuildResponse answers req against adapter's local state for graph
// (spec.md §4.7, server side): for each local writer, if the
// requester's frontier is absent or strictly older, walk the chain back
// to the requester's hash (exclusive) and include each intervening
// patch; a requester hash that isn't found in the chain at all (an
// unknown commit, or a diverged one) is treated the same as "absent" —
// the requester gets the writer's full history rather than an error,
// since the protocol has no way to report ancestry violations in a
// single stateless round-trip.
func BuildResponse(adapter store.Adapter, graph string, req Request) (Response, error) {
	tips, err := adapter.ListRefs(refs.WritersPrefix(graph))
	if err != nil {
		return Response{}, fmt.Errorf("sync: list writer refs: %w", err)
	}

	frontier := make(map[string]codec.Hash, len(tips))
	var envelopes []PatchEnvelope

	for ref, tip := range tips {
		writer, ok := refs.WriterFromTipRef(graph, ref)
		if !ok {
			continue
		}
		frontier[writer] = tip

		since := req.Frontier[writer]
		chain, err := walkSince(adapter, tip, since)
		if err != nil {
			return Response{}, fmt.Errorf("sync: walk writer %s: %w", writer, err)
		}
		for _, commitHash := range chain {
			env, err := loadEnvelope(adapter, writer, commitHash)
			if err != nil {
				return Response{}, fmt.Errorf("sync: load patch %s: %w", commitHash, err)
			}
			envelopes = append(envelopes, env)
		}
	}

	return Response{Frontier: frontier, Patches: envelopes}, nil
}

// walkSince returns the commits strictly between since (exclusive) and
// tip (inclusive), oldest first. since=="" or a since not reachable from
// tip both walk all the way back to the writer's root commit.
func walkSince(adapter store.Adapter, tip, since codec.Hash) ([]codec.Hash, error) {
	if tip == since {
		return nil, nil
	}
	var chain []codec.Hash
	cur := tip
	for cur != "" {
		if cur == since {
			break
		}
		info, err := adapter.GetNodeInfo(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cur)
		if len(info.Parents) == 0 {
			break
		}
		cur = info.Parents[0]
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func loadEnvelope(adapter store.Adapter, writer string, commitHash codec.Hash) (PatchEnvelope, error) {
	info, err := adapter.GetNodeInfo(commitHash)
	if err != nil {
		return PatchEnvelope{}, err
	}
	if info.Tree == "" {
		return PatchEnvelope{}, fmt.Errorf("sync: commit %s has no tree", commitHash)
	}
	tree, err := adapter.ReadTreeOids(info.Tree)
	if err != nil {
		return PatchEnvelope{}, err
	}
	patchHash, ok := tree["patch.cbor"]
	if !ok {
		return PatchEnvelope{}, fmt.Errorf("sync: commit %s tree missing patch.cbor", commitHash)
	}
	data, err := adapter.ReadBlob(patchHash)
	if err != nil {
		return PatchEnvelope{}, err
	}
	return PatchEnvelope{WriterID: writer, Sha: patchHash, PatchBytes: data}, nil
}

// SyncNeeded reports whether any writer in local has a tip the remote
// frontier doesn't already record (spec.md §4.7:
// "syncNeeded(remote-frontier) returns true iff any local writer has a
// tip beyond the remote's recorded hash"). A simple inequality check is
// sufficient here — local is this replica's own frontier, which is
// always an ancestor-or-equal of what it last knew remotely, so "not
// equal" already means "ahead", not "diverged".
func SyncNeeded(local, remote map[string]codec.Hash) bool {
	for writer, tip := range local {
		if remote[writer] != tip {
			return true
		}
	}
	return false
}
