// Package fork implements WARP's fork and wormhole operations
// (spec.md §4.9): branching a graph's history at a commit without
// copying it, and capturing a contiguous patch range as a replayable,
// composable payload. Grounded on
// other_examples/.../systemshift-memex-fs__internal-dag-repo.go's
// content-addressed object-store + ref-store + commit-log facade (the
// same "shared history via content addressing" idea WARP's own
// pkg/store already embodies), with ancestry checks built on the same
// incremental chain walk pkg/materialize uses to resume from a
// checkpoint.
package fork

import (
	"errors"
	"fmt"
	"strings"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/refs"
	"github.com/orneryd/warp/pkg/store"
	"github.com/orneryd/warp/pkg/warperr"
)

// Request names a fork operation: branch writer's history in
// sourceGraph at the commit hash At into a brand-new graph named
// ForkName, reusing the same writer id in the new namespace.
type Request struct {
	SourceGraph string
	Writer      string
	At          codec.Hash
	ForkName    string
}

// Fork verifies req and, if valid, points a new writer-tip ref under
// ForkName at req.At — the "fork" a content-addressed store gives for
// free: every commit up to At is already shared, nothing is copied
// (spec.md §4.9).
func Fork(adapter store.Adapter, req Request) (codec.Hash, error) {
	if req.SourceGraph == "" || req.Writer == "" || req.At == "" {
		return "", fmt.Errorf("%w: source graph, writer, and at hash are required", warperr.ErrForkInvalidArgs)
	}
	if strings.ContainsAny(req.Writer, "/\n\t ") {
		return "", fmt.Errorf("%w: %q", warperr.ErrForkWriterIDInvalid, req.Writer)
	}
	if req.ForkName == "" {
		return "", fmt.Errorf("%w: fork name must not be empty", warperr.ErrForkNameInvalid)
	}
	if req.ForkName == req.SourceGraph {
		return "", fmt.Errorf("%w: fork name must differ from the source graph", warperr.ErrForkNameInvalid)
	}

	tip, err := adapter.ReadRef(refs.WriterTip(req.SourceGraph, req.Writer))
	if err != nil {
		if errors.Is(err, store.ErrRefNotFound) {
			return "", fmt.Errorf("%w: writer %q in graph %q", warperr.ErrForkWriterNotFound, req.Writer, req.SourceGraph)
		}
		return "", fmt.Errorf("fork: read writer tip: %w", err)
	}

	exists, err := adapter.NodeExists(req.At)
	if err != nil {
		return "", fmt.Errorf("fork: check at commit: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", warperr.ErrForkPatchNotFound, req.At)
	}

	ancestor, err := isAncestor(adapter, tip, req.At)
	if err != nil {
		return "", fmt.Errorf("fork: walk ancestry: %w", err)
	}
	if !ancestor {
		return "", fmt.Errorf("%w: %s is not an ancestor of %s's tip", warperr.ErrForkPatchNotInChain, req.At, req.Writer)
	}

	newRef := refs.WriterTip(req.ForkName, req.Writer)
	if _, err := adapter.ReadRef(newRef); err == nil {
		return "", fmt.Errorf("%w: %s", warperr.ErrForkAlreadyExists, req.ForkName)
	} else if !errors.Is(err, store.ErrRefNotFound) {
		return "", fmt.Errorf("fork: check fork name: %w", err)
	}

	if err := adapter.UpdateRef(newRef, req.At); err != nil {
		return "", fmt.Errorf("fork: create new writer ref: %w", err)
	}
	return req.At, nil
}

// isAncestor reports whether at is tip itself or reachable by walking
// tip's single-parent chain backward.
func isAncestor(adapter store.Adapter, tip, at codec.Hash) (bool, error) {
	cur := tip
	for cur != "" {
		if cur == at {
			return true, nil
		}
		info, err := adapter.GetNodeInfo(cur)
		if err != nil {
			return false, err
		}
		if len(info.Parents) == 0 {
			return false, nil
		}
		cur = info.Parents[0]
	}
	return false, nil
}
