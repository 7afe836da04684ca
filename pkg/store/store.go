// Package store defines the content-addressed commit store WARP's core
// consumes: refs, blobs, trees, and commits (spec.md §6). The core never
// talks to a disk or a database directly — every durable read/write goes
// through this interface, so a replica can run entirely in memory for
// tests or against Badger for a real deployment.
package store

import (
	"errors"
	"fmt"

	"github.com/orneryd/warp/pkg/codec"
)

var (
	ErrRefNotFound    = errors.New("store: ref not found")
	ErrRefConflict    = errors.New("store: compare-and-swap ref conflict")
	ErrObjectNotFound = errors.New("store: object not found")
)

// TreeEntry is one named child of a tree object, always written and
// read back sorted by Name (spec.md §6: "tree entries sorted by name").
type TreeEntry struct {
	Name string
	Hash codec.Hash
}

// CommitInfo is the decoded shape of a commit node: its message (which
// callers parse for kind + trailers, see pkg/refs), parent hashes, and
// the tree it points at (zero Hash for a tree-less commit made via
// CommitNode).
type CommitInfo struct {
	Message string
	Parents []codec.Hash
	Tree    codec.Hash
}

// PingResult reports adapter reachability and round-trip latency.
type PingResult struct {
	OK        bool
	LatencyMs int64
}

// Adapter is the full storage contract consumed by pkg/checkpoint,
// pkg/materialize, pkg/fork, and pkg/sync (spec.md §6). Every method
// that can fail for a reason other than "not found" wraps the
// underlying error; "not found" conditions are always one of
// ErrRefNotFound / ErrObjectNotFound, checkable with errors.Is.
type Adapter interface {
	// Reference operations.
	ListRefs(prefix string) (map[string]codec.Hash, error)
	ReadRef(name string) (codec.Hash, error)
	UpdateRef(name string, hash codec.Hash) error
	CompareAndSwapRef(name string, newHash, expectedOld codec.Hash) error
	DeleteRef(name string) error

	// Object operations.
	WriteBlob(data []byte) (codec.Hash, error)
	ReadBlob(hash codec.Hash) ([]byte, error)
	WriteTree(entries []TreeEntry) (codec.Hash, error)
	ReadTreeOids(hash codec.Hash) (map[string]codec.Hash, error)
	CommitNodeWithTree(tree codec.Hash, parents []codec.Hash, message string) (codec.Hash, error)
	CommitNode(message string, parents []codec.Hash) (codec.Hash, error)
	GetNodeInfo(hash codec.Hash) (CommitInfo, error)
	ShowNode(hash codec.Hash) (string, error)
	NodeExists(hash codec.Hash) (bool, error)

	ConfigGet(key string) (string, bool, error)
	ConfigSet(key, value string) error
	Ping() (PingResult, error)
}

// WriteBlobCodec is the ContentWriter shape pkg/patch.Builder needs;
// every Adapter satisfies it trivially since WriteBlob already matches.
type WriteBlobCodec interface {
	WriteBlob(data []byte) (codec.Hash, error)
}

func notFoundf(kind, key string) error {
	return fmt.Errorf("store: %s %q: %w", kind, key, ErrObjectNotFound)
}
