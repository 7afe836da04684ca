package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orneryd/warp/pkg/codec"
)

// MemoryAdapter is a thread-safe, in-process Adapter backed by plain
// maps. Nothing survives process exit — it exists for tests, demos, and
// the in-memory-only Graph.Open mode.
type MemoryAdapter struct {
	mu sync.RWMutex

	refs    map[string]codec.Hash
	blobs   map[codec.Hash][]byte
	trees   map[codec.Hash][]TreeEntry
	commits map[codec.Hash]CommitInfo
	config  map[string]string
}

// NewMemoryAdapter returns an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		refs:    make(map[string]codec.Hash),
		blobs:   make(map[codec.Hash][]byte),
		trees:   make(map[codec.Hash][]TreeEntry),
		commits: make(map[codec.Hash]CommitInfo),
		config:  make(map[string]string),
	}
}

func (m *MemoryAdapter) ListRefs(prefix string) (map[string]codec.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]codec.Hash)
	for name, hash := range m.refs {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out[name] = hash
		}
	}
	return out, nil
}

func (m *MemoryAdapter) ReadRef(name string) (codec.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hash, ok := m.refs[name]
	if !ok {
		return "", fmt.Errorf("store: ref %q: %w", name, ErrRefNotFound)
	}
	return hash, nil
}

func (m *MemoryAdapter) UpdateRef(name string, hash codec.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[name] = hash
	return nil
}

func (m *MemoryAdapter) CompareAndSwapRef(name string, newHash, expectedOld codec.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.refs[name]
	if expectedOld == "" {
		if exists {
			return fmt.Errorf("store: ref %q: %w", name, ErrRefConflict)
		}
	} else if !exists || current != expectedOld {
		return fmt.Errorf("store: ref %q: %w", name, ErrRefConflict)
	}
	m.refs[name] = newHash
	return nil
}

func (m *MemoryAdapter) DeleteRef(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refs, name)
	return nil
}

func (m *MemoryAdapter) WriteBlob(data []byte) (codec.Hash, error) {
	hash := codec.HashBytes(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), data...)
	m.blobs[hash] = cp
	return hash, nil
}

func (m *MemoryAdapter) ReadBlob(hash codec.Hash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[hash]
	if !ok {
		return nil, notFoundf("blob", string(hash))
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryAdapter) WriteTree(entries []TreeEntry) (codec.Hash, error) {
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	hash := codec.HashValue(treeToMap(sorted))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees[hash] = sorted
	return hash, nil
}

func treeToMap(entries []TreeEntry) map[string]any {
	out := make(map[string]any, len(entries))
	for _, e := range entries {
		out[e.Name] = string(e.Hash)
	}
	return out
}

func (m *MemoryAdapter) ReadTreeOids(hash codec.Hash) (map[string]codec.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.trees[hash]
	if !ok {
		return nil, notFoundf("tree", string(hash))
	}
	out := make(map[string]codec.Hash, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Hash
	}
	return out, nil
}

func (m *MemoryAdapter) CommitNodeWithTree(tree codec.Hash, parents []codec.Hash, message string) (codec.Hash, error) {
	return m.commit(message, parents, tree)
}

func (m *MemoryAdapter) CommitNode(message string, parents []codec.Hash) (codec.Hash, error) {
	return m.commit(message, parents, "")
}

func (m *MemoryAdapter) commit(message string, parents []codec.Hash, tree codec.Hash) (codec.Hash, error) {
	payload := map[string]any{
		"message": message,
		"parents": hashesToAny(parents),
		"tree":    string(tree),
		"nonce":   time.Now().UnixNano(), // content-address uniqueness for otherwise-identical commits
	}
	hash := codec.HashValue(payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[hash] = CommitInfo{Message: message, Parents: append([]codec.Hash(nil), parents...), Tree: tree}
	return hash, nil
}

func hashesToAny(hashes []codec.Hash) []any {
	out := make([]any, len(hashes))
	for i, h := range hashes {
		out[i] = string(h)
	}
	return out
}

func (m *MemoryAdapter) GetNodeInfo(hash codec.Hash) (CommitInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.commits[hash]
	if !ok {
		return CommitInfo{}, notFoundf("commit", string(hash))
	}
	return info, nil
}

func (m *MemoryAdapter) ShowNode(hash codec.Hash) (string, error) {
	info, err := m.GetNodeInfo(hash)
	if err != nil {
		return "", err
	}
	return info.Message, nil
}

func (m *MemoryAdapter) NodeExists(hash codec.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.commits[hash]
	return ok, nil
}

func (m *MemoryAdapter) ConfigGet(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.config[key]
	return v, ok, nil
}

func (m *MemoryAdapter) ConfigSet(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

func (m *MemoryAdapter) Ping() (PingResult, error) {
	return PingResult{OK: true, LatencyMs: 0}, nil
}

var _ Adapter = (*MemoryAdapter)(nil)
