package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/warp/pkg/codec"
)

// Key prefixes put each of WARP's four object/ref kinds in its own
// keyspace so a prefix scan never crosses kinds.
const (
	prefixRef    = byte(0x01) // ref:name -> hash
	prefixBlob   = byte(0x02) // blob:hash -> bytes
	prefixTree   = byte(0x03) // tree:hash -> JSON([]TreeEntry)
	prefixCommit = byte(0x04) // commit:hash -> JSON(commitRecord)
)

type commitRecord struct {
	Message string   `json:"message"`
	Parents []string `json:"parents"`
	Tree    string   `json:"tree"`
}

// BadgerOptions configures the persistent adapter.
type BadgerOptions struct {
	DataDir  string
	InMemory bool
	Logger   badger.Logger
}

// BadgerAdapter is a durable Adapter backed by BadgerDB.
type BadgerAdapter struct {
	db *badger.DB
}

// NewBadgerAdapter opens (or creates) a Badger-backed store at dataDir.
func NewBadgerAdapter(dataDir string) (*BadgerAdapter, error) {
	return NewBadgerAdapterWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerAdapterWithOptions opens a Badger-backed store with explicit
// settings, applying low-memory defaults suited to containerized
// deployments.
func NewBadgerAdapterWithOptions(opts BadgerOptions) (*BadgerAdapter, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open badger: %w", err)
	}
	return &BadgerAdapter{db: db}, nil
}

// Close releases the underlying database handle.
func (b *BadgerAdapter) Close() error {
	return b.db.Close()
}

func refKey(name string) []byte    { return append([]byte{prefixRef}, []byte(name)...) }
func blobKey(h codec.Hash) []byte  { return append([]byte{prefixBlob}, []byte(h)...) }
func treeKey(h codec.Hash) []byte  { return append([]byte{prefixTree}, []byte(h)...) }
func commitKey(h codec.Hash) []byte {
	return append([]byte{prefixCommit}, []byte(h)...)
}

func (b *BadgerAdapter) ListRefs(prefix string) (map[string]codec.Hash, error) {
	out := make(map[string]codec.Hash)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		scanPrefix := refKey(prefix)
		opts.Prefix = scanPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(scanPrefix); it.ValidForPrefix(scanPrefix); it.Next() {
			item := it.Item()
			name := string(bytes.TrimPrefix(item.Key(), []byte{prefixRef}))
			err := item.Value(func(val []byte) error {
				out[name] = codec.Hash(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list refs: %w", err)
	}
	return out, nil
}

func (b *BadgerAdapter) ReadRef(name string) (codec.Hash, error) {
	var hash codec.Hash
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(refKey(name))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("store: ref %q: %w", name, ErrRefNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hash = codec.Hash(val)
			return nil
		})
	})
	return hash, err
}

func (b *BadgerAdapter) UpdateRef(name string, hash codec.Hash) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(refKey(name), []byte(hash))
	})
}

func (b *BadgerAdapter) CompareAndSwapRef(name string, newHash, expectedOld codec.Hash) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(refKey(name))
		switch {
		case err == badger.ErrKeyNotFound:
			if expectedOld != "" {
				return fmt.Errorf("store: ref %q: %w", name, ErrRefConflict)
			}
		case err != nil:
			return err
		default:
			var current codec.Hash
			if verr := item.Value(func(val []byte) error {
				current = codec.Hash(val)
				return nil
			}); verr != nil {
				return verr
			}
			if current != expectedOld {
				return fmt.Errorf("store: ref %q: %w", name, ErrRefConflict)
			}
		}
		return txn.Set(refKey(name), []byte(newHash))
	})
}

func (b *BadgerAdapter) DeleteRef(name string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(refKey(name))
	})
}

func (b *BadgerAdapter) WriteBlob(data []byte) (codec.Hash, error) {
	hash := codec.HashBytes(data)
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blobKey(hash), data)
	})
	return hash, err
}

func (b *BadgerAdapter) ReadBlob(hash codec.Hash) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(hash))
		if err == badger.ErrKeyNotFound {
			return notFoundf("blob", string(hash))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	return out, err
}

func (b *BadgerAdapter) WriteTree(entries []TreeEntry) (codec.Hash, error) {
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	hash := codec.HashValue(treeToMap(sorted))

	type jsonEntry struct {
		Name string `json:"name"`
		Hash string `json:"hash"`
	}
	jsonEntries := make([]jsonEntry, len(sorted))
	for i, e := range sorted {
		jsonEntries[i] = jsonEntry{Name: e.Name, Hash: string(e.Hash)}
	}
	data, err := json.Marshal(jsonEntries)
	if err != nil {
		return "", fmt.Errorf("store: marshal tree: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(treeKey(hash), data)
	})
	return hash, err
}

func (b *BadgerAdapter) ReadTreeOids(hash codec.Hash) (map[string]codec.Hash, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(treeKey(hash))
		if err == badger.ErrKeyNotFound {
			return notFoundf("tree", string(hash))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	type jsonEntry struct {
		Name string `json:"name"`
		Hash string `json:"hash"`
	}
	var entries []jsonEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("store: unmarshal tree: %w", err)
	}
	out := make(map[string]codec.Hash, len(entries))
	for _, e := range entries {
		out[e.Name] = codec.Hash(e.Hash)
	}
	return out, nil
}

func (b *BadgerAdapter) CommitNodeWithTree(tree codec.Hash, parents []codec.Hash, message string) (codec.Hash, error) {
	return b.commit(message, parents, tree)
}

func (b *BadgerAdapter) CommitNode(message string, parents []codec.Hash) (codec.Hash, error) {
	return b.commit(message, parents, "")
}

func (b *BadgerAdapter) commit(message string, parents []codec.Hash, tree codec.Hash) (codec.Hash, error) {
	payload := map[string]any{
		"message": message,
		"parents": hashesToAny(parents),
		"tree":    string(tree),
		"nonce":   time.Now().UnixNano(),
	}
	hash := codec.HashValue(payload)
	rec := commitRecord{Message: message, Parents: hashStrings(parents), Tree: string(tree)}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("store: marshal commit: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(commitKey(hash), data)
	})
	return hash, err
}

func hashStrings(hashes []codec.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = string(h)
	}
	return out
}

func (b *BadgerAdapter) GetNodeInfo(hash codec.Hash) (CommitInfo, error) {
	var rec commitRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(commitKey(hash))
		if err == badger.ErrKeyNotFound {
			return notFoundf("commit", string(hash))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return CommitInfo{}, err
	}
	parents := make([]codec.Hash, len(rec.Parents))
	for i, p := range rec.Parents {
		parents[i] = codec.Hash(p)
	}
	return CommitInfo{Message: rec.Message, Parents: parents, Tree: codec.Hash(rec.Tree)}, nil
}

func (b *BadgerAdapter) ShowNode(hash codec.Hash) (string, error) {
	info, err := b.GetNodeInfo(hash)
	if err != nil {
		return "", err
	}
	return info.Message, nil
}

func (b *BadgerAdapter) NodeExists(hash codec.Hash) (bool, error) {
	exists := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(commitKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (b *BadgerAdapter) ConfigGet(key string) (string, bool, error) {
	var value string
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append([]byte("config:"), []byte(key)...))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	return value, found, err
}

func (b *BadgerAdapter) ConfigSet(key, value string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append([]byte("config:"), []byte(key)...), []byte(value))
	})
}

func (b *BadgerAdapter) Ping() (PingResult, error) {
	start := time.Now()
	err := b.db.View(func(txn *badger.Txn) error { return nil })
	if err != nil {
		return PingResult{OK: false}, err
	}
	return PingResult{OK: true, LatencyMs: time.Since(start).Milliseconds()}, nil
}

var _ Adapter = (*BadgerAdapter)(nil)
