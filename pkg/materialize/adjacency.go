package materialize

import (
	"container/list"
	"sort"
	"sync"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/gstate"
)

// Neighbor is one edge endpoint reachable from a node, in the
// deterministic (id, label) traversal order spec.md §4.3 requires.
type Neighbor struct {
	ID    string
	Label string
}

// Adjacency is the outgoing/incoming edge index for one materialized
// state, sorted for deterministic traversal.
type Adjacency struct {
	Outgoing map[string][]Neighbor
	Incoming map[string][]Neighbor
}

// BuildAdjacency derives an Adjacency from state's current edges.
func BuildAdjacency(state *gstate.State) *Adjacency {
	adj := &Adjacency{Outgoing: make(map[string][]Neighbor), Incoming: make(map[string][]Neighbor)}
	for _, e := range state.GetEdges() {
		adj.Outgoing[e.From] = append(adj.Outgoing[e.From], Neighbor{ID: e.To, Label: e.Label})
		adj.Incoming[e.To] = append(adj.Incoming[e.To], Neighbor{ID: e.From, Label: e.Label})
	}
	less := func(ns []Neighbor) func(i, j int) bool {
		return func(i, j int) bool {
			if ns[i].ID != ns[j].ID {
				return ns[i].ID < ns[j].ID
			}
			return ns[i].Label < ns[j].Label
		}
	}
	for _, ns := range adj.Outgoing {
		sort.Slice(ns, less(ns))
	}
	for _, ns := range adj.Incoming {
		sort.Slice(ns, less(ns))
	}
	return adj
}

// adjacencyEntry is one LRU-cached value, keyed by the stateHash it was
// built from.
type adjacencyEntry struct {
	key   codec.Hash
	value *Adjacency
}

// adjacencyCache is a small LRU keyed on stateHash (spec.md §4.3:
// "Adjacency cache"), built from container/list + map like any
// bounded query cache, but without a TTL — adjacency entries never go
// stale on their own; they're invalidated by falling out of LRU order
// as new states are materialized.
type adjacencyCache struct {
	mu      sync.Mutex
	maxSize int
	list    *list.List
	items   map[codec.Hash]*list.Element
}

func newAdjacencyCache(maxSize int) *adjacencyCache {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &adjacencyCache{
		maxSize: maxSize,
		list:    list.New(),
		items:   make(map[codec.Hash]*list.Element, maxSize),
	}
}

func (c *adjacencyCache) get(key codec.Hash) (*Adjacency, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.list.MoveToFront(elem)
	return elem.Value.(*adjacencyEntry).value, true
}

func (c *adjacencyCache) put(key codec.Hash, value *Adjacency) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		elem.Value.(*adjacencyEntry).value = value
		c.list.MoveToFront(elem)
		return
	}
	for c.list.Len() >= c.maxSize {
		back := c.list.Back()
		if back == nil {
			break
		}
		c.list.Remove(back)
		delete(c.items, back.Value.(*adjacencyEntry).key)
	}
	elem := c.list.PushFront(&adjacencyEntry{key: key, value: value})
	c.items[key] = elem
}
