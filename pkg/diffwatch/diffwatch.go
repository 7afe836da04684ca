// Package diffwatch computes structural diffs between two graph states
// and dispatches them to registered subscribers (spec.md §4.8), using
// the familiar added/removed/changed shape, generalized here from
// flat property-bag comparison to WARP's node/edge/prop graph diff.
package diffwatch

import (
	"fmt"
	"path"
	"reflect"
	"sort"
	"sync"

	"github.com/orneryd/warp/pkg/gstate"
)

// PropChange names one property key whose value was set or removed.
// Key is the flat storage key (gstate.NodePropKey/EdgePropKey shape);
// callers distinguishing node vs. edge properties check
// gstate.EdgePropPrefix themselves — the diff does not split them,
// since not every caller cares about the distinction.
type PropChange struct {
	Key   string
	Value any // nil for Removed entries
}

// Diff is the structural difference between two materialized states.
type Diff struct {
	Nodes struct {
		Added   []string
		Removed []string
	}
	Edges struct {
		Added   []gstate.Edge
		Removed []gstate.Edge
	}
	Props struct {
		Set     []PropChange
		Removed []PropChange
	}
}

// IsEmpty reports whether the diff carries no changes at all.
func (d Diff) IsEmpty() bool {
	return len(d.Nodes.Added) == 0 && len(d.Nodes.Removed) == 0 &&
		len(d.Edges.Added) == 0 && len(d.Edges.Removed) == 0 &&
		len(d.Props.Set) == 0 && len(d.Props.Removed) == 0
}

// Compute returns the diff from before to after. A nil before is
// treated as the empty state (used for first-notification replay).
// Edges are gated on both endpoints being alive in their own state
// (before's edges against before's aliveness, after's against after's)
// so an edge that disappears purely because an endpoint was deleted
// doesn't also register as spurious edge churn on top of the node
// removal.
func Compute(before, after *gstate.State) Diff {
	var d Diff
	if before == nil {
		before = gstate.New()
	}
	if after == nil {
		after = gstate.New()
	}

	beforeNodes := stringSet(before.GetNodes())
	afterNodes := stringSet(after.GetNodes())
	for id := range afterNodes {
		if _, ok := beforeNodes[id]; !ok {
			d.Nodes.Added = append(d.Nodes.Added, id)
		}
	}
	for id := range beforeNodes {
		if _, ok := afterNodes[id]; !ok {
			d.Nodes.Removed = append(d.Nodes.Removed, id)
		}
	}
	sort.Strings(d.Nodes.Added)
	sort.Strings(d.Nodes.Removed)

	beforeEdges := edgeSet(before.GetEdges())
	afterEdges := edgeSet(after.GetEdges())
	for key, e := range afterEdges {
		if _, ok := beforeEdges[key]; !ok {
			d.Edges.Added = append(d.Edges.Added, e)
		}
	}
	for key, e := range beforeEdges {
		if _, ok := afterEdges[key]; !ok {
			d.Edges.Removed = append(d.Edges.Removed, e)
		}
	}
	sort.Slice(d.Edges.Added, func(i, j int) bool { return d.Edges.Added[i].Less(d.Edges.Added[j]) })
	sort.Slice(d.Edges.Removed, func(i, j int) bool { return d.Edges.Removed[i].Less(d.Edges.Removed[j]) })

	keys := make(map[string]struct{}, len(before.Prop)+len(after.Prop))
	for k := range before.Prop {
		keys[k] = struct{}{}
	}
	for k := range after.Prop {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	for _, k := range sorted {
		beforeReg, hadBefore := before.Prop[k]
		afterReg, hasAfter := after.Prop[k]
		switch {
		case hasAfter && !hadBefore:
			d.Props.Set = append(d.Props.Set, PropChange{Key: k, Value: afterReg.Value})
		case hasAfter && hadBefore && !reflect.DeepEqual(beforeReg.Value, afterReg.Value):
			d.Props.Set = append(d.Props.Set, PropChange{Key: k, Value: afterReg.Value})
		case hadBefore && !hasAfter:
			d.Props.Removed = append(d.Props.Removed, PropChange{Key: k})
		}
	}

	return d
}

func stringSet(ss []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}

func edgeSet(edges []gstate.Edge) map[string]gstate.Edge {
	out := make(map[string]gstate.Edge, len(edges))
	for _, e := range edges {
		out[gstate.EdgeKey(e.From, e.To, e.Label)] = e
	}
	return out
}

// Subscription is a registered diff listener (spec.md §4.8).
type Subscription struct {
	OnChange func(Diff)
	OnError  func(error)

	id      uint64
	replay  bool
	pending bool // true until this subscriber has seen its first dispatch
}

// Dispatcher tracks the last state it notified (one state shared by all
// subscribers) and fans a new diff out to them after every materialize.
type Dispatcher struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[uint64]*Subscription
	lastNotified *gstate.State
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subscribers: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscription, returning an unsubscribe func.
func (d *Dispatcher) Subscribe(onChange func(Diff), onError func(error), replay bool) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.subscribers[id] = &Subscription{OnChange: onChange, OnError: onError, id: id, replay: replay, pending: true}
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subscribers, id)
	}
}

// Notify computes the diff from the dispatcher's last-notified state to
// current and dispatches to every subscriber whose own view warrants
// it: non-empty diff, or first dispatch for a replay subscriber (which
// sees a diff from the empty state). A panic in one subscriber's
// OnChange is recovered and reported to that subscriber's OnError (if
// set), so it cannot interrupt dispatch to the rest.
func (d *Dispatcher) Notify(current *gstate.State) {
	d.mu.Lock()
	previous := d.lastNotified
	d.lastNotified = current
	subs := make([]*Subscription, 0, len(d.subscribers))
	for _, s := range d.subscribers {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	generalDiff := Compute(previous, current)

	for _, s := range subs {
		diff := generalDiff
		dispatch := !diff.IsEmpty()
		if s.pending {
			if s.replay {
				diff = Compute(nil, current)
				dispatch = true
			}
			s.pending = false
		}
		if !dispatch {
			continue
		}
		d.invoke(s, diff)
	}
}

func (d *Dispatcher) invoke(s *Subscription, diff Diff) {
	defer func() {
		if r := recover(); r != nil && s.OnError != nil {
			s.OnError(fmt.Errorf("diffwatch: subscriber panicked: %v", r))
		}
	}()
	s.OnChange(diff)
}

// MatchesPattern reports whether any changed node-id, edge endpoint, or
// prop key in diff matches the glob pattern (path.Match syntax), the
// pre-filter Watch applies before a subscriber is bothered with a diff
// it doesn't care about.
func MatchesPattern(pattern string, diff Diff) bool {
	match := func(s string) bool {
		ok, err := path.Match(pattern, s)
		return err == nil && ok
	}
	for _, id := range diff.Nodes.Added {
		if match(id) {
			return true
		}
	}
	for _, id := range diff.Nodes.Removed {
		if match(id) {
			return true
		}
	}
	for _, e := range diff.Edges.Added {
		if match(e.From) || match(e.To) {
			return true
		}
	}
	for _, e := range diff.Edges.Removed {
		if match(e.From) || match(e.To) {
			return true
		}
	}
	for _, p := range diff.Props.Set {
		if match(p.Key) {
			return true
		}
	}
	for _, p := range diff.Props.Removed {
		if match(p.Key) {
			return true
		}
	}
	return false
}
