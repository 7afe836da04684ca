// Package audit records per-tick reducer receipts for callers that want
// a rolling view of recent writes without re-deriving them from the
// commit store (spec.md §9 Open Question: audit receipts get a Sink
// interface, not a durable chain writer — see DESIGN.md). RingSink is
// the in-memory Sink: a mutex-guarded ring buffer of
// reducer.TickReceipt values.
package audit

import (
	"sync"

	"github.com/orneryd/warp/pkg/reducer"
)

// Sink accepts one reducer.TickReceipt per successfully joined patch.
// Record must not block materialize's fold loop for long — a Sink doing
// durable I/O should buffer and flush asynchronously itself.
type Sink interface {
	Record(r *reducer.TickReceipt)
}

// NopSink discards every receipt; pkg/warp uses it when
// Options.AuditSink is nil.
type NopSink struct{}

func (NopSink) Record(*reducer.TickReceipt) {}

// RingSink keeps the last N receipts in memory, overwriting the oldest
// once full — a rolling recent-activity view, not an audit-grade
// durable log (spec.md's Open Question explicitly scopes a durable
// chain writer out).
type RingSink struct {
	mu       sync.Mutex
	capacity int
	buf      []*reducer.TickReceipt
	next     int
	full     bool
}

// NewRingSink returns a RingSink holding at most capacity receipts.
func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingSink{capacity: capacity, buf: make([]*reducer.TickReceipt, capacity)}
}

func (s *RingSink) Record(r *reducer.TickReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.next] = r
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
}

// Recent returns every retained receipt, oldest first.
func (s *RingSink) Recent() []*reducer.TickReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		out := make([]*reducer.TickReceipt, s.next)
		copy(out, s.buf[:s.next])
		return out
	}
	out := make([]*reducer.TickReceipt, s.capacity)
	copy(out, s.buf[s.next:])
	copy(out[s.capacity-s.next:], s.buf[:s.next])
	return out
}

// Len reports how many receipts are currently retained.
func (s *RingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return s.capacity
	}
	return s.next
}
