package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/orneryd/warp/pkg/audit"
	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/gstate"
	"github.com/orneryd/warp/pkg/reducer"
	"github.com/orneryd/warp/pkg/warperr"
)

// EventKind names one point in a Session's lifecycle (spec.md §4.7:
// "connecting, request-built, request-sent, response-received, applied,
// retrying, failed, complete"), sent on Session.Events as Run reaches
// each point.
type EventKind string

const (
	EventConnecting       EventKind = "connecting"
	EventRequestBuilt     EventKind = "request-built"
	EventRequestSent      EventKind = "request-sent"
	EventResponseReceived EventKind = "response-received"
	EventApplied          EventKind = "applied"
	EventRetrying         EventKind = "retrying"
	EventFailed           EventKind = "failed"
	EventComplete         EventKind = "complete"
)

// Event is one lifecycle notification. Attempt is 1 on the first
// request and increments on every retry; Err is set on Retrying and
// Failed only.
type Event struct {
	Kind    EventKind
	Attempt int
	Err     error
}

// Session runs one sync round-trip with decorrelated-jitter exponential
// backoff retry (spec.md §4.7). A zero-value Session fills in sensible
// backoff defaults; MaxRetries <= 0 means "retry forever" (bounded only
// by ctx cancellation or an abort signal).
type Session struct {
	Transport      Transport
	Endpoint       string
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Events receives every lifecycle notification, if non-nil. Sends
	// block, so callers wanting non-blocking delivery should give this a
	// buffered channel and drain it from a separate goroutine.
	Events chan<- Event
}

// SessionOptions carries the retry-budget fields a caller wants to set
// on a Session without constructing one directly (used by
// pkg/warp.Graph.Sync, which owns the Transport/Endpoint/Events wiring
// itself).
type SessionOptions struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (s *Session) emit(ev Event) {
	if s.Events != nil {
		s.Events <- ev
	}
}

func (s *Session) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.InitialBackoff
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = 500 * time.Millisecond
	}
	eb.MaxInterval = s.MaxBackoff
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = 30 * time.Second
	}
	eb.MaxElapsedTime = 0 // bounded by MaxRetries / ctx, not wall-clock

	var bo backoff.BackOff = eb
	if s.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(s.MaxRetries))
	}
	return backoff.WithContext(bo, ctx)
}

// Run executes one sync: builds a Request from localFrontier, sends it
// (retrying on retryable transport errors per warperr.IsRetryable),
// then folds the response into state via Apply. It returns the server's
// frontier (the caller's new last-known-frontier snapshot) and aborts
// early, returning ctx.Err() wrapped in warperr.ErrOperationAborted, if
// ctx is cancelled mid-retry.
func (s *Session) Run(ctx context.Context, state *gstate.State, localFrontier map[string]codec.Hash, sink audit.Sink, opts reducer.Options) (map[string]codec.Hash, error) {
	s.emit(Event{Kind: EventConnecting})

	req := Request{Frontier: localFrontier}
	s.emit(Event{Kind: EventRequestBuilt})

	attempt := 0
	var resp Response
	operation := func() error {
		attempt++
		s.emit(Event{Kind: EventRequestSent, Attempt: attempt})
		r, err := s.Transport.Do(ctx, s.Endpoint, req)
		if err != nil {
			if !warperr.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, _ time.Duration) {
		s.emit(Event{Kind: EventRetrying, Attempt: attempt, Err: err})
	}

	if err := backoff.RetryNotify(operation, s.newBackOff(ctx), notify); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", warperr.ErrOperationAborted, ctx.Err())
		}
		s.emit(Event{Kind: EventFailed, Err: err})
		return nil, fmt.Errorf("sync: %w", err)
	}
	s.emit(Event{Kind: EventResponseReceived})

	frontier, _, err := Apply(state, resp, sink, opts)
	if err != nil {
		s.emit(Event{Kind: EventFailed, Err: err})
		return nil, fmt.Errorf("sync: %w", err)
	}
	s.emit(Event{Kind: EventApplied})
	s.emit(Event{Kind: EventComplete})
	return frontier, nil
}
