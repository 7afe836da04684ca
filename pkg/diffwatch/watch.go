package diffwatch

import (
	"context"
	"time"
)

// FrontierChecker reports whether any writer's ref has moved since the
// last check, letting Watch skip a re-materialize when nothing changed
// remotely either.
type FrontierChecker interface {
	HasFrontierChanged() (bool, error)
}

// Materializer refreshes the current state, notifying d
// (the Dispatcher Watch was built from) as a side effect — this is the
// shape pkg/materialize's handle satisfies.
type Materializer interface {
	Materialize(ctx context.Context) error
}

// Watch wraps Subscribe with a glob pre-filter (pattern, path.Match
// syntax) and an optional polling loop: every interval (if positive),
// it asks checker whether the frontier moved and, if so, re-runs
// materializer.Materialize, which in turn calls Notify on d. Returns a
// cancel func that stops the poll loop and unsubscribes.
func (d *Dispatcher) Watch(ctx context.Context, pattern string, interval time.Duration, checker FrontierChecker, materializer Materializer, onChange func(Diff), onError func(error)) (cancel func()) {
	filtered := func(diff Diff) {
		if pattern == "" || pattern == "*" || MatchesPattern(pattern, diff) {
			onChange(diff)
		}
	}
	unsubscribe := d.Subscribe(filtered, onError, false)

	if interval <= 0 || checker == nil || materializer == nil {
		return unsubscribe
	}

	pollCtx, stop := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				changed, err := checker.HasFrontierChanged()
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				if !changed {
					continue
				}
				if err := materializer.Materialize(pollCtx); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()

	return func() {
		stop()
		unsubscribe()
	}
}
