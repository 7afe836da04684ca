// Package gc reports compaction metrics for a materialized state and
// applies the OR-Set tombstone compaction the state's Policy calls for
// (spec.md §4.6), using a threshold + enabled-flag policy pattern
// generalized from record-lifecycle deletion to CRDT tombstone
// compaction.
package gc

import (
	"fmt"
	"time"

	"github.com/orneryd/warp/pkg/gstate"
)

// Metrics are always reportable from a materialized state, independent
// of whether any policy fires.
type Metrics struct {
	TombstoneCount            int
	LiveDotCount               int
	TombstoneRatio             float64 // TombstoneCount / (TombstoneCount + LiveDotCount), 0 if both are 0
	PatchesSinceLastCompaction uint64
	TimeSinceLastCompaction    time.Duration
}

// Policy is a record of compaction thresholds plus an enabled flag.
// Any threshold left at its zero value never fires on its own; compaction
// runs when Enabled and at least one configured threshold is exceeded.
type Policy struct {
	Enabled bool

	MinTombstoneCount  int           // 0 disables this threshold
	MinTombstoneRatio  float64       // 0 disables this threshold
	MinPatchesSinceRun uint64        // 0 disables this threshold
	MinTimeSinceRun    time.Duration // 0 disables this threshold
}

// DefaultPolicy returns a conservative, ready-to-use set of thresholds
// rather than all-zero (which would never compact).
func DefaultPolicy() Policy {
	return Policy{
		Enabled:            true,
		MinTombstoneCount:  1000,
		MinTombstoneRatio:  0.5,
		MinPatchesSinceRun: 500,
		MinTimeSinceRun:    time.Hour,
	}
}

// ComputeMetrics derives Metrics from state and the bookkeeping a
// materialize handle tracks alongside it.
func ComputeMetrics(state *gstate.State, patchesSinceLastCompaction uint64, lastCompactionAt time.Time) Metrics {
	tombs := state.NodeAlive.TombstoneCount() + state.EdgeAlive.TombstoneCount()
	live := state.NodeAlive.LiveDotCount() + state.EdgeAlive.LiveDotCount()
	var ratio float64
	if total := tombs + live; total > 0 {
		ratio = float64(tombs) / float64(total)
	}
	var since time.Duration
	if !lastCompactionAt.IsZero() {
		since = time.Since(lastCompactionAt)
	}
	return Metrics{
		TombstoneCount:             tombs,
		LiveDotCount:               live,
		TombstoneRatio:             ratio,
		PatchesSinceLastCompaction: patchesSinceLastCompaction,
		TimeSinceLastCompaction:    since,
	}
}

// ShouldCompact reports whether any configured threshold in policy is
// exceeded by metrics, regardless of Enabled — callers use this to decide
// whether a disabled policy should still warn.
func (p Policy) ShouldCompact(m Metrics) bool {
	if p.MinTombstoneCount > 0 && m.TombstoneCount >= p.MinTombstoneCount {
		return true
	}
	if p.MinTombstoneRatio > 0 && m.TombstoneRatio >= p.MinTombstoneRatio {
		return true
	}
	if p.MinPatchesSinceRun > 0 && m.PatchesSinceLastCompaction >= p.MinPatchesSinceRun {
		return true
	}
	if p.MinTimeSinceRun > 0 && m.TimeSinceLastCompaction >= p.MinTimeSinceRun {
		return true
	}
	return false
}

// Result reports what Run did, for the caller's logging.
type Result struct {
	Ran        bool
	Warned     bool
	Metrics    Metrics
	AppliedVV  map[string]uint64 // writer -> counter, the bound compaction was run against
}

// Run evaluates policy against state's current metrics and, if
// warranted and enabled, compacts state's tombstoned dots in place
// against computeAppliedVV(state) (spec.md §4.6). If thresholds are
// exceeded but the policy is disabled, Run reports Warned without
// mutating state. Run never returns an error: GC is defined to be
// non-fatal, and a materialize caller is expected to log whatever Run
// reports rather than abort on it.
func Run(state *gstate.State, policy Policy, patchesSinceLastCompaction uint64, lastCompactionAt time.Time) Result {
	metrics := ComputeMetrics(state, patchesSinceLastCompaction, lastCompactionAt)
	if !policy.ShouldCompact(metrics) {
		return Result{Metrics: metrics}
	}
	if !policy.Enabled {
		return Result{Metrics: metrics, Warned: true}
	}

	appliedVV := gstate.ComputeAppliedVV(state)
	state.NodeAlive.Compact(appliedVV)
	state.EdgeAlive.Compact(appliedVV)

	vvOut := make(map[string]uint64, len(appliedVV))
	for w, c := range appliedVV {
		vvOut[string(w)] = c
	}
	return Result{Ran: true, Metrics: metrics, AppliedVV: vvOut}
}

// Warning renders a human-readable message for a Result with Warned set,
// suitable for a materialize caller's logger.
func (r Result) Warning() string {
	if !r.Warned {
		return ""
	}
	return fmt.Sprintf("gc: thresholds exceeded (tombstones=%d ratio=%.2f patchesSince=%d timeSince=%s) but policy disabled; skipping compaction",
		r.Metrics.TombstoneCount, r.Metrics.TombstoneRatio, r.Metrics.PatchesSinceLastCompaction, r.Metrics.TimeSinceLastCompaction)
}
