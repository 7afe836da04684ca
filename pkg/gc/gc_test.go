package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/warp/pkg/crdt"
	"github.com/orneryd/warp/pkg/gstate"
)

func tombstoneNode(state *gstate.State, id string, writer string, counter uint64) {
	dot := crdt.Dot{Writer: crdt.WriterID(writer), Counter: counter}
	state.NodeAlive.Add(id, dot)
	state.NodeAlive.Remove([]crdt.Dot{dot})
}

func TestComputeMetrics(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alive-1", crdt.Dot{Writer: "w1", Counter: 1})
	tombstoneNode(state, "gone-1", "w1", 2)
	tombstoneNode(state, "gone-2", "w1", 3)

	m := ComputeMetrics(state, 10, time.Time{})

	assert.Equal(t, 2, m.TombstoneCount)
	assert.Equal(t, 1, m.LiveDotCount)
	assert.InDelta(t, 2.0/3.0, m.TombstoneRatio, 0.001)
	assert.Equal(t, uint64(10), m.PatchesSinceLastCompaction)
	assert.Zero(t, m.TimeSinceLastCompaction)
}

func TestComputeMetricsEmptyState(t *testing.T) {
	m := ComputeMetrics(gstate.New(), 0, time.Time{})
	assert.Zero(t, m.TombstoneCount)
	assert.Zero(t, m.LiveDotCount)
	assert.Zero(t, m.TombstoneRatio)
}

func TestPolicyShouldCompact(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		m      Metrics
		want   bool
	}{
		{"no thresholds configured", Policy{}, Metrics{TombstoneCount: 1_000_000}, false},
		{"count threshold met", Policy{MinTombstoneCount: 100}, Metrics{TombstoneCount: 100}, true},
		{"count threshold not met", Policy{MinTombstoneCount: 100}, Metrics{TombstoneCount: 99}, false},
		{"ratio threshold met", Policy{MinTombstoneRatio: 0.5}, Metrics{TombstoneRatio: 0.5}, true},
		{"patches threshold met", Policy{MinPatchesSinceRun: 50}, Metrics{PatchesSinceLastCompaction: 50}, true},
		{"time threshold met", Policy{MinTimeSinceRun: time.Minute}, Metrics{TimeSinceLastCompaction: 2 * time.Minute}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.ShouldCompact(tt.m))
		})
	}
}

func TestRunCompactsWhenEnabledAndThresholdMet(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alive-1", crdt.Dot{Writer: "w1", Counter: 1})
	tombstoneNode(state, "gone-1", "w1", 2)
	tombstoneNode(state, "gone-2", "w1", 3)

	policy := Policy{Enabled: true, MinTombstoneCount: 2}
	result := Run(state, policy, 0, time.Time{})

	require.True(t, result.Ran)
	assert.False(t, result.Warned)
	assert.Equal(t, 0, state.NodeAlive.TombstoneCount())
	assert.Equal(t, uint64(3), result.AppliedVV["w1"])
}

func TestRunWarnsWithoutCompactingWhenDisabled(t *testing.T) {
	state := gstate.New()
	tombstoneNode(state, "gone-1", "w1", 1)

	policy := Policy{Enabled: false, MinTombstoneCount: 1}
	result := Run(state, policy, 0, time.Time{})

	assert.False(t, result.Ran)
	assert.True(t, result.Warned)
	assert.Equal(t, 1, state.NodeAlive.TombstoneCount())
	assert.NotEmpty(t, result.Warning())
}

func TestRunNoOpBelowThreshold(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alive-1", crdt.Dot{Writer: "w1", Counter: 1})

	policy := DefaultPolicy()
	result := Run(state, policy, 0, time.Time{})

	assert.False(t, result.Ran)
	assert.False(t, result.Warned)
	assert.Empty(t, result.Warning())
}

func TestRunNeverCompactsLiveDots(t *testing.T) {
	state := gstate.New()
	state.NodeAlive.Add("alive-1", crdt.Dot{Writer: "w1", Counter: 5})
	tombstoneNode(state, "gone-1", "w1", 1)

	policy := Policy{Enabled: true, MinTombstoneCount: 1}
	result := Run(state, policy, 0, time.Time{})

	require.True(t, result.Ran)
	assert.True(t, state.NodeAlive.Alive("alive-1"))
	assert.Equal(t, 1, state.NodeAlive.LiveDotCount())
}
