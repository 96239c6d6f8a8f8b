package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/internal/cyclestate"
	"agentloop/internal/supervisor"
)

func TestOnCycle_RecordsCompletedOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCycleMetrics(reg)

	state := cyclestate.New()
	state.DailyCost = 1.5
	state.LastCycleTokens = 120
	state.ConsecutiveRecycles = 2

	m.OnCycle(supervisor.CycleOutcome{State: state, NextDelay: 3 * time.Minute})

	assert.Equal(t, 1.5, testutil.ToFloat64(m.dailyCostUSD))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.lastCycleTokens))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.consecutiveRecyc))
	assert.Equal(t, 180.0, testutil.ToFloat64(m.lastDelaySeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("completed")))
}

func TestOnCycle_RecordsSkippedOutcomeByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCycleMetrics(reg)

	m.OnCycle(supervisor.CycleOutcome{Skipped: true, SkipReason: "no_signals", NextDelay: 10 * time.Minute})
	m.OnCycle(supervisor.CycleOutcome{Skipped: true, SkipReason: "no_signals", NextDelay: 10 * time.Minute})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("no_signals")))
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCycleMetrics(reg)
	m.OnCycle(supervisor.CycleOutcome{State: cyclestate.New(), NextDelay: time.Minute})

	h := Handler(reg)
	require.NotNil(t, h)
}
