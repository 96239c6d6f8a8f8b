package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_HasNonEmptyID(t *testing.T) {
	s := NewSession()
	assert.NotEmpty(t, s.ID())
}

func TestNewSession_IDsAreUnique(t *testing.T) {
	a := NewSession()
	b := NewSession()
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestRecordCycle_NoResetBelowThresholds(t *testing.T) {
	s := NewSession()
	due := s.RecordCycle(1000, false)
	assert.False(t, due)
}

func TestRecordCycle_ResetDueAboveTokenThreshold(t *testing.T) {
	s := NewSession()
	due := s.RecordCycle(100_001, false)
	assert.True(t, due)
}

func TestRecordCycle_ResetDueAtTenCycles(t *testing.T) {
	s := NewSession()
	var due bool
	for i := 0; i < 10; i++ {
		due = s.RecordCycle(10, false)
	}
	assert.True(t, due)
}

func TestRecordCycle_NotDueAtNineCycles(t *testing.T) {
	s := NewSession()
	var due bool
	for i := 0; i < 9; i++ {
		due = s.RecordCycle(10, false)
	}
	assert.False(t, due)
}

func TestRecordCycle_ResetDueOnUnhandledError(t *testing.T) {
	s := NewSession()
	due := s.RecordCycle(1, true)
	assert.True(t, due)
}

func TestReset_ZeroesAccumulatorsAndChangesID(t *testing.T) {
	s := NewSession()
	oldID := s.ID()
	s.RecordCycle(100_001, true)
	require.True(t, s.ResetDue())

	s.Reset()
	assert.NotEqual(t, oldID, s.ID())
	snap := s.Snapshot()
	assert.Equal(t, 0, snap.AccumulatedTokens)
	assert.Equal(t, 0, snap.CyclesSinceReset)
	assert.False(t, snap.LastCycleErrored)
	assert.False(t, s.ResetDue())
}

func TestReset_CancelsInFlightToolCall(t *testing.T) {
	s := NewSession()
	_, cancel := context.WithCancel(context.Background())
	canceled := false
	cleanup := s.TrackToolCall(func() { canceled = true; cancel() })
	defer cleanup()

	s.Reset()
	assert.True(t, canceled)
}

func TestEstimateAndRecordCycle_AccumulatesEstimatedTokens(t *testing.T) {
	s := NewSession()
	due := s.EstimateAndRecordCycle("a prompt with several words in it", "a response with words too", false)
	assert.False(t, due)
	assert.Greater(t, s.Snapshot().AccumulatedTokens, 0)
}
