package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignal_KeyPrefersGoalIDOverTopic(t *testing.T) {
	s := Signal{Type: TypeStaleGoal, Data: map[string]any{"goalId": "g1", "topic": "ignored"}}
	assert.Equal(t, "stale_goal:g1", s.Key())
}

func TestSignal_KeyFallsBackToBareType(t *testing.T) {
	s := Signal{Type: TypeMemoryPressure}
	assert.Equal(t, "memory_pressure", s.Key())
}

func TestUrgency_CooldownSeconds(t *testing.T) {
	assert.Equal(t, int64(3*3600), UrgencyLow.CooldownSeconds())
	assert.Equal(t, int64(3600), UrgencyMedium.CooldownSeconds())
	assert.Equal(t, int64(0), UrgencyHigh.CooldownSeconds())
	assert.Equal(t, int64(0), UrgencyCritical.CooldownSeconds())
}

func TestUrgency_Rank(t *testing.T) {
	assert.True(t, UrgencyCritical.Rank() < UrgencyHigh.Rank())
	assert.True(t, UrgencyHigh.Rank() < UrgencyMedium.Rank())
	assert.True(t, UrgencyMedium.Rank() < UrgencyLow.Rank())
}

func TestIsSonnetRequiring_CoreSet(t *testing.T) {
	assert.True(t, IsSonnetRequiring(TypeGoalWork))
	assert.True(t, IsSonnetRequiring(TypeFollowup))
	assert.False(t, IsSonnetRequiring(TypeStaleGoal))
}

func TestQuietHours_WrapsMidnight(t *testing.T) {
	q := QuietHours{Start: 23, End: 8}
	assert.True(t, q.IsQuiet(at(0, 30)))
	assert.False(t, q.IsQuiet(at(8, 0)))
	assert.False(t, q.IsQuiet(at(22, 59)))
	assert.True(t, q.IsQuiet(at(23, 0)))
}
