package arbiter

import (
	"fmt"
	"testing"
	"time"

	"agentloop/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArbitrate_CooldownFilterDropsRecentlyFiredLowSignal(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	s := signal.Signal{Type: signal.TypeStaleMemory, Urgency: signal.UrgencyLow, Data: map[string]any{"memoryId": "m1"}}
	cooldowns := CooldownTable{s.Key(): now.Add(-1 * time.Hour).UnixMilli()} // within 3h low cooldown

	result := Arbitrate([]signal.Signal{s}, cooldowns, now)
	assert.Empty(t, result.Picked)
}

func TestArbitrate_CooldownExpiredSignalIsEligible(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	s := signal.Signal{Type: signal.TypeStaleMemory, Urgency: signal.UrgencyLow, Data: map[string]any{"memoryId": "m1"}}
	cooldowns := CooldownTable{s.Key(): now.Add(-4 * time.Hour).UnixMilli()} // past 3h low cooldown

	result := Arbitrate([]signal.Signal{s}, cooldowns, now)
	require.Len(t, result.Picked, 1)
}

func TestArbitrate_PicksAtMostTwo(t *testing.T) {
	now := time.Now()
	signals := []signal.Signal{
		{Type: signal.TypeStaleGoal, Urgency: signal.UrgencyHigh, Data: map[string]any{"goalId": "g1"}},
		{Type: signal.TypeBlockedGoal, Urgency: signal.UrgencyHigh, Data: map[string]any{"goalId": "g2"}},
		{Type: signal.TypeDeadlineApproaching, Urgency: signal.UrgencyHigh, Data: map[string]any{"goalId": "g3"}},
	}
	result := Arbitrate(signals, nil, now)
	assert.Len(t, result.Picked, 2)
}

func TestArbitrate_AtMostOneSonnetRequiringPick(t *testing.T) {
	now := time.Now()
	signals := []signal.Signal{
		{Type: signal.TypeGoalWork, Urgency: signal.UrgencyCritical, Data: map[string]any{"goalId": "g1"}},
		{Type: signal.TypeFollowup, Urgency: signal.UrgencyCritical, Data: map[string]any{"topic": "t1"}},
	}
	result := Arbitrate(signals, nil, now)
	sonnetCount := 0
	for _, s := range result.Picked {
		if signal.IsSonnetRequiring(s.Type) {
			sonnetCount++
		}
	}
	assert.LessOrEqual(t, sonnetCount, 1)
}

func TestArbitrate_StampsOnlyPickedCooldowns(t *testing.T) {
	now := time.Now()
	first := signal.Signal{Type: signal.TypeStaleGoal, Urgency: signal.UrgencyCritical, Data: map[string]any{"goalId": "g1"}}
	second := signal.Signal{Type: signal.TypeBlockedGoal, Urgency: signal.UrgencyHigh, Data: map[string]any{"goalId": "g2"}}
	notPicked := signal.Signal{Type: signal.TypeDeadlineApproaching, Urgency: signal.UrgencyMedium, Data: map[string]any{"goalId": "g3"}}

	result := Arbitrate([]signal.Signal{first, second, notPicked}, nil, now)
	require.Len(t, result.Picked, 2)
	_, firstStamped := result.Cooldowns[first.Key()]
	_, secondStamped := result.Cooldowns[second.Key()]
	_, notPickedStamped := result.Cooldowns[notPicked.Key()]
	assert.True(t, firstStamped)
	assert.True(t, secondStamped)
	assert.False(t, notPickedStamped)
}

func TestArbitrate_PrunesCooldownsOlderThan24h(t *testing.T) {
	now := time.Now()
	stale := CooldownTable{"old:key": now.Add(-25 * time.Hour).UnixMilli()}
	result := Arbitrate(nil, stale, now)
	assert.NotContains(t, result.Cooldowns, "old:key")
}

func TestDiversitySwap_ReplacesSecondPickWithLowerTier(t *testing.T) {
	picked := []signal.Signal{
		{Type: signal.TypeStaleGoal, Urgency: signal.UrgencyHigh, Data: map[string]any{"goalId": "g1"}},
		{Type: signal.TypeBlockedGoal, Urgency: signal.UrgencyHigh, Data: map[string]any{"goalId": "g2"}},
	}
	eligible := append(append([]signal.Signal{}, picked...),
		signal.Signal{Type: signal.TypeStaleMemory, Urgency: signal.UrgencyLow, Data: map[string]any{"memoryId": "m1"}})

	swapped := diversitySwap(picked, eligible)
	require.Len(t, swapped, 2)
	assert.Equal(t, signal.TypeStaleMemory, swapped[1].Type)
}

func TestDiversitySwap_NoOpWhenPicksDifferInTier(t *testing.T) {
	picked := []signal.Signal{
		{Type: signal.TypeStaleGoal, Urgency: signal.UrgencyCritical},
		{Type: signal.TypeBlockedGoal, Urgency: signal.UrgencyHigh},
	}
	swapped := diversitySwap(picked, picked)
	assert.Equal(t, picked, swapped)
}

func TestCorrelate_SynthesizesCompoundAtThreeLowSignals(t *testing.T) {
	raw := []signal.Signal{
		{Type: signal.TypeStaleMemory, Urgency: signal.UrgencyLow, Summary: "a"},
		{Type: signal.TypeConversationGap, Urgency: signal.UrgencyLow, Summary: "b"},
		{Type: signal.TypeLowEngagementCron, Urgency: signal.UrgencyLow, Summary: "c"},
	}
	out := correlate(raw)
	require.Len(t, out, 4)
	assert.Equal(t, signal.TypeCompound, out[3].Type)
	assert.Equal(t, signal.UrgencyMedium, out[3].Urgency)
}

func TestCorrelate_NoOpBelowThreshold(t *testing.T) {
	raw := []signal.Signal{{Type: signal.TypeStaleMemory, Urgency: signal.UrgencyLow}}
	assert.Len(t, correlate(raw), 1)
}

func TestCooldownTable_PruneRemovesOldEntries(t *testing.T) {
	now := time.Now().UnixMilli()
	table := CooldownTable{
		"fresh": now - 1000,
		"old":   now - (25 * time.Hour).Milliseconds(),
	}
	table.Prune(now)
	assert.Contains(t, table, "fresh")
	assert.NotContains(t, table, "old")
}

func TestCooldownTable_PruneEvictsOldestBeyondCap(t *testing.T) {
	now := time.Now().UnixMilli()
	table := CooldownTable{}
	for i := 0; i < maxCooldownKeys+10; i++ {
		table[fmt.Sprintf("key-%d", i)] = now - int64(maxCooldownKeys+10-i)
	}
	table.Prune(now)
	assert.Len(t, table, maxCooldownKeys)
	assert.NotContains(t, table, "key-0", "oldest entries should be evicted first")
	assert.Contains(t, table, fmt.Sprintf("key-%d", maxCooldownKeys+9), "newest entry should survive")
}
