package signal

import (
	"testing"
	"time"

	"agentloop/internal/goal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 7, 31, hour, minute, 0, 0, time.UTC)
}

func TestDetectStaleGoal_UrgencyByAge(t *testing.T) {
	now := at(12, 0)
	w := World{Now: now, Goals: []*goal.Goal{
		{ID: "g1", Title: "medium stale", Status: goal.StatusInProgress, UpdatedAt: now.Add(-50 * time.Hour)},
		{ID: "g2", Title: "high stale", Status: goal.StatusInProgress, UpdatedAt: now.Add(-100 * time.Hour)},
		{ID: "g3", Title: "fresh", Status: goal.StatusInProgress, UpdatedAt: now.Add(-1 * time.Hour)},
	}}
	signals := DetectStaleGoal(w)
	require.Len(t, signals, 2)
	assert.Equal(t, UrgencyMedium, signals[0].Urgency)
	assert.Equal(t, UrgencyHigh, signals[1].Urgency)
}

func TestDetectBlockedGoal_NudgeUserFlagAt14Days(t *testing.T) {
	now := at(12, 0)
	w := World{Now: now, Goals: []*goal.Goal{
		{ID: "g1", Title: "very blocked", Status: goal.StatusBlocked, UpdatedAt: now.Add(-15 * 24 * time.Hour)},
	}}
	signals := DetectBlockedGoal(w)
	require.Len(t, signals, 1)
	assert.Equal(t, UrgencyHigh, signals[0].Urgency)
	assert.Equal(t, true, signals[0].Data["nudgeUser"])
}

func TestDetectDeadlineApproaching(t *testing.T) {
	now := at(12, 0)
	dl := now.Add(12 * time.Hour)
	w := World{Now: now, Goals: []*goal.Goal{
		{ID: "g1", Title: "urgent", Status: goal.StatusActive, Deadline: &dl},
	}}
	signals := DetectDeadlineApproaching(w)
	require.Len(t, signals, 1)
	assert.Equal(t, UrgencyHigh, signals[0].Urgency)
}

func TestDetectFailingCron_Thresholds(t *testing.T) {
	w := World{Crons: []CronStatus{
		{ID: "c1", Name: "medium", ConsecutiveErrors: 3},
		{ID: "c2", Name: "high", ConsecutiveErrors: 5},
		{ID: "c3", Name: "fine", ConsecutiveErrors: 1},
	}}
	signals := DetectFailingCron(w)
	require.Len(t, signals, 2)
}

func TestFollowupUrgency_AgingEscalation(t *testing.T) {
	assert.Equal(t, UrgencyMedium, FollowupUrgency("normal", 24*time.Hour))
	assert.Equal(t, UrgencyHigh, FollowupUrgency("normal", 48*time.Hour))
	assert.Equal(t, UrgencyHigh, FollowupUrgency("normal", 72*time.Hour))
	assert.Equal(t, UrgencyLow, FollowupUrgency("normal", time.Hour))
}

func TestDetectCostSpike_SuppressedWhenTrackingDisabled(t *testing.T) {
	w := World{Now: at(12, 0), CostTrackingDisabled: true, DailyCostUSD: 5, RollingAvgCostUSD: 1}
	assert.Empty(t, DetectCostSpike(w))
}

func TestDetectCostSpike_FiresAboveThreshold(t *testing.T) {
	w := World{Now: at(12, 0), DailyCostUSD: 0.5, RollingAvgCostUSD: 0.1}
	signals := DetectCostSpike(w)
	require.Len(t, signals, 1)
	assert.Equal(t, UrgencyHigh, signals[0].Urgency)
}

func TestDetectMemoryPressure_Tiers(t *testing.T) {
	assert.Empty(t, DetectMemoryPressure(World{MemoryTier: MemoryNormal}))
	assert.Equal(t, UrgencyLow, DetectMemoryPressure(World{MemoryTier: MemoryWarn})[0].Urgency)
	assert.Equal(t, UrgencyHigh, DetectMemoryPressure(World{MemoryTier: MemoryCritical})[0].Urgency)
}

func TestDetectErrorSpike_HighRequiresCountAndRatio(t *testing.T) {
	w := World{ErrorCountLastHour: 12, ErrorCountPriorHour: 3}
	signals := DetectErrorSpike(w)
	require.Len(t, signals, 1)
	assert.Equal(t, UrgencyHigh, signals[0].Urgency)

	w2 := World{ErrorCountLastHour: 6, ErrorCountPriorHour: 5}
	signals2 := DetectErrorSpike(w2)
	require.Len(t, signals2, 1)
	assert.Equal(t, UrgencyMedium, signals2[0].Urgency)
}

func TestDetectConversationGap_RespectsQuietHours(t *testing.T) {
	now := at(23, 30)
	w := World{Now: now, QuietHours: QuietHours{Start: 22, End: 8}, LastInboundMessageAt: now.Add(-20 * time.Hour)}
	assert.Empty(t, DetectConversationGap(w))
}

func TestDetectStaleMemory_CapsAtThree(t *testing.T) {
	now := at(12, 0)
	var entries []StaleMemoryEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, StaleMemoryEntry{ID: string(rune('a' + i)), LastAccessedAt: now.Add(-6 * 24 * time.Hour)})
	}
	w := World{Now: now, StaleMemoryEntries: entries}
	assert.Len(t, DetectStaleMemory(w), 3)
}

func TestDetectGoalWork_TopThreeByPriority(t *testing.T) {
	now := at(12, 0)
	mk := func(id string, p goal.Priority) *goal.Goal {
		return &goal.Goal{ID: id, Title: id, Status: goal.StatusInProgress, Priority: p, Milestones: []goal.Milestone{{ID: "m1", Status: goal.MilestonePending}}}
	}
	w := World{Now: now, Goals: []*goal.Goal{
		mk("low", goal.PriorityLow),
		mk("crit", goal.PriorityCritical),
		mk("high", goal.PriorityHigh),
		mk("normal", goal.PriorityNormal),
	}}
	signals := DetectGoalWork(w)
	require.Len(t, signals, 3)
	assert.Equal(t, "crit", signals[0].Data["goalId"])
}

func TestAllDetectors_IncludesModuleRegistered(t *testing.T) {
	before := len(AllDetectors())
	RegisterDetector(func(w World) []Signal { return nil })
	after := len(AllDetectors())
	assert.Equal(t, before+1, after)
}
