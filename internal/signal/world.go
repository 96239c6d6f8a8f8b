package signal

import (
	"time"

	"agentloop/internal/goal"
)

// CronStatus is the minimal view of a scheduled trigger a detector needs.
type CronStatus struct {
	ID                string
	Name              string
	ConsecutiveErrors int
	DeliveredCount    int
	EngagedCount      int
}

// FollowupItem mirrors CycleState.pendingFollowups entries.
type FollowupItem struct {
	Topic     string
	CreatedAt time.Time
	GoalID    string // optional
}

// MemoryTierLevel is one tier of the memory-pressure checker's heap/RSS reading.
type MemoryTierLevel string

const (
	MemoryNormal   MemoryTierLevel = "normal"
	MemoryWarn     MemoryTierLevel = "warn"
	MemoryShed     MemoryTierLevel = "shed"
	MemoryCritical MemoryTierLevel = "critical"
	MemoryRestart  MemoryTierLevel = "restart"
)

// StaleMemoryEntry is one memory-tier item eligible for the stale-memory signal.
type StaleMemoryEntry struct {
	ID             string
	Tier           string
	LastAccessedAt time.Time
}

// World is the read-only snapshot of process-wide state every detector
// inspects. Detectors must not mutate it except through the two explicitly
// documented mutable timestamp fields below.
type World struct {
	Now time.Time

	Goals []*goal.Goal

	Crons             []CronStatus
	PendingFollowups  []FollowupItem

	DailyCostUSD       float64
	RollingAvgCostUSD  float64
	CostTrackingDisabled bool

	MemoryTier MemoryTierLevel
	StaleMemoryEntries []StaleMemoryEntry

	MCPConsecutiveFailures int

	ErrorCountLastHour     int
	ErrorCountPriorHour    int

	LastInboundMessageAt time.Time
	QuietHours           QuietHours

	BotMemoryLastChangedAt time.Time

	RecentCycleErrorsLastHour  int
	RecentBackoffsLastHour     int
	IdleSinceLast              time.Duration

	// Mutable rate-limit bookkeeping, updated in place by detectors that
	// document it (cost spike, memory-pressure CRITICAL).
	LastCostSpikeSignalAt  *time.Time
	LastMemoryCriticalAt   *time.Time
}

// QuietHours is the wrap-around-aware quiet window, local hours [0,23].
type QuietHours struct {
	Start int
	End   int
}

// IsQuiet reports whether t's local hour falls within the quiet window,
// correctly handling windows that wrap past midnight (spec.md §8 boundary:
// quietStart=23, quietEnd=8 => 00:30 is quiet, 08:00 is not, 22:59 is not).
func (q QuietHours) IsQuiet(t time.Time) bool {
	h := t.Hour()
	if q.Start == q.End {
		return false
	}
	if q.Start < q.End {
		return h >= q.Start && h < q.End
	}
	return h >= q.Start || h < q.End
}
