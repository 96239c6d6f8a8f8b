// Package cyclestate defines the cross-cycle data model shared by the
// Signal Arbiter, Prompt Composer, Backend Router, Response Parser, Effect
// Dispatcher, and Cycle Supervisor: CycleState, Followup, and CycleDiff
// (spec.md §3). It has no dependency on any of those packages so each can
// import it without creating a cycle back to internal/supervisor, which owns
// persisting it through the Key/Value Store (C1).
package cyclestate

import (
	"time"

	"agentloop/internal/arbiter"
	"agentloop/internal/eventlog"
	"agentloop/internal/signal"
)

// WellKnownKey is the single K/V Store key CycleState is persisted under.
const WellKnownKey = "agent:cycle_state"

// Followup is a user-tagged unit of deferred work, re-surfaced and
// urgency-escalated by DetectFollowups (internal/signal).
type Followup struct {
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"createdAt"`
	GoalID    string    `json:"goalId,omitempty"`
}

// FileDiff is one file's contribution to a CycleDiff.
type FileDiff struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

// CycleDiff is the per-cycle audit record (spec.md §3).
type CycleDiff struct {
	Cycle        int        `json:"cycle"`
	TS           time.Time  `json:"ts"`
	Model        string     `json:"model"`
	Cost         float64    `json:"cost"`
	Actions      []string   `json:"actions,omitempty"`
	BashCommands []string   `json:"bashCommands,omitempty"`
	Files        []FileDiff `json:"files,omitempty"`
	Reviewed     bool       `json:"reviewed"`
}

// State is CycleState: the single well-known K/V record owning cross-cycle
// bookkeeping (spec.md §3). The Key/Value Store (C1) exclusively owns it.
type State struct {
	LastCycleAt         time.Time          `json:"lastCycleAt"`
	CycleCount          int                `json:"cycleCount"`
	ConsecutiveSpawns   int                `json:"consecutiveSpawns"`
	ConsecutiveRecycles int                `json:"consecutiveRecycles"`
	PendingFollowups    []Followup         `json:"pendingFollowups,omitempty"`
	LastSignals         []signal.Signal    `json:"lastSignals,omitempty"`
	DailyCost           float64            `json:"dailyCost"`
	DailyCostDate       string             `json:"dailyCostDate"` // YYYY-MM-DD
	DailySonnetCost     float64            `json:"dailySonnetCost"`
	SignalCooldowns     arbiter.CooldownTable `json:"signalCooldowns,omitempty"`
	// SonnetCooldownUntil is a cycleCount, not a wall-clock time: the
	// escalation-driven paid-tier cooldown lifts once CycleCount reaches it.
	SonnetCooldownUntil int             `json:"sonnetCooldownUntil"`
	LastCycleTokens     int             `json:"lastCycleTokens"`
	LastCycleFileTouches int            `json:"lastCycleFileTouches"`
	RecentEvents        []eventlog.Event `json:"recentEvents,omitempty"`
}

// New returns a zero-value CycleState ready for a first cycle.
func New() *State {
	return &State{SignalCooldowns: arbiter.CooldownTable{}}
}

// ResetDailyCostIfNewDay zeroes DailyCost/DailySonnetCost when today (in the
// given location) differs from DailyCostDate.
func (s *State) ResetDailyCostIfNewDay(now time.Time) {
	today := now.Format("2006-01-02")
	if s.DailyCostDate == today {
		return
	}
	s.DailyCostDate = today
	s.DailyCost = 0
	s.DailySonnetCost = 0
}
