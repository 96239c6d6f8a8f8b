package signal

import (
	"fmt"
	"time"
)

// Detector is a pure function (World) -> []Signal. The full set below
// matches spec.md §4.3's numbered list; module-contributed detectors are
// registered separately via RegisterDetector.
type Detector func(w World) []Signal

// AllDetectors returns the engine's built-in detector set plus any
// module-registered detectors, in the fixed order the spec enumerates them
// (deterministic ordering matters for the arbiter's insertion-order
// tie-break).
func AllDetectors() []Detector {
	base := []Detector{
		DetectStaleGoal,
		DetectBlockedGoal,
		DetectDeadlineApproaching,
		DetectFailingCron,
		DetectFollowups,
		DetectCostSpike,
		DetectMemoryPressure,
		DetectMCPDisconnected,
		DetectErrorSpike,
		DetectConversationGap,
		DetectStaleMemory,
		DetectLowEngagementCron,
		DetectStaleBotMemory,
		DetectGoalWork,
		DetectGoalProgressAnomaly,
	}
	return append(base, moduleDetectors...)
}

var moduleDetectors []Detector

// RegisterDetector adds a module-contributed detector to the set AllDetectors
// returns (spec.md §4.3 item 16 "Module signals").
func RegisterDetector(d Detector) {
	moduleDetectors = append(moduleDetectors, d)
}

// DetectStaleGoal implements spec.md §4.3.1.
func DetectStaleGoal(w World) []Signal {
	var out []Signal
	for _, g := range w.Goals {
		if g.Status != "in_progress" {
			continue
		}
		age := w.Now.Sub(g.UpdatedAt)
		if age < 48*time.Hour {
			continue
		}
		urgency := UrgencyMedium
		if age > 96*time.Hour {
			urgency = UrgencyHigh
		}
		out = append(out, Signal{
			Type:    TypeStaleGoal,
			Urgency: urgency,
			Summary: fmt.Sprintf("Goal %q has been in_progress for %.0fh with no update", g.Title, age.Hours()),
			Data:    map[string]any{"goalId": g.ID},
		})
	}
	return out
}

// DetectBlockedGoal implements spec.md §4.3.2.
func DetectBlockedGoal(w World) []Signal {
	var out []Signal
	for _, g := range w.Goals {
		if g.Status != "blocked" {
			continue
		}
		age := w.Now.Sub(g.UpdatedAt)
		var urgency Urgency
		switch {
		case age >= 7*24*time.Hour:
			urgency = UrgencyHigh
		case age >= 3*24*time.Hour:
			urgency = UrgencyMedium
		default:
			continue
		}
		data := map[string]any{"goalId": g.ID}
		if age >= 14*24*time.Hour {
			data["nudgeUser"] = true
		}
		out = append(out, Signal{
			Type:    TypeBlockedGoal,
			Urgency: urgency,
			Summary: fmt.Sprintf("Goal %q has been blocked for %.0fd", g.Title, age.Hours()/24),
			Data:    data,
		})
	}
	return out
}

// DetectDeadlineApproaching implements spec.md §4.3.3.
func DetectDeadlineApproaching(w World) []Signal {
	var out []Signal
	for _, g := range w.Goals {
		if (g.Status != "active" && g.Status != "in_progress") || g.Deadline == nil {
			continue
		}
		remaining := g.Deadline.Sub(w.Now)
		if remaining < 0 || remaining > 48*time.Hour {
			continue
		}
		urgency := UrgencyMedium
		if remaining <= 24*time.Hour {
			urgency = UrgencyHigh
		}
		out = append(out, Signal{
			Type:    TypeDeadlineApproaching,
			Urgency: urgency,
			Summary: fmt.Sprintf("Goal %q is due in %.0fh", g.Title, remaining.Hours()),
			Data:    map[string]any{"goalId": g.ID},
		})
	}
	return out
}

// DetectFailingCron implements spec.md §4.3.4.
func DetectFailingCron(w World) []Signal {
	var out []Signal
	for _, c := range w.Crons {
		var urgency Urgency
		switch {
		case c.ConsecutiveErrors >= 5:
			urgency = UrgencyHigh
		case c.ConsecutiveErrors >= 3:
			urgency = UrgencyMedium
		default:
			continue
		}
		out = append(out, Signal{
			Type:    TypeFailingCron,
			Urgency: urgency,
			Summary: fmt.Sprintf("Scheduled trigger %q has failed %d times in a row", c.Name, c.ConsecutiveErrors),
			Data:    map[string]any{"cronId": c.ID},
		})
	}
	return out
}

// followupBaseUrgency returns the parent-goal-priority-derived baseline
// urgency one tier below normal, per spec.md §3.
func followupBaseUrgency(parentPriority string) Urgency {
	switch parentPriority {
	case "critical":
		return UrgencyHigh
	case "high":
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

func escalateUrgency(u Urgency, tiers int) Urgency {
	order := []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh}
	idx := 0
	for i, candidate := range order {
		if candidate == u {
			idx = i
			break
		}
	}
	idx += tiers
	if idx >= len(order) {
		idx = len(order) - 1
	}
	return order[idx]
}

// FollowupUrgency computes a followup's urgency given its parent goal's
// priority and age, per spec.md §3/§8: baseline = parent priority minus one
// tier; +1 tier at 24h; +2 tiers at 48h; clamped to high.
func FollowupUrgency(parentPriority string, age time.Duration) Urgency {
	base := followupBaseUrgency(parentPriority)
	switch {
	case age >= 48*time.Hour:
		return escalateUrgency(base, 2)
	case age >= 24*time.Hour:
		return escalateUrgency(base, 1)
	default:
		return base
	}
}

// DetectFollowups implements spec.md §4.3.5.
func DetectFollowups(w World) []Signal {
	var out []Signal
	for _, f := range w.PendingFollowups {
		parentPriority := "normal"
		var goalID string
		if f.GoalID != "" {
			for _, g := range w.Goals {
				if g.ID == f.GoalID {
					parentPriority = string(g.Priority)
					goalID = g.ID
					break
				}
			}
		} else {
			for _, g := range w.Goals {
				if containsFold(g.Title, f.Topic) {
					parentPriority = string(g.Priority)
					goalID = g.ID
					break
				}
			}
		}
		age := w.Now.Sub(f.CreatedAt)
		urgency := FollowupUrgency(parentPriority, age)
		data := map[string]any{"topic": f.Topic}
		if goalID != "" {
			data["goalId"] = goalID
		}
		out = append(out, Signal{
			Type:    TypeFollowup,
			Urgency: urgency,
			Summary: fmt.Sprintf("Followup %q pending for %.0fh", f.Topic, age.Hours()),
			Data:    data,
		})
	}
	return out
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	hl, nl := toLower(haystack), toLower(needle)
	for i := 0; i+len(nl) <= len(hl); i++ {
		if hl[i:i+len(nl)] == nl {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// DetectCostSpike implements spec.md §4.3.6. When w.LastCostSpikeSignalAt
// is non-nil it debounces repeated firing for 6h and writes the firing time
// through that pointer, one of the two documented exceptions to detectors
// being pure; with a nil pointer no debounce applies.
func DetectCostSpike(w World) []Signal {
	if w.CostTrackingDisabled {
		return nil
	}
	if w.DailyCostUSD <= 0.10 || w.RollingAvgCostUSD <= 0 || w.DailyCostUSD <= 1.5*w.RollingAvgCostUSD {
		return nil
	}
	if w.LastCostSpikeSignalAt != nil && w.Now.Sub(*w.LastCostSpikeSignalAt) < 6*time.Hour {
		return nil
	}
	urgency := UrgencyMedium
	if w.DailyCostUSD > 3*w.RollingAvgCostUSD {
		urgency = UrgencyHigh
	}
	if w.LastCostSpikeSignalAt != nil {
		*w.LastCostSpikeSignalAt = w.Now
	}
	return []Signal{{
		Type:    TypeCostSpike,
		Urgency: urgency,
		Summary: fmt.Sprintf("Daily cost $%.2f is %.1fx the rolling average", w.DailyCostUSD, w.DailyCostUSD/w.RollingAvgCostUSD),
		Data:    map[string]any{"dailyCostUSD": w.DailyCostUSD},
	}}
}

// DetectMemoryPressure implements spec.md §4.3.7. On CRITICAL/RESTART, when
// w.LastMemoryCriticalAt is non-nil, alerts are rate-limited to one per hour:
// nothing is emitted within an hour of the stored time, and otherwise the
// current time is written through the pointer.
func DetectMemoryPressure(w World) []Signal {
	switch w.MemoryTier {
	case MemoryWarn:
		return []Signal{{Type: TypeMemoryPressure, Urgency: UrgencyLow, Summary: "Memory usage elevated (WARN tier)", Data: map[string]any{"tier": string(w.MemoryTier)}}}
	case MemoryShed:
		return []Signal{{Type: TypeMemoryPressure, Urgency: UrgencyMedium, Summary: "Memory usage high, shedding caches (SHED tier)", Data: map[string]any{"tier": string(w.MemoryTier)}}}
	case MemoryCritical, MemoryRestart:
		if w.LastMemoryCriticalAt != nil {
			if w.Now.Sub(*w.LastMemoryCriticalAt) < time.Hour {
				return nil
			}
			*w.LastMemoryCriticalAt = w.Now
		}
		return []Signal{{Type: TypeMemoryPressure, Urgency: UrgencyHigh, Summary: fmt.Sprintf("Memory usage critical (%s tier)", w.MemoryTier), Data: map[string]any{"tier": string(w.MemoryTier)}}}
	default:
		return nil
	}
}

// DetectMCPDisconnected implements spec.md §4.3.8.
func DetectMCPDisconnected(w World) []Signal {
	if w.MCPConsecutiveFailures <= 0 {
		return nil
	}
	urgency := UrgencyMedium
	if w.MCPConsecutiveFailures >= 3 {
		urgency = UrgencyHigh
	}
	return []Signal{{
		Type:    TypeMCPDisconnected,
		Urgency: urgency,
		Summary: fmt.Sprintf("External memory service unreachable for %d consecutive checks", w.MCPConsecutiveFailures),
		Data:    map[string]any{"topic": "mcp"},
	}}
}

// DetectErrorSpike implements spec.md §4.3.9.
func DetectErrorSpike(w World) []Signal {
	if w.ErrorCountLastHour < 5 {
		return nil
	}
	ratio := 0.0
	if w.ErrorCountPriorHour > 0 {
		ratio = float64(w.ErrorCountLastHour) / float64(w.ErrorCountPriorHour)
	} else if w.ErrorCountLastHour > 0 {
		ratio = float64(w.ErrorCountLastHour)
	}
	urgency := UrgencyMedium
	if w.ErrorCountLastHour >= 10 && ratio >= 2 {
		urgency = UrgencyHigh
	}
	return []Signal{{
		Type:    TypeErrorSpike,
		Urgency: urgency,
		Summary: fmt.Sprintf("%d errors in the last hour (prior hour: %d)", w.ErrorCountLastHour, w.ErrorCountPriorHour),
		Data:    map[string]any{"topic": "errors"},
	}}
}

// DetectConversationGap implements spec.md §4.3.10.
func DetectConversationGap(w World) []Signal {
	if w.QuietHours.IsQuiet(w.Now) {
		return nil
	}
	if w.LastInboundMessageAt.IsZero() || w.Now.Sub(w.LastInboundMessageAt) < 18*time.Hour {
		return nil
	}
	return []Signal{{
		Type:    TypeConversationGap,
		Urgency: UrgencyLow,
		Summary: "No inbound messages for over 18 hours",
		Data:    map[string]any{"topic": "conversation_gap"},
	}}
}

// DetectStaleMemory implements spec.md §4.3.11 (capped at 3 per cycle).
func DetectStaleMemory(w World) []Signal {
	var out []Signal
	for _, entry := range w.StaleMemoryEntries {
		if w.Now.Sub(entry.LastAccessedAt) < 5*24*time.Hour {
			continue
		}
		out = append(out, Signal{
			Type:    TypeStaleMemory,
			Urgency: UrgencyLow,
			Summary: fmt.Sprintf("Memory entry %q (%s tier) not accessed in %.0fd", entry.ID, entry.Tier, w.Now.Sub(entry.LastAccessedAt).Hours()/24),
			Data:    map[string]any{"memoryId": entry.ID},
		})
		if len(out) == 3 {
			break
		}
	}
	return out
}

// DetectLowEngagementCron implements spec.md §4.3.12.
func DetectLowEngagementCron(w World) []Signal {
	const minDeliveries = 5
	const engagementThreshold = 0.2
	var out []Signal
	for _, c := range w.Crons {
		if c.DeliveredCount < minDeliveries {
			continue
		}
		rate := float64(c.EngagedCount) / float64(c.DeliveredCount)
		if rate >= engagementThreshold {
			continue
		}
		out = append(out, Signal{
			Type:    TypeLowEngagementCron,
			Urgency: UrgencyLow,
			Summary: fmt.Sprintf("Trigger %q has %.0f%% engagement after %d deliveries", c.Name, rate*100, c.DeliveredCount),
			Data:    map[string]any{"cronId": c.ID},
		})
	}
	return out
}

// DetectStaleBotMemory implements spec.md §4.3.13a.
func DetectStaleBotMemory(w World) []Signal {
	if w.BotMemoryLastChangedAt.IsZero() {
		return nil
	}
	age := w.Now.Sub(w.BotMemoryLastChangedAt)
	var urgency Urgency
	switch {
	case age >= 72*time.Hour:
		urgency = UrgencyMedium
	case age >= 24*time.Hour:
		urgency = UrgencyLow
	default:
		return nil
	}
	return []Signal{{
		Type:    TypeStaleBotMemory,
		Urgency: urgency,
		Summary: fmt.Sprintf("Bot-authored memory file unchanged for %.0fh", age.Hours()),
		Data:    map[string]any{"topic": "bot_memory"},
	}}
}

// DetectGoalWork implements spec.md §4.3.13b: top 3 active/in_progress
// goals with pending milestones, priority-sorted, urgency mirrors priority.
func DetectGoalWork(w World) []Signal {
	var candidates []goalWorkCandidate
	for _, g := range w.Goals {
		if g.Status != "active" && g.Status != "in_progress" {
			continue
		}
		hasPending := false
		for _, m := range g.Milestones {
			if m.Status == "pending" {
				hasPending = true
				break
			}
		}
		if !hasPending {
			continue
		}
		candidates = append(candidates, goalWorkCandidate{g: &goalRef{id: g.ID, title: g.Title, priority: string(g.Priority)}, rank: priorityRank(string(g.Priority))})
	}
	sortCandidates(candidates)
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	out := make([]Signal, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Signal{
			Type:    TypeGoalWork,
			Urgency: priorityToUrgency(c.g.priority),
			Summary: fmt.Sprintf("Goal %q has pending milestones", c.g.title),
			Data:    map[string]any{"goalId": c.g.id},
		})
	}
	return out
}

type goalRef struct {
	id, title, priority string
}

type goalWorkCandidate struct {
	g    *goalRef
	rank int
}

func priorityRank(p string) int {
	switch p {
	case "critical":
		return 0
	case "high":
		return 1
	case "medium":
		return 2
	case "normal":
		return 3
	default:
		return 4
	}
}

func priorityToUrgency(p string) Urgency {
	switch p {
	case "critical":
		return UrgencyCritical
	case "high":
		return UrgencyHigh
	case "medium":
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// DetectGoalProgressAnomaly implements spec.md §4.3.15's recent-event
// heuristics: cycle-error rate, backoff rate, and idle time outside quiet
// hours.
func DetectGoalProgressAnomaly(w World) []Signal {
	var out []Signal
	if w.RecentCycleErrorsLastHour >= 3 {
		out = append(out, Signal{
			Type:    TypeGoalProgress,
			Urgency: UrgencyHigh,
			Summary: fmt.Sprintf("%d cycle errors in the last hour", w.RecentCycleErrorsLastHour),
			Data:    map[string]any{"topic": "cycle_errors"},
		})
	}
	if w.RecentBackoffsLastHour >= 2 {
		out = append(out, Signal{
			Type:    TypeGoalProgress,
			Urgency: UrgencyMedium,
			Summary: fmt.Sprintf("%d backend backoffs in the last hour", w.RecentBackoffsLastHour),
			Data:    map[string]any{"topic": "backoffs"},
		})
	}
	if w.IdleSinceLast >= 3*time.Hour && !w.QuietHours.IsQuiet(w.Now) {
		urgency := UrgencyLow
		if w.IdleSinceLast >= 6*time.Hour {
			urgency = UrgencyMedium
		}
		out = append(out, Signal{
			Type:    TypeGoalProgress,
			Urgency: urgency,
			Summary: fmt.Sprintf("No cycle activity for %.0fh", w.IdleSinceLast.Hours()),
			Data:    map[string]any{"topic": "idle_time"},
		})
	}
	return out
}

func sortCandidates(c []goalWorkCandidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j-1].rank > c[j].rank; j-- {
			c[j-1], c[j] = c[j], c[j-1]
		}
	}
}
