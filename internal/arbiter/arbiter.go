// Package arbiter implements the Signal Arbiter (C4): cooldown filtering,
// urgency escalation, top-k selection with a diversity swap, and cooldown
// table maintenance. Grounded on the teacher's kernel.Planner selection
// style (filtering + bounded top-N choice over a candidate list) applied to
// the spec's signal-arbitration rules in spec.md §4.4.
package arbiter

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"agentloop/internal/signal"
)

const (
	maxPicked              = 2
	maxSonnetRequiring     = 1
	agingPromotionAfter    = 4 * 24 * time.Hour
	cooldownPruneAfter     = 24 * time.Hour
	compoundThreshold      = 3
	maxCooldownKeys        = 512
)

// CooldownTable maps SignalKey -> last-fired unix-millis timestamp. This is
// the serializable form the caller persists into CycleState; Prune keeps it
// bounded both by age and by count.
type CooldownTable map[string]int64

// Prune removes entries older than 24h relative to nowMillis, then, if the
// table still exceeds maxCooldownKeys, evicts the least-recently-fired
// entries via a bounded LRU so a noisy long tail of distinct SignalKeys
// can't grow the persisted cooldown table without bound between K/V writes.
func (c CooldownTable) Prune(nowMillis int64) {
	cutoff := nowMillis - cooldownPruneAfter.Milliseconds()
	for k, ts := range c {
		if ts < cutoff {
			delete(c, k)
		}
	}
	if len(c) <= maxCooldownKeys {
		return
	}

	type entry struct {
		key string
		ts  int64
	}
	ordered := make([]entry, 0, len(c))
	for k, ts := range c {
		ordered = append(ordered, entry{k, ts})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ts < ordered[j].ts })

	cache, _ := lru.New[string, int64](maxCooldownKeys)
	for _, e := range ordered {
		cache.Add(e.key, e.ts)
	}
	for k := range c {
		delete(c, k)
	}
	for _, k := range cache.Keys() {
		v, _ := cache.Get(k)
		c[k] = v
	}
}

// Result is the output of Arbitrate: the picked signals plus the updated
// cooldown table (the caller persists it back into CycleState).
type Result struct {
	Picked    []signal.Signal
	Cooldowns CooldownTable
}

// Arbitrate runs the full pipeline: correlation, cooldown filter, aging
// escalation, top-k pick, diversity swap, stamping, and pruning.
func Arbitrate(raw []signal.Signal, cooldowns CooldownTable, now time.Time) Result {
	if cooldowns == nil {
		cooldowns = CooldownTable{}
	}
	nowMillis := now.UnixMilli()

	withCompound := correlate(raw)
	eligible := filterCooldown(withCompound, cooldowns, nowMillis)
	escalated := applyAgingEscalation(eligible, now)
	picked := pickTopK(escalated)
	picked = diversitySwap(picked, escalated)

	stamped := CooldownTable{}
	for k, v := range cooldowns {
		stamped[k] = v
	}
	for _, s := range picked {
		stamped[s.Key()] = nowMillis
	}
	stamped.Prune(nowMillis)

	return Result{Picked: picked, Cooldowns: stamped}
}

// correlate implements spec.md §4.3 rule 14 ("compound" synthesis): when
// three or more `low` signals accumulate in a cycle, synthesize one
// `medium` compound signal summarizing them. Runs before cooldown
// filtering, so a synthesised compound signal may itself be picked.
func correlate(raw []signal.Signal) []signal.Signal {
	var lows []signal.Signal
	for _, s := range raw {
		if s.Urgency == signal.UrgencyLow {
			lows = append(lows, s)
		}
	}
	if len(lows) < compoundThreshold {
		return raw
	}
	summary := "Multiple low-urgency conditions detected: "
	for i, s := range lows {
		if i > 0 {
			summary += "; "
		}
		summary += s.Summary
	}
	compound := signal.Signal{
		Type:    signal.TypeCompound,
		Urgency: signal.UrgencyMedium,
		Summary: truncate(summary, 200),
		Data:    map[string]any{"topic": "compound", "count": len(lows)},
	}
	return append(append([]signal.Signal{}, raw...), compound)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func filterCooldown(signals []signal.Signal, cooldowns CooldownTable, nowMillis int64) []signal.Signal {
	out := make([]signal.Signal, 0, len(signals))
	for _, s := range signals {
		lastFired, fired := cooldowns[s.Key()]
		if !fired {
			out = append(out, s)
			continue
		}
		cooldownMs := s.Urgency.CooldownSeconds() * 1000
		if nowMillis-lastFired >= cooldownMs {
			out = append(out, s)
		}
	}
	return out
}

// applyAgingEscalation promotes a `low` signal to `medium` for sorting
// purposes when data.lastCheckAt is more than 4 days old (spec.md §4.4
// rule 2). The original signal is unchanged; escalation is a copy.
func applyAgingEscalation(signals []signal.Signal, now time.Time) []signal.Signal {
	out := make([]signal.Signal, len(signals))
	for i, s := range signals {
		out[i] = s
		if s.Urgency != signal.UrgencyLow {
			continue
		}
		lastCheckAt, ok := s.Data["lastCheckAt"]
		if !ok {
			continue
		}
		t, ok := lastCheckAt.(time.Time)
		if !ok {
			continue
		}
		if now.Sub(t) > agingPromotionAfter {
			out[i].Urgency = signal.UrgencyMedium
		}
	}
	return out
}

// pickTopK sorts by urgency (stable, so ties keep insertion order) and
// selects at most maxPicked signals, at most maxSonnetRequiring of which
// may be a Sonnet-requiring type.
func pickTopK(signals []signal.Signal) []signal.Signal {
	ordered := make([]signal.Signal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Urgency.Rank() < ordered[j].Urgency.Rank()
	})

	var picked []signal.Signal
	sonnetCount := 0
	for _, s := range ordered {
		if len(picked) >= maxPicked {
			break
		}
		if signal.IsSonnetRequiring(s.Type) {
			if sonnetCount >= maxSonnetRequiring {
				continue
			}
			sonnetCount++
		}
		picked = append(picked, s)
	}
	return picked
}

// diversitySwap implements spec.md §4.4 rule 4: if both picks share an
// urgency tier and a lower-tier signal exists among the eligible pool,
// replace the second pick with the top lower-tier signal (respecting the
// Sonnet cap).
func diversitySwap(picked []signal.Signal, eligible []signal.Signal) []signal.Signal {
	if len(picked) != 2 || picked[0].Urgency.Rank() != picked[1].Urgency.Rank() {
		return picked
	}
	firstIsSonnet := signal.IsSonnetRequiring(picked[0].Type)

	tier := picked[0].Urgency.Rank()
	var lowerTierCandidates []signal.Signal
	for _, s := range eligible {
		if s.Urgency.Rank() <= tier {
			continue
		}
		if alreadyPicked(picked, s) {
			continue
		}
		lowerTierCandidates = append(lowerTierCandidates, s)
	}
	if len(lowerTierCandidates) == 0 {
		return picked
	}
	sort.SliceStable(lowerTierCandidates, func(i, j int) bool {
		return lowerTierCandidates[i].Urgency.Rank() < lowerTierCandidates[j].Urgency.Rank()
	})

	for _, candidate := range lowerTierCandidates {
		resultingSonnetCount := 0
		if firstIsSonnet {
			resultingSonnetCount++
		}
		if signal.IsSonnetRequiring(candidate.Type) {
			resultingSonnetCount++
		}
		if resultingSonnetCount > maxSonnetRequiring {
			continue
		}
		picked[1] = candidate
		return picked
	}
	return picked
}

func alreadyPicked(picked []signal.Signal, s signal.Signal) bool {
	for _, p := range picked {
		if p.Key() == s.Key() {
			return true
		}
	}
	return false
}
