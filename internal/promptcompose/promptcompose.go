// Package promptcompose implements the Prompt Composer (C5): it assembles
// the labelled-section <context> block plus instructions and output-tag
// schema for a cycle, given the picked signals, goals, and cross-cycle
// state. Grounded on the teacher's LLMPlanner.buildPlanningPrompt
// (internal/app/agent/kernel/llm_planner.go): a strings.Builder assembling
// "## <label>" sections in a fixed order, a compact markdown table for
// "recent actions", and truncation of long fields via compactSummary.
package promptcompose

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"agentloop/internal/eventlog"
	"agentloop/internal/goal"
	"agentloop/internal/signal"
)

// Kind is the cycle kind chosen before composing a prompt (spec.md §4.5).
type Kind string

const (
	// KindReasoning is chosen whenever at least one signal was picked.
	KindReasoning Kind = "reasoning"
	// KindReflection fires when no signal was picked but the cycle count is
	// a multiple of reflectionEvery.
	KindReflection Kind = "reflection"
	// KindSkip means the cycle exits early with no model invocation.
	KindSkip Kind = "skip"
)

const reflectionEvery = 4

// DetermineKind implements the three-way cycle-kind decision: reasoning
// when signals were picked, reflection every 4th otherwise-empty cycle,
// skip on every other empty cycle.
func DetermineKind(pickedCount, cycleCount int) Kind {
	if pickedCount > 0 {
		return KindReasoning
	}
	if cycleCount%reflectionEvery == 0 {
		return KindReflection
	}
	return KindSkip
}

const (
	minCycleLengthMinutes = 5
	maxCycleLengthMinutes = 120
	recentActionsMax      = 10
	recentActionsWithin   = 24 * time.Hour
	compactSummaryMax     = 60
)

// BriefBuilder produces a per-signal brief, given the signal and the
// goals known this cycle. Returns ok=false to contribute nothing.
type BriefBuilder func(s signal.Signal, goals []*goal.Goal) (brief string, ok bool)

var briefBuilders []BriefBuilder

// RegisterBriefBuilder extends the per-signal brief registry (module
// extension point, mirrors signal.RegisterDetector).
func RegisterBriefBuilder(b BriefBuilder) {
	briefBuilders = append(briefBuilders, b)
}

// AutoCoderBrief is injected into Sonnet-tier cycles when a milestone is
// available to work on (spec.md §4.5 "inject an auto-coder brief").
type AutoCoderBrief struct {
	GoalID          string
	MilestoneID     string
	MilestoneTitle  string
	RequiredTags    []string
}

// Input is everything Compose needs to assemble a prompt for one cycle.
type Input struct {
	Now        time.Time
	Location   *time.Location
	QuietHours signal.QuietHours

	Picked []signal.Signal
	Goals  []*goal.Goal

	// PatternInsights is a 30-day-window observation list, module-provided.
	PatternInsights []string

	// ErrorPatternAnalysis is only rendered when an error_spike signal is
	// among Picked.
	ErrorPatternAnalysis string

	// ModuleContextBlocks are raw pre-rendered "## <label>\n<body>" blocks
	// contributed by modules outside the core spec.
	ModuleContextBlocks []string

	RecentActions []eventlog.Event

	LearningContext    string
	OpenHypotheses     []string
	RecentConclusions  []string

	// IsSonnetCycle gates AutoCoderBrief injection (only Sonnet-tier cycles
	// get the milestone brief, per spec.md §4.5).
	IsSonnetCycle  bool
	AutoCoderBrief *AutoCoderBrief

	// CycleLengthHintMinutes is clamped to [5, 120] before rendering.
	CycleLengthHintMinutes int

	// Simple selects the backend-specific reasoning mode: a shorter prompt
	// without tool-definition verbosity, for local/free backends.
	Simple bool

	OutputTagSchema string
}

// Compose renders the full prompt: a <context>…</context> block of labelled
// sections followed by instructions and the output-tag schema.
func Compose(in Input) string {
	var b strings.Builder
	b.WriteString("<context>\n")
	writeTimeSection(&b, in)
	writeSignalsSection(&b, in.Picked)
	writeGoalsSection(&b, in.Goals)
	writePatternInsightsSection(&b, in.PatternInsights)
	writeErrorPatternSection(&b, in)
	for _, block := range in.ModuleContextBlocks {
		b.WriteString(block)
		if !strings.HasSuffix(block, "\n") {
			b.WriteString("\n")
		}
	}
	writeRecentActionsSection(&b, in.RecentActions, in.Now)
	writeSignalBriefsSection(&b, in.Picked, in.Goals)
	writeLearningContextSection(&b, in.LearningContext)
	writeHypothesesSection(&b, in.OpenHypotheses, in.RecentConclusions)
	b.WriteString("</context>\n\n")

	if in.IsSonnetCycle && in.AutoCoderBrief != nil {
		writeAutoCoderBrief(&b, in.AutoCoderBrief)
	}

	if in.Simple {
		b.WriteString(simpleInstructions())
	} else {
		b.WriteString(fullInstructions(clampCycleLength(in.CycleLengthHintMinutes)))
	}

	if in.OutputTagSchema != "" {
		b.WriteString("\n\n")
		b.WriteString(in.OutputTagSchema)
	}
	return b.String()
}

func writeTimeSection(b *strings.Builder, in Input) {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	now := in.Now.In(loc)
	b.WriteString("## Current time\n")
	b.WriteString(now.Format(time.RFC3339))
	if in.QuietHours.IsQuiet(now) {
		b.WriteString(" (quiet hours)")
	}
	b.WriteString("\n\n")
}

func writeSignalsSection(b *strings.Builder, picked []signal.Signal) {
	b.WriteString("## Signals\n")
	if len(picked) == 0 {
		b.WriteString("(none)\n\n")
		return
	}
	for i, s := range picked {
		fmt.Fprintf(b, "%d. [%s] %s: %s\n", i+1, strings.ToUpper(string(s.Urgency)), s.Type, s.Summary)
	}
	b.WriteString("\n")
}

func writeGoalsSection(b *strings.Builder, goals []*goal.Goal) {
	b.WriteString("## Active goals\n")
	active := make([]*goal.Goal, 0, len(goals))
	for _, g := range goals {
		if g.Status == goal.StatusActive || g.Status == goal.StatusInProgress || g.Status == goal.StatusBlocked {
			active = append(active, g)
		}
	}
	if len(active) == 0 {
		b.WriteString("(none)\n\n")
		return
	}
	sort.SliceStable(active, func(i, j int) bool { return priorityRank(active[i].Priority) < priorityRank(active[j].Priority) })
	for _, g := range active {
		fmt.Fprintf(b, "- `%s` %s (%s, %d%%)%s\n", g.ID, g.Title, g.Status, g.Progress, deadlineSuffix(g))
	}
	b.WriteString("\n")
}

func deadlineSuffix(g *goal.Goal) string {
	if g.Deadline == nil {
		return ""
	}
	return fmt.Sprintf(", due %s", g.Deadline.Format("2006-01-02"))
}

func priorityRank(p goal.Priority) int {
	switch p {
	case goal.PriorityCritical:
		return 0
	case goal.PriorityHigh:
		return 1
	case goal.PriorityMedium:
		return 2
	case goal.PriorityNormal:
		return 3
	default:
		return 4
	}
}

func writePatternInsightsSection(b *strings.Builder, insights []string) {
	if len(insights) == 0 {
		return
	}
	b.WriteString("## Pattern insights (30d)\n")
	for _, ins := range insights {
		b.WriteString("- ")
		b.WriteString(ins)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeErrorPatternSection(b *strings.Builder, in Input) {
	if in.ErrorPatternAnalysis == "" {
		return
	}
	hasErrorSpike := false
	for _, s := range in.Picked {
		if s.Type == signal.TypeErrorSpike {
			hasErrorSpike = true
			break
		}
	}
	if !hasErrorSpike {
		return
	}
	b.WriteString("## Error pattern analysis\n")
	b.WriteString(in.ErrorPatternAnalysis)
	b.WriteString("\n\n")
}

func writeRecentActionsSection(b *strings.Builder, events []eventlog.Event, now time.Time) {
	b.WriteString("## Recent actions\n")
	cutoff := now.Add(-recentActionsWithin).UnixMilli()
	var recent []eventlog.Event
	for _, e := range events {
		if e.TS >= cutoff {
			recent = append(recent, e)
		}
	}
	if len(recent) > recentActionsMax {
		recent = recent[len(recent)-recentActionsMax:]
	}
	if len(recent) == 0 {
		b.WriteString("(none)\n\n")
		return
	}
	b.WriteString("| event | age | data |\n")
	b.WriteString("|---|---|---|\n")
	for _, e := range recent {
		age := now.Sub(time.UnixMilli(e.TS)).Round(time.Minute)
		fmt.Fprintf(b, "| %s | %s ago | %s |\n", e.Event, age, compactSummary(summarizeData(e.Data), compactSummaryMax))
	}
	b.WriteString("\n")
}

func summarizeData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, ", ")
}

func writeSignalBriefsSection(b *strings.Builder, picked []signal.Signal, goals []*goal.Goal) {
	var briefs []string
	for _, s := range picked {
		for _, builder := range briefBuilders {
			if brief, ok := builder(s, goals); ok {
				briefs = append(briefs, brief)
			}
		}
	}
	if len(briefs) == 0 {
		return
	}
	b.WriteString("## Signal briefs\n")
	for _, brief := range briefs {
		b.WriteString("- ")
		b.WriteString(brief)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeLearningContextSection(b *strings.Builder, learning string) {
	if learning == "" {
		return
	}
	b.WriteString("## Learning context\n")
	b.WriteString(learning)
	b.WriteString("\n\n")
}

func writeHypothesesSection(b *strings.Builder, open []string, conclusions []string) {
	if len(open) == 0 && len(conclusions) == 0 {
		return
	}
	b.WriteString("## Open hypotheses / recent conclusions\n")
	for _, h := range open {
		fmt.Fprintf(b, "- [open] %s\n", h)
	}
	for _, c := range conclusions {
		fmt.Fprintf(b, "- [concluded] %s\n", c)
	}
	b.WriteString("\n")
}

func writeAutoCoderBrief(b *strings.Builder, brief *AutoCoderBrief) {
	b.WriteString("## Auto-coder brief\n")
	fmt.Fprintf(b, "Goal: `%s`, milestone: `%s` (%s)\n", brief.GoalID, brief.MilestoneID, brief.MilestoneTitle)
	if len(brief.RequiredTags) > 0 {
		b.WriteString("Required response tags: ")
		b.WriteString(strings.Join(brief.RequiredTags, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func fullInstructions(cycleLengthMinutes int) string {
	return fmt.Sprintf(
		"Review the context above. Use the output tags documented below to "+
			"take action. Suggest a next_cycle_minutes between %d and %d if the "+
			"default cadence doesn't fit.\n", minCycleLengthMinutes, maxCycleLengthMinutes,
	) + fmt.Sprintf("(current hint: %d minutes)\n", cycleLengthMinutes)
}

func simpleInstructions() string {
	return "Review the context above and respond using the output tags. " +
		"Keep actions minimal; tool use is unavailable on this backend.\n"
}

func clampCycleLength(minutes int) int {
	if minutes < minCycleLengthMinutes {
		return minCycleLengthMinutes
	}
	if minutes > maxCycleLengthMinutes {
		return maxCycleLengthMinutes
	}
	return minutes
}

func compactSummary(s string, max int) string {
	if s == "" {
		return "(none)"
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
