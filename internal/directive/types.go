// Package directive implements the Response Parser (C8): extraction of a
// typed list of directives from the model's free-form XML-tagged text
// (spec.md §4.8). Grounded on the teacher's internal/agent/tool_executor.go
// parseToolCalls (strict-JSON-then-jsonrepair pattern) and on spec.md §9's
// "closed sum type" design note for Directive itself.
package directive

// Kind identifies which output tag a Directive was parsed from.
type Kind string

const (
	KindMessage            Kind = "wa_message"
	KindFollowup           Kind = "followup"
	KindNextCycleMinutes   Kind = "next_cycle_minutes"
	KindActionTaken        Kind = "action_taken"
	KindGoalCreate         Kind = "goal_create"
	KindGoalUpdate         Kind = "goal_update"
	KindMilestoneComplete  Kind = "milestone_complete"
	KindGoalPropose        Kind = "goal_propose"
	KindToolCall           Kind = "tool_call"
	KindChainPlan          Kind = "chain_plan"
	KindLessonLearned      Kind = "lesson_learned"
	KindCapabilityGap      Kind = "capability_gap"
	KindExperimentCreate   Kind = "experiment_create"
	KindHypothesis         Kind = "hypothesis"
	KindEvidence           Kind = "evidence"
	KindConclude           Kind = "conclude"
	KindSkillGenerate      Kind = "skill_generate"
)

// Directive is the closed sum type spec.md §9 calls for: every tag maps to
// exactly one of these variants, with unused fields left zero.
type Directive struct {
	Kind Kind

	// Free-text payloads (wa_message, action_taken,
	// lesson_learned, capability_gap, hypothesis, evidence, conclude text,
	// skill_generate description).
	Text string

	// Common attributes.
	GoalID      string
	MilestoneID string
	Topic       string
	Title       string
	Rationale   string
	Status      string
	Progress    int
	HasProgress bool
	Category    string
	HID         string // hypothesis/evidence id

	// next_cycle_minutes payload.
	Minutes int

	// JSON-bodied payloads (tool_call, chain_plan, experiment_create,
	// goal_propose milestones).
	JSON        map[string]any
	Malformed   bool
	RawBody     string
}

// ParseWarning records a dropped or ignored tag for audit logging, never
// surfaced as a Go error (spec.md §4.8: "unknown or malformed tags are
// ignored").
type ParseWarning struct {
	Tag     string
	Reason  string
	Snippet string
}

// ParseResult is everything Parse extracted from one response body.
type ParseResult struct {
	Directives []Directive
}

// ByKind filters the result to directives of a single kind, in source order.
func (r ParseResult) ByKind(k Kind) []Directive {
	var out []Directive
	for _, d := range r.Directives {
		if d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}
