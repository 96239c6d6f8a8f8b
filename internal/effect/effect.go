// Package effect implements the Effect Dispatcher (C9): turns a parsed list
// of directives into real side effects against the engine's collaborator
// ports, in the fixed order spec.md §4.9 requires. Grounded on the teacher's
// internal/app/agent/coordinator/coordinator.go (parsed-output -> side
// effects against ports) and internal/app/toolregistry/policy.go (gating
// wrapper pattern, adapted here into the TrustEvaluator/GateEvaluator seam
// spec.md §9 calls for to avoid the trust-engine/confidence-gate/dispatcher
// import cycle the original had).
package effect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentloop/internal/cyclestate"
	"agentloop/internal/directive"
	"agentloop/internal/goal"
	"agentloop/internal/logging"
	"agentloop/internal/ports"
	"agentloop/internal/signal"
)

// TrustTier gates how much of a high confidence score the dispatcher acts
// on without further confirmation.
type TrustTier string

const (
	TrustLow    TrustTier = "low"
	TrustMedium TrustTier = "medium"
	TrustHigh   TrustTier = "high"
)

// TrustEvaluator reports the current trust tier (spec.md §9's interface
// seam, replacing the original's global trust engine).
type TrustEvaluator interface {
	Tier(ctx context.Context) TrustTier
}

// GateEvaluator scores a directive's confidence for the confidence gate
// (spec.md §4.9, §6).
type GateEvaluator interface {
	Score(ctx context.Context, d directive.Directive) int
}

// LearningStore persists lesson/gap/hypothesis/evidence/conclusion entries.
type LearningStore interface {
	RecordLesson(ctx context.Context, text string) error
	RecordCapabilityGap(ctx context.Context, topic, text string) error
	RecordHypothesis(ctx context.Context, text string) (hid string, err error)
	RecordEvidence(ctx context.Context, hid, text string) error
	RecordConclusion(ctx context.Context, hid, text string) error
}

// GateOutcome is what the confidence gate decided for a gated directive.
type GateOutcome string

const (
	GateConfirm GateOutcome = "confirm"
	GatePropose GateOutcome = "propose"
	GateExecute GateOutcome = "execute"
)

// CategoryRule maps a module-type prefix to an outbound message category;
// the first matching rule among the picked signals wins (spec.md §4.9).
type CategoryRule struct {
	ModulePrefix string
	Category     ports.MessageCategory
}

// Config configures a Dispatcher.
type Config struct {
	CategoryRules          []CategoryRule
	GroupAddresses         map[ports.MessageCategory]string
	UserDirectAddress      string
	ConfidenceGateEnabled  bool
	ConfidenceGateMinScore int
	MaxGoalCreatesPerCycle int
	MaxAgentOwnedActive    int
}

func (c Config) withDefaults() Config {
	if c.ConfidenceGateMinScore == 0 {
		c.ConfidenceGateMinScore = 4
	}
	if c.MaxGoalCreatesPerCycle == 0 {
		c.MaxGoalCreatesPerCycle = 1
	}
	if c.MaxAgentOwnedActive == 0 {
		c.MaxAgentOwnedActive = 5
	}
	return c
}

// Dispatcher wires the narrow collaborator ports together and executes
// directives in spec.md §4.9's fixed order.
type Dispatcher struct {
	cfg        Config
	goals      ports.GoalStore
	messenger  ports.Messenger
	toolBridge ports.ToolBridge
	autoCoder  ports.AutoCoder
	trust      TrustEvaluator
	gate       GateEvaluator
	learning   LearningStore
	logger     *logging.ComponentLogger
}

// Deps bundles the Dispatcher's collaborator ports. Goals, Messenger and
// Learning may be nil, in which case the directives that need them are
// skipped without a warning.
type Deps struct {
	Goals      ports.GoalStore
	Messenger  ports.Messenger
	ToolBridge ports.ToolBridge
	AutoCoder  ports.AutoCoder
	Trust      TrustEvaluator
	Gate       GateEvaluator
	Learning   LearningStore
	Logger     *logging.ComponentLogger
}

func NewDispatcher(cfg Config, deps Deps) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg.withDefaults(),
		goals:      deps.Goals,
		messenger:  deps.Messenger,
		toolBridge: deps.ToolBridge,
		autoCoder:  deps.AutoCoder,
		trust:      deps.Trust,
		gate:       deps.Gate,
		learning:   deps.Learning,
		logger:     deps.Logger,
	}
}

// OutboundMessage is one message the dispatcher decided (or declined) to
// send.
type OutboundMessage struct {
	Category       ports.MessageCategory
	Address        string
	Text           string
	Sent           bool
	Suppressed     bool
	SuppressReason string
}

// Input carries everything a single Dispatch call needs beyond the parsed
// directives.
type Input struct {
	QuietHoursNow    bool
	PickedSignals    []signal.Signal
	IsPaidCycle      bool
	HadMutatingTools bool // true if the cycle's router tool loop ran a mutating tool
	Model            string
	Directives       []directive.Directive
}

// Output is everything Dispatch produced.
type Output struct {
	OutboundMessages     []OutboundMessage
	Followups            []cyclestate.Followup
	ActionsAudited       []string
	NextCycleMinutes     *int
	GoalsCreated         []string
	GoalsProposed        []string
	GoalsUpdated         []string
	MilestonesCompleted  []string
	SkillsGenerated      []string
	ToolCallsDispatched  []directive.Directive
	ChainPlansStarted    []directive.Directive
	ViolationsFlagged    []string
	Warnings             []string
}

// Dispatch executes in, in spec.md §4.9's fixed order, and returns Output.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) Output {
	var out Output

	category := d.routeCategory(in.PickedSignals)
	suppressOutbound := in.QuietHoursNow && !hasCriticalModuleSignal(in.PickedSignals)

	actionTaken := byKindText(in.Directives, directive.KindActionTaken)
	hallucinating := !in.IsPaidCycle && !in.HadMutatingTools && len(actionTaken) > 0

	// 1. outbound messages
	for _, m := range in.Directives {
		if m.Kind != directive.KindMessage {
			continue
		}
		msg := OutboundMessage{Category: category, Address: d.addressFor(category), Text: m.Text}
		switch {
		case suppressOutbound:
			msg.Suppressed = true
			msg.SuppressReason = "quiet_hours"
		case hallucinating && mentionsAny(m.Text, actionTaken):
			msg.Suppressed = true
			msg.SuppressReason = "hallucination_audit"
		default:
			if d.messenger != nil {
				sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				ok, err := d.messenger.SendToGroup(sendCtx, category, m.Text)
				cancel()
				msg.Sent = ok && err == nil
				if err != nil {
					out.Warnings = append(out.Warnings, fmt.Sprintf("send failed: %v", err))
				}
			}
		}
		out.OutboundMessages = append(out.OutboundMessages, msg)
	}

	// 2. followup enqueue
	for _, f := range in.Directives {
		if f.Kind != directive.KindFollowup {
			continue
		}
		out.Followups = append(out.Followups, cyclestate.Followup{Topic: f.Topic, GoalID: f.GoalID})
	}

	// next_cycle_minutes is scheduling-adjacent but has no ordering
	// dependency on the rest; resolved here alongside followups.
	for _, nc := range in.Directives {
		if nc.Kind != directive.KindNextCycleMinutes {
			continue
		}
		minutes := nc.Minutes
		out.NextCycleMinutes = &minutes
	}

	// 3. action audit
	if hallucinating {
		out.Warnings = append(out.Warnings, "hallucination_audit: dropped claim-only action_taken entries")
	} else {
		out.ActionsAudited = append(out.ActionsAudited, actionTaken...)
	}

	// 4. goal creates (capped 1/cycle, 5 agent-owned active)
	if d.goals != nil {
		creates := in.Directives
		created := 0
		for _, c := range creates {
			if c.Kind != directive.KindGoalCreate {
				continue
			}
			if created >= d.cfg.MaxGoalCreatesPerCycle {
				out.Warnings = append(out.Warnings, "goal_create: exceeded per-cycle cap, dropped")
				continue
			}
			if d.countAgentOwnedActive() >= d.cfg.MaxAgentOwnedActive {
				out.Warnings = append(out.Warnings, "goal_create: agent-owned active cap reached, dropped")
				continue
			}
			g, err := d.goals.AddGoal(newGoalID(c.Title), c.Title, goal.AddGoalOptions{Description: c.Text})
			if err != nil {
				out.Warnings = append(out.Warnings, fmt.Sprintf("goal_create failed: %v", err))
				continue
			}
			out.GoalsCreated = append(out.GoalsCreated, g.ID)
			created++
		}
	}

	// 5. goal proposals
	if d.goals != nil {
		for _, p := range in.Directives {
			if p.Kind != directive.KindGoalPropose {
				continue
			}
			g, err := d.goals.ProposeGoal(newGoalID(p.Title), p.Title, goal.AddGoalOptions{Description: p.Rationale})
			if err != nil {
				out.Warnings = append(out.Warnings, fmt.Sprintf("goal_propose failed: %v", err))
				continue
			}
			out.GoalsProposed = append(out.GoalsProposed, g.ID)
		}
	}

	// 6. goal updates
	if d.goals != nil {
		for _, u := range in.Directives {
			if u.Kind != directive.KindGoalUpdate {
				continue
			}
			fields := goal.UpdateFields{LogMessage: u.Text}
			if u.Status != "" {
				status := goal.Status(u.Status)
				fields.Status = &status
			}
			if u.HasProgress {
				p := u.Progress
				fields.Progress = &p
			}
			g, err := d.goals.UpdateGoal(u.GoalID, fields)
			if err != nil {
				out.Warnings = append(out.Warnings, fmt.Sprintf("goal_update failed: %v", err))
				continue
			}
			if g == nil {
				out.Warnings = append(out.Warnings, fmt.Sprintf("goal_update: illegal transition for goal %s", u.GoalID))
				continue
			}
			out.GoalsUpdated = append(out.GoalsUpdated, g.ID)
		}
	}

	// 7. milestone completions (+ auto-coder hook for paid cycles)
	if d.goals != nil {
		for _, mc := range in.Directives {
			if mc.Kind != directive.KindMilestoneComplete {
				continue
			}
			g, err := d.goals.CompleteMilestone(mc.GoalID, mc.MilestoneID, mc.Text, in.Model)
			if err != nil {
				out.Warnings = append(out.Warnings, fmt.Sprintf("milestone_complete failed: %v", err))
				continue
			}
			out.MilestonesCompleted = append(out.MilestonesCompleted, mc.MilestoneID)
			if in.IsPaidCycle && d.autoCoder != nil {
				d.runAutoCoderHook(ctx, g, mc, &out)
			}
		}
	}

	// 8. skill generations
	for _, sg := range in.Directives {
		if sg.Kind != directive.KindSkillGenerate {
			continue
		}
		out.SkillsGenerated = append(out.SkillsGenerated, sg.Title)
	}

	// 9. tool calls (paid cycles only)
	if in.IsPaidCycle {
		for _, tc := range in.Directives {
			if tc.Kind != directive.KindToolCall {
				continue
			}
			if d.confidenceGated(ctx, tc, &out) {
				continue
			}
			if d.toolBridge != nil {
				if _, err := d.toolBridge.ExecuteTool(ctx, tc.Title, tc.JSON); err != nil {
					out.Warnings = append(out.Warnings, fmt.Sprintf("tool_call %s failed: %v", tc.Title, err))
				}
			}
			out.ToolCallsDispatched = append(out.ToolCallsDispatched, tc)
		}
	}

	// 10. chain plans
	for _, cp := range in.Directives {
		if cp.Kind != directive.KindChainPlan {
			continue
		}
		if d.confidenceGated(ctx, cp, &out) {
			continue
		}
		out.ChainPlansStarted = append(out.ChainPlansStarted, cp)
	}

	// 11. learning/journal entries
	if d.learning != nil {
		for _, l := range in.Directives {
			switch l.Kind {
			case directive.KindLessonLearned:
				_ = d.learning.RecordLesson(ctx, l.Text)
			case directive.KindHypothesis:
				_, _ = d.learning.RecordHypothesis(ctx, l.Text)
			case directive.KindEvidence:
				_ = d.learning.RecordEvidence(ctx, l.HID, l.Text)
			case directive.KindConclude:
				_ = d.learning.RecordConclusion(ctx, l.HID, l.Text)
			}
		}

		// 12. gap/experiment entries
		for _, g := range in.Directives {
			if g.Kind != directive.KindCapabilityGap {
				continue
			}
			_ = d.learning.RecordCapabilityGap(ctx, g.Topic, g.Text)
		}
	}

	out.ViolationsFlagged = d.auditFinancialViolations(in.PickedSignals, out.OutboundMessages)

	return out
}

func (d *Dispatcher) routeCategory(picked []signal.Signal) ports.MessageCategory {
	for _, rule := range d.cfg.CategoryRules {
		for _, s := range picked {
			if strings.HasPrefix(s.Type, rule.ModulePrefix+":") {
				return rule.Category
			}
		}
	}
	return ports.CategoryDaily
}

func (d *Dispatcher) addressFor(category ports.MessageCategory) string {
	if addr, ok := d.cfg.GroupAddresses[category]; ok && addr != "" {
		return addr
	}
	return d.cfg.UserDirectAddress
}

func hasCriticalModuleSignal(picked []signal.Signal) bool {
	for _, s := range picked {
		if s.Urgency == signal.UrgencyCritical && strings.Contains(s.Type, ":") {
			return true
		}
	}
	return false
}

func byKindText(directives []directive.Directive, k directive.Kind) []string {
	var out []string
	for _, d := range directives {
		if d.Kind == k {
			out = append(out, d.Text)
		}
	}
	return out
}

func mentionsAny(text string, claims []string) bool {
	lowered := strings.ToLower(text)
	for _, claim := range claims {
		for _, word := range strings.Fields(strings.ToLower(claim)) {
			if len(word) > 4 && strings.Contains(lowered, word) {
				return true
			}
		}
	}
	return false
}

func (d *Dispatcher) countAgentOwnedActive() int {
	if d.goals == nil {
		return 0
	}
	active := d.goals.ListGoals(goal.GoalFilter{Status: goal.StatusActive})
	inProgress := d.goals.ListGoals(goal.GoalFilter{Status: goal.StatusInProgress})
	count := 0
	for _, g := range append(active, inProgress...) {
		if g.Source == goal.SourceAgent {
			count++
		}
	}
	return count
}

// newGoalID derives a human-readable slug from the title and disambiguates
// it with a uuid suffix, so two dispatchers (or two cycles racing a shared
// store) never mint the same id the way a package-level counter could.
func newGoalID(title string) string {
	slug := strings.ToLower(strings.Join(strings.Fields(title), "-"))
	if slug == "" {
		slug = "goal"
	}
	if len(slug) > 40 {
		slug = slug[:40]
	}
	return slug + "-" + uuid.NewString()[:8]
}

// confidenceGated reports whether a gated directive was diverted to a
// confirmation/proposal queue instead of executing; true means the caller
// should not proceed with the directive this cycle.
func (d *Dispatcher) confidenceGated(ctx context.Context, dir directive.Directive, out *Output) bool {
	if !d.cfg.ConfidenceGateEnabled || d.gate == nil {
		return false
	}
	score := d.gate.Score(ctx, dir)
	tier := TrustHigh
	if d.trust != nil {
		tier = d.trust.Tier(ctx)
	}
	switch {
	case score < d.cfg.ConfidenceGateMinScore:
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: confidence %d below gate, requires confirmation", dir.Kind, score))
		return true
	case score < 7:
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: confidence %d, proposed not executed", dir.Kind, score))
		return true
	case tier == TrustLow:
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: low trust tier downgrades execute to propose", dir.Kind))
		return true
	default:
		return false
	}
}

// auditFinancialViolations compares the "limit" and "actual" figures that
// picked signals carry in Data and reports each signal whose actual exceeds
// its limit. The outbound messages passed as sent are not inspected.
// Violations are surfaced but never auto-reversed (spec.md §4.9).
func (d *Dispatcher) auditFinancialViolations(picked []signal.Signal, sent []OutboundMessage) []string {
	var violations []string
	for _, s := range picked {
		limit, ok := s.Data["limit"]
		if !ok {
			continue
		}
		actual, ok := s.Data["actual"]
		if !ok {
			continue
		}
		limitF, lok := toFloat(limit)
		actualF, aok := toFloat(actual)
		if lok && aok && actualF > limitF {
			violations = append(violations, fmt.Sprintf("%s: actual %.2f exceeds limit %.2f", s.Key(), actualF, limitF))
		}
	}
	return violations
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
