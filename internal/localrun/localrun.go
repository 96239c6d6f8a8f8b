// Package localrun provides minimal, stdout-facing implementations of the
// collaborator ports (spec.md §6) so the engine can be driven standalone
// from cmd/agentloop without a real chat channel, MCP bridge, or learning
// store wired up — those are explicit Non-goals, but the Cycle Supervisor
// still needs something concrete to talk to. Styled after the teacher's
// cmd/alex output helpers (DeepCodingStatus/-Action/-Error in
// cmd/cobra_cli.go): colored, prefixed, single-line prints via fatih/color,
// not a framework.
package localrun

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"agentloop/internal/directive"
	"agentloop/internal/effect"
	"agentloop/internal/ports"
)

var (
	outboundPrefix = color.New(color.FgGreen).SprintFunc()
	notifyPrefix   = color.New(color.FgYellow).SprintFunc()
)

// StdoutMessenger prints outbound proactive messages to the terminal in
// place of a real chat channel adapter.
type StdoutMessenger struct{}

func (StdoutMessenger) SendToGroup(ctx context.Context, category ports.MessageCategory, text string) (bool, error) {
	fmt.Printf("%s [%s] %s\n", outboundPrefix("=>"), category, text)
	return true, nil
}

// StdoutNotifier prints out-of-band alerts to the terminal in place of a
// real notification sink (e.g. Telegram).
type StdoutNotifier struct{}

func (StdoutNotifier) Notify(ctx context.Context, message string) error {
	fmt.Printf("%s %s\n", notifyPrefix("[notify]"), message)
	return nil
}

// NoopToolBridge reports no tools available. The real tool set (shell,
// MCP, file edits) is an explicit Non-goal; this keeps the router's tool
// loop and the auto-coder's run_tests/git_commit calls well-defined (they
// simply report failure) rather than nil-panicking.
type NoopToolBridge struct{}

func (NoopToolBridge) ExecuteTool(ctx context.Context, name string, params map[string]any) (ports.ToolResult, error) {
	return ports.ToolResult{Success: false, Error: fmt.Sprintf("no tool bridge configured for %q", name)}, nil
}

func (NoopToolBridge) ListTools() []ports.ToolDescriptor { return nil }

// StaticErrorAnalytics reports no spike and an empty summary. A real
// implementation would track HTTP/tool error rates over a sliding window;
// that persistence layer is an explicit Non-goal here.
type StaticErrorAnalytics struct{}

func (StaticErrorAnalytics) DetectSpike(ctx context.Context) (bool, error) { return false, nil }
func (StaticErrorAnalytics) SummarizeForAgent(ctx context.Context) (string, error) {
	return "", nil
}

// FixedTrust reports a constant trust tier. A real trust engine would
// derive this from a rolling track record of accepted/rejected proposals.
type FixedTrust struct {
	TierValue effect.TrustTier
}

func (f FixedTrust) Tier(ctx context.Context) effect.TrustTier {
	if f.TierValue == "" {
		return effect.TrustMedium
	}
	return f.TierValue
}

// LengthHeuristicGate scores a directive's confidence from how much
// rationale the model gave: terse or absent rationale scores low, a
// substantiated one scores high. A real gate would weigh the directive's
// target, blast radius, and the model's own track record; this is a
// deliberately simple stand-in so the confidence gate has something non
// trivial to call by default.
type LengthHeuristicGate struct{}

func (LengthHeuristicGate) Score(ctx context.Context, d directive.Directive) int {
	switch {
	case len(d.Rationale) == 0:
		return 20
	case len(d.Rationale) < 40:
		return 55
	default:
		return 80
	}
}

// NoopLearningStore discards lesson/gap/hypothesis entries. A real
// implementation would persist these via the K/V store or a dedicated
// journal; wiring that is left to the caller since it depends on what
// storage backend they chose for kvstore.
type NoopLearningStore struct{}

func (NoopLearningStore) RecordLesson(ctx context.Context, text string) error { return nil }
func (NoopLearningStore) RecordCapabilityGap(ctx context.Context, topic, text string) error {
	return nil
}
func (NoopLearningStore) RecordHypothesis(ctx context.Context, text string) (string, error) {
	return "", nil
}
func (NoopLearningStore) RecordEvidence(ctx context.Context, hid, text string) error   { return nil }
func (NoopLearningStore) RecordConclusion(ctx context.Context, hid, text string) error { return nil }
