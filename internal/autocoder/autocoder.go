package autocoder

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"agentloop/internal/goal"
	"agentloop/internal/ports"
)

// shellMetacharRe strips characters a generated commit message must never
// carry verbatim into a shell command (spec.md §4.9). Mirrors
// internal/effect's sanitizeCommitField; kept local rather than shared to
// avoid a cross-import for one regex.
var shellMetacharRe = regexp.MustCompile("[;&|`$(){}<>\"'\\\\\n]")

func sanitizeCommitField(s string) string {
	return shellMetacharRe.ReplaceAllString(s, "")
}

// Config names the tool-bridge conventions this reference implementation
// relies on, since the real tool set is an explicit Non-goal and only a
// narrow interface (ports.ToolBridge) is specified.
type Config struct {
	// RequiredTags restricts PickMilestone to goals carrying at least one
	// of these linked topics; empty means no restriction.
	RequiredTags []string
	// TestToolName is the ToolBridge tool invoked by RunTests. Defaults to
	// "run_tests".
	TestToolName string
	// CommitToolName is the ToolBridge tool invoked to create the commit.
	// Defaults to "git_commit".
	CommitToolName string
}

func (c Config) withDefaults() Config {
	if c.TestToolName == "" {
		c.TestToolName = "run_tests"
	}
	if c.CommitToolName == "" {
		c.CommitToolName = "git_commit"
	}
	return c
}

// AutoCoder is a reference implementation of ports.AutoCoder: it picks an
// eligible milestone, runs tests through the tool bridge, and commits
// lib/test changes on success.
type AutoCoder struct {
	cfg        Config
	toolBridge ports.ToolBridge
}

func New(cfg Config, toolBridge ports.ToolBridge) *AutoCoder {
	return &AutoCoder{cfg: cfg.withDefaults(), toolBridge: toolBridge}
}

// PickMilestone returns the first pending milestone of the highest-priority
// eligible, agent-workable goal. Goals are assumed pre-sorted by priority
// (goal.Store.ListGoals's contract).
func (a *AutoCoder) PickMilestone(goals []*goal.Goal) (*goal.Goal, *goal.Milestone, bool) {
	for _, g := range goals {
		if g.Status != goal.StatusActive && g.Status != goal.StatusInProgress {
			continue
		}
		if !a.eligible(g) {
			continue
		}
		for i := range g.Milestones {
			if g.Milestones[i].Status == goal.MilestonePending {
				return g, &g.Milestones[i], true
			}
		}
	}
	return nil, nil, false
}

func (a *AutoCoder) eligible(g *goal.Goal) bool {
	if len(a.cfg.RequiredTags) == 0 {
		return true
	}
	for _, required := range a.cfg.RequiredTags {
		for _, topic := range g.LinkedTopics {
			if topic == required {
				return true
			}
		}
	}
	return false
}

// BuildMilestoneBrief packages the goal/milestone context the paid backend
// needs to attempt one milestone.
func (a *AutoCoder) BuildMilestoneBrief(g *goal.Goal, m *goal.Milestone) ports.MilestoneBrief {
	instructions := fmt.Sprintf(
		"Goal %q (%s): work on milestone %q. Modify only files under lib/ or test/. "+
			"Run the test suite before claiming completion. Record concrete evidence.",
		g.Title, g.ID, m.Title,
	)
	return ports.MilestoneBrief{GoalID: g.ID, MilestoneID: m.ID, Instructions: instructions}
}

// RunTests invokes the configured test tool through the bridge.
func (a *AutoCoder) RunTests(ctx context.Context) (*ports.TestRunResult, error) {
	if a.toolBridge == nil {
		return &ports.TestRunResult{Passed: false, Output: "no tool bridge configured"}, nil
	}
	tr, err := a.toolBridge.ExecuteTool(ctx, a.cfg.TestToolName, nil)
	if err != nil {
		return nil, err
	}
	output := ""
	if s, ok := tr.Result.(string); ok {
		output = s
	} else if tr.Result != nil {
		output = fmt.Sprintf("%v", tr.Result)
	}
	if !tr.Success && tr.Error != "" {
		output = tr.Error
	}
	return &ports.TestRunResult{Passed: tr.Success, Output: output}, nil
}

// CommitAndReport commits the milestone's changes and notifies the user
// through sendFn. Evidence and milestone/goal identifiers are sanitised
// before being handed to the commit tool (spec.md §4.9).
func (a *AutoCoder) CommitAndReport(ctx context.Context, g *goal.Goal, m *goal.Milestone, evidence string, sendFn func(string) error) error {
	sanitizedEvidence := sanitizeCommitField(evidence)
	message := commitMessage(g, m, sanitizedEvidence)
	if a.toolBridge != nil {
		if _, err := a.toolBridge.ExecuteTool(ctx, a.cfg.CommitToolName, map[string]any{"message": message}); err != nil {
			return fmt.Errorf("autocoder: commit failed: %w", err)
		}
	}
	if sendFn != nil {
		return sendFn(fmt.Sprintf("Completed milestone %q on %q:\n%s", m.Title, g.Title, sanitizedEvidence))
	}
	return nil
}

func commitMessage(g *goal.Goal, m *goal.Milestone, evidence string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "milestone: %s (%s)\n\n", sanitizeCommitField(m.Title), sanitizeCommitField(g.Title))
	b.WriteString(sanitizeCommitField(evidence))
	return b.String()
}
