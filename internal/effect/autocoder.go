package effect

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"agentloop/internal/directive"
	"agentloop/internal/goal"
	"agentloop/internal/ports"
)

// shellMetacharRe matches characters a generated commit message must never
// carry verbatim into a shell command (spec.md §4.9: "Commit message fields
// are sanitised to disallow shell metacharacters").
var shellMetacharRe = regexp.MustCompile("[;&|`$(){}<>\"'\\\\\n]")

func sanitizeCommitField(s string) string {
	return shellMetacharRe.ReplaceAllString(s, "")
}

// runAutoCoderHook implements spec.md §4.9's auto-coder hook: on a paid
// cycle's milestone_complete, run the test suite; commit and notify on
// success, report without committing on failure.
func (d *Dispatcher) runAutoCoderHook(ctx context.Context, g *goal.Goal, mc directive.Directive, out *Output) {
	result, err := d.autoCoder.RunTests(ctx)
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("auto-coder: test run failed: %v", err))
		return
	}
	evidence := sanitizeCommitField(mc.Text)
	sendFn := func(text string) error {
		if d.messenger == nil {
			return nil
		}
		sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		_, err := d.messenger.SendToGroup(sendCtx, ports.CategoryDaily, text)
		return err
	}
	if !result.Passed {
		out.Warnings = append(out.Warnings, fmt.Sprintf("auto-coder: tests failed for milestone %s, not committing", mc.MilestoneID))
		_ = sendFn(fmt.Sprintf("Milestone %s attempted but tests failed:\n%s", mc.MilestoneID, truncate(result.Output, 2000)))
		return
	}
	m := findMilestone(g, mc.MilestoneID)
	if m == nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("auto-coder: milestone %s not found on goal %s after completion", mc.MilestoneID, g.ID))
		return
	}
	if err := d.autoCoder.CommitAndReport(ctx, g, m, evidence, sendFn); err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("auto-coder: commit failed: %v", err))
	}
}

func findMilestone(g *goal.Goal, id string) *goal.Milestone {
	for i := range g.Milestones {
		if g.Milestones[i].ID == id {
			return &g.Milestones[i]
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
