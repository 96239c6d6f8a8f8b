package autocoder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/internal/goal"
	"agentloop/internal/ports"
)

type stubBridge struct {
	executed []string
	results  map[string]ports.ToolResult
	errs     map[string]error
}

func (s *stubBridge) ExecuteTool(ctx context.Context, name string, params map[string]any) (ports.ToolResult, error) {
	s.executed = append(s.executed, name)
	if err, ok := s.errs[name]; ok {
		return ports.ToolResult{}, err
	}
	return s.results[name], nil
}

func (s *stubBridge) ListTools() []ports.ToolDescriptor { return nil }

func goalWithPendingMilestone() *goal.Goal {
	return &goal.Goal{
		ID:     "g1",
		Title:  "Ship the thing",
		Status: goal.StatusInProgress,
		Source: goal.SourceAgent,
		Milestones: []goal.Milestone{
			{ID: "m1", Title: "write tests", Status: goal.MilestoneDone},
			{ID: "m2", Title: "wire endpoint", Status: goal.MilestonePending},
		},
	}
}

func TestPickMilestone_ReturnsFirstPendingOnEligibleGoal(t *testing.T) {
	a := New(Config{}, nil)
	g, m, ok := a.PickMilestone([]*goal.Goal{goalWithPendingMilestone()})
	require.True(t, ok)
	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, "m2", m.ID)
}

func TestPickMilestone_SkipsGoalsWithNoPendingMilestones(t *testing.T) {
	g := goalWithPendingMilestone()
	g.Milestones[1].Status = goal.MilestoneDone
	a := New(Config{}, nil)
	_, _, ok := a.PickMilestone([]*goal.Goal{g})
	assert.False(t, ok)
}

func TestPickMilestone_SkipsBlockedOrCompletedGoals(t *testing.T) {
	g := goalWithPendingMilestone()
	g.Status = goal.StatusBlocked
	a := New(Config{}, nil)
	_, _, ok := a.PickMilestone([]*goal.Goal{g})
	assert.False(t, ok)
}

func TestPickMilestone_RequiredTagsFilter(t *testing.T) {
	g := goalWithPendingMilestone()
	g.LinkedTopics = []string{"billing"}
	a := New(Config{RequiredTags: []string{"infra"}}, nil)
	_, _, ok := a.PickMilestone([]*goal.Goal{g})
	assert.False(t, ok)

	g.LinkedTopics = []string{"infra"}
	_, _, ok = a.PickMilestone([]*goal.Goal{g})
	assert.True(t, ok)
}

func TestRunTests_ReportsPassFromBridge(t *testing.T) {
	bridge := &stubBridge{results: map[string]ports.ToolResult{
		"run_tests": {Success: true, Result: "ok: 12 passed"},
	}}
	a := New(Config{}, bridge)
	result, err := a.RunTests(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, "ok: 12 passed", result.Output)
}

func TestRunTests_ReportsFailureOutput(t *testing.T) {
	bridge := &stubBridge{results: map[string]ports.ToolResult{
		"run_tests": {Success: false, Error: "2 tests failed"},
	}}
	a := New(Config{}, bridge)
	result, err := a.RunTests(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "2 tests failed", result.Output)
}

func TestRunTests_NoBridgeConfiguredFails(t *testing.T) {
	a := New(Config{}, nil)
	result, err := a.RunTests(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestCommitAndReport_SanitizesMessageAndNotifies(t *testing.T) {
	bridge := &stubBridge{results: map[string]ports.ToolResult{"git_commit": {Success: true}}}
	a := New(Config{}, bridge)
	g := goalWithPendingMilestone()
	m := &g.Milestones[1]

	var notified string
	sendFn := func(text string) error {
		notified = text
		return nil
	}

	err := a.CommitAndReport(context.Background(), g, m, "done; rm -rf /", sendFn)
	require.NoError(t, err)
	assert.Contains(t, bridge.executed, "git_commit")
	assert.Contains(t, notified, "wire endpoint")
	assert.NotContains(t, notified, ";")
}

func TestCommitAndReport_PropagatesCommitToolError(t *testing.T) {
	bridge := &stubBridge{errs: map[string]error{"git_commit": errors.New("disk full")}}
	a := New(Config{}, bridge)
	g := goalWithPendingMilestone()
	m := &g.Milestones[1]

	err := a.CommitAndReport(context.Background(), g, m, "evidence", func(string) error { return nil })
	assert.Error(t, err)
}
