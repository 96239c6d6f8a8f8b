// Package ports declares the narrow collaborator interfaces the engine
// depends on (spec.md §6 "Collaborator interfaces consumed"). The real
// channel adapters, SQLite-backed error analytics, and tool implementations
// are explicit Non-goals; this package only defines the seams so the engine
// can run standalone against in-memory/file-backed reference
// implementations and be tested in isolation from those externals.
package ports

import (
	"context"
	"time"

	"agentloop/internal/goal"
)

// GoalStore is the collaborator interface the Signal Detectors, Effect
// Dispatcher, and auto-coder read and mutate goals through.
type GoalStore interface {
	ListGoals(filter goal.GoalFilter) []*goal.Goal
	GetGoal(id string) *goal.Goal
	AddGoal(id, title string, opts goal.AddGoalOptions) (*goal.Goal, error)
	UpdateGoal(id string, fields goal.UpdateFields) (*goal.Goal, error)
	CompleteMilestone(goalID, milestoneID, evidence, model string) (*goal.Goal, error)
	ProposeGoal(id, title string, opts goal.AddGoalOptions) (*goal.Goal, error)
	GetStaleGoals(hours float64) []*goal.Goal
	GetUpcomingDeadlines(days float64) []*goal.Goal
}

// KVStore is the collaborator interface over the Key/Value Store (C1).
type KVStore interface {
	Get(key string, dst any) (bool, error)
	Set(key string, partial any) error
	UpdateField(key, field string, value any) error
	Increment(key, field string, by float64) (float64, error)
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Success bool
	Result  any
	Error   string
}

// ToolBridge executes a named tool with internal rate-limiting and error
// recovery, and lists the tools currently available to the Backend Router's
// tool-use loop.
type ToolBridge interface {
	ExecuteTool(ctx context.Context, name string, params map[string]any) (ToolResult, error)
	ListTools() []ToolDescriptor
}

// ToolDescriptor describes one tool for prompt composition / tool-call schemas.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// MessageCategory classifies an outbound proactive message.
type MessageCategory string

const (
	CategoryAlerts   MessageCategory = "alerts"
	CategoryHattrick MessageCategory = "hattrick"
	CategoryDaily    MessageCategory = "daily"
)

// Messenger sends proactive messages to the user-facing channel.
type Messenger interface {
	SendToGroup(ctx context.Context, category MessageCategory, text string) (bool, error)
}

// ErrorAnalytics detects error-rate spikes and summarizes recent errors for
// inclusion in a cycle's prompt.
type ErrorAnalytics interface {
	DetectSpike(ctx context.Context) (bool, error)
	SummarizeForAgent(ctx context.Context) (string, error)
}

// Notifier delivers out-of-band alerts (e.g. a Telegram sink) independent
// of the primary messaging channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// MilestoneBrief is the packaged instructions handed to the auto-coder for
// one milestone attempt.
type MilestoneBrief struct {
	GoalID      string
	MilestoneID string
	Instructions string
}

// TestRunResult is the outcome of AutoCoder.RunTests.
type TestRunResult struct {
	Passed bool
	Output string
}

// AutoCoder drives the "pick a milestone, attempt it, verify with tests,
// commit" loop (spec.md §6).
type AutoCoder interface {
	PickMilestone(goals []*goal.Goal) (*goal.Goal, *goal.Milestone, bool)
	BuildMilestoneBrief(g *goal.Goal, m *goal.Milestone) MilestoneBrief
	RunTests(ctx context.Context) (*TestRunResult, error)
	CommitAndReport(ctx context.Context, g *goal.Goal, m *goal.Milestone, evidence string, sendFn func(string) error) error
}

// Clock abstracts time.Now for deterministic tests across the engine.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
