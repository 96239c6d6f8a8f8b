// Package goal implements the Goal/Milestone store: the long-lived
// objective tracker the Signal Detectors (stale/blocked/deadline/goal-work)
// and the auto-coder effect read from and the Effect Dispatcher's
// goal.update/complete_milestone directives write through. Grounded on the
// teacher's internal/infra/filestore.Collection[K,V], specialized to
// map[string]*Goal and keyed by Goal.ID, with a single mutating entry point
// (UpdateGoal) enforcing the status-transition graph, per spec.md §6's
// "Goal mutations go through a single function that enforces status-
// transition legality."
package goal

import (
	"fmt"
	"sort"
	"time"

	"agentloop/internal/engerrors"
	"agentloop/internal/filestore"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
	StatusProposed   Status = "proposed"
	StatusPending    Status = "pending"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

type MilestoneStatus string

const (
	MilestonePending MilestoneStatus = "pending"
	MilestoneDone    MilestoneStatus = "done"
	MilestoneSkipped MilestoneStatus = "skipped"
)

// Milestone is one step within a Goal.
type Milestone struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Status      MilestoneStatus `json:"status"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Evidence    string          `json:"evidence,omitempty"`
}

// LogEntry is one append-only entry in Goal.Log.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

const maxLogEntries = 50

// Source distinguishes user-authored goals from agent-proposed ones.
type Source string

const (
	SourceUser  Source = "user"
	SourceAgent Source = "agent"
)

// Goal is a long-lived objective.
type Goal struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Status       Status      `json:"status"`
	Priority     Priority    `json:"priority"`
	Progress     int         `json:"progress"`
	Deadline     *time.Time  `json:"deadline,omitempty"`
	LinkedTopics []string    `json:"linkedTopics,omitempty"`
	Milestones   []Milestone `json:"milestones,omitempty"`
	Log          []LogEntry  `json:"log,omitempty"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	Source       Source      `json:"source"`
}

// transitions is the fixed legal status-transition graph from spec.md §3.
var transitions = map[Status][]Status{
	StatusDraft:      {StatusActive, StatusAbandoned},
	StatusActive:     {StatusInProgress, StatusBlocked, StatusAbandoned},
	StatusInProgress: {StatusBlocked, StatusCompleted, StatusAbandoned},
	StatusBlocked:    {StatusInProgress, StatusAbandoned},
	StatusCompleted:  {},
	StatusAbandoned:  {},
}

// CanTransition reports whether moving from `from` to `to` is legal. The
// identity transition (from == to) is always legal (a no-op update).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Store is the Goal/Milestone store (C1-adjacent domain store).
type Store struct {
	coll *filestore.Collection[string, *Goal]
}

// Config configures a Store.
type Config struct {
	FilePath string
}

// Open constructs a Store and loads any existing on-disk state.
func Open(cfg Config) (*Store, error) {
	coll := filestore.NewCollection[string, *Goal](filestore.CollectionConfig{
		FilePath: cfg.FilePath,
		Name:     "goals",
	})
	if err := coll.Load(); err != nil {
		return nil, engerrors.NewPermanentError(err, fmt.Sprintf("goal: failed to load %s", cfg.FilePath))
	}
	return &Store{coll: coll}, nil
}

// GetGoal returns the goal with id, or nil if not found.
func (s *Store) GetGoal(id string) *Goal {
	g, ok := s.coll.Get(id)
	if !ok {
		return nil
	}
	return g
}

// GoalFilter narrows ListGoals by status and/or linked topic.
type GoalFilter struct {
	Status       Status
	LinkedTopic  string
	IncludeAll   bool // when true, Status is ignored
}

// ListGoals returns goals matching filter, sorted by priority then title.
func (s *Store) ListGoals(filter GoalFilter) []*Goal {
	snap := s.coll.Snapshot()
	out := make([]*Goal, 0, len(snap))
	for _, g := range snap {
		if !filter.IncludeAll && filter.Status != "" && g.Status != filter.Status {
			continue
		}
		if filter.LinkedTopic != "" && !containsString(g.LinkedTopics, filter.LinkedTopic) {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := priorityRank(out[i].Priority), priorityRank(out[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// AddGoalOptions customizes AddGoal.
type AddGoalOptions struct {
	Description  string
	Priority     Priority
	Deadline     *time.Time
	LinkedTopics []string
}

// AddGoal creates a new user-authored, active goal.
func (s *Store) AddGoal(id, title string, opts AddGoalOptions) (*Goal, error) {
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	g := &Goal{
		ID:           id,
		Title:        title,
		Description:  opts.Description,
		Status:       StatusActive,
		Priority:     priority,
		Deadline:     opts.Deadline,
		LinkedTopics: opts.LinkedTopics,
		UpdatedAt:    time.Now().UTC(),
		Source:       SourceUser,
	}
	if err := s.coll.Put(id, g); err != nil {
		return nil, engerrors.NewTransientError(err, "goal: failed to persist new goal")
	}
	return g, nil
}

// ProposeGoal creates a new agent-proposed goal in the `proposed` state,
// requiring explicit user (or operator) promotion before it becomes active.
func (s *Store) ProposeGoal(id, title string, opts AddGoalOptions) (*Goal, error) {
	g, err := s.AddGoal(id, title, opts)
	if err != nil {
		return nil, err
	}
	g.Status = StatusProposed
	g.Source = SourceAgent
	if err := s.coll.Put(id, g); err != nil {
		return nil, engerrors.NewTransientError(err, "goal: failed to persist proposed goal")
	}
	return g, nil
}

// UpdateFields is the set of mutable Goal fields an UpdateGoal call may set.
// A nil pointer means "leave unchanged".
type UpdateFields struct {
	Status       *Status
	Progress     *int
	Deadline     *time.Time
	Priority     *Priority
	LinkedTopics []string
	LogMessage   string
}

// UpdateGoal is the sole mutating entry point for Goal fields besides
// milestone completion; it enforces the status-transition graph and
// returns nil (without error) if fields.Status requests an illegal
// transition, per spec.md §6.
func (s *Store) UpdateGoal(id string, fields UpdateFields) (*Goal, error) {
	var result *Goal
	err := s.coll.Mutate(func(items map[string]*Goal) error {
		g, ok := items[id]
		if !ok {
			return engerrors.NewPermanentError(fmt.Errorf("goal %q not found", id), "")
		}
		if fields.Status != nil && !CanTransition(g.Status, *fields.Status) {
			result = nil
			return nil
		}
		if fields.Status != nil {
			g.Status = *fields.Status
		}
		if fields.Progress != nil {
			g.Progress = clamp(*fields.Progress, 0, 100)
		}
		if fields.Deadline != nil {
			g.Deadline = fields.Deadline
		}
		if fields.Priority != nil {
			g.Priority = *fields.Priority
		}
		if fields.LinkedTopics != nil {
			g.LinkedTopics = fields.LinkedTopics
		}
		if fields.LogMessage != "" {
			g.Log = appendLog(g.Log, fields.LogMessage)
		}
		g.UpdatedAt = time.Now().UTC()
		result = g
		return nil
	})
	if err != nil {
		if engerrors.IsPermanent(err) {
			return nil, err
		}
		return nil, engerrors.NewTransientError(err, "goal: failed to persist update")
	}
	return result, nil
}

// CompleteMilestone marks a milestone done with evidence, auto-transitioning
// the parent goal to completed once every non-skipped milestone is done.
func (s *Store) CompleteMilestone(goalID, milestoneID, evidence, model string) (*Goal, error) {
	var result *Goal
	err := s.coll.Mutate(func(items map[string]*Goal) error {
		g, ok := items[goalID]
		if !ok {
			return engerrors.NewPermanentError(fmt.Errorf("goal %q not found", goalID), "")
		}
		found := false
		now := time.Now().UTC()
		for i := range g.Milestones {
			if g.Milestones[i].ID == milestoneID {
				g.Milestones[i].Status = MilestoneDone
				g.Milestones[i].CompletedAt = &now
				g.Milestones[i].Evidence = evidence
				found = true
				break
			}
		}
		if !found {
			return engerrors.NewPermanentError(fmt.Errorf("milestone %q not found on goal %q", milestoneID, goalID), "")
		}
		if allNonSkippedDone(g.Milestones) && CanTransition(g.Status, StatusCompleted) {
			g.Status = StatusCompleted
		}
		g.Log = appendLog(g.Log, fmt.Sprintf("milestone %q completed by %s", milestoneID, model))
		g.UpdatedAt = now
		result = g
		return nil
	})
	if err != nil {
		if engerrors.IsPermanent(err) {
			return nil, err
		}
		return nil, engerrors.NewTransientError(err, "goal: failed to persist milestone completion")
	}
	return result, nil
}

// GetStaleGoals returns in_progress goals untouched for at least hours.
func (s *Store) GetStaleGoals(hours float64) []*Goal {
	cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	var out []*Goal
	for _, g := range s.coll.Snapshot() {
		if g.Status == StatusInProgress && g.UpdatedAt.Before(cutoff) {
			out = append(out, g)
		}
	}
	return out
}

// GetUpcomingDeadlines returns active/in_progress goals whose deadline
// falls within the next `days` days.
func (s *Store) GetUpcomingDeadlines(days float64) []*Goal {
	horizon := time.Now().Add(time.Duration(days * float64(24*time.Hour)))
	var out []*Goal
	for _, g := range s.coll.Snapshot() {
		if (g.Status != StatusActive && g.Status != StatusInProgress) || g.Deadline == nil {
			continue
		}
		if !g.Deadline.After(horizon) {
			out = append(out, g)
		}
	}
	return out
}

func appendLog(log []LogEntry, msg string) []LogEntry {
	log = append(log, LogEntry{At: time.Now().UTC(), Message: msg})
	if len(log) > maxLogEntries {
		log = log[len(log)-maxLogEntries:]
	}
	return log
}

func allNonSkippedDone(milestones []Milestone) bool {
	any := false
	for _, m := range milestones {
		if m.Status == MilestoneSkipped {
			continue
		}
		any = true
		if m.Status != MilestoneDone {
			return false
		}
	}
	return any
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityNormal:
		return 3
	case PriorityLow:
		return 4
	default:
		return 5
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
