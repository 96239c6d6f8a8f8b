// Package supervisor implements the Cycle Supervisor (C10): the single
// cooperative scheduling loop that runs one cycle at a time end to end
// (spec.md §4.10, §5). Grounded almost line-for-line on the teacher's
// internal/app/agent/kernel.Engine in shape: RunCycle's numbered procedure,
// the stopped/stopOnce/wg shutdown bookkeeping, and Run's self-rescheduling
// one-shot timer loop. The default schedule is not cron-driven: the next
// delay is computed fresh after every cycle (spec.md §4.10 step 8), so the
// timer is reset to a variable duration rather than a fixed cron.Next call.
// An operator can still pin CycleCron in Config to fall back to the
// teacher's calendar-driven scheduling (e.g. "only ever cycle on weekday
// business hours"), in which case robfig/cron takes over next-delay
// computation entirely and step 8's dynamic rules are not consulted.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"agentloop/internal/arbiter"
	"agentloop/internal/config"
	"agentloop/internal/cyclestate"
	"agentloop/internal/directive"
	"agentloop/internal/effect"
	"agentloop/internal/eventlog"
	"agentloop/internal/goal"
	"agentloop/internal/llmrouter"
	"agentloop/internal/logging"
	"agentloop/internal/ports"
	"agentloop/internal/promptcompose"
	"agentloop/internal/reasoning"
	"agentloop/internal/signal"
)

// cronParser is the standard 5-field cron parser, reused from the teacher's
// kernel package for the optional CycleCron override.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks a cron expression for CycleCron, mirroring the
// teacher's kernel.ValidateSchedule so misconfiguration fails at startup
// rather than silently falling back to the default interval.
func ValidateSchedule(expr string) error {
	_, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("supervisor: invalid cycle_cron %q: %w", expr, err)
	}
	return nil
}

// Config is the supervisor's scheduling and budget tuning (spec.md §6).
type Config struct {
	Location *time.Location
	QuietHours signal.QuietHours

	DefaultCycleMinutes    int // step 8 default (10-15 min)
	ProductiveRecycleMinutes int // step 8 "productive re-cycle" delay
	MaxConsecutiveRecycles int // step 8 cap
	QuietHoursExtendMinutes int // step 8 quiet-hours extension

	BackoffThreshold int // step 5 consecutive-spawn backoff

	DailyCostCapUSD  float64
	SonnetCostCapUSD float64

	// CycleCron, when set, overrides spec.md §4.10 step 8's dynamic delay
	// computation with a fixed cron schedule, as the teacher's kernel.Engine
	// does. Validate with ValidateSchedule before constructing an Engine.
	CycleCron string

	CostRollupInterval  time.Duration // default 7 days
	IndexSyncInterval   time.Duration // default 30 min
	ChronicErrorInterval time.Duration // default 1 hour
}

// ConfigFromEngine maps the loaded engine configuration onto a supervisor
// Config. CycleInterval becomes DefaultCycleMinutes; the rest of the
// schedule-shaping knobs (productive recycle, backoff threshold, quiet-hours
// extension) aren't exposed at the config layer yet and keep their zero
// values, which withDefaults fills in.
func ConfigFromEngine(ec config.EngineConfig) Config {
	return Config{
		QuietHours:          signal.QuietHours{Start: ec.QuietHoursStart, End: ec.QuietHoursEnd},
		DefaultCycleMinutes: int(ec.CycleInterval / time.Minute),
		DailyCostCapUSD:     ec.DailyCostCapUSD,
		SonnetCostCapUSD:    ec.SonnetCostCapUSD,
		CycleCron:           ec.CycleCron,
	}
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.DefaultCycleMinutes == 0 {
		c.DefaultCycleMinutes = 10
	}
	if c.ProductiveRecycleMinutes == 0 {
		c.ProductiveRecycleMinutes = 2
	}
	if c.MaxConsecutiveRecycles == 0 {
		c.MaxConsecutiveRecycles = 3
	}
	if c.QuietHoursExtendMinutes == 0 {
		c.QuietHoursExtendMinutes = 60
	}
	if c.BackoffThreshold == 0 {
		c.BackoffThreshold = 10
	}
	if c.CostRollupInterval == 0 {
		c.CostRollupInterval = 7 * 24 * time.Hour
	}
	if c.IndexSyncInterval == 0 {
		c.IndexSyncInterval = 30 * time.Minute
	}
	if c.ChronicErrorInterval == 0 {
		c.ChronicErrorInterval = time.Hour
	}
	return c
}

// WorldBuilder extends the minimal World the supervisor assembles itself
// (goals, pending followups, quiet hours, daily cost) with dimensions this
// module's narrow ports don't carry raw data for (memory tiers, MCP health,
// error-rate counts) — an extension point in the same spirit as
// signal.RegisterDetector.
type WorldBuilder func(ctx context.Context, base signal.World) signal.World

// MaintenanceHooks are the low-frequency jobs step 3 runs when due. Any may
// be nil, in which case that job is simply skipped.
type MaintenanceHooks struct {
	CostRollup    func(ctx context.Context) error
	IndexSync     func(ctx context.Context) error
	ChronicErrors func(ctx context.Context) error
}

// Deps bundles the supervisor's collaborator ports and engine components.
type Deps struct {
	KV             ports.KVStore
	Goals          ports.GoalStore
	ErrorAnalytics ports.ErrorAnalytics
	Notifier       ports.Notifier
	Router         *llmrouter.Router
	Session        *reasoning.Session
	Relevance      *reasoning.RelevanceIndex
	Dispatcher     *effect.Dispatcher
	Events         *eventlog.Log
	Clock          ports.Clock
	Logger         *logging.ComponentLogger
	WorldBuilder   WorldBuilder
	Maintenance    MaintenanceHooks

	// OnCycle, if set, is called with every RunCycle outcome (skipped or
	// not) right before Run schedules the next timer. Used to feed external
	// observers — e.g. internal/metrics's gauges — without this package
	// needing to know anything about them.
	OnCycle func(CycleOutcome)
}

// Engine is the Cycle Supervisor.
type Engine struct {
	cfg  Config
	deps Deps

	cronSchedule cron.Schedule // non-nil only when cfg.CycleCron is set

	running  atomic.Bool // step 1 reentry latch
	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs an Engine. If cfg.CycleCron is set but invalid, Run falls
// back to the dynamic default schedule and logs a warning, the same
// defensive posture as the teacher (schedules are expected to have already
// been checked with ValidateSchedule at build time).
func New(cfg Config, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Events == nil {
		deps.Events = eventlog.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.SupervisorLogger
	}
	e := &Engine{cfg: cfg.withDefaults(), deps: deps, stopped: make(chan struct{})}
	if cfg.CycleCron != "" {
		sched, err := cronParser.Parse(cfg.CycleCron)
		if err != nil {
			e.deps.Logger.Warn("supervisor: invalid cycle_cron %q, using dynamic schedule: %v", cfg.CycleCron, err)
		} else {
			e.cronSchedule = sched
		}
	}
	return e
}

// maintenanceState tracks when each low-frequency job last ran, persisted
// under its own K/V key (spec.md's "due-time bookkeeping in the K/V store",
// kept separate from CycleState since it has nothing to do with any single
// cycle's signals/effects).
type maintenanceState struct {
	LastCostRollupAt    time.Time `json:"lastCostRollupAt"`
	LastIndexSyncAt     time.Time `json:"lastIndexSyncAt"`
	LastChronicErrorsAt time.Time `json:"lastChronicErrorsAt"`
}

const maintenanceKey = "agent:maintenance"

// CycleOutcome is what RunCycle produced, returned mainly for tests and the
// Run loop's logging; callers driving the engine manually rarely need more
// than the error.
type CycleOutcome struct {
	Skipped   bool
	SkipReason string
	State     *cyclestate.State
	Diff      *cyclestate.CycleDiff
	NextDelay time.Duration
}

// RunCycle executes steps 1-10 of spec.md §4.10 exactly once.
func (e *Engine) RunCycle(ctx context.Context) (result CycleOutcome, err error) {
	// Step 1: refuse re-entry.
	if !e.running.CompareAndSwap(false, true) {
		return CycleOutcome{Skipped: true, SkipReason: "cycle_already_running"}, nil
	}
	defer e.running.Store(false)

	now := e.deps.Clock.Now().In(e.cfg.Location)

	state, loadErr := e.loadState()
	if loadErr != nil {
		return CycleOutcome{}, fmt.Errorf("supervisor: load state: %w", loadErr)
	}

	defer func() {
		if r := recover(); r != nil {
			// Step 10: any exception resets the session and schedules the
			// default delay; the panic itself becomes the returned error.
			e.deps.Events.Record("cycle:error", map[string]any{"panic": fmt.Sprintf("%v", r)})
			if e.deps.Session != nil {
				e.deps.Session.Reset()
			}
			state.RecentEvents = eventlog.Merge(state.RecentEvents, e.deps.Events.Snapshot())
			_ = e.saveState(state)
			result = CycleOutcome{State: state, NextDelay: time.Duration(e.cfg.DefaultCycleMinutes) * time.Minute}
			err = fmt.Errorf("supervisor: cycle panic: %v", r)
		}
	}()

	// Step 2: reset the daily-cost bucket on date rollover.
	state.ResetDailyCostIfNewDay(now)

	// Step 3: low-frequency maintenance.
	e.runMaintenanceIfDue(ctx, now)

	// Step 4: collect, filter, pick signals. A detector that panics is
	// logged and contributes no signals; the cycle continues.
	world := e.buildWorld(ctx, now, state)
	var raw []signal.Signal
	for _, detect := range signal.AllDetectors() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.deps.Logger.Warn("supervisor: detector panicked, signals dropped: %v", r)
				}
			}()
			raw = append(raw, detect(world)...)
		}()
	}
	arb := arbiter.Arbitrate(raw, state.SignalCooldowns, now)
	state.SignalCooldowns = arb.Cooldowns

	// Step 5: skip guards.
	kind := promptcompose.DetermineKind(len(arb.Picked), state.CycleCount)
	if state.ConsecutiveSpawns >= e.cfg.BackoffThreshold {
		state.ConsecutiveSpawns = 0
		state.CycleCount++
		e.deps.Events.Record("cycle:skipped", map[string]any{"reason": "backoff"})
		_ = e.saveState(state)
		delay := time.Duration(e.cfg.DefaultCycleMinutes) * time.Minute
		return CycleOutcome{Skipped: true, SkipReason: "consecutive_spawn_backoff", State: state, NextDelay: delay}, nil
	}
	if kind == promptcompose.KindSkip {
		state.CycleCount++
		_ = e.saveState(state)
		delay := time.Duration(e.cfg.DefaultCycleMinutes) * time.Minute
		return CycleOutcome{Skipped: true, SkipReason: "no_signals", State: state, NextDelay: delay}, nil
	}

	// Step 6: compose, route, invoke, parse, dispatch.
	quietNow := e.cfg.QuietHours.IsQuiet(now)
	prompt := promptcompose.Compose(promptcompose.Input{
		Now: now, Location: e.cfg.Location, QuietHours: e.cfg.QuietHours,
		Picked: arb.Picked, Goals: world.Goals,
		RecentActions: state.RecentEvents,
		Simple:        kind == promptcompose.KindReflection,
	})

	route := e.deps.Router.Route(ctx, llmrouter.RoutingRequest{
		PickedSignals:        arb.Picked,
		SonnetCooldownActive: state.CycleCount < state.SonnetCooldownUntil,
	})

	invokeResult, invokeErr := e.deps.Router.Invoke(ctx, route, prompt)
	erroredUnhandled := invokeErr != nil
	if erroredUnhandled {
		e.deps.Events.Record("cycle:error", map[string]any{"stage": "invoke", "error": invokeErr.Error()})
	}

	var dispOut effect.Output
	if !erroredUnhandled {
		parsed, warnings := directive.Parse(invokeResult.Text)
		for _, w := range warnings {
			e.deps.Events.Record("parse:warning", map[string]any{"tag": w.Tag, "reason": w.Reason})
		}
		if e.deps.Dispatcher != nil {
			dispOut = e.deps.Dispatcher.Dispatch(ctx, effect.Input{
				QuietHoursNow:    quietNow,
				PickedSignals:    arb.Picked,
				IsPaidCycle:      route.Tier == llmrouter.TierPaid,
				HadMutatingTools: len(invokeResult.ToolLog) > 0,
				Model:            route.Backend.Model,
				Directives:       parsed.Directives,
			})
		}
		if e.deps.Relevance != nil && len(dispOut.ActionsAudited) > 0 {
			summary := fmt.Sprintf("cycle %d: %v", state.CycleCount+1, dispOut.ActionsAudited)
			_ = e.deps.Relevance.Remember(ctx, state.CycleCount+1, summary)
		}
	}

	if e.deps.Session != nil {
		if e.deps.Session.EstimateAndRecordCycle(prompt, invokeResult.Text, erroredUnhandled) {
			e.deps.Session.Reset()
		}
	}

	// Bookkeeping used by steps 8-9.
	state.DailyCost += invokeResult.CostUSD
	if route.Backend.Name != "" {
		state.ConsecutiveSpawns++
	} else {
		state.ConsecutiveSpawns = 0
	}
	state.LastCycleTokens = invokeResult.InputTokens + invokeResult.OutputTokens
	state.PendingFollowups = mergeFollowups(state.PendingFollowups, dispOut.Followups)
	state.CycleCount++
	state.LastCycleAt = now

	// Step 7: write a CycleDiff.
	diff := cyclestate.CycleDiff{
		Cycle:   state.CycleCount,
		TS:      now,
		Model:   route.Backend.Model,
		Cost:    invokeResult.CostUSD,
		Actions: dispOut.ActionsAudited,
	}
	if e.deps.KV != nil {
		_ = e.deps.KV.Set(fmt.Sprintf("agent:cycle_diff:%d", diff.Cycle), diff)
	}

	// Step 8: compute the next delay.
	hasUrgentModuleWork := false
	for _, s := range arb.Picked {
		if s.Urgency == signal.UrgencyCritical {
			hasUrgentModuleWork = true
			break
		}
	}
	var override *int
	if dispOut.NextCycleMinutes != nil {
		override = dispOut.NextCycleMinutes
	}
	nextDelay := e.computeNextDelay(state, override, len(dispOut.ActionsAudited), len(dispOut.GoalsCreated) > 0, quietNow, hasUrgentModuleWork)

	// Step 9: persist, emit cycle:complete, return for the Run loop to
	// schedule the next run.
	e.deps.Events.Record("cycle:complete", map[string]any{
		"cycle": state.CycleCount, "model": route.Backend.Model, "actions": len(dispOut.ActionsAudited),
	})
	state.RecentEvents = eventlog.Merge(state.RecentEvents, e.deps.Events.Snapshot())
	if saveErr := e.saveState(state); saveErr != nil {
		return CycleOutcome{}, fmt.Errorf("supervisor: save state: %w", saveErr)
	}

	return CycleOutcome{State: state, Diff: &diff, NextDelay: nextDelay}, nil
}

func (e *Engine) computeNextDelay(state *cyclestate.State, override *int, actionsCount int, goalCreated, quietNow, urgentModuleWork bool) time.Duration {
	if override != nil {
		state.ConsecutiveRecycles = 0
		return time.Duration(*override) * time.Minute
	}
	if quietNow && !urgentModuleWork {
		state.ConsecutiveRecycles = 0
		return time.Duration(e.cfg.QuietHoursExtendMinutes) * time.Minute
	}
	if (actionsCount >= 2 || goalCreated) && state.ConsecutiveRecycles < e.cfg.MaxConsecutiveRecycles {
		state.ConsecutiveRecycles++
		return time.Duration(e.cfg.ProductiveRecycleMinutes) * time.Minute
	}
	state.ConsecutiveRecycles = 0
	return time.Duration(e.cfg.DefaultCycleMinutes) * time.Minute
}

func mergeFollowups(existing []cyclestate.Followup, added []cyclestate.Followup) []cyclestate.Followup {
	if len(added) == 0 {
		return existing
	}
	return append(append([]cyclestate.Followup{}, existing...), added...)
}

func (e *Engine) buildWorld(ctx context.Context, now time.Time, state *cyclestate.State) signal.World {
	var goals []*goal.Goal
	if e.deps.Goals != nil {
		goals = e.deps.Goals.ListGoals(goal.GoalFilter{IncludeAll: true})
	}
	followups := make([]signal.FollowupItem, 0, len(state.PendingFollowups))
	for _, f := range state.PendingFollowups {
		followups = append(followups, signal.FollowupItem{Topic: f.Topic, CreatedAt: f.CreatedAt, GoalID: f.GoalID})
	}
	base := signal.World{
		Now:                  now,
		Goals:                goals,
		PendingFollowups:     followups,
		DailyCostUSD:         state.DailyCost,
		CostTrackingDisabled: e.cfg.DailyCostCapUSD <= 0,
		QuietHours:           e.cfg.QuietHours,
	}
	if e.deps.WorldBuilder != nil {
		return e.deps.WorldBuilder(ctx, base)
	}
	return base
}

func (e *Engine) runMaintenanceIfDue(ctx context.Context, now time.Time) {
	if e.deps.KV == nil {
		return
	}
	var st maintenanceState
	if _, err := e.deps.KV.Get(maintenanceKey, &st); err != nil {
		e.deps.Logger.Warn("maintenance state load failed: %v", err)
	}
	dirty := false
	if e.deps.Maintenance.CostRollup != nil && now.Sub(st.LastCostRollupAt) >= e.cfg.CostRollupInterval {
		if err := e.deps.Maintenance.CostRollup(ctx); err != nil {
			e.deps.Logger.Warn("cost rollup failed: %v", err)
		} else {
			st.LastCostRollupAt = now
			dirty = true
		}
	}
	if e.deps.Maintenance.IndexSync != nil && now.Sub(st.LastIndexSyncAt) >= e.cfg.IndexSyncInterval {
		if err := e.deps.Maintenance.IndexSync(ctx); err != nil {
			e.deps.Logger.Warn("index sync failed: %v", err)
		} else {
			st.LastIndexSyncAt = now
			dirty = true
		}
	}
	if e.deps.Maintenance.ChronicErrors != nil && now.Sub(st.LastChronicErrorsAt) >= e.cfg.ChronicErrorInterval {
		if err := e.deps.Maintenance.ChronicErrors(ctx); err != nil {
			e.deps.Logger.Warn("chronic error analysis failed: %v", err)
		} else {
			st.LastChronicErrorsAt = now
			dirty = true
		}
	}
	if dirty {
		if err := e.deps.KV.Set(maintenanceKey, st); err != nil {
			e.deps.Logger.Warn("maintenance state persist failed: %v", err)
		}
	}
}

func (e *Engine) loadState() (*cyclestate.State, error) {
	if e.deps.KV == nil {
		return cyclestate.New(), nil
	}
	st := cyclestate.New()
	found, err := e.deps.KV.Get(cyclestate.WellKnownKey, st)
	if err != nil {
		return nil, err
	}
	if !found {
		return cyclestate.New(), nil
	}
	return st, nil
}

func (e *Engine) saveState(state *cyclestate.State) error {
	if e.deps.KV == nil {
		return nil
	}
	return e.deps.KV.Set(cyclestate.WellKnownKey, state)
}
