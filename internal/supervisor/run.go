package supervisor

import (
	"context"
	"time"
)

// Run starts the self-rescheduling cycle loop, mirroring the teacher
// kernel.Engine's Run almost exactly: a one-shot timer recomputed on every
// iteration rather than a ticker, so drift never accumulates and the delay
// can change cycle to cycle. By default the next wait comes from RunCycle's
// own returned NextDelay (spec.md §4.10 step 8's load-driven rules) rather
// than a cron.Next lookup; when Config.CycleCron parsed successfully, the
// engine falls back to the teacher's calendar-driven scheme instead.
func (e *Engine) Run(ctx context.Context) {
	e.deps.Logger.Info("supervisor: starting")

	nextDelay := func(now time.Time) time.Duration {
		if e.cronSchedule != nil {
			return time.Until(e.cronSchedule.Next(now))
		}
		return time.Duration(e.cfg.DefaultCycleMinutes) * time.Minute
	}

	delay := nextDelay(e.deps.Clock.Now())
	for {
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			e.deps.Logger.Info("supervisor: stopped (context cancelled)")
			return
		case <-e.stopped:
			timer.Stop()
			e.deps.Logger.Info("supervisor: stopped")
			return
		case <-timer.C:
			e.wg.Add(1)
			func() {
				defer e.wg.Done()
				outcome, err := e.RunCycle(ctx)
				if err != nil {
					e.deps.Logger.Warn("supervisor: cycle error: %v", err)
				} else if outcome.Skipped {
					e.deps.Logger.Info("supervisor: cycle skipped (%s)", outcome.SkipReason)
				} else {
					e.deps.Logger.Info("supervisor: cycle %d complete, next in %s", outcome.State.CycleCount, outcome.NextDelay)
				}
				if e.deps.OnCycle != nil {
					e.deps.OnCycle(outcome)
				}
				if e.cronSchedule != nil {
					delay = nextDelay(e.deps.Clock.Now())
				} else if outcome.NextDelay > 0 {
					delay = outcome.NextDelay
				} else {
					delay = time.Duration(e.cfg.DefaultCycleMinutes) * time.Minute
				}
			}()
		}
	}
}

// Stop signals Run to exit after the in-flight cycle (if any) finishes.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

// Drain stops the loop and waits for any in-flight RunCycle to finish.
func (e *Engine) Drain(_ context.Context) error {
	e.Stop()
	e.wg.Wait()
	return nil
}
