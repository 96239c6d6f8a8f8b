// Package metrics exposes the engine's cost and cycle-cadence gauges over
// Prometheus, grounded on the teacher's internal/observability
// ContextMetrics shape (a small struct of gauge/counter fields built around
// a caller-supplied prometheus.Registerer, with one Record* method per
// dimension) rather than the teacher's full OTel pipeline, which spec.md's
// scope has no dashboard/tracing surface for.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentloop/internal/supervisor"
)

// CycleMetrics tracks the Cycle Supervisor's per-cycle cost and cadence.
type CycleMetrics struct {
	cyclesTotal      *prometheus.CounterVec
	dailyCostUSD     prometheus.Gauge
	lastCycleTokens  prometheus.Gauge
	consecutiveRecyc prometheus.Gauge
	lastDelaySeconds prometheus.Gauge
}

// NewCycleMetrics registers the engine's gauges/counters against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry.
func NewCycleMetrics(reg prometheus.Registerer) *CycleMetrics {
	m := &CycleMetrics{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentloop",
			Name:      "cycles_total",
			Help:      "Number of supervisor cycles, labeled by outcome.",
		}, []string{"outcome"}),
		dailyCostUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentloop",
			Name:      "daily_cost_usd",
			Help:      "Cumulative LLM spend for the current cost-tracking day.",
		}),
		lastCycleTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentloop",
			Name:      "last_cycle_tokens",
			Help:      "Input+output token count from the most recently completed cycle.",
		}),
		consecutiveRecyc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentloop",
			Name:      "consecutive_recycles",
			Help:      "Current run length of back-to-back productive-recycle delays.",
		}),
		lastDelaySeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentloop",
			Name:      "next_cycle_delay_seconds",
			Help:      "Delay chosen for the next cycle by the most recently completed RunCycle.",
		}),
	}
	reg.MustRegister(m.cyclesTotal, m.dailyCostUSD, m.lastCycleTokens, m.consecutiveRecyc, m.lastDelaySeconds)
	return m
}

// OnCycle is a supervisor.Deps.OnCycle hook: wire it directly into
// supervisor.Deps{OnCycle: m.OnCycle} to keep the supervisor package free of
// any prometheus import.
func (m *CycleMetrics) OnCycle(outcome supervisor.CycleOutcome) {
	switch {
	case outcome.Skipped:
		m.cyclesTotal.WithLabelValues(outcome.SkipReason).Inc()
	default:
		m.cyclesTotal.WithLabelValues("completed").Inc()
	}
	if outcome.State != nil {
		m.dailyCostUSD.Set(outcome.State.DailyCost)
		m.lastCycleTokens.Set(float64(outcome.State.LastCycleTokens))
		m.consecutiveRecyc.Set(float64(outcome.State.ConsecutiveRecycles))
	}
	m.lastDelaySeconds.Set(outcome.NextDelay.Seconds())
}

// Handler returns the /metrics scrape endpoint for reg. Binding it to a
// listener is left to the caller (spec.md excludes a built-in dashboard;
// this is a scrape target, not a UI).
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
