// Package llmrouter implements the Backend Router (C6): a three-tier
// (paid/free/local) selection policy plus a bounded tool-use loop. Grounded
// on the teacher's internal/llm/router.Router (router_test.go: ModelProfile,
// RoutingRequest, RouterConfig, AvailableModels, SetProviderHealth,
// RegisterModel), adapted from a cost/latency-scored tier picker to the
// spec's fixed decision rule (spec.md §4.6), and on
// internal/errors/circuit_breaker.go for per-backend health.
package llmrouter

import (
	"context"
	"regexp"
	"sync"

	"agentloop/internal/engerrors"
	"agentloop/internal/logging"
	"agentloop/internal/ports"
	"agentloop/internal/signal"
)

// Tier is one of the spec's three fixed backend tiers (replacing the
// teacher's small/default/strong cost tiers).
type Tier string

const (
	TierPaid  Tier = "paid"
	TierFree  Tier = "free"
	TierLocal Tier = "local"
)

// Backend is one registered LLM backend.
type Backend struct {
	Name    string
	Tier    Tier
	BaseURL string
	Model   string
	APIKey  string
}

// HasAPIKey reports whether this backend was configured with a key.
func (b Backend) HasAPIKey() bool { return b.APIKey != "" }

// codeKeywordRe matches the spec's "code-keyword" heuristic for routing a
// signal to the paid tier even at medium/low urgency.
var codeKeywordRe = regexp.MustCompile(`(?i)\b(create|build|fix|refactor|implement|debug|deploy|migrate)\b`)

// RouterConfig configures a Router.
type RouterConfig struct {
	Backends   []Backend
	ToolBridge ports.ToolBridge
	Logger     *logging.ComponentLogger
	// MaxToolRounds bounds the tool-use loop; defaults to 5 per spec.md §4.6.
	MaxToolRounds int
}

// Router selects among registered backends and invokes them, with a
// per-backend circuit breaker standing in for health probing.
type Router struct {
	mu            sync.RWMutex
	backends      []Backend
	breakers      map[string]*engerrors.CircuitBreaker
	toolBridge    ports.ToolBridge
	logger        *logging.ComponentLogger
	maxToolRounds int
	send          sendFunc
}

// sendFunc performs one wire round-trip; overridable in tests.
type sendFunc func(ctx context.Context, b Backend, messages []wireMessage) (invokeResponse, error)

// NewRouter constructs a Router, wrapping each backend with its own
// CircuitBreaker (grounded on engerrors.CircuitBreaker).
func NewRouter(cfg RouterConfig) *Router {
	maxRounds := cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 5
	}
	r := &Router{
		backends:      append([]Backend{}, cfg.Backends...),
		breakers:      make(map[string]*engerrors.CircuitBreaker),
		toolBridge:    cfg.ToolBridge,
		logger:        cfg.Logger,
		maxToolRounds: maxRounds,
	}
	for _, b := range r.backends {
		r.breakers[b.Name] = engerrors.NewCircuitBreaker(engerrors.DefaultCircuitBreakerConfig())
	}
	r.send = r.sendHTTP
	return r
}

// RegisterBackend adds or replaces a backend by name.
func (r *Router) RegisterBackend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.backends {
		if existing.Name == b.Name {
			r.backends[i] = b
			return
		}
	}
	r.backends = append(r.backends, b)
	if _, ok := r.breakers[b.Name]; !ok {
		r.breakers[b.Name] = engerrors.NewCircuitBreaker(engerrors.DefaultCircuitBreakerConfig())
	}
}

// AvailableBackends lists registered backends of the given tier whose
// circuit breaker currently allows a call.
func (r *Router) AvailableBackends(tier Tier) []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Backend
	for _, b := range r.backends {
		if b.Tier == tier && r.breakerFor(b.Name).Allow() {
			out = append(out, b)
		}
	}
	return out
}

// RoutingRequest carries the inputs the tier decision depends on.
type RoutingRequest struct {
	PickedSignals        []signal.Signal
	SonnetCooldownActive bool
}

// RoutingResult is the outcome of Route: the chosen backend, its tier, and
// a machine-readable reason (useful for audit/debug logging).
type RoutingResult struct {
	Backend Backend
	Tier    Tier
	Reason  string
}

const (
	reasonSignalRequiresPaid    = "signal_requires_paid"
	reasonLocalDefault          = "free_local_default"
	reasonFreeHostedDefault     = "free_hosted_default"
	reasonFallbackNoFreeLocal   = "fallback_no_free_local_healthy"
	reasonNoBackendAvailable    = "no_backend_available"
)

// Route implements spec.md §4.6's three-tier decision rule: paid when any
// picked signal is high/critical or matches the code-keyword regex (subject
// to an active Sonnet cooldown); otherwise local, then hosted-free; paid
// again as a last resort if nothing free/local is healthy.
func (r *Router) Route(ctx context.Context, req RoutingRequest) RoutingResult {
	if needsPaid(req.PickedSignals) && !req.SonnetCooldownActive {
		if b, ok := r.firstHealthy(TierPaid); ok {
			return RoutingResult{Backend: b, Tier: TierPaid, Reason: reasonSignalRequiresPaid}
		}
	}
	if b, ok := r.firstHealthy(TierLocal); ok {
		return RoutingResult{Backend: b, Tier: TierLocal, Reason: reasonLocalDefault}
	}
	if b, ok := r.firstHealthy(TierFree); ok {
		return RoutingResult{Backend: b, Tier: TierFree, Reason: reasonFreeHostedDefault}
	}
	if b, ok := r.firstHealthy(TierPaid); ok {
		return RoutingResult{Backend: b, Tier: TierPaid, Reason: reasonFallbackNoFreeLocal}
	}
	return RoutingResult{Reason: reasonNoBackendAvailable}
}

func needsPaid(picked []signal.Signal) bool {
	for _, s := range picked {
		if s.Urgency == signal.UrgencyHigh || s.Urgency == signal.UrgencyCritical {
			return true
		}
		if codeKeywordRe.MatchString(s.Summary) {
			return true
		}
	}
	return false
}

func (r *Router) firstHealthy(tier Tier) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		if b.Tier == tier && r.breakerFor(b.Name).Allow() {
			return b, true
		}
	}
	return Backend{}, false
}

func (r *Router) breakerFor(name string) *engerrors.CircuitBreaker {
	cb, ok := r.breakers[name]
	if !ok {
		cb = engerrors.NewCircuitBreaker(engerrors.DefaultCircuitBreakerConfig())
		r.breakers[name] = cb
	}
	return cb
}

func (r *Router) recordSuccess(name string) {
	r.mu.RLock()
	cb := r.breakers[name]
	r.mu.RUnlock()
	if cb != nil {
		cb.RecordSuccess()
	}
}

func (r *Router) recordFailure(name string) {
	r.mu.RLock()
	cb := r.breakers[name]
	r.mu.RUnlock()
	if cb != nil {
		cb.RecordFailure()
	}
}
