package engerrors

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls when a breaker trips and how long it stays
// open before probing the backend again.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before tripping
	OpenDuration     time.Duration // how long to stay open before half-open probe
	HalfOpenMaxCalls int           // calls allowed through during half-open
}

// DefaultCircuitBreakerConfig mirrors the teacher's backend-health defaults:
// 5 consecutive failures trips the breaker for 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker guards a single backend (spec.md §3 Backend Router health
// probing). It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	consecutiveFail int
	openedAt        time.Time
	halfOpenInUse   int
}

// NewCircuitBreaker creates a breaker starting in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = DefaultCircuitBreakerConfig().OpenDuration
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

// Allow reports whether a call should be attempted right now, transitioning
// open -> half-open once OpenDuration has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) >= cb.cfg.OpenDuration {
			cb.state = CircuitHalfOpen
			cb.halfOpenInUse = 0
		} else {
			return false
		}
		fallthrough
	case CircuitHalfOpen:
		if cb.halfOpenInUse >= cb.cfg.HalfOpenMaxCalls {
			return false
		}
		cb.halfOpenInUse++
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets its failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFail = 0
	cb.state = CircuitClosed
	cb.halfOpenInUse = 0
}

// RecordFailure increments the failure counter, tripping the breaker once
// the threshold is reached (or immediately re-opening from half-open).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.open()
		return
	}
	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.cfg.FailureThreshold {
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = CircuitOpen
	cb.openedAt = time.Now()
	cb.halfOpenInUse = 0
}

// State returns the breaker's current state, for health reporting.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ErrCircuitOpen is returned by callers that wrap CircuitBreaker.Allow.
type ErrCircuitOpen struct {
	Backend string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for backend %q", e.Backend)
}
