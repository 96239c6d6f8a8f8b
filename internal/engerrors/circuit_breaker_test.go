package engerrors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, OpenDuration: 50 * time.Millisecond})
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenDuration: 10 * time.Millisecond})
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
}

func TestCircuitBreaker_SuccessClosesFromHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenDuration: 5 * time.Millisecond})
	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailureDuringHalfOpenReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenDuration: 5 * time.Millisecond})
	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestErrCircuitOpen_Error(t *testing.T) {
	err := &ErrCircuitOpen{Backend: "paid-claude"}
	assert.Contains(t, err.Error(), "paid-claude")
}
