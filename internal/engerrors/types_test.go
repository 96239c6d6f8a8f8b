package engerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient_WrappedTypes(t *testing.T) {
	assert.True(t, IsTransient(NewTransientError(errors.New("boom"), "")))
	assert.False(t, IsTransient(NewPermanentError(errors.New("boom"), "")))
}

func TestIsTransient_HeuristicPatterns(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, IsTransient(errors.New("request failed with status 503")))
	assert.False(t, IsTransient(errors.New("plain failure")))
}

func TestIsPermanent_HeuristicPatterns(t *testing.T) {
	assert.True(t, IsPermanent(errors.New("404 not found")))
	assert.True(t, IsPermanent(errors.New("unauthorized")))
	assert.False(t, IsPermanent(errors.New("connection reset by peer")))
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeDegraded, GetErrorType(NewDegradedError(errors.New("x"), "", "fallback")))
	assert.Equal(t, ErrorTypeTransient, GetErrorType(NewTransientError(errors.New("x"), "")))
	assert.Equal(t, ErrorTypePermanent, GetErrorType(errors.New("plain")))
}

func TestFormatForLLM_PrefersWrappedMessage(t *testing.T) {
	err := NewTransientError(errors.New("raw"), "friendly message")
	assert.Equal(t, "friendly message", FormatForLLM(err))
}

func TestFormatForLLM_HeuristicFallback(t *testing.T) {
	assert.Contains(t, FormatForLLM(errors.New("429 too many requests")), "Rate limit")
	assert.Contains(t, FormatForLLM(errors.New("context deadline exceeded")), "timed out")
	assert.Equal(t, "", FormatForLLM(nil))
}
