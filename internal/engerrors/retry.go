package engerrors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"agentloop/internal/logging"
)

// RetryConfig bounds the exponential backoff used by Retry.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryConfig mirrors the teacher's defaults: 3 attempts, 500ms base,
// 10s cap, 20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.2,
	}
}

// RetryableFunc is the operation Retry executes.
type RetryableFunc func(ctx context.Context, attempt int) error

// Retry runs fn up to cfg.MaxAttempts times, stopping early on a permanent
// error and backing off exponentially (with jitter) between attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn RetryableFunc) error {
	return RetryWithLog(ctx, cfg, fn, nil)
}

// RetryWithLog behaves like Retry but logs each attempt and backoff via the
// supplied logger (a nil logger discards the output).
func RetryWithLog(ctx context.Context, cfg RetryConfig, fn RetryableFunc, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			logger.Debug("retry: non-transient error on attempt %d, giving up: %v", attempt, lastErr)
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		logger.Debug("retry: attempt %d failed (%v), backing off %s", attempt, lastErr, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("retry: exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.JitterFactor > 0 {
		jitter := float64(delay) * cfg.JitterFactor * (rand.Float64()*2 - 1)
		delay += time.Duration(jitter)
		if delay < 0 {
			delay = cfg.BaseDelay
		}
	}
	return delay
}
