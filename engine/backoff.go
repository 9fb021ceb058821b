package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/flowline-dev/flowline/flow"
)

// ComputeDelay calculates the delay before the retry that follows the given
// 1-based attempt. Growth follows the configured backoff strategy, the
// result is capped at MaxDelay when set, and jitter multiplies by a uniform
// random factor in [0.5, 1.5).
func ComputeDelay(attempt int, cfg flow.RetryConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch cfg.Backoff {
	case flow.BackoffLinear:
		delay = cfg.Delay * time.Duration(attempt)
	case flow.BackoffExponential:
		// delay * 2^(attempt-1)
		multiplier := time.Duration(1)
		for i := 1; i < attempt; i++ {
			multiplier *= 2
		}
		delay = cfg.Delay * multiplier
	default: // constant or empty
		delay = cfg.Delay
	}

	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	if cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	}

	return delay
}

// WithRetry invokes fn up to cfg.Attempts times. After a failed attempt the
// RetryIf gate (when set) may rethrow immediately without consuming further
// attempts; otherwise the computed backoff delay is slept, context-aware,
// and skipped entirely after the final attempt. The last error is returned
// once attempts are exhausted.
func WithRetry(ctx context.Context, cfg flow.RetryConfig, fn func(ctx context.Context) (any, error)) (any, error) {
	cfg = cfg.Normalized()

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err, attempt) {
			return nil, err
		}
		if attempt == cfg.Attempts {
			break
		}
		if err := waitBackoff(ctx, ComputeDelay(attempt, cfg)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// waitBackoff sleeps for the given delay or returns early if the context is
// cancelled during the wait.
func waitBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
