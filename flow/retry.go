package flow

import "time"

// Backoff enumerates the retry delay growth strategies.
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryIf decides whether a failed attempt should be retried. Returning
// false rethrows the error immediately without consuming further attempts.
type RetryIf func(err error, attempt int) bool

// RetryConfig configures retry behavior for a step, or for the whole
// workflow as a default used when a step has none.
type RetryConfig struct {
	// Attempts is the total number of invocations, including the first.
	// Values below 1 are normalized to 1.
	Attempts int
	// Backoff selects the delay growth strategy (default: constant).
	Backoff Backoff
	// Delay is the base delay between attempts.
	Delay time.Duration
	// MaxDelay caps the computed delay when > 0.
	MaxDelay time.Duration
	// Jitter multiplies the delay by a uniform random factor in [0.5, 1.5).
	Jitter bool
	// RetryIf, when set, gates every retry.
	RetryIf RetryIf
}

// Normalized returns a copy with defaults applied.
func (c RetryConfig) Normalized() RetryConfig {
	if c.Attempts < 1 {
		c.Attempts = 1
	}
	if c.Backoff == "" {
		c.Backoff = BackoffConstant
	}
	return c
}
