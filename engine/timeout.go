package engine

import (
	"context"
	"time"

	"github.com/flowline-dev/flowline/flow"
)

// WithTimeout races op against a deadline. On timeout it returns a timeout
// failure carrying the label and duration, cancels op's context, and
// abandons the operation: its eventual completion is discarded and never
// reaches shared state. Bodies are cooperatively cancelled, not preempted.
// d <= 0 disables the deadline.
func WithTimeout(ctx context.Context, d time.Duration, label string, op func(ctx context.Context) (any, error)) (any, error) {
	if d <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := op(opCtx)
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		return nil, flow.NewTimeout(label, d)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
