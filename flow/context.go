package flow

import (
	"context"

	"github.com/Jeffail/gabs/v2"
)

// Context is passed into every step body, condition, and items selector.
// It exposes the original workflow input and a snapshot of the accumulated
// result map taken when the step was dispatched. The snapshot is a copy:
// bodies never observe partial writes from concurrently-running siblings.
type Context struct {
	ctx     context.Context
	input   any
	results map[string]any

	step  string
	item  any
	index int
}

// NewContext creates a step context. The result map is copied; the caller's
// map is never referenced afterwards.
func NewContext(ctx context.Context, input any, results map[string]any) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	snapshot := make(map[string]any, len(results))
	for k, v := range results {
		snapshot[k] = v
	}
	return &Context{ctx: ctx, input: input, results: snapshot, index: -1}
}

// WithStep returns a shallow copy bound to the named step.
func (c *Context) WithStep(name string) *Context {
	cp := *c
	cp.step = name
	return &cp
}

// WithItem returns a shallow copy carrying the current forEach/loop item
// and its index.
func (c *Context) WithItem(item any, index int) *Context {
	cp := *c
	cp.item = item
	cp.index = index
	return &cp
}

// Context returns the underlying context.Context. Well-behaved bodies poll
// it for cooperative cancellation; the engine does not preempt.
func (c *Context) Context() context.Context { return c.ctx }

// Done is shorthand for Context().Done().
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Err is shorthand for Context().Err().
func (c *Context) Err() error { return c.ctx.Err() }

// Input returns the original workflow input value.
func (c *Context) Input() any { return c.input }

// Step returns the name of the step this context was dispatched for.
func (c *Context) Step() string { return c.step }

// Item returns the current forEach item (nil outside a forEach body).
func (c *Context) Item() any { return c.item }

// Index returns the current forEach item index, or the loop iteration
// number; -1 outside an iterating body.
func (c *Context) Index() int { return c.index }

// Results returns the snapshot of the accumulated result map.
func (c *Context) Results() map[string]any { return c.results }

// Result returns the output of a completed step by name.
func (c *Context) Result(name string) (any, bool) {
	v, ok := c.results[name]
	return v, ok
}

// Lookup resolves a dotted path into the result snapshot, e.g.
// "fetch.body.id". Returns nil, false when the path does not resolve.
func (c *Context) Lookup(path string) (any, bool) {
	container := gabs.Wrap(map[string]any(c.results))
	hit := container.Path(path)
	if hit == nil {
		return nil, false
	}
	return hit.Data(), true
}

// --- handler context ---

// retrySignal is the marker value returned by HandlerContext.Retry.
type retrySignal struct{}

// skipValue wraps a handler-supplied substitute for a failed step's output.
type skipValue struct{ value any }

// HandlerContext is the context passed to error handlers. On top of the
// regular step context it carries the failure being handled and exposes the
// retry, skip, and abort capabilities.
type HandlerContext struct {
	*Context
	err     error
	attempt int
}

// NewHandlerContext wraps a step context with the failure being handled and
// the 1-based handler invocation attempt.
func NewHandlerContext(c *Context, err error, attempt int) *HandlerContext {
	return &HandlerContext{Context: c, err: err, attempt: attempt}
}

// Failure returns the error being handled.
func (h *HandlerContext) Failure() error { return h.err }

// Attempt returns the 1-based count of handler invocations for this step,
// including the current one.
func (h *HandlerContext) Attempt() int { return h.attempt }

// Retry asks the engine to re-invoke only the failing step's body with a
// freshly captured context. Use as: return ctx.Retry().
func (h *HandlerContext) Retry() (any, error) {
	return retrySignal{}, nil
}

// Skip supplies a substitute value for the failed step's output; execution
// proceeds to the next step. Use as: return ctx.Skip(fallback).
func (h *HandlerContext) Skip(v any) (any, error) {
	return skipValue{value: v}, nil
}

// Abort terminates the whole execution immediately with the given reason,
// bypassing any remaining handlers. Use as: return ctx.Abort("reason").
func (h *HandlerContext) Abort(reason string) (any, error) {
	return nil, NewError(ErrCodeAborted, reason).WithStep(h.step)
}

// IsRetrySignal reports whether a handler return value requests a retry.
func IsRetrySignal(v any) bool {
	_, ok := v.(retrySignal)
	return ok
}

// SkipPayload unwraps a handler skip result. The second return is false
// when v is not a skip result.
func SkipPayload(v any) (any, bool) {
	sv, ok := v.(skipValue)
	if !ok {
		return nil, false
	}
	return sv.value, true
}
