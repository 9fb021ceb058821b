// Package engine runs built workflow definitions: it computes execution
// order, dispatches ready steps concurrently, enforces timeouts and retry
// policies, and applies the layered error-recovery protocol.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowline-dev/flowline/flow"
	"github.com/flowline-dev/flowline/logging"
	"github.com/flowline-dev/flowline/store"
)

// DefaultPoolSize is the default worker pool concurrency.
const DefaultPoolSize = 10

// DefaultHandlerRetryLimit caps handler-driven retry attempts per step.
// Retry() is caller-controlled and could otherwise loop indefinitely.
const DefaultHandlerRetryLimit = 100

// Engine executes workflow definitions. A single Engine is safe for
// concurrent use; each Execute call owns its own mutable state.
type Engine struct {
	pool              *WorkerPool
	logger            *slog.Logger
	checkpoints       store.Checkpointer
	handlerRetryLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithPoolSize bounds the number of concurrently running graph-mode steps.
func WithPoolSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pool = NewWorkerPool(n)
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCheckpointer enables best-effort snapshot persistence after every
// step boundary. The engine never fails an execution on checkpoint errors.
func WithCheckpointer(c store.Checkpointer) Option {
	return func(e *Engine) { e.checkpoints = c }
}

// WithHandlerRetryLimit overrides the safety cap on handler-driven retries.
func WithHandlerRetryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.handlerRetryLimit = n
		}
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:            slog.Default(),
		handlerRetryLimit: DefaultHandlerRetryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pool == nil {
		e.pool = NewWorkerPool(DefaultPoolSize)
	}
	return e
}

// Close shuts down the engine's worker pool, waiting for active work.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

// execution is the per-Execute mutable state: the accumulating result map,
// per-step statuses, and the workflow deadline. Only the engine writes to
// the result map, and only after a step fully resolves.
type execution struct {
	id    string
	def   *flow.Definition
	input any
	root  bool

	// item/itemIndex are set for sub-executions spawned per forEach item.
	item      any
	itemIndex int

	wfTimeout time.Duration
	deadline  time.Time

	mu        sync.Mutex
	results   map[string]any
	statuses  map[string]flow.StepStatus
	stepErrs  map[string]string
	durations map[string]int64
}

func newExecution(def *flow.Definition, input any, seed map[string]any, root bool) *execution {
	es := &execution{
		id:        uuid.NewString(),
		def:       def,
		input:     input,
		root:      root,
		itemIndex: -1,
		results:   make(map[string]any, len(seed)),
		statuses:  make(map[string]flow.StepStatus),
		stepErrs:  make(map[string]string),
		durations: make(map[string]int64),
	}
	for k, v := range seed {
		es.results[k] = v
	}
	for _, st := range def.Steps() {
		es.statuses[st.Name] = flow.StepPending
		for _, m := range st.Members {
			es.statuses[m.Name] = flow.StepPending
		}
	}
	return es
}

// snapshot returns a copy of the accumulated result map.
func (es *execution) snapshot() map[string]any {
	es.mu.Lock()
	defer es.mu.Unlock()
	out := make(map[string]any, len(es.results))
	for k, v := range es.results {
		out[k] = v
	}
	return out
}

// newContext captures a fresh step context with a result-map snapshot.
func (es *execution) newContext(ctx context.Context, step string) *flow.Context {
	fc := flow.NewContext(ctx, es.input, es.snapshot()).WithStep(step)
	if es.itemIndex >= 0 {
		fc = fc.WithItem(es.item, es.itemIndex)
	}
	return fc
}

func (es *execution) setStatus(name string, s flow.StepStatus) {
	es.mu.Lock()
	es.statuses[name] = s
	es.mu.Unlock()
}

func (es *execution) status(name string) flow.StepStatus {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.statuses[name]
}

func (es *execution) set(name string, v any) {
	es.mu.Lock()
	es.results[name] = v
	es.mu.Unlock()
}

func (es *execution) merge(m map[string]any) {
	es.mu.Lock()
	for k, v := range m {
		es.results[k] = v
	}
	es.mu.Unlock()
}

// checkDeadline is the step-boundary re-check of the workflow timeout, so
// cumulative overruns are detected promptly even when no single step
// exceeds the deadline alone.
func (es *execution) checkDeadline() error {
	if es.wfTimeout > 0 && time.Now().After(es.deadline) {
		return es.workflowTimeout()
	}
	return nil
}

func (es *execution) workflowTimeout() *flow.Error {
	err := flow.NewErrorf(flow.ErrCodeTimeout,
		"workflow %s exceeded timeout of %s", es.def.Name(), es.wfTimeout)
	err.Duration = es.wfTimeout
	return err
}

// Execute runs a built workflow definition against an input value and
// returns the accumulated result map. It fails only if a step fails with
// no recovering handler, or a workflow-level timeout or deadlock occurs.
func (e *Engine) Execute(ctx context.Context, def *flow.Definition, input any) (map[string]any, error) {
	if def == nil {
		return nil, flow.NewError(flow.ErrCodeValidation, "workflow definition is nil")
	}

	es := newExecution(def, input, nil, true)
	ctx = logging.WithExecutionID(logging.WithWorkflow(ctx, def.Name()), es.id)

	cancel := context.CancelFunc(func() {})
	if d := def.Timeout(); d > 0 {
		es.wfTimeout = d
		es.deadline = time.Now().Add(d)
		ctx, cancel = context.WithTimeout(ctx, d)
	}
	defer cancel()

	logging.LogWith(ctx, e.logger).Info("execution started",
		slog.String("mode", modeName(def.Mode())),
		slog.Int("steps", len(def.Steps())))

	err := e.run(ctx, es)

	if err != nil {
		e.checkpoint(es, store.ExecutionFailed, err)
		logging.LogWith(ctx, e.logger).Error("execution failed", slog.String("error", err.Error()))
		return nil, err
	}
	e.checkpoint(es, store.ExecutionCompleted, nil)
	logging.LogWith(ctx, e.logger).Info("execution completed")
	return es.snapshot(), nil
}

// run dispatches by execution mode. Sub-workflow recursion re-enters here.
func (e *Engine) run(ctx context.Context, es *execution) error {
	if es.def.Mode() == flow.ModeGraph {
		return e.runGraph(ctx, es)
	}
	return e.runSequential(ctx, es)
}

type stepOutcome struct {
	name string
	err  error
}

// runGraph repeatedly computes the set of pending steps whose dependencies
// have all completed, and dispatches the whole ready set concurrently. All
// ready steps run before readiness is re-checked, so no ready step is
// starved. Pending steps with no ready candidate is a deadlock: fatal, and
// never offered to handlers.
func (e *Engine) runGraph(ctx context.Context, es *execution) error {
	steps := es.def.Steps()
	pending := make(map[string]*flow.Step, len(steps))
	for i := range steps {
		pending[steps[i].Name] = &steps[i]
	}

	for len(pending) > 0 {
		if err := es.checkDeadline(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return e.translateContextErr(ctx, es)
		}

		ready := make([]*flow.Step, 0, len(pending))
		for _, st := range pending {
			if es.depsCompleted(st) {
				ready = append(ready, st)
			}
		}
		if len(ready) == 0 {
			blocked := make([]string, 0, len(pending))
			for name := range pending {
				blocked = append(blocked, name)
			}
			return flow.NewErrorf(flow.ErrCodeDeadlock,
				"no runnable step but %d still pending", len(blocked)).
				WithDetails(map[string]any{"pending": blocked})
		}

		outcomes := make(chan stepOutcome, len(ready))
		for _, st := range ready {
			es.setStatus(st.Name, flow.StepReady)
			run := st
			if err := e.pool.Submit(ctx, func(stepCtx context.Context) {
				out := stepOutcome{name: run.Name}
				// The send sits in a defer so the await loop always settles,
				// even if the step path panics.
				defer func() {
					if r := recover(); r != nil {
						out.err = flow.NewErrorf(flow.ErrCodeBodyFailure,
							"step panicked: %v", r).WithStep(run.Name)
						e.failStep(es, run.Name, out.err)
					}
					outcomes <- out
				}()
				out.err = e.runStep(stepCtx, es, run)
			}); err != nil {
				outcomes <- stepOutcome{name: st.Name, err: err}
			}
		}

		// Await the whole ready set; a workflow timeout cancels the wait,
		// abandoning (not interrupting) still-running bodies.
		var firstErr error
		for i := 0; i < len(ready); i++ {
			select {
			case out := <-outcomes:
				if out.err != nil && firstErr == nil {
					firstErr = out.err
				}
				if out.err != nil && (flow.IsAbort(out.err) || flow.IsDeadlock(out.err)) {
					return out.err
				}
			case <-ctx.Done():
				return e.translateContextErr(ctx, es)
			}
		}
		if firstErr != nil {
			if ctx.Err() != nil {
				// A workflow timeout takes precedence over step errors
				// caused by the shared context being cancelled.
				return e.translateContextErr(ctx, es)
			}
			return firstErr
		}

		for _, st := range ready {
			delete(pending, st.Name)
		}
	}
	return nil
}

// depsCompleted reports whether all declared dependencies of st completed.
func (es *execution) depsCompleted(st *flow.Step) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, dep := range st.DependsOn {
		if es.statuses[dep] != flow.StepCompleted {
			return false
		}
	}
	return true
}

func (e *Engine) translateContextErr(ctx context.Context, es *execution) error {
	if ctx.Err() == context.DeadlineExceeded && es.wfTimeout > 0 {
		return es.workflowTimeout()
	}
	return flow.NewError(flow.ErrCodeAborted, "execution cancelled").WithCause(ctx.Err())
}

// runStep executes one step (task or control-flow node): body invocation
// with retry and timeout policy, then the error-recovery protocol.
func (e *Engine) runStep(ctx context.Context, es *execution, st *flow.Step) error {
	ctx = logging.WithStep(ctx, st.Name)
	es.setStatus(st.Name, flow.StepRunning)
	start := time.Now()

	retry := st.Retry
	if retry == nil {
		retry = es.def.DefaultRetry()
	}

	var out any
	var err error
	if retry != nil {
		out, err = WithRetry(ctx, *retry, func(c context.Context) (any, error) {
			return e.invokeOnce(c, es, st)
		})
	} else {
		out, err = e.invokeOnce(ctx, es, st)
	}

	if err == nil {
		e.completeStep(ctx, es, st, out, start)
		return nil
	}

	logging.LogWith(ctx, e.logger).Warn("step failed", slog.String("error", err.Error()))
	return e.recoverStep(ctx, es, st, err, start)
}

// invokeOnce runs a single invocation of the step's body, bounded by the
// step-level timeout.
func (e *Engine) invokeOnce(ctx context.Context, es *execution, st *flow.Step) (any, error) {
	out, err := WithTimeout(ctx, st.Timeout, st.Name, safely(e.nodeBody(es, st)))
	if err != nil {
		return nil, e.asStepError(st.Name, err)
	}
	return out, nil
}

// safely converts a panic inside a body invocation into a body failure, so
// a panicking step fails through the normal retry and recovery path instead
// of tearing down the executor.
func safely(op func(ctx context.Context) (any, error)) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				out = nil
				err = flow.NewErrorf(flow.ErrCodeBodyFailure, "step body panicked: %v", r)
			}
		}()
		return op(ctx)
	}
}

// asStepError normalizes an error so it retains the originating step name.
func (e *Engine) asStepError(step string, err error) error {
	if fe, ok := err.(*flow.Error); ok {
		if fe.Step == "" {
			fe.Step = step
		}
		return fe
	}
	return flow.NewErrorf(flow.ErrCodeBodyFailure, "%s", err.Error()).
		WithStep(step).WithCause(err)
}

// recoverStep applies the layered error-recovery protocol: the step's own
// handler chain first, falling back to the workflow-level chain. A handler
// may return a substitute value, Skip with a fallback, request a Retry of
// the step body (re-offering new failures to the same handler, bounded by
// the safety cap), or Abort. Abort and deadlock bypass handlers entirely.
func (e *Engine) recoverStep(ctx context.Context, es *execution, st *flow.Step, cause error, start time.Time) error {
	if flow.IsAbort(cause) || flow.IsDeadlock(cause) {
		e.failStep(es, st.Name, cause)
		return cause
	}

	handlers := append(append([]flow.Handler(nil), st.Handlers...), es.def.WorkflowHandlers()...)
	if len(handlers) == 0 {
		final := e.asStepError(st.Name, cause)
		e.failStep(es, st.Name, final)
		return final
	}

	es.setStatus(st.Name, flow.StepRecovering)
	logging.LogWith(ctx, e.logger).Info("recovering step",
		slog.Int("handlers", len(handlers)))

	err := cause
	retries := 0

	for _, h := range handlers {
	handlerLoop:
		for {
			v, herr := h(flow.NewHandlerContext(es.newContext(ctx, st.Name), err, retries+1))
			switch {
			case herr != nil:
				if flow.IsAbort(herr) {
					e.failStep(es, st.Name, herr)
					return herr
				}
				// Handler rethrew: offer the rethrown error to the next
				// handler in the chain.
				err = herr
				break handlerLoop

			case flow.IsRetrySignal(v):
				retries++
				if retries > e.handlerRetryLimit {
					exhausted := flow.NewErrorf(flow.ErrCodeRetryExhausted,
						"handler-driven retries exceeded safety cap of %d", e.handlerRetryLimit).
						WithStep(st.Name).WithCause(err)
					e.failStep(es, st.Name, exhausted)
					return exhausted
				}
				// Re-invoke only this step's body with a fresh context.
				out, rerr := e.invokeOnce(ctx, es, st)
				if rerr == nil {
					e.completeStep(ctx, es, st, out, start)
					return nil
				}
				// The same handler sees the new failure.
				err = rerr

			default:
				if payload, ok := flow.SkipPayload(v); ok {
					e.completeStep(ctx, es, st, payload, start)
					return nil
				}
				e.completeStep(ctx, es, st, v, start)
				return nil
			}
		}
	}

	final := e.asStepError(st.Name, err)
	e.failStep(es, st.Name, final)
	return final
}

// completeStep merges a resolved step's output into the result map. The
// engine is the only writer, and writes happen only after the step (or its
// recovery) fully resolved.
func (e *Engine) completeStep(ctx context.Context, es *execution, st *flow.Step, out any, start time.Time) {
	switch v := out.(type) {
	case groupOutcome:
		es.merge(v.outputs)
	case condOutcome:
		es.merge(v.merged)
		if v.hasValue {
			es.set(st.Name, v.value)
		}
	case loopOutcome:
		es.merge(v.merged)
	case forEachOutcome:
		es.set(st.Name, v.results)
	default:
		es.set(st.Name, out)
	}

	es.mu.Lock()
	es.statuses[st.Name] = flow.StepCompleted
	es.durations[st.Name] = time.Since(start).Milliseconds()
	es.mu.Unlock()

	e.checkpoint(es, store.ExecutionRunning, nil)
	logging.LogWith(ctx, e.logger).Debug("step completed",
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
}

func (e *Engine) failStep(es *execution, name string, err error) {
	es.mu.Lock()
	es.statuses[name] = flow.StepFailed
	es.stepErrs[name] = err.Error()
	es.mu.Unlock()
	e.checkpoint(es, store.ExecutionRunning, nil)
}

// checkpoint persists a snapshot of the top-level execution, best-effort.
func (e *Engine) checkpoint(es *execution, status store.ExecutionStatus, execErr error) {
	if e.checkpoints == nil || !es.root {
		return
	}

	es.mu.Lock()
	snap := &store.Snapshot{
		ExecutionID:    es.id,
		Workflow:       es.def.Name(),
		Status:         status,
		ExecutionOrder: es.def.ExecutionOrder(),
		Steps:          make(map[string]store.StepRecord, len(es.statuses)),
		Results:        make(map[string]any, len(es.results)),
		UpdatedAt:      time.Now().UTC(),
	}
	for name, st := range es.statuses {
		snap.Steps[name] = store.StepRecord{
			Name:       name,
			Status:     st,
			Error:      es.stepErrs[name],
			DurationMs: es.durations[name],
		}
	}
	for k, v := range es.results {
		snap.Results[k] = v
	}
	es.mu.Unlock()

	if execErr != nil {
		snap.Error = execErr.Error()
	}

	if err := e.checkpoints.Save(context.Background(), snap); err != nil {
		e.logger.Warn("checkpoint save failed",
			slog.String("execution_id", es.id),
			slog.String("error", err.Error()))
	}
}

func modeName(m flow.Mode) string {
	if m == flow.ModeGraph {
		return "graph"
	}
	return "sequential"
}
