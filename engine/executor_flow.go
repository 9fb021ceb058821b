package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowline-dev/flowline/flow"
	"github.com/flowline-dev/flowline/logging"
)

// Outcome carriers returned by control-flow node bodies. completeStep
// type-switches on them to decide how a resolved node merges into the
// result map.

// groupOutcome holds a parallel group's member outputs, merged verbatim.
type groupOutcome struct {
	outputs map[string]any
}

// condOutcome holds a conditional's branch results. merged comes from a
// sub-workflow branch; value is set for an inline else body and is stored
// under the conditional node's name.
type condOutcome struct {
	merged   map[string]any
	value    any
	hasValue bool
}

// loopOutcome holds a loop's accumulated iteration results.
type loopOutcome struct {
	merged map[string]any
}

// forEachOutcome holds the per-item results, in input order.
type forEachOutcome struct {
	results []any
}

// runSequential walks the step list in declaration order, re-checking the
// workflow deadline at every step boundary.
func (e *Engine) runSequential(ctx context.Context, es *execution) error {
	steps := es.def.Steps()
	for i := range steps {
		if err := es.checkDeadline(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return e.translateContextErr(ctx, es)
		}
		if err := e.runStep(ctx, es, &steps[i]); err != nil {
			if ctx.Err() != nil {
				return e.translateContextErr(ctx, es)
			}
			return err
		}
	}
	return nil
}

// nodeBody adapts a step of any kind into a plain invocable body, so tasks
// and control-flow nodes share one retry/timeout/recovery path.
func (e *Engine) nodeBody(es *execution, st *flow.Step) func(ctx context.Context) (any, error) {
	switch st.Kind {
	case flow.KindParallel:
		return func(ctx context.Context) (any, error) { return e.runParallelGroup(ctx, es, st) }
	case flow.KindConditional:
		return func(ctx context.Context) (any, error) { return e.runConditional(ctx, es, st) }
	case flow.KindLoop:
		return func(ctx context.Context) (any, error) { return e.runLoop(ctx, es, st) }
	case flow.KindForEach:
		return func(ctx context.Context) (any, error) { return e.runForEach(ctx, es, st) }
	default:
		return func(ctx context.Context) (any, error) {
			return st.Body(es.newContext(ctx, st.Name))
		}
	}
}

// runParallelGroup runs all members concurrently and waits for every one to
// settle. Each member gets its own snapshot context; outputs land in the
// result map only after the whole group resolves. The first member error
// fails the group.
func (e *Engine) runParallelGroup(ctx context.Context, es *execution, st *flow.Step) (any, error) {
	type memberResult struct {
		name  string
		value any
		err   error
	}

	results := make([]memberResult, len(st.Members))
	var wg sync.WaitGroup
	for i, m := range st.Members {
		es.setStatus(m.Name, flow.StepRunning)
		wg.Add(1)
		go func(i int, m flow.ParallelMember) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = memberResult{name: m.Name, err: flow.NewErrorf(
						flow.ErrCodeBodyFailure, "step body panicked: %v", r)}
				}
			}()
			v, err := m.Body(es.newContext(ctx, m.Name))
			results[i] = memberResult{name: m.Name, value: v, err: err}
		}(i, m)
	}
	wg.Wait()

	// Member statuses are tracked individually so checkpointed snapshots
	// reflect what actually ran inside the group.
	es.mu.Lock()
	for _, r := range results {
		if r.err != nil {
			es.statuses[r.name] = flow.StepFailed
			es.stepErrs[r.name] = r.err.Error()
		} else {
			es.statuses[r.name] = flow.StepCompleted
		}
	}
	es.mu.Unlock()

	outputs := make(map[string]any, len(st.Members))
	for _, r := range results {
		if r.err != nil {
			return nil, e.asStepError(r.name, r.err)
		}
		outputs[r.name] = r.value
	}
	return groupOutcome{outputs: outputs}, nil
}

// runConditional evaluates the condition once against a fresh snapshot and
// runs the selected branch. Sub-workflow branches execute isolated, seeded
// with the parent snapshot; their results merge back on success. A missing
// else branch makes the false case a no-op.
func (e *Engine) runConditional(ctx context.Context, es *execution, st *flow.Step) (any, error) {
	take, err := st.Cond(es.newContext(ctx, st.Name))
	if err != nil {
		return nil, e.asStepError(st.Name, err)
	}

	if take {
		merged, _, err := e.runSub(ctx, st.Then, es, es.snapshot())
		if err != nil {
			return nil, err
		}
		return condOutcome{merged: merged}, nil
	}

	if st.Else != nil {
		merged, _, err := e.runSub(ctx, st.Else, es, es.snapshot())
		if err != nil {
			return nil, err
		}
		return condOutcome{merged: merged}, nil
	}
	if st.ElseBody != nil {
		v, err := st.ElseBody(es.newContext(ctx, st.Name))
		if err != nil {
			return nil, e.asStepError(st.Name, err)
		}
		return condOutcome{value: v, hasValue: true}, nil
	}
	return condOutcome{}, nil
}

// runLoop re-evaluates the condition before each iteration against the
// accumulated state, so iterations observe each other's progress. The
// accumulator merges into the parent only after the loop resolves. Zero
// iterations is valid.
func (e *Engine) runLoop(ctx context.Context, es *execution, st *flow.Step) (any, error) {
	acc := es.snapshot()

	iteration := 0
	for {
		cond := flow.NewContext(ctx, es.input, acc).WithStep(st.Name).WithItem(nil, iteration)
		cont, err := st.Cond(cond)
		if err != nil {
			return nil, e.asStepError(st.Name, err)
		}
		if !cont {
			break
		}

		// The cap fires only when the condition asks for another iteration,
		// so a loop that terminates exactly at the cap completes normally.
		if st.Loop.MaxIterations > 0 && iteration >= st.Loop.MaxIterations {
			if st.Loop.ThrowOnMaxIterations {
				return nil, flow.NewErrorf(flow.ErrCodeBodyFailure,
					"loop reached the maximum of %d iterations", st.Loop.MaxIterations).
					WithStep(st.Name)
			}
			break
		}

		merged, _, err := e.runSub(ctx, st.LoopBody, es, acc)
		if err != nil {
			return nil, err
		}
		for k, v := range merged {
			acc[k] = v
		}
		iteration++
	}

	return loopOutcome{merged: acc}, nil
}

// runForEach evaluates the items selector once, then runs the body once per
// item in fixed-size concurrent chunks. The result array preserves input
// order regardless of completion order. Item sub-executions are isolated;
// their internal step results never merge into the parent map.
func (e *Engine) runForEach(ctx context.Context, es *execution, st *flow.Step) (any, error) {
	items, err := st.Items(es.newContext(ctx, st.Name))
	if err != nil {
		return nil, e.asStepError(st.Name, err)
	}
	if len(items) == 0 {
		return forEachOutcome{results: []any{}}, nil
	}

	seed := es.snapshot()
	results := make([]any, len(items))
	errs := make([]error, len(items))

	chunk := st.ForEach.Concurrency
	if chunk < 1 {
		chunk = 1
	}

	for lo := 0; lo < len(items); lo += chunk {
		hi := lo + chunk
		if hi > len(items) {
			hi = len(items)
		}

		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, last, err := e.runItemSub(ctx, st.ForEachBody, es, seed, items[i], i)
				results[i], errs[i] = last, err
			}(i)
		}
		wg.Wait()

		for i := lo; i < hi; i++ {
			if errs[i] != nil {
				return nil, errs[i]
			}
		}
	}

	return forEachOutcome{results: results}, nil
}

// runSub executes a sub-workflow definition as an isolated execution seeded
// with a snapshot of the caller's results. It returns the sub-execution's
// final result map and the output of its last step in execution order.
func (e *Engine) runSub(ctx context.Context, def *flow.Definition, parent *execution, seed map[string]any) (map[string]any, any, error) {
	return e.runItemSub(ctx, def, parent, seed, nil, -1)
}

func (e *Engine) runItemSub(ctx context.Context, def *flow.Definition, parent *execution, seed map[string]any, item any, index int) (map[string]any, any, error) {
	sub := newExecution(def, parent.input, seed, false)
	sub.item = item
	sub.itemIndex = index

	ctx = logging.WithWorkflow(ctx, def.Name())

	cancel := context.CancelFunc(func() {})
	if d := def.Timeout(); d > 0 {
		sub.wfTimeout = d
		sub.deadline = time.Now().Add(d)
		ctx, cancel = context.WithTimeout(ctx, d)
	} else {
		// Sub-executions inherit the parent deadline for boundary checks.
		sub.wfTimeout = parent.wfTimeout
		sub.deadline = parent.deadline
	}
	defer cancel()

	if err := e.run(ctx, sub); err != nil {
		return nil, nil, err
	}

	merged := sub.snapshot()
	var last any
	if order := def.ExecutionOrder(); len(order) > 0 {
		last = merged[order[len(order)-1]]
	}
	logging.LogWith(ctx, e.logger).Debug("sub-workflow completed",
		slog.Int("steps", len(def.Steps())))
	return merged, last, nil
}
