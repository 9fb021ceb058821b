package flow

import (
	"fmt"
	"time"
)

// Builder accumulates step definitions into an immutable workflow
// Definition. All methods are chainable; structural problems (duplicate
// names, unknown dependencies, cycles) are collected and reported by Build.
//
// A trailing SetTimeout/SetRetry call attaches to the most recently added
// step only when exactly one step has been added since the last
// configuration call; otherwise it attaches to the whole workflow. The
// scoping state is tracked explicitly in two index fields rather than
// inferred from call order.
type Builder struct {
	name  string
	steps []Step
	errs  []error

	timeout  time.Duration
	retry    *RetryConfig
	handlers []Handler

	// lastConfiguredStepIndex is the index of the step the last
	// SetTimeout/SetRetry call attached to, or -1 for workflow level.
	lastConfiguredStepIndex int
	// lastDirectlyConfiguredStep is the index of the newest step that
	// existed when the last SetTimeout/SetRetry call was made, or -1
	// before any configuration call.
	lastDirectlyConfiguredStep int
}

// NewBuilder creates a Builder for a workflow with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:                       name,
		lastConfiguredStepIndex:    -1,
		lastDirectlyConfiguredStep: -1,
	}
}

// AddStep appends a task step with the given name and body.
func (b *Builder) AddStep(name string, body StepFunc) *Builder {
	if name == "" {
		b.errs = append(b.errs, NewError(ErrCodeValidation, "step name must not be empty"))
		return b
	}
	if body == nil {
		b.errs = append(b.errs, NewErrorf(ErrCodeValidation, "step %s has no body", name))
		return b
	}
	b.steps = append(b.steps, Step{Name: name, Kind: KindTask, Body: body})
	return b
}

// AddParallel appends a parallel group. Members execute concurrently and
// all must settle before the group is done.
func (b *Builder) AddParallel(members []ParallelMember) *Builder {
	if len(members) == 0 {
		b.errs = append(b.errs, NewError(ErrCodeValidation, "parallel group has no members"))
		return b
	}
	for _, m := range members {
		if m.Name == "" || m.Body == nil {
			b.errs = append(b.errs, NewError(ErrCodeValidation, "parallel group member needs a name and a body"))
			return b
		}
	}
	b.steps = append(b.steps, Step{
		Name:    fmt.Sprintf("parallel_%d", len(b.steps)+1),
		Kind:    KindParallel,
		Members: members,
	})
	return b
}

// AddConditional appends a conditional step. The condition is evaluated
// once per execution; the then branch runs as an isolated sub-execution.
// Use Else or ElseFunc to attach the optional else branch.
func (b *Builder) AddConditional(cond Condition, then *Definition) *Builder {
	if cond == nil || then == nil {
		b.errs = append(b.errs, NewError(ErrCodeValidation, "conditional needs a condition and a then branch"))
		return b
	}
	b.steps = append(b.steps, Step{
		Name: fmt.Sprintf("conditional_%d", len(b.steps)+1),
		Kind: KindConditional,
		Cond: cond,
		Then: then,
	})
	return b
}

// Else attaches a sub-workflow else branch to the most recently added
// conditional step.
func (b *Builder) Else(els *Definition) *Builder {
	st := b.lastConditional("Else")
	if st != nil {
		st.Else = els
	}
	return b
}

// ElseFunc attaches an inline else body to the most recently added
// conditional step. Its output is recorded under the conditional's name.
func (b *Builder) ElseFunc(fn StepFunc) *Builder {
	st := b.lastConditional("ElseFunc")
	if st != nil {
		st.ElseBody = fn
	}
	return b
}

func (b *Builder) lastConditional(call string) *Step {
	if len(b.steps) == 0 || b.steps[len(b.steps)-1].Kind != KindConditional {
		b.errs = append(b.errs, NewErrorf(ErrCodeValidation, "%s must follow AddConditional", call))
		return nil
	}
	return &b.steps[len(b.steps)-1]
}

// AddLoop appends a loop step. The condition is re-evaluated before each
// iteration; zero iterations is valid.
func (b *Builder) AddLoop(cond Condition, body *Definition, opts ...LoopOptions) *Builder {
	if cond == nil || body == nil {
		b.errs = append(b.errs, NewError(ErrCodeValidation, "loop needs a condition and a body"))
		return b
	}
	st := Step{
		Name:     fmt.Sprintf("loop_%d", len(b.steps)+1),
		Kind:     KindLoop,
		Cond:     cond,
		LoopBody: body,
	}
	if len(opts) > 0 {
		st.Loop = opts[0]
	}
	b.steps = append(b.steps, st)
	return b
}

// AddForEach appends a forEach step. The items selector is evaluated once;
// the collected result array preserves input order regardless of the
// completion order of concurrent items.
func (b *Builder) AddForEach(items ItemsFunc, body *Definition, opts ...ForEachOptions) *Builder {
	if items == nil || body == nil {
		b.errs = append(b.errs, NewError(ErrCodeValidation, "forEach needs an items selector and a body"))
		return b
	}
	st := Step{
		Name:        fmt.Sprintf("foreach_%d", len(b.steps)+1),
		Kind:        KindForEach,
		Items:       items,
		ForEachBody: body,
	}
	if len(opts) > 0 {
		st.ForEach = opts[0]
	}
	if st.ForEach.Concurrency < 1 {
		st.ForEach.Concurrency = 1
	}
	b.steps = append(b.steps, st)
	return b
}

// DependsOn declares dependencies of the most recently added step. The
// named steps must run (and complete) first.
func (b *Builder) DependsOn(names ...string) *Builder {
	if len(b.steps) == 0 {
		b.errs = append(b.errs, NewError(ErrCodeDependency, "DependsOn called before any step was added"))
		return b
	}
	st := &b.steps[len(b.steps)-1]
	if st.Kind != KindTask {
		b.errs = append(b.errs, NewErrorf(ErrCodeDependency, "%s step %s cannot declare dependencies", st.Kind, st.Name))
		return b
	}
	st.DependsOn = append(st.DependsOn, names...)
	return b
}

// configTarget resolves the attachment target for a SetTimeout/SetRetry
// call: a step index, or -1 for the workflow. It implements the four-branch
// scoping heuristic and updates the two tracking fields.
func (b *Builder) configTarget() int {
	if len(b.steps) == 0 {
		return -1
	}
	last := len(b.steps) - 1

	target := -1
	switch {
	case b.lastConfiguredStepIndex == last:
		// Repeated configuration of one step stays step-scoped.
		target = last
	case last == b.lastDirectlyConfiguredStep+1:
		// Exactly one step added since the last configuration call.
		target = last
	default:
		// Two or more unconfigured steps: workflow level, and the
		// watermark moves so the next single added step is step-scoped.
		target = -1
	}

	b.lastDirectlyConfiguredStep = last
	b.lastConfiguredStepIndex = target
	return target
}

// SetTimeout attaches a timeout to the most recently added step or to the
// whole workflow, per the scoping heuristic.
func (b *Builder) SetTimeout(d time.Duration) *Builder {
	if idx := b.configTarget(); idx >= 0 {
		b.steps[idx].Timeout = d
	} else {
		b.timeout = d
	}
	return b
}

// SetRetry attaches a retry config to the most recently added step or to
// the whole workflow, per the scoping heuristic. The workflow-level config
// is the default for steps that have none of their own.
func (b *Builder) SetRetry(cfg RetryConfig) *Builder {
	norm := cfg.Normalized()
	if idx := b.configTarget(); idx >= 0 {
		b.steps[idx].Retry = &norm
	} else {
		b.retry = &norm
	}
	return b
}

// SetErrorHandler attaches an error handler following the scoping of the
// most recent SetTimeout/SetRetry call. Handlers chain: an existing handler
// runs first, and the new one is invoked only if the existing one rethrows.
func (b *Builder) SetErrorHandler(h Handler) *Builder {
	if h == nil {
		b.errs = append(b.errs, NewError(ErrCodeValidation, "error handler must not be nil"))
		return b
	}
	if idx := b.lastConfiguredStepIndex; idx >= 0 {
		b.steps[idx].Handlers = append(b.steps[idx].Handlers, h)
	} else {
		b.handlers = append(b.handlers, h)
	}
	return b
}

// Build validates the accumulated steps and produces an immutable
// Definition. The builder remains usable afterwards; further mutation does
// not affect previously built definitions.
func (b *Builder) Build() (*Definition, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if len(b.steps) == 0 {
		return nil, NewError(ErrCodeValidation, "workflow has no steps")
	}

	// Name uniqueness covers tasks, control-flow nodes, and the members of
	// every parallel group.
	seen := make(map[string]bool, len(b.steps))
	declare := func(name string) error {
		if seen[name] {
			return NewErrorf(ErrCodeDependency, "duplicate step name: %s", name)
		}
		seen[name] = true
		return nil
	}
	hasDeps := false
	hasFlow := false
	for i := range b.steps {
		st := &b.steps[i]
		if err := declare(st.Name); err != nil {
			return nil, err
		}
		if st.Kind == KindParallel {
			for _, m := range st.Members {
				if err := declare(m.Name); err != nil {
					return nil, err
				}
			}
		}
		if st.Kind != KindTask {
			hasFlow = true
		}
		if len(st.DependsOn) > 0 {
			hasDeps = true
		}
	}

	def := &Definition{
		name:    b.name,
		steps:   cloneSteps(b.steps),
		timeout: b.timeout,
	}
	if b.retry != nil {
		cp := *b.retry
		def.retry = &cp
	}
	def.handlers = append([]Handler(nil), b.handlers...)

	if hasDeps {
		if hasFlow {
			return nil, NewError(ErrCodeDependency,
				"dependency declarations cannot be combined with control-flow steps")
		}
		def.mode = ModeGraph

		g := NewGraph()
		for i := range def.steps {
			g.AddNode(def.steps[i].Name)
		}
		for i := range def.steps {
			for _, dep := range def.steps[i].DependsOn {
				if err := g.AddEdge(def.steps[i].Name, dep); err != nil {
					return nil, err
				}
			}
		}
		if cycle := g.FindCycle(); cycle != nil {
			return nil, NewErrorf(ErrCodeCycleDetected,
				"workflow contains a cycle: %s", FormatCycle(cycle)).
				WithDetails(map[string]any{"cycle": cycle})
		}
		order, _ := g.TopologicalSort()
		def.order = order
		def.levels = g.ParallelGroups()
	} else {
		def.mode = ModeSequential
		def.order = make([]string, len(def.steps))
		def.levels = make([][]string, len(def.steps))
		for i := range def.steps {
			def.order[i] = def.steps[i].Name
			def.levels[i] = []string{def.steps[i].Name}
		}
	}

	return def, nil
}

// cloneSteps deep-copies the mutable parts of each step so a built
// definition is isolated from later builder mutation.
func cloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	for i := range out {
		out[i].DependsOn = append([]string(nil), steps[i].DependsOn...)
		out[i].Handlers = append([]Handler(nil), steps[i].Handlers...)
		out[i].Members = append([]ParallelMember(nil), steps[i].Members...)
		if steps[i].Retry != nil {
			cp := *steps[i].Retry
			out[i].Retry = &cp
		}
	}
	return out
}
