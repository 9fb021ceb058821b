package flow

import "time"

// StepFunc is the step body contract: a function from the execution context
// to an output value or an error. The engine treats bodies as opaque; they
// must be idempotent-safe under handler-driven retry.
type StepFunc func(ctx *Context) (any, error)

// Condition gates conditional branches and loop iterations.
type Condition func(ctx *Context) (bool, error)

// ItemsFunc produces the items a forEach step iterates over. It is
// evaluated exactly once per forEach execution.
type ItemsFunc func(ctx *Context) ([]any, error)

// Handler is an error handler attached to a step or to the workflow.
// It receives the failure through a HandlerContext and may return a
// substitute value, request a retry, skip with a fallback value, or abort.
type Handler func(ctx *HandlerContext) (any, error)

// StepKind discriminates the step definition variants.
type StepKind int

const (
	KindTask StepKind = iota
	KindParallel
	KindConditional
	KindLoop
	KindForEach
)

func (k StepKind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindParallel:
		return "parallel"
	case KindConditional:
		return "conditional"
	case KindLoop:
		return "loop"
	case KindForEach:
		return "forEach"
	default:
		return "unknown"
	}
}

// ParallelMember is one concurrently-executed member of a parallel group.
type ParallelMember struct {
	Name string
	Body StepFunc
}

// LoopOptions configures a loop step.
type LoopOptions struct {
	// MaxIterations bounds the loop when > 0.
	MaxIterations int
	// ThrowOnMaxIterations raises an error instead of stopping silently
	// when MaxIterations is reached.
	ThrowOnMaxIterations bool
}

// ForEachOptions configures a forEach step.
type ForEachOptions struct {
	// Concurrency is the fixed chunk size for concurrent item execution.
	// 1 (the default) runs items strictly in order.
	Concurrency int
}

// Step is one unit in a workflow definition: a task or a control-flow node.
// Kind selects which fields are meaningful.
type Step struct {
	Name string
	Kind StepKind

	// Task fields.
	Body      StepFunc
	DependsOn []string
	Timeout   time.Duration
	Retry     *RetryConfig
	Handlers  []Handler

	// Parallel group fields.
	Members []ParallelMember

	// Conditional fields. Else is optional; ElseBody is the inline body
	// variant of the else branch (mutually exclusive with Else).
	Cond     Condition
	Then     *Definition
	Else     *Definition
	ElseBody StepFunc

	// Loop fields.
	LoopBody *Definition
	Loop     LoopOptions

	// ForEach fields.
	Items       ItemsFunc
	ForEachBody *Definition
	ForEach     ForEachOptions
}

// Mode selects how the engine orders step execution.
type Mode int

const (
	// ModeSequential walks the step list in declaration order. Control-flow
	// workflows always run in this mode.
	ModeSequential Mode = iota
	// ModeGraph computes readiness from declared dependencies and runs
	// independent steps concurrently.
	ModeGraph
)

// StepStatus is the lifecycle state of a step within one execution.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepReady      StepStatus = "ready"
	StepRunning    StepStatus = "running"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepRecovering StepStatus = "recovering"
)

// Definition is an immutable, reusable workflow definition produced by
// Builder.Build. It may be executed many times concurrently; each execution
// owns its own mutable state.
type Definition struct {
	name     string
	steps    []Step
	mode     Mode
	order    []string
	levels   [][]string
	timeout  time.Duration
	retry    *RetryConfig
	handlers []Handler
}

// Name returns the workflow name.
func (d *Definition) Name() string { return d.name }

// Mode returns the computed execution mode.
func (d *Definition) Mode() Mode { return d.mode }

// Steps returns a copy of the step list in declaration order.
func (d *Definition) Steps() []Step {
	out := make([]Step, len(d.steps))
	copy(out, d.steps)
	return out
}

// Step returns the step with the given name, or nil.
func (d *Definition) Step(name string) *Step {
	for i := range d.steps {
		if d.steps[i].Name == name {
			return &d.steps[i]
		}
	}
	return nil
}

// ExecutionOrder returns the computed execution order: a topological order
// in graph mode, declaration order otherwise.
func (d *Definition) ExecutionOrder() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// ParallelGroups returns the execution levels computed at build time. All
// steps in level k are runnable once every step in levels < k has completed.
func (d *Definition) ParallelGroups() [][]string {
	out := make([][]string, len(d.levels))
	for i, lvl := range d.levels {
		out[i] = make([]string, len(lvl))
		copy(out[i], lvl)
	}
	return out
}

// Timeout returns the workflow-level timeout (0 = none).
func (d *Definition) Timeout() time.Duration { return d.timeout }

// DefaultRetry returns the workflow-level retry default, or nil.
func (d *Definition) DefaultRetry() *RetryConfig {
	if d.retry == nil {
		return nil
	}
	cp := *d.retry
	return &cp
}

// WorkflowHandlers returns the workflow-level error handler chain.
func (d *Definition) WorkflowHandlers() []Handler {
	out := make([]Handler, len(d.handlers))
	copy(out, d.handlers)
	return out
}
