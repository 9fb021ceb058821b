// Package trigger maps external events and cron schedules to the workflows
// they should start. The engine stays passive: a host delivers events and
// clock ticks, and the resolver answers which workflows are due.
package trigger

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowline-dev/flowline/flow"
)

// scheduleBinding pairs a parsed cron schedule with its workflow names.
type scheduleBinding struct {
	expr      string
	schedule  cron.Schedule
	workflows []string
}

// Resolver holds event and schedule bindings. Safe for concurrent use.
type Resolver struct {
	parser cron.Parser

	mu        sync.RWMutex
	events    map[string][]string
	schedules []scheduleBinding
}

// NewResolver creates an empty Resolver using the standard five-field cron
// syntax (minute, hour, day-of-month, month, day-of-week).
func NewResolver() *Resolver {
	return &Resolver{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		events: make(map[string][]string),
	}
}

// BindEvent registers workflows to start when the named event is delivered.
// Repeated calls for the same event append.
func (r *Resolver) BindEvent(event string, workflows ...string) error {
	if event == "" {
		return flow.NewError(flow.ErrCodeValidation, "event name must not be empty")
	}
	if len(workflows) == 0 {
		return flow.NewErrorf(flow.ErrCodeValidation, "event %s binds no workflows", event)
	}

	r.mu.Lock()
	r.events[event] = append(r.events[event], workflows...)
	r.mu.Unlock()
	return nil
}

// BindSchedule registers workflows to start whenever the cron expression
// fires. The expression is validated here, not at resolve time.
func (r *Resolver) BindSchedule(expr string, workflows ...string) error {
	if len(workflows) == 0 {
		return flow.NewErrorf(flow.ErrCodeValidation, "schedule %q binds no workflows", expr)
	}

	schedule, err := r.parser.Parse(expr)
	if err != nil {
		return flow.NewErrorf(flow.ErrCodeValidation,
			"invalid cron expression %q: %s", expr, err.Error()).WithCause(err)
	}

	r.mu.Lock()
	r.schedules = append(r.schedules, scheduleBinding{
		expr:      expr,
		schedule:  schedule,
		workflows: workflows,
	})
	r.mu.Unlock()
	return nil
}

// ResolveEvent returns the workflows bound to the named event, in binding
// order. Unknown events resolve to nothing.
func (r *Resolver) ResolveEvent(event string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.events[event]...)
}

// ResolveTick returns the workflows whose schedules fire in the window
// (prev, now]. Each workflow appears at most once even when several of its
// schedules fire in the same window.
func (r *Resolver) ResolveTick(prev, now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []string
	seen := make(map[string]bool)
	for _, b := range r.schedules {
		next := b.schedule.Next(prev)
		if next.After(prev) && !next.After(now) {
			for _, wf := range b.workflows {
				if !seen[wf] {
					seen[wf] = true
					due = append(due, wf)
				}
			}
		}
	}
	return due
}

// Schedules returns the registered cron expressions, in binding order.
func (r *Resolver) Schedules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.schedules))
	for i, b := range r.schedules {
		out[i] = b.expr
	}
	return out
}
