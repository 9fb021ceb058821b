// Package store is the persistence collaborator boundary of the engine.
// The engine itself performs no I/O; it exposes enough structure (execution
// order, per-step status, accumulated results) for a host to snapshot an
// execution through a Checkpointer and later resume it.
package store

import (
	"context"
	"time"

	"github.com/flowline-dev/flowline/flow"
)

// ExecutionStatus is the coarse state of a whole execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// StepRecord is the persisted view of one step within an execution.
type StepRecord struct {
	Name       string          `json:"name"`
	Status     flow.StepStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// Snapshot is the persisted view of one execution: everything a host needs
// to resume a paused execution or inspect a finished one.
type Snapshot struct {
	ExecutionID    string                `json:"execution_id"`
	Workflow       string                `json:"workflow"`
	Status         ExecutionStatus       `json:"status"`
	ExecutionOrder []string              `json:"execution_order"`
	Steps          map[string]StepRecord `json:"steps"`
	Results        map[string]any        `json:"results"`
	Error          string                `json:"error,omitempty"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Checkpointer persists execution snapshots keyed by execution ID.
// Implementations must be safe for concurrent use.
type Checkpointer interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, executionID string) (*Snapshot, error)
	Delete(ctx context.Context, executionID string) error
	Close() error
}
