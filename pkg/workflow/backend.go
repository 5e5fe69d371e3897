// Package workflow abstracts the external durable-workflow engine behind a
// gateway that degrades to a local simulated execution whenever the engine
// is unreachable. Callers always get an answer; backend unavailability is a
// policy handled here, never an error they see.
package workflow

import (
	"context"
	"time"
)

// ExecutionStatus is the durable backend's view of a run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionNotFound  ExecutionStatus = "not_found"
)

// Terminal reports whether s is a final execution state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// StartRequest carries everything a backend needs to begin an execution.
type StartRequest struct {
	ExecutionID string         `json:"execution_id"`
	TaskID      string         `json:"task_id"`
	AgentID     string         `json:"agent_id"`
	Query       string         `json:"query"`
	Params      map[string]any `json:"parameters,omitempty"`
}

// Handle identifies a started execution.
type Handle struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	Simulated   bool            `json:"simulated"`
	StartedAt   time.Time       `json:"started_at"`
}

// StatusReport is a backend's answer to a status query.
type StatusReport struct {
	Status ExecutionStatus `json:"status"`
	Result map[string]any  `json:"result,omitempty"`
}

// Backend is the strategy interface over execution engines. Two
// implementations exist: RemoteBackend against the real durable engine and
// SimulatedBackend against a local scratch store.
type Backend interface {
	Start(ctx context.Context, req *StartRequest) (*Handle, error)
	Status(ctx context.Context, executionID string) (*StatusReport, error)
	Cancel(ctx context.Context, executionID string) (bool, error)

	// Healthy probes connectivity; the gateway uses it to pick a backend.
	Healthy(ctx context.Context) bool
}
