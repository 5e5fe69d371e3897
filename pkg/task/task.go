// Package task defines the task model shared by the orchestrator and the
// protocol gateway: statuses, the monotonic status machine, task-level error
// codes, and the completion tracker used for agent-to-agent delegation.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// STATUS - Task lifecycle states
// ============================================================================

// Status is the lifecycle state of a task. Transitions are monotonic and
// terminal states are final.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// statusRank orders the non-terminal states; all terminal states share the
// top rank so that exactly one of them can be reached.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSubmitted: 1,
	StatusWorking:   2,
	StatusCompleted: 3,
	StatusFailed:    3,
	StatusCancelled: 3,
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ============================================================================
// ERROR CODES - Task-level failure taxonomy
// ============================================================================

const (
	ErrCodeValidation = "AGENT_VALIDATION_ERROR"
	ErrCodeConfig     = "AGENT_CONFIG_ERROR"
	ErrCodeExecution  = "EXECUTION_ERROR"
)

// Error is a task-level failure. It travels inside TaskFailed events and on
// the wire; it never propagates as a raw Go error out of the orchestration
// loop.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ============================================================================
// TASK - Unit of work
// ============================================================================

// Task is a unit of work submitted against an agent. It is created by a
// submission call, mutated only by the orchestrator, and frozen once it
// reaches a terminal status.
type Task struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	Query       string         `json:"query"`
	Params      map[string]any `json:"parameters,omitempty"`
	Status      Status         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Err         *Error         `json:"error,omitempty"`
	ExecutionID string         `json:"execution_id"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
}

// New creates a pending task. An empty id gets a generated one.
func New(id, agentID, query string, params map[string]any) *Task {
	if id == "" {
		id = uuid.New().String()
	}
	return &Task{
		ID:          id,
		AgentID:     agentID,
		Query:       query,
		Params:      params,
		Status:      StatusPending,
		ExecutionID: ExecutionID(id),
		CreatedAt:   time.Now().UTC(),
	}
}

// Transition moves the task to next, enforcing monotonicity. A terminal
// status is never overwritten; a backwards transition is rejected.
func (t *Task) Transition(next Status) error {
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is %s (terminal), cannot move to %s", t.ID, t.Status, next)
	}
	if statusRank[next] < statusRank[t.Status] {
		return fmt.Errorf("task %s cannot regress from %s to %s", t.ID, t.Status, next)
	}
	t.Status = next
	switch next {
	case StatusWorking:
		t.StartedAt = time.Now().UTC()
	case StatusCompleted, StatusFailed, StatusCancelled:
		t.CompletedAt = time.Now().UTC()
	}
	return nil
}

// Clone returns a shallow copy safe to hand to concurrent readers.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}

// ============================================================================
// EXECUTION ID - Durable-backend run identifier
// ============================================================================

// ExecutionIDPrefix prefixes every workflow execution id.
const ExecutionIDPrefix = "agent-task-"

// ExecutionID derives the workflow execution id for a task.
func ExecutionID(taskID string) string {
	return ExecutionIDPrefix + taskID
}

// ParseExecutionID extracts the embedded task id from an execution id. The
// remainder must parse as a UUID.
func ParseExecutionID(executionID string) (string, error) {
	rest := strings.TrimPrefix(executionID, ExecutionIDPrefix)
	if rest == executionID {
		return "", fmt.Errorf("execution id %q missing %q prefix", executionID, ExecutionIDPrefix)
	}
	if _, err := uuid.Parse(rest); err != nil {
		return "", fmt.Errorf("execution id %q does not embed a task id: %w", executionID, err)
	}
	return rest, nil
}
