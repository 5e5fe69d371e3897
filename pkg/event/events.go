// Package event provides the in-process publish/subscribe hub used to
// observe task lifecycles, plus a distributed bridge that mirrors the same
// events onto an external etcd transport.
package event

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// EVENT TYPES - Closed set of task lifecycle events
// ============================================================================

// Type discriminates the event variants on the wire and in the registry.
type Type string

const (
	TypeStatusChanged Type = "TaskStatusChanged"
	TypeCompleted     Type = "TaskCompleted"
	TypeFailed        Type = "TaskFailed"
	TypeProgress      Type = "TaskProgress"
)

// Event is a domain event. Implementations are immutable value types; once
// published they must not be mutated.
type Event interface {
	// Type returns the discriminant used for subscription routing.
	Type() Type

	// TaskID returns the id of the task the event belongs to.
	TaskID() string

	// Data returns the event payload as a generic map, the form external
	// bridges and wire consumers observe.
	Data() map[string]any
}

// StatusChanged records a task status transition.
type StatusChanged struct {
	Task    string
	AgentID string
	From    string
	To      string
}

func (e StatusChanged) Type() Type     { return TypeStatusChanged }
func (e StatusChanged) TaskID() string { return e.Task }

func (e StatusChanged) Data() map[string]any {
	return map[string]any{
		"task_id":  e.Task,
		"agent_id": e.AgentID,
		"from":     e.From,
		"to":       e.To,
	}
}

// Completed records a task reaching its completed terminal state.
type Completed struct {
	Task    string
	AgentID string
	Result  map[string]any
}

func (e Completed) Type() Type     { return TypeCompleted }
func (e Completed) TaskID() string { return e.Task }

func (e Completed) Data() map[string]any {
	return map[string]any{
		"task_id":  e.Task,
		"agent_id": e.AgentID,
		"result":   e.Result,
	}
}

// Failed records a task reaching its failed terminal state.
type Failed struct {
	Task      string
	AgentID   string
	ErrorCode string
	Message   string
}

func (e Failed) Type() Type     { return TypeFailed }
func (e Failed) TaskID() string { return e.Task }

func (e Failed) Data() map[string]any {
	return map[string]any{
		"task_id":       e.Task,
		"agent_id":      e.AgentID,
		"error_code":    e.ErrorCode,
		"error_message": e.Message,
	}
}

// Progress is a free-form intermediate event emitted while a task is working.
type Progress struct {
	Task    string
	AgentID string
	Text    string
	Detail  map[string]any
}

func (e Progress) Type() Type     { return TypeProgress }
func (e Progress) TaskID() string { return e.Task }

func (e Progress) Data() map[string]any {
	data := map[string]any{
		"task_id":  e.Task,
		"agent_id": e.AgentID,
		"text":     e.Text,
	}
	for k, v := range e.Detail {
		data[k] = v
	}
	return data
}

// ============================================================================
// ENVELOPE - Wire form for external observers
// ============================================================================

// Envelope is the externally observable form of an event.
type Envelope struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType Type           `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// Wrap assigns an event id and timestamp to an event for external delivery.
func Wrap(ev Event) Envelope {
	return Envelope{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: ev.Type(),
		Data:      ev.Data(),
	}
}
