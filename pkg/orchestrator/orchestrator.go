// Package orchestrator drives tasks through their lifecycle: validate the
// agent, build its configuration, execute against a pluggable backend, and
// publish every transition to the event bus. The bus is the durable
// observation path; the per-submission live stream is a convenience for the
// direct caller and may drop under backpressure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/event"
	"github.com/helmsman-ai/helmsman/pkg/task"
	"github.com/helmsman-ai/helmsman/pkg/workflow"
)

// ErrTaskNotFound is returned by lookups for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// streamBuffer bounds the caller-facing live stream. When the consumer
// stalls, further events are dropped from the stream; they still reach the
// bus.
const streamBuffer = 64

// defaultPollInterval paces durable-execution status polling.
const defaultPollInterval = time.Second

// SubmitRequest is one task submission.
type SubmitRequest struct {
	TaskID  string
	AgentID string
	Query   string
	Params  map[string]any
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Bus       event.Bus
	Gateway   *workflow.Gateway
	Validator AgentValidator
	Configs   ConfigBuilder
	Sessions  SessionFactory
	Tools     ToolResolver
	Backend   ExecutionBackend

	// PollInterval paces durable-execution polling; zero means the default.
	PollInterval time.Duration
}

// Orchestrator owns the task registry and runs one goroutine per submitted
// task. Tasks are mutated only here, under the registry lock, and are frozen
// once terminal.
type Orchestrator struct {
	bus       event.Bus
	gateway   *workflow.Gateway
	validator AgentValidator
	configs   ConfigBuilder
	sessions  SessionFactory
	tools     ToolResolver
	backend   ExecutionBackend

	pollInterval time.Duration

	mu    sync.RWMutex
	tasks map[string]*task.Task
}

// New creates an orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Orchestrator{
		bus:          cfg.Bus,
		gateway:      cfg.Gateway,
		validator:    cfg.Validator,
		configs:      cfg.Configs,
		sessions:     cfg.Sessions,
		tools:        cfg.Tools,
		backend:      cfg.Backend,
		pollInterval: interval,
		tasks:        make(map[string]*task.Task),
	}
}

// Submit accepts a task and starts its execution. It returns immediately
// with the accepted task (status submitted) and a live event stream for this
// task. The stream is closed when the task reaches a terminal state.
//
// Execution is detached from the caller's context: a client that disconnects
// after submitting does not abort the task.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*task.Task, <-chan event.Event, error) {
	if req.AgentID == "" {
		return nil, nil, fmt.Errorf("submit: agent id is required")
	}

	t := task.New(req.TaskID, req.AgentID, req.Query, req.Params)

	o.mu.Lock()
	if _, exists := o.tasks[t.ID]; exists {
		o.mu.Unlock()
		return nil, nil, fmt.Errorf("submit: task %s already exists", t.ID)
	}
	o.tasks[t.ID] = t
	if err := t.Transition(task.StatusSubmitted); err != nil {
		o.mu.Unlock()
		return nil, nil, err
	}
	o.mu.Unlock()

	stream := make(chan event.Event, streamBuffer)
	o.emit(ctx, stream, event.StatusChanged{
		Task:    t.ID,
		AgentID: t.AgentID,
		From:    string(task.StatusPending),
		To:      string(task.StatusSubmitted),
	})

	go o.run(context.WithoutCancel(ctx), t, stream)

	return o.snapshot(t.ID), stream, nil
}

// Status returns the current status of a task.
func (o *Orchestrator) Status(taskID string) (task.Status, error) {
	t := o.snapshot(taskID)
	if t == nil {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t.Status, nil
}

// Task returns a snapshot of a task.
func (o *Orchestrator) Task(taskID string) (*task.Task, error) {
	t := o.snapshot(taskID)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t, nil
}

// Tasks returns snapshots of every known task.
func (o *Orchestrator) Tasks() []*task.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*task.Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// Cancel requests cancellation. The gateway cancel is best-effort; the task
// is marked cancelled only if it has not already reached a terminal state.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) (*task.Task, error) {
	o.mu.RLock()
	t, ok := o.tasks[taskID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	if _, err := o.gateway.Cancel(ctx, t.ExecutionID); err != nil {
		slog.Warn("gateway cancel failed", "task_id", taskID, "error", err)
	}

	from, changed := o.transition(t, task.StatusCancelled)
	if changed {
		o.publish(ctx, event.StatusChanged{
			Task:    t.ID,
			AgentID: t.AgentID,
			From:    from,
			To:      string(task.StatusCancelled),
		})
	}
	return o.snapshot(taskID), nil
}

// ============================================================================
// STATE MACHINE - One run per task
// ============================================================================

// run executes the task state machine. Every transition is published to the
// bus regardless of whether the live stream consumer is still there, and no
// event is emitted for a task once it is terminal.
func (o *Orchestrator) run(ctx context.Context, t *task.Task, stream chan event.Event) {
	defer close(stream)

	// Step 1: validate. Failure here has no side effects beyond the event.
	if issues := o.validator.ValidateAgent(ctx, t.AgentID); len(issues) > 0 {
		o.fail(ctx, t, stream, task.ErrCodeValidation, strings.Join(issues, "; "))
		return
	}

	// Step 2: build execution configuration.
	cfg, err := o.configs.BuildConfig(ctx, t.AgentID)
	if err != nil {
		o.fail(ctx, t, stream, task.ErrCodeConfig, err.Error())
		return
	}
	if cfg == nil {
		o.fail(ctx, t, stream, task.ErrCodeConfig, fmt.Sprintf("no configuration for agent %s", t.AgentID))
		return
	}

	// Step 3: submitted -> working.
	from, changed := o.transition(t, task.StatusWorking)
	if !changed {
		return
	}
	o.emit(ctx, stream, event.StatusChanged{
		Task:    t.ID,
		AgentID: t.AgentID,
		From:    from,
		To:      string(task.StatusWorking),
	})

	// Step 4: execution session scoped to this task.
	session, err := o.sessions.CreateSession(ctx, SessionSpec{TaskID: t.ID, Params: t.Params})
	if err != nil {
		o.fail(ctx, t, stream, task.ErrCodeExecution, fmt.Sprintf("create session: %v", err))
		return
	}

	// Step 5: tool resolution. Absence of tools is valid.
	if o.tools != nil {
		if _, err := o.tools.ResolveTools(ctx, t.AgentID); err != nil {
			o.fail(ctx, t, stream, task.ErrCodeExecution, fmt.Sprintf("resolve tools: %v", err))
			return
		}
	}

	opts := decodeOptions(t.Params)
	if opts.Durable {
		o.runDurable(ctx, t, stream, opts)
		return
	}

	// Step 6: stream the execution backend.
	chunks, err := o.backend.Run(ctx, cfg, session, t.Query)
	if err != nil {
		o.fail(ctx, t, stream, task.ErrCodeExecution, err.Error())
		return
	}

	var text strings.Builder
	var detail map[string]any
	for chunk := range chunks {
		if chunk.Err != nil {
			o.fail(ctx, t, stream, task.ErrCodeExecution, chunk.Err.Error())
			return
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.Data != nil {
			detail = chunk.Data
		}
		o.emit(ctx, stream, event.Progress{
			Task:    t.ID,
			AgentID: t.AgentID,
			Text:    chunk.Text,
			Detail:  chunk.Data,
		})
	}

	// Step 7: stream exhausted without error.
	result := map[string]any{"text": text.String()}
	for k, v := range detail {
		if k != "text" {
			result[k] = v
		}
	}
	o.complete(ctx, t, stream, result)
}

// runDurable hands the execution to the workflow gateway and polls it to a
// terminal state. The gateway's degradation policy guarantees a terminal
// answer in bounded time even with the engine down.
func (o *Orchestrator) runDurable(ctx context.Context, t *task.Task, stream chan event.Event, opts execOptions) {
	_, err := o.gateway.Start(ctx, t.ExecutionID, &workflow.StartRequest{
		AgentID: t.AgentID,
		Query:   t.Query,
		Params:  t.Params,
	})
	if err != nil {
		o.fail(ctx, t, stream, task.ErrCodeExecution, fmt.Sprintf("start durable execution: %v", err))
		return
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = o.pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.fail(ctx, t, stream, task.ErrCodeExecution, ctx.Err().Error())
			return
		case <-ticker.C:
		}

		report, err := o.gateway.Status(ctx, t.ExecutionID)
		if err != nil {
			slog.Warn("durable status poll failed", "task_id", t.ID, "error", err)
			continue
		}

		switch report.Status {
		case workflow.ExecutionCompleted:
			o.complete(ctx, t, stream, report.Result)
			return
		case workflow.ExecutionFailed:
			msg := "durable execution failed"
			if errText, ok := report.Result["error"].(string); ok && errText != "" {
				msg = errText
			}
			o.fail(ctx, t, stream, task.ErrCodeExecution, msg)
			return
		case workflow.ExecutionCancelled:
			from, changed := o.transition(t, task.StatusCancelled)
			if changed {
				o.emit(ctx, stream, event.StatusChanged{
					Task:    t.ID,
					AgentID: t.AgentID,
					From:    from,
					To:      string(task.StatusCancelled),
				})
			}
			return
		case workflow.ExecutionNotFound:
			o.fail(ctx, t, stream, task.ErrCodeExecution,
				fmt.Sprintf("execution %s lost by workflow backend", t.ExecutionID))
			return
		}
	}
}

// ============================================================================
// TRANSITIONS AND EMISSION
// ============================================================================

// transition moves t to next under the registry lock. It returns the prior
// status and whether the move happened; a terminal task is left untouched.
func (o *Orchestrator) transition(t *task.Task, next task.Status) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	from := string(t.Status)
	if err := t.Transition(next); err != nil {
		return from, false
	}
	return from, true
}

// complete freezes the task as completed and emits the terminal event. A
// lost race against Cancel means no event is emitted.
func (o *Orchestrator) complete(ctx context.Context, t *task.Task, stream chan event.Event, result map[string]any) {
	o.mu.Lock()
	if err := t.Transition(task.StatusCompleted); err != nil {
		o.mu.Unlock()
		return
	}
	t.Result = result
	o.mu.Unlock()

	o.emit(ctx, stream, event.Completed{Task: t.ID, AgentID: t.AgentID, Result: result})
}

// fail freezes the task as failed with a coded error and emits the terminal
// event.
func (o *Orchestrator) fail(ctx context.Context, t *task.Task, stream chan event.Event, code, message string) {
	o.mu.Lock()
	if err := t.Transition(task.StatusFailed); err != nil {
		o.mu.Unlock()
		return
	}
	t.Err = &task.Error{Code: code, Message: message}
	o.mu.Unlock()

	o.emit(ctx, stream, event.Failed{Task: t.ID, AgentID: t.AgentID, ErrorCode: code, Message: message})
}

// emit publishes to the bus unconditionally and offers the event to the live
// stream without blocking. A stalled consumer loses stream events, never bus
// events.
func (o *Orchestrator) emit(ctx context.Context, stream chan event.Event, ev event.Event) {
	o.publish(ctx, ev)
	select {
	case stream <- ev:
	default:
		slog.Debug("live stream full, dropping event", "task_id", ev.TaskID(), "event_type", ev.Type())
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev event.Event) {
	if err := o.bus.Publish(ctx, ev); err != nil {
		slog.Warn("event publish failed", "task_id", ev.TaskID(), "event_type", ev.Type(), "error", err)
	}
}

func (o *Orchestrator) snapshot(taskID string) *task.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if t, ok := o.tasks[taskID]; ok {
		return t.Clone()
	}
	return nil
}
