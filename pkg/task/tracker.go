package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/event"
)

// ErrWaitTimeout is returned by Tracker.Wait when the timeout elapses before
// the task reaches a terminal state. It is distinct from a task-level
// failure: the task may still be running.
var ErrWaitTimeout = errors.New("timed out waiting for task completion")

// ErrNotRegistered is returned by Wait for a task id that was never
// registered (or whose waiter was already consumed).
var ErrNotRegistered = errors.New("no completion waiter registered for task")

// Outcome is the terminal result delivered to a waiter.
type Outcome struct {
	Status Status
	Result map[string]any
}

// graceTTL bounds how long a terminal outcome for an unregistered task id is
// kept around. A completion event published just before Register runs is
// matched from this buffer instead of being lost.
const graceTTL = 30 * time.Second

type bufferedOutcome struct {
	outcome Outcome
	at      time.Time
}

// Tracker is the per-task completion rendezvous: one execution registers
// interest in another task's terminal outcome and blocks on it with a
// bounded wait. It is fed by TaskCompleted/TaskFailed events on the bus.
type Tracker struct {
	bus event.Bus

	mu        sync.Mutex
	waiters   map[string]chan Outcome
	unclaimed map[string]bufferedOutcome

	subscribeOnce sync.Once
}

// NewTracker creates a tracker bound to bus. The bus subscription is
// established lazily on the first Register call.
func NewTracker(bus event.Bus) *Tracker {
	return &Tracker{
		bus:       bus,
		waiters:   make(map[string]chan Outcome),
		unclaimed: make(map[string]bufferedOutcome),
	}
}

// Register creates a pending waiter for taskID. Callers must register before
// issuing the triggering submission. A terminal outcome that arrived within
// the grace window before registration resolves the waiter immediately.
func (tr *Tracker) Register(taskID string) {
	tr.subscribeOnce.Do(func() {
		tr.bus.Subscribe(event.TypeCompleted, tr.resolve)
		tr.bus.Subscribe(event.TypeFailed, tr.resolve)
	})

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, exists := tr.waiters[taskID]; exists {
		return
	}

	ch := make(chan Outcome, 1)
	if buffered, ok := tr.unclaimed[taskID]; ok {
		delete(tr.unclaimed, taskID)
		ch <- buffered.outcome
	}
	tr.waiters[taskID] = ch
}

// resolve is the shared bus handler for TaskCompleted and TaskFailed. It is
// idempotent per task id and never blocks: the waiter channel holds exactly
// one outcome, so a duplicate event for a resolved-but-not-yet-waited task
// finds the channel full and is dropped rather than wedging the publishing
// bus under tr.mu. Registry cleanup belongs to Wait alone; a terminal event
// for an id with no waiter lands in the grace buffer.
func (tr *Tracker) resolve(ctx context.Context, ev event.Event) error {
	outcome := outcomeFromEvent(ev)
	taskID := ev.TaskID()
	if taskID == "" {
		return nil
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if ch, ok := tr.waiters[taskID]; ok {
		select {
		case ch <- outcome:
		default:
			// Duplicate; the waiter keeps its first outcome.
		}
		return nil
	}

	tr.pruneUnclaimedLocked()
	tr.unclaimed[taskID] = bufferedOutcome{outcome: outcome, at: time.Now()}
	return nil
}

func outcomeFromEvent(ev event.Event) Outcome {
	switch e := ev.(type) {
	case event.Completed:
		return Outcome{Status: StatusCompleted, Result: e.Result}
	case event.Failed:
		return Outcome{Status: StatusFailed, Result: map[string]any{"error": e.Message}}
	default:
		data := ev.Data()
		if msg, ok := data["error_message"].(string); ok {
			return Outcome{Status: StatusFailed, Result: map[string]any{"error": msg}}
		}
		result, _ := data["result"].(map[string]any)
		return Outcome{Status: StatusCompleted, Result: result}
	}
}

func (tr *Tracker) pruneUnclaimedLocked() {
	cutoff := time.Now().Add(-graceTTL)
	for id, buffered := range tr.unclaimed {
		if buffered.at.Before(cutoff) {
			delete(tr.unclaimed, id)
		}
	}
}

// Wait blocks until the registered waiter for taskID is signaled, the
// timeout elapses, or ctx is cancelled. The waiter is removed on every exit
// path exactly once; after Wait returns the registry holds no entry for
// taskID.
func (tr *Tracker) Wait(ctx context.Context, taskID string, timeout time.Duration) (string, error) {
	tr.mu.Lock()
	ch, ok := tr.waiters[taskID]
	tr.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotRegistered, taskID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		tr.mu.Lock()
		delete(tr.waiters, taskID)
		tr.mu.Unlock()
		return ResultText(outcome), nil
	case <-timer.C:
		return tr.abandonOrDrain(taskID, ch, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, taskID, timeout))
	case <-ctx.Done():
		return tr.abandonOrDrain(taskID, ch, ctx.Err())
	}
}

// abandonOrDrain removes the waiter, then checks the channel one last time.
// A resolution that landed before the removal is a real outcome and is
// returned rather than reported as a spurious timeout; after the removal the
// resolver can no longer reach this channel.
func (tr *Tracker) abandonOrDrain(taskID string, ch chan Outcome, cause error) (string, error) {
	tr.mu.Lock()
	delete(tr.waiters, taskID)
	tr.mu.Unlock()

	select {
	case outcome := <-ch:
		return ResultText(outcome), nil
	default:
	}
	slog.Debug("completion wait abandoned", "task_id", taskID, "cause", cause)
	return "", cause
}

// ResultText extracts a textual result from a terminal outcome using a fixed
// precedence: error, text, content, the stringified raw result, then a
// placeholder when nothing matched.
func ResultText(o Outcome) string {
	if errMsg, ok := o.Result["error"].(string); ok && errMsg != "" {
		return fmt.Sprintf("Task failed: %s", errMsg)
	}
	if text, ok := o.Result["text"].(string); ok && text != "" {
		return text
	}
	if content, ok := o.Result["content"].(string); ok && content != "" {
		return content
	}
	if len(o.Result) > 0 {
		return fmt.Sprintf("%v", o.Result)
	}
	return "Task completed but no result available"
}
