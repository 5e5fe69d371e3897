package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/task"
)

// pollInterval paces completion polling. Fixed; callers bound the total wait
// through maxAttempts.
const pollInterval = time.Second

// TimeoutSentinel is the status reported when polling exhausts its attempts
// without seeing a terminal state. It is an answer, not an error.
const TimeoutSentinel = "timeout"

// PollForCompletion polls the task's status at a fixed interval until a
// terminal status is seen or maxAttempts are exhausted. The exhausted case
// returns a {status: "timeout"} record rather than blocking or failing; the
// task may still be running.
func (h *Handler) PollForCompletion(ctx context.Context, taskID string, maxAttempts int) map[string]any {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return map[string]any{"id": taskID, "status": TimeoutSentinel}
			case <-time.After(pollInterval):
			}
		}

		if t, err := h.service.Task(taskID); err == nil {
			if t.Status.Terminal() {
				return taskRecord(t)
			}
			continue
		}

		// Unknown locally; ask the workflow backend.
		report, err := h.statuses.Status(ctx, task.ExecutionID(taskID))
		if err != nil {
			slog.Debug("completion poll failed", "task_id", taskID, "error", err)
			continue
		}
		if report.Status.Terminal() {
			return map[string]any{
				"id":     taskID,
				"status": string(report.Status),
				"result": report.Result,
			}
		}
	}

	return map[string]any{"id": taskID, "status": TimeoutSentinel}
}
