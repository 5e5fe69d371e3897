package task

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_TransitionMonotonic(t *testing.T) {
	tk := New("", "agent-1", "ping", nil)
	require.Equal(t, StatusPending, tk.Status)

	require.NoError(t, tk.Transition(StatusSubmitted))
	require.NoError(t, tk.Transition(StatusWorking))
	assert.False(t, tk.StartedAt.IsZero())

	require.Error(t, tk.Transition(StatusPending), "regression must be rejected")

	require.NoError(t, tk.Transition(StatusCompleted))
	assert.False(t, tk.CompletedAt.IsZero())

	// Terminal states are final.
	assert.Error(t, tk.Transition(StatusFailed))
	assert.Error(t, tk.Transition(StatusWorking))
	assert.Equal(t, StatusCompleted, tk.Status)
}

func TestTask_ExactlyOneTerminalState(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		tk := New("", "agent-1", "q", nil)
		require.NoError(t, tk.Transition(terminal))
		for _, other := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
			assert.Error(t, tk.Transition(other))
		}
	}
}

func TestExecutionID_RoundTrip(t *testing.T) {
	id := uuid.New().String()
	execID := ExecutionID(id)
	assert.Equal(t, "agent-task-"+id, execID)

	parsed, err := ParseExecutionID(execID)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseExecutionID_Invalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{name: "missing prefix", id: uuid.New().String()},
		{name: "garbage suffix", id: "agent-task-not-a-uuid"},
		{name: "empty", id: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExecutionID(tt.id)
			assert.Error(t, err)
		})
	}
}

func TestResultText_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    string
	}{
		{
			name:    "error wins",
			outcome: Outcome{Status: StatusFailed, Result: map[string]any{"error": "boom", "text": "ignored"}},
			want:    "Task failed: boom",
		},
		{
			name:    "text before content",
			outcome: Outcome{Status: StatusCompleted, Result: map[string]any{"text": "hi", "content": "ignored"}},
			want:    "hi",
		},
		{
			name:    "content fallback",
			outcome: Outcome{Status: StatusCompleted, Result: map[string]any{"content": "body"}},
			want:    "body",
		},
		{
			name:    "stringified raw result",
			outcome: Outcome{Status: StatusCompleted, Result: map[string]any{"rows": 3}},
			want:    "map[rows:3]",
		},
		{
			name:    "nothing available",
			outcome: Outcome{Status: StatusCompleted},
			want:    "Task completed but no result available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResultText(tt.outcome))
		})
	}
}
