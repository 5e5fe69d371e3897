package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/config"
	"github.com/helmsman-ai/helmsman/pkg/event"
	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
	"github.com/helmsman-ai/helmsman/pkg/task"
	"github.com/helmsman-ai/helmsman/pkg/transport"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.Workflow.SimulationDB = ":memory:"
	cfg.Workflow.CompletionDelay = 30 * time.Millisecond
	cfg.Workflow.PollInterval = 10 * time.Millisecond
	cfg.Streaming.ChunkDelay = time.Millisecond
	cfg.Streaming.WaitTimeout = 2 * time.Second

	rt, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRuntime_EndToEndPing(t *testing.T) {
	rt := newTestRuntime(t)

	var seen []event.Type
	done := make(chan struct{})
	rt.Bus.Subscribe(event.TypeStatusChanged, func(ctx context.Context, ev event.Event) error {
		seen = append(seen, ev.Type())
		return nil
	})
	rt.Bus.Subscribe(event.TypeCompleted, func(ctx context.Context, ev event.Event) error {
		seen = append(seen, ev.Type())
		close(done)
		return nil
	})

	submitted, _, err := rt.Orchestrator.Submit(context.Background(), orchestrator.SubmitRequest{
		AgentID: "assistant",
		Query:   "ping",
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never completed")
	}

	final, err := rt.Orchestrator.Task(submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Status)
	assert.Equal(t, "ping", final.Result["text"])

	// Working transition precedes completion.
	require.NotEmpty(t, seen)
	assert.Equal(t, event.TypeCompleted, seen[len(seen)-1])
	assert.Contains(t, seen, event.TypeStatusChanged)
}

func TestRuntime_DelegationViaTracker(t *testing.T) {
	rt := newTestRuntime(t)

	// A parent task registers interest, then triggers the child.
	childID := "11111111-2222-3333-4444-555555555555"
	rt.Tracker.Register(childID)

	_, _, err := rt.Orchestrator.Submit(context.Background(), orchestrator.SubmitRequest{
		TaskID:  childID,
		AgentID: "assistant",
		Query:   "ping",
	})
	require.NoError(t, err)

	text, err := rt.Tracker.Wait(context.Background(), childID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", text)
}

func TestRuntime_RPCSurface(t *testing.T) {
	rt := newTestRuntime(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"tasks/send","params":{"message":{"role":"user","parts":[{"type":"text","text":"ping"}]}}}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()
	rt.Handler.ServeRPC(rec, req)

	var resp transport.JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)

	record := resp.Result.(map[string]any)
	taskID := record["id"].(string)
	assert.Equal(t, "assistant", record["agent_id"])

	// Poll the same task to a terminal state through the protocol helper.
	result := rt.Handler.PollForCompletion(context.Background(), taskID, 5)
	assert.Equal(t, string(task.StatusCompleted), result["status"])
}

func TestRuntime_UnknownAgentFailsValidation(t *testing.T) {
	rt := newTestRuntime(t)

	submitted, stream, err := rt.Orchestrator.Submit(context.Background(), orchestrator.SubmitRequest{
		AgentID: "nope",
		Query:   "q",
	})
	require.NoError(t, err)

	for range stream {
	}
	final, err := rt.Orchestrator.Task(submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
	require.NotNil(t, final.Err)
	assert.Equal(t, task.ErrCodeValidation, final.Err.Code)
}

func TestAgentRegistry_Validation(t *testing.T) {
	reg := NewAgentRegistry(map[string]config.AgentConfig{
		"assistant": {Name: "Assistant"},
	})

	assert.Empty(t, reg.ValidateAgent(context.Background(), "assistant"))
	assert.NotEmpty(t, reg.ValidateAgent(context.Background(), "ghost"))

	cfg, err := reg.BuildConfig(context.Background(), "assistant")
	require.NoError(t, err)
	assert.Equal(t, "assistant", cfg.AgentID)

	_, err = reg.BuildConfig(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestEchoBackend_StreamsQuery(t *testing.T) {
	chunks, err := EchoBackend{}.Run(context.Background(), &orchestrator.AgentConfig{}, &orchestrator.Session{}, "hello world")
	require.NoError(t, err)

	var sb strings.Builder
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		sb.WriteString(chunk.Text)
	}
	assert.Equal(t, "hello world", sb.String())
}
