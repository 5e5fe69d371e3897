package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/event"
	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
	"github.com/helmsman-ai/helmsman/pkg/task"
	"github.com/helmsman-ai/helmsman/pkg/workflow"
)

// ============================================================================
// FAKES
// ============================================================================

// fakeService accepts submissions and immediately completes them over the
// bus, echoing the query.
type fakeService struct {
	bus    event.Bus
	tasks  map[string]*task.Task
	panics bool
}

func newFakeService(bus event.Bus) *fakeService {
	return &fakeService{bus: bus, tasks: make(map[string]*task.Task)}
}

func (s *fakeService) Submit(ctx context.Context, req orchestrator.SubmitRequest) (*task.Task, <-chan event.Event, error) {
	if s.panics {
		panic("collaborator blew up")
	}
	t := task.New(req.TaskID, req.AgentID, req.Query, req.Params)
	_ = t.Transition(task.StatusSubmitted)
	accepted := t.Clone()
	s.tasks[t.ID] = t

	_ = t.Transition(task.StatusWorking)
	_ = t.Transition(task.StatusCompleted)
	t.Result = map[string]any{"text": "echo: " + req.Query}
	_ = s.bus.Publish(context.Background(), event.Completed{
		Task:   t.ID,
		Result: t.Result,
	})

	stream := make(chan event.Event, 4)
	close(stream)
	return accepted, stream, nil
}

func (s *fakeService) Task(taskID string) (*task.Task, error) {
	if t, ok := s.tasks[taskID]; ok {
		return t.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", orchestrator.ErrTaskNotFound, taskID)
}

func (s *fakeService) Cancel(ctx context.Context, taskID string) (*task.Task, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrTaskNotFound, taskID)
	}
	_ = t.Transition(task.StatusCancelled)
	return t.Clone(), nil
}

// fakeStatuses serves scripted workflow status reports.
type fakeStatuses struct {
	reports map[string]*workflow.StatusReport
}

func (f *fakeStatuses) Status(ctx context.Context, executionID string) (*workflow.StatusReport, error) {
	if report, ok := f.reports[executionID]; ok {
		return report, nil
	}
	return &workflow.StatusReport{Status: workflow.ExecutionNotFound}, nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeService, *fakeStatuses) {
	t.Helper()
	bus := event.NewMemoryBus()
	service := newFakeService(bus)
	statuses := &fakeStatuses{reports: make(map[string]*workflow.StatusReport)}
	h := NewHandler(HandlerConfig{
		Card:           AgentCard{Name: "Assistant", URL: "http://localhost:8080", Version: "dev", Skills: []Skill{}},
		DefaultAgentID: "assistant",
		ChunkDelay:     time.Millisecond,
		WaitTimeout:    2 * time.Second,
	}, service, statuses, task.NewTracker(bus))
	return h, service, statuses
}

func callRPC(t *testing.T, h *Handler, body string) JSONRPCResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeRPC(rec, req)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

// ============================================================================
// DISPATCH
// ============================================================================

func TestRPC_UnknownMethod(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"unknown/x"}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
	assert.Nil(t, resp.Result)
}

func TestRPC_MissingMethod(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidRequest, resp.Error.Code)
}

func TestRPC_MalformedRequestObject(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := callRPC(t, h, `[1,2,3]`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidRequest, resp.Error.Code)
}

func TestRPC_PanicBecomesInternalError(t *testing.T) {
	h, service, _ := newTestHandler(t)
	service.panics = true

	resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"tasks/send","params":{"message":{"parts":[{"type":"text","text":"hi"}]}}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, InternalError, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "collaborator")
}

// ============================================================================
// SEND / GET / CANCEL
// ============================================================================

func TestRPC_TasksSendReturnsAcceptance(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"tasks/send","params":{"message":{"role":"user","parts":[{"type":"text","text":"ping"}]}}}`)

	require.Nil(t, resp.Error)
	record, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "assistant", record["agent_id"])
	assert.NotEmpty(t, record["id"])
	assert.NotEmpty(t, record["execution_id"])
}

func TestRPC_SendWithMissingPartsDegrades(t *testing.T) {
	h, service, _ := newTestHandler(t)
	resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"tasks/send","params":{"message":{}}}`)

	require.Nil(t, resp.Error, "malformed message must degrade, not fault")
	record := resp.Result.(map[string]any)
	submitted, err := service.Task(record["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "", submitted.Query)
}

func TestRPC_MessageSendAlias(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"text":"hello"}]}}}`)
	require.Nil(t, resp.Error)
}

func TestRPC_TasksGetLocalTask(t *testing.T) {
	h, service, _ := newTestHandler(t)
	submitted, _, err := service.Submit(context.Background(), orchestrator.SubmitRequest{AgentID: "assistant", Query: "q"})
	require.NoError(t, err)

	resp := callRPC(t, h, fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{"id":%q}}`, submitted.ID))
	require.Nil(t, resp.Error)
	record := resp.Result.(map[string]any)
	assert.Equal(t, submitted.ID, record["id"])
}

func TestRPC_TasksGetFallsBackToWorkflow(t *testing.T) {
	h, _, statuses := newTestHandler(t)
	statuses.reports[task.ExecutionID("remote-task")] = &workflow.StatusReport{
		Status: workflow.ExecutionCompleted,
		Result: map[string]any{"text": "done elsewhere"},
	}

	resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{"id":"remote-task"}}`)
	require.Nil(t, resp.Error)
	record := resp.Result.(map[string]any)
	assert.Equal(t, "completed", record["status"])
}

func TestRPC_TasksGetRequiresID(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
}

func TestRPC_TasksCancel(t *testing.T) {
	h, service, _ := newTestHandler(t)
	submitted, _, err := service.Submit(context.Background(), orchestrator.SubmitRequest{AgentID: "assistant", Query: "q"})
	require.NoError(t, err)

	resp := callRPC(t, h, fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tasks/cancel","params":{"id":%q}}`, submitted.ID))
	require.Nil(t, resp.Error)
}

func TestRPC_ExtendedCard(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"agent/authenticatedExtendedCard"}`)

	require.Nil(t, resp.Error)
	card := resp.Result.(map[string]any)
	assert.Equal(t, "Assistant", card["name"])
	_, hasCapabilities := card["capabilities"]
	assert.True(t, hasCapabilities)
}

// ============================================================================
// POLLING
// ============================================================================

func TestPollForCompletion_TimeoutSentinel(t *testing.T) {
	h, _, _ := newTestHandler(t)

	// Unknown everywhere and never terminal: one attempt, no sleeps.
	result := h.PollForCompletion(context.Background(), "never-done", 1)
	assert.Equal(t, TimeoutSentinel, result["status"])
}

func TestPollForCompletion_TerminalFromWorkflow(t *testing.T) {
	h, _, statuses := newTestHandler(t)
	statuses.reports[task.ExecutionID("wf-task")] = &workflow.StatusReport{
		Status: workflow.ExecutionCompleted,
		Result: map[string]any{"text": "done"},
	}

	result := h.PollForCompletion(context.Background(), "wf-task", 3)
	assert.Equal(t, "completed", result["status"])
}

// ============================================================================
// SSE STREAMING
// ============================================================================

func parseSSEFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestSSE_FrameSequence(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"message/stream","params":{"message":{"parts":[{"type":"text","text":"hello world"}]}}}`
	req := httptest.NewRequest(http.MethodPost, "/rpc/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeStream(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseSSEFrames(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 3)

	assert.Equal(t, "connection", frames[0]["type"])
	for _, frame := range frames[1 : len(frames)-1] {
		assert.Equal(t, "text_chunk", frame["type"])
	}
	last := frames[len(frames)-1]
	assert.Equal(t, "completion", last["type"])
	assert.Equal(t, "echo: hello world", last["text"])
}

func TestSSE_InvalidJSONYieldsErrorFrame(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/rpc/stream", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeStream(rec, req)

	frames := parseSSEFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
}

func TestServeRoot_RoutesStreamMethod(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"message/stream","params":{"message":{"parts":[{"type":"text","text":"hi"}]}}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeRoot(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestServeRoot_RoutesPlainMethod(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"unknown/x"}`))
	rec := httptest.NewRecorder()
	h.ServeRoot(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

// ============================================================================
// MESSAGE TRANSLATION
// ============================================================================

func TestMessage_TextContent(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{"nil message", nil, ""},
		{"single text", &Message{Parts: []Part{{Text: "hello"}}}, "hello"},
		{"multiple text", &Message{Parts: []Part{{Text: "hello"}, {Text: "world"}}}, "hello world"},
		{"file part", &Message{Parts: []Part{{File: &FilePart{Name: "doc.pdf"}}}}, "[file: doc.pdf]"},
		{"data part", &Message{Parts: []Part{{Data: map[string]any{"k": "v"}}}}, `{"k":"v"}`},
		{"empty parts", &Message{Parts: []Part{}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.TextContent())
		})
	}
}
