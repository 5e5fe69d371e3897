package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/event"
	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
	"github.com/helmsman-ai/helmsman/pkg/task"
	"github.com/helmsman-ai/helmsman/pkg/workflow"
)

// ============================================================================
// JSON-RPC ENVELOPE
// ============================================================================

// JSONRPCRequest is the JSON-RPC 2.0 request envelope.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSONRPCResponse is the JSON-RPC 2.0 response envelope. Exactly one of
// Result/Error is present.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object. Message carries no internal state.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ============================================================================
// HANDLER
// ============================================================================

// TaskService is the orchestration surface the protocol gateway maps wire
// requests onto.
type TaskService interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*task.Task, <-chan event.Event, error)
	Task(taskID string) (*task.Task, error)
	Cancel(ctx context.Context, taskID string) (*task.Task, error)
}

// WorkflowStatus is the gateway-side status lookup used by tasks/get and the
// polling helper for tasks this process does not own.
type WorkflowStatus interface {
	Status(ctx context.Context, executionID string) (*workflow.StatusReport, error)
}

// HandlerConfig configures the protocol handler.
type HandlerConfig struct {
	Card AgentCard

	// DefaultAgentID receives submissions that do not name an agent.
	DefaultAgentID string

	// ChunkDelay is the artificial inter-chunk delay on the SSE stream.
	ChunkDelay time.Duration

	// WaitTimeout bounds how long a streaming request waits for the task's
	// terminal outcome.
	WaitTimeout time.Duration
}

// Handler serves the A2A JSON-RPC protocol over HTTP.
type Handler struct {
	config   HandlerConfig
	service  TaskService
	statuses WorkflowStatus
	tracker  *task.Tracker
}

// NewHandler creates the protocol handler.
func NewHandler(cfg HandlerConfig, service TaskService, statuses WorkflowStatus, tracker *task.Tracker) *Handler {
	if cfg.ChunkDelay <= 0 {
		cfg.ChunkDelay = 50 * time.Millisecond
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 120 * time.Second
	}
	return &Handler{config: cfg, service: service, statuses: statuses, tracker: tracker}
}

// ServeRPC handles POST /rpc. Streaming methods are redirected to the SSE
// endpoint by the root handler; here they get an explanatory error.
func (h *Handler) ServeRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		h.sendError(w, nil, InvalidRequest, "POST required")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.sendError(w, nil, ParseError, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var rpcReq JSONRPCRequest
	if err := json.Unmarshal(body, &rpcReq); err != nil {
		h.sendError(w, nil, InvalidRequest, "request is not a JSON-RPC object")
		return
	}
	if rpcReq.Method == "" {
		h.sendError(w, rpcReq.ID, InvalidRequest, "missing method")
		return
	}

	slog.Debug("json-rpc request", "method", rpcReq.Method, "id", rpcReq.ID)

	result, rpcErr := h.dispatch(r.Context(), rpcReq.Method, rpcReq.Params)
	if rpcErr != nil {
		h.sendError(w, rpcReq.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	_ = json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      rpcReq.ID,
		Result:  result,
	})
}

// ServeRoot handles POST / by sniffing the method and routing streaming
// requests to the SSE handler, everything else to the plain RPC handler.
func (h *Handler) ServeRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))

	var rpcReq JSONRPCRequest
	if err := json.Unmarshal(body, &rpcReq); err == nil && rpcReq.Method == "message/stream" {
		h.ServeStream(w, r)
		return
	}
	h.ServeRPC(w, r)
}

// dispatch routes one method call. Handler panics are recovered into an
// InternalError so the wire never sees a raw fault.
func (h *Handler) dispatch(ctx context.Context, method string, params json.RawMessage) (result any, rpcErr *RPCError) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("rpc handler panic", "method", method, "panic", rec)
			result = nil
			rpcErr = &RPCError{Code: InternalError, Message: "internal error"}
		}
	}()

	switch method {
	case "tasks/send", "message/send":
		return h.handleSend(ctx, params)
	case "message/stream":
		return nil, &RPCError{Code: InvalidRequest, Message: "message/stream requires the streaming endpoint"}
	case "tasks/get":
		return h.handleGet(ctx, params)
	case "tasks/cancel":
		return h.handleCancel(ctx, params)
	case "agent/authenticatedExtendedCard":
		return h.config.Card, nil
	default:
		return nil, &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

// ============================================================================
// METHOD HANDLERS
// ============================================================================

// sendParams covers both tasks/send and the legacy message/send shape.
type sendParams struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	ContextID string         `json:"contextId"`
	AgentID   string         `json:"agentId"`
	Message   *Message       `json:"message"`
	Metadata  map[string]any `json:"metadata"`
}

// decodeSendParams never fails: a missing or malformed message degrades to an
// empty text part rather than a wire fault.
func decodeSendParams(params json.RawMessage) sendParams {
	var p sendParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			slog.Debug("malformed send params, degrading to empty message", "error", err)
		}
	}
	if p.Message == nil || len(p.Message.Parts) == 0 {
		p.Message = &Message{Role: "user", Parts: []Part{{Type: "text", Text: ""}}}
	}
	return p
}

func (h *Handler) handleSend(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	p := decodeSendParams(params)

	agentID := p.AgentID
	if agentID == "" {
		agentID = h.config.DefaultAgentID
	}

	submitted, _, err := h.service.Submit(ctx, orchestrator.SubmitRequest{
		TaskID:  p.ID,
		AgentID: agentID,
		Query:   p.Message.TextContent(),
		Params:  p.Metadata,
	})
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return taskRecord(submitted), nil
}

type taskIDParams struct {
	ID string `json:"id"`
}

func (h *Handler) handleGet(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var p taskIDParams
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "id is required"}
	}

	if t, err := h.service.Task(p.ID); err == nil {
		return taskRecord(t), nil
	}

	// Not a locally owned task; consult the workflow backend directly.
	report, err := h.statuses.Status(ctx, task.ExecutionID(p.ID))
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: "status lookup failed"}
	}
	return map[string]any{
		"id":     p.ID,
		"status": string(report.Status),
		"result": report.Result,
	}, nil
}

func (h *Handler) handleCancel(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var p taskIDParams
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "id is required"}
	}

	cancelled, err := h.service.Cancel(ctx, p.ID)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return taskRecord(cancelled), nil
}

// taskRecord is the wire form of a task.
func taskRecord(t *task.Task) map[string]any {
	record := map[string]any{
		"id":           t.ID,
		"agent_id":     t.AgentID,
		"status":       string(t.Status),
		"execution_id": t.ExecutionID,
		"created_at":   t.CreatedAt,
	}
	if t.Result != nil {
		record["result"] = t.Result
	}
	if t.Err != nil {
		record["error"] = map[string]any{"code": t.Err.Code, "message": t.Err.Message}
	}
	return record
}

func (h *Handler) sendError(w http.ResponseWriter, id any, code int, message string) {
	_ = json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	})
}
