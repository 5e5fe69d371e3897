package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
)

// ServeStream handles POST /rpc/stream: it runs the submission to completion
// and replays the result as Server-Sent-Events. The frame sequence is
// connection, one text_chunk per word, then completion; any failure becomes a
// terminal error frame instead of an abrupt close.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Method != http.MethodPost {
		h.sendSSEEvent(w, map[string]any{"type": "error", "message": "POST required"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.sendSSEEvent(w, map[string]any{"type": "error", "message": "failed to read request body"})
		return
	}
	defer r.Body.Close()

	var rpcReq JSONRPCRequest
	if err := json.Unmarshal(body, &rpcReq); err != nil {
		h.sendSSEEvent(w, map[string]any{"type": "error", "message": "request is not a JSON-RPC object"})
		return
	}

	p := decodeSendParams(rpcReq.Params)
	agentID := p.AgentID
	if agentID == "" {
		agentID = h.config.DefaultAgentID
	}

	// Register before triggering the submission so the completion event
	// cannot race past the waiter.
	taskID := p.ID
	if taskID == "" {
		taskID = uuid.New().String()
	}
	h.tracker.Register(taskID)

	submitted, _, err := h.service.Submit(r.Context(), orchestrator.SubmitRequest{
		TaskID:  taskID,
		AgentID: agentID,
		Query:   p.Message.TextContent(),
		Params:  p.Metadata,
	})
	if err != nil {
		h.sendSSEEvent(w, map[string]any{"type": "error", "message": err.Error()})
		return
	}

	h.sendSSEEvent(w, map[string]any{
		"type":     "connection",
		"task_id":  submitted.ID,
		"agent_id": submitted.AgentID,
	})

	text, err := h.tracker.Wait(r.Context(), submitted.ID, h.config.WaitTimeout)
	if err != nil {
		slog.Warn("stream wait failed", "task_id", submitted.ID, "error", err)
		h.sendSSEEvent(w, map[string]any{
			"type":    "error",
			"task_id": submitted.ID,
			"message": "task did not complete in time",
		})
		return
	}

	for _, word := range strings.Fields(text) {
		h.sendSSEEvent(w, map[string]any{
			"type":    "text_chunk",
			"task_id": submitted.ID,
			"text":    word,
		})
		time.Sleep(h.config.ChunkDelay)
	}

	h.sendSSEEvent(w, map[string]any{
		"type":    "completion",
		"task_id": submitted.ID,
		"text":    text,
	})
}

// sendSSEEvent writes one data frame and flushes it to the client.
func (h *Handler) sendSSEEvent(w http.ResponseWriter, payload map[string]any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if _, err := w.Write([]byte("data: " + string(encoded) + "\n\n")); err != nil {
		return
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
