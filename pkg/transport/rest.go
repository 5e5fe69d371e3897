package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
	"github.com/helmsman-ai/helmsman/pkg/task"
)

// restSubmitRequest is the REST fallback submission body.
type restSubmitRequest struct {
	ID      string         `json:"id"`
	AgentID string         `json:"agent_id"`
	Query   string         `json:"query"`
	Params  map[string]any `json:"parameters"`

	// Wait blocks the request on completion using the bounded poller.
	Wait        bool `json:"wait"`
	MaxAttempts int  `json:"max_attempts"`
}

// MountREST registers the REST fallback routes on r. These mirror the
// JSON-RPC surface for clients that cannot speak it.
func (h *Handler) MountREST(r chi.Router) {
	r.Post("/v1/tasks", h.restSubmit)
	r.Get("/v1/tasks/{id}", h.restGet)
	r.Post("/v1/tasks/{id}:cancel", h.restCancel)
	r.Get("/v1/info", h.restInfo)
	r.Get(WellKnownCardPath, h.restInfo)
	r.Get("/health", h.restHealth)
}

func (h *Handler) restSubmit(w http.ResponseWriter, r *http.Request) {
	var req restSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = h.config.DefaultAgentID
	}

	submitted, _, err := h.service.Submit(r.Context(), orchestrator.SubmitRequest{
		TaskID:  req.ID,
		AgentID: agentID,
		Query:   req.Query,
		Params:  req.Params,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	if req.Wait {
		attempts := req.MaxAttempts
		if attempts <= 0 {
			attempts = 30
		}
		writeJSON(w, http.StatusOK, h.PollForCompletion(r.Context(), submitted.ID, attempts))
		return
	}
	writeJSON(w, http.StatusAccepted, taskRecord(submitted))
}

func (h *Handler) restGet(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	if t, err := h.service.Task(taskID); err == nil {
		writeJSON(w, http.StatusOK, taskRecord(t))
		return
	}

	report, err := h.statuses.Status(r.Context(), task.ExecutionID(taskID))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "status lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     taskID,
		"status": string(report.Status),
		"result": report.Result,
	})
}

func (h *Handler) restCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	cancelled, err := h.service.Cancel(r.Context(), taskID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, taskRecord(cancelled))
}

func (h *Handler) restInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config.Card)
}

func (h *Handler) restHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
