package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/httpclient"
)

// RemoteBackend talks to the durable workflow engine over HTTP+JSON.
// Transient engine errors are retried by the underlying client before the
// gateway's simulation fallback kicks in.
type RemoteBackend struct {
	baseURL    string
	httpClient *httpclient.Client
}

// RemoteConfig configures the remote engine client.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// NewRemoteBackend creates a client for the engine at cfg.BaseURL.
func NewRemoteBackend(cfg RemoteConfig) *RemoteBackend {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RemoteBackend{
		baseURL:    cfg.BaseURL,
		httpClient: httpclient.New(httpclient.WithTimeout(cfg.Timeout)),
	}
}

// Start submits the execution to the engine.
func (b *RemoteBackend) Start(ctx context.Context, req *StartRequest) (*Handle, error) {
	var handle Handle
	if err := b.do(ctx, http.MethodPost, "/v1/executions", req, &handle); err != nil {
		return nil, fmt.Errorf("start execution %s: %w", req.ExecutionID, err)
	}
	if handle.ExecutionID == "" {
		handle.ExecutionID = req.ExecutionID
	}
	if handle.Status == "" {
		handle.Status = ExecutionRunning
	}
	return &handle, nil
}

// Status resolves the engine's view of the execution.
func (b *RemoteBackend) Status(ctx context.Context, executionID string) (*StatusReport, error) {
	var report StatusReport
	err := b.do(ctx, http.MethodGet, "/v1/executions/"+executionID, nil, &report)
	if err != nil {
		return nil, fmt.Errorf("execution %s status: %w", executionID, err)
	}
	return &report, nil
}

// Cancel requests cancellation; the engine reports whether it accepted.
func (b *RemoteBackend) Cancel(ctx context.Context, executionID string) (bool, error) {
	var result struct {
		Accepted bool `json:"accepted"`
	}
	err := b.do(ctx, http.MethodPost, "/v1/executions/"+executionID+":cancel", nil, &result)
	if err != nil {
		return false, fmt.Errorf("cancel execution %s: %w", executionID, err)
	}
	return result.Accepted, nil
}

// Healthy probes the engine's health endpoint with a short deadline.
func (b *RemoteBackend) Healthy(ctx context.Context) bool {
	if b.baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// do executes one JSON request/response exchange against the engine.
func (b *RemoteBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		if report, ok := out.(*StatusReport); ok {
			report.Status = ExecutionNotFound
			return nil
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("engine returned %s: %s", resp.Status, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
