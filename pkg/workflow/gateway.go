package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/task"
)

// Gateway fronts the durable engine with a degraded-but-progressing policy:
// starts fall back to the local simulation on any engine error, and callers
// never see backend unavailability. It remembers which backend owns each
// execution so status and cancel land on the right one.
type Gateway struct {
	remote Backend
	sim    Backend

	mu     sync.RWMutex
	owners map[string]Backend
}

// NewGateway builds a gateway over the two backends. remote may be nil, in
// which case every execution is simulated.
func NewGateway(remote, sim Backend) *Gateway {
	return &Gateway{
		remote: remote,
		sim:    sim,
		owners: make(map[string]Backend),
	}
}

// Start derives a structured request from executionID and begins the
// execution. Two deliberate degradations, neither fatal to the caller:
//
//   - an execution id that does not embed a valid task id gets a freshly
//     generated one (logged, not failed);
//   - any engine error downgrades the run to the local simulation.
func (g *Gateway) Start(ctx context.Context, executionID string, req *StartRequest) (*Handle, error) {
	taskID, err := task.ParseExecutionID(executionID)
	if err != nil {
		taskID = uuid.New().String()
		slog.Warn("execution id did not embed a valid task id, substituting a fresh one",
			"execution_id", executionID, "substituted_task_id", taskID, "error", err)
	}

	started := &StartRequest{
		ExecutionID: executionID,
		TaskID:      taskID,
		AgentID:     req.AgentID,
		Query:       req.Query,
		Params:      req.Params,
	}

	if g.remote != nil && g.remote.Healthy(ctx) {
		handle, err := g.remote.Start(ctx, started)
		if err == nil {
			g.setOwner(executionID, g.remote)
			return handle, nil
		}
		slog.Warn("workflow engine rejected execution, falling back to simulation",
			"execution_id", executionID, "error", err)
	}

	handle, err := g.sim.Start(ctx, started)
	if err != nil {
		return nil, err
	}
	g.setOwner(executionID, g.sim)
	return handle, nil
}

// Status resolves the execution's state from its owning backend. Executions
// this gateway did not start are looked up remote-first, then simulated.
func (g *Gateway) Status(ctx context.Context, executionID string) (*StatusReport, error) {
	if owner := g.owner(executionID); owner != nil {
		return g.statusFrom(ctx, owner, executionID)
	}

	if g.remote != nil && g.remote.Healthy(ctx) {
		if report, err := g.remote.Status(ctx, executionID); err == nil && report.Status != ExecutionNotFound {
			return report, nil
		}
	}
	return g.statusFrom(ctx, g.sim, executionID)
}

// statusFrom queries one backend, downgrading remote errors to a simulated
// lookup so the caller still gets an answer.
func (g *Gateway) statusFrom(ctx context.Context, backend Backend, executionID string) (*StatusReport, error) {
	report, err := backend.Status(ctx, executionID)
	if err == nil {
		return report, nil
	}
	if backend == g.sim {
		return nil, err
	}
	slog.Warn("workflow engine status lookup failed, consulting simulation store",
		"execution_id", executionID, "error", err)
	return g.sim.Status(ctx, executionID)
}

// Cancel is best-effort: it guarantees the gateway's bookkeeping, not that
// the underlying execution stops immediately.
func (g *Gateway) Cancel(ctx context.Context, executionID string) (bool, error) {
	backend := g.owner(executionID)
	if backend == nil {
		backend = g.sim
	}
	accepted, err := backend.Cancel(ctx, executionID)
	if err != nil && backend != g.sim {
		slog.Warn("workflow engine cancel failed, marking simulated record",
			"execution_id", executionID, "error", err)
		return g.sim.Cancel(ctx, executionID)
	}
	return accepted, err
}

func (g *Gateway) owner(executionID string) Backend {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.owners[executionID]
}

func (g *Gateway) setOwner(executionID string, backend Backend) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owners[executionID] = backend
}
