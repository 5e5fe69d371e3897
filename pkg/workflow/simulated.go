package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultCompletionDelay is how long a simulated execution reports running
// before it synthesizes a completed result.
const DefaultCompletionDelay = 5 * time.Second

const createSimTableSQL = `
CREATE TABLE IF NOT EXISTS sim_executions (
    execution_id VARCHAR(255) PRIMARY KEY,
    agent_id VARCHAR(255) NOT NULL,
    query TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    status VARCHAR(32) NOT NULL
)`

// SimulatedBackend records executions in a local sqlite scratch store and
// plays them forward on a timer. It exists so the orchestrator can proceed
// uniformly when the real engine is down: every simulated execution reaches
// a terminal state in bounded time, never an error.
type SimulatedBackend struct {
	db    *sql.DB
	delay time.Duration
}

// NewSimulatedBackend opens (or creates) the scratch store at path. Use
// ":memory:" for an ephemeral store.
func NewSimulatedBackend(path string, delay time.Duration) (*SimulatedBackend, error) {
	if path == "" {
		path = ":memory:"
	}
	if delay <= 0 {
		delay = DefaultCompletionDelay
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open simulation store: %w", err)
	}
	// sqlite serializes writers; a single connection avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createSimTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init simulation store: %w", err)
	}

	return &SimulatedBackend{db: db, delay: delay}, nil
}

// Start persists the execution record with a running status.
func (b *SimulatedBackend) Start(ctx context.Context, req *StartRequest) (*Handle, error) {
	now := time.Now().UTC()
	_, err := b.db.ExecContext(ctx, `
INSERT INTO sim_executions (execution_id, agent_id, query, started_at, status)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(execution_id) DO UPDATE SET
    agent_id = excluded.agent_id,
    query = excluded.query,
    started_at = excluded.started_at,
    status = excluded.status
`, req.ExecutionID, req.AgentID, req.Query, now, string(ExecutionRunning))
	if err != nil {
		return nil, fmt.Errorf("record simulated execution: %w", err)
	}

	return &Handle{
		ExecutionID: req.ExecutionID,
		WorkflowID:  "sim-" + req.ExecutionID,
		Status:      ExecutionRunning,
		Simulated:   true,
		StartedAt:   now,
	}, nil
}

// Status reports running until the completion delay has elapsed, then a
// synthesized completed result. An unknown execution id reports not_found.
func (b *SimulatedBackend) Status(ctx context.Context, executionID string) (*StatusReport, error) {
	var (
		agentID   string
		query     string
		startedAt time.Time
		status    string
	)
	row := b.db.QueryRowContext(ctx, `
SELECT agent_id, query, started_at, status FROM sim_executions WHERE execution_id = ?
`, executionID)
	if err := row.Scan(&agentID, &query, &startedAt, &status); err != nil {
		if err == sql.ErrNoRows {
			return &StatusReport{Status: ExecutionNotFound}, nil
		}
		return nil, fmt.Errorf("read simulated execution: %w", err)
	}

	if ExecutionStatus(status) == ExecutionCancelled {
		return &StatusReport{Status: ExecutionCancelled}, nil
	}

	elapsed := time.Since(startedAt)
	if elapsed < b.delay {
		return &StatusReport{Status: ExecutionRunning}, nil
	}

	return &StatusReport{
		Status: ExecutionCompleted,
		Result: map[string]any{
			"text": fmt.Sprintf(
				"Simulated execution for agent %s completed after %s. The workflow engine was unavailable when this task started; the result was produced locally. Query: %s",
				agentID, elapsed.Round(time.Millisecond), query),
			"simulated": true,
		},
	}, nil
}

// Cancel always succeeds on the simulated path; there is no real work to
// stop, only the record to mark.
func (b *SimulatedBackend) Cancel(ctx context.Context, executionID string) (bool, error) {
	_, err := b.db.ExecContext(ctx, `
UPDATE sim_executions SET status = ? WHERE execution_id = ?
`, string(ExecutionCancelled), executionID)
	if err != nil {
		return false, fmt.Errorf("cancel simulated execution: %w", err)
	}
	return true, nil
}

// Healthy is always true; the scratch store is local.
func (b *SimulatedBackend) Healthy(ctx context.Context) bool { return true }

// Close releases the scratch store.
func (b *SimulatedBackend) Close() error { return b.db.Close() }
