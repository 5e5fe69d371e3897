package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/config"
	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
)

// ============================================================================
// AGENT REGISTRY - In-memory default for the validation/config capabilities
// ============================================================================

// AgentRegistry holds the configured agents and serves as the default
// AgentValidator, ConfigBuilder, and ToolResolver. Agent configuration CRUD
// and persistence stay out of scope; the registry is fed once from YAML.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]config.AgentConfig
}

// NewAgentRegistry builds a registry from the configured agent map.
func NewAgentRegistry(agents map[string]config.AgentConfig) *AgentRegistry {
	reg := &AgentRegistry{agents: make(map[string]config.AgentConfig, len(agents))}
	for id, agent := range agents {
		reg.agents[id] = agent
	}
	return reg
}

// ValidateAgent reports configuration issues for agentID.
func (r *AgentRegistry) ValidateAgent(ctx context.Context, agentID string) []string {
	r.mu.RLock()
	agent, ok := r.agents[agentID]
	r.mu.RUnlock()

	if !ok {
		return []string{fmt.Sprintf("unknown agent: %s", agentID)}
	}

	var issues []string
	if agent.Name == "" {
		issues = append(issues, fmt.Sprintf("agent %s has no name", agentID))
	}
	return issues
}

// BuildConfig assembles the execution configuration for agentID.
func (r *AgentRegistry) BuildConfig(ctx context.Context, agentID string) (*orchestrator.AgentConfig, error) {
	r.mu.RLock()
	agent, ok := r.agents[agentID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no configuration for agent %s", agentID)
	}
	return &orchestrator.AgentConfig{
		AgentID:      agentID,
		Model:        agent.Model,
		Instructions: agent.Instructions,
		Extra:        agent.Extra,
	}, nil
}

// ResolveTools returns the agent's tool configuration. The default registry
// carries none; agents run toolless.
func (r *AgentRegistry) ResolveTools(ctx context.Context, agentID string) ([]orchestrator.ToolConfig, error) {
	return nil, nil
}

// ============================================================================
// SESSIONS
// ============================================================================

// UUIDSessionFactory mints uuid-identified sessions with no backing store.
type UUIDSessionFactory struct{}

// CreateSession creates a session scoped to the spec's task.
func (UUIDSessionFactory) CreateSession(ctx context.Context, spec orchestrator.SessionSpec) (*orchestrator.Session, error) {
	return &orchestrator.Session{
		ID:     uuid.New().String(),
		TaskID: spec.TaskID,
		Params: spec.Params,
	}, nil
}

// ============================================================================
// ECHO BACKEND - Built-in execution backend
// ============================================================================

// EchoBackend is the built-in execution backend: it streams the query back
// word by word. It keeps the platform runnable end to end without any model
// wired in.
type EchoBackend struct{}

// Run streams an echo of the query.
func (EchoBackend) Run(ctx context.Context, cfg *orchestrator.AgentConfig, session *orchestrator.Session, query string) (<-chan orchestrator.Chunk, error) {
	out := make(chan orchestrator.Chunk)
	go func() {
		defer close(out)
		words := strings.Fields(query)
		if len(words) == 0 {
			words = []string{"(empty query)"}
		}
		for i, word := range words {
			if i > 0 {
				word = " " + word
			}
			select {
			case out <- orchestrator.Chunk{Text: word}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
