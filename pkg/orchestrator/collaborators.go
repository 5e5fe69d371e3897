package orchestrator

import (
	"context"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ============================================================================
// COLLABORATOR INTERFACES - External capabilities the orchestrator consumes
// ============================================================================

// AgentConfig is the built execution configuration for one agent. How it is
// stored and assembled is outside this package; the orchestrator only carries
// it from the builder to the execution backend.
type AgentConfig struct {
	AgentID      string
	Model        string
	Instructions string
	Extra        map[string]any
}

// SessionSpec scopes an execution session to one task.
type SessionSpec struct {
	TaskID string
	Params map[string]any
}

// Session is a live execution session handle.
type Session struct {
	ID     string
	TaskID string
	Params map[string]any
}

// ToolConfig describes one resolved tool source (MCP server, builtin, custom).
type ToolConfig struct {
	Name   string
	Kind   string
	Source string
}

// Chunk is one intermediate item from a streaming execution. Exactly one of
// Text/Data/Err is expected to be meaningful per chunk; a non-nil Err ends
// the stream as a failure.
type Chunk struct {
	Text string
	Data map[string]any
	Err  error
}

// AgentValidator checks that an agent is known and its configuration is
// usable. A non-empty slice of issues fails the task before any side effects.
type AgentValidator interface {
	ValidateAgent(ctx context.Context, agentID string) []string
}

// ConfigBuilder assembles the execution configuration for an agent.
type ConfigBuilder interface {
	BuildConfig(ctx context.Context, agentID string) (*AgentConfig, error)
}

// SessionFactory creates execution sessions.
type SessionFactory interface {
	CreateSession(ctx context.Context, spec SessionSpec) (*Session, error)
}

// ToolResolver resolves the tool configuration available to an agent. An
// empty result is valid; agents may run without tools.
type ToolResolver interface {
	ResolveTools(ctx context.Context, agentID string) ([]ToolConfig, error)
}

// ExecutionBackend performs the actual reasoning for a task as a stream of
// intermediate chunks. The returned channel is closed when the run ends.
type ExecutionBackend interface {
	Run(ctx context.Context, cfg *AgentConfig, session *Session, query string) (<-chan Chunk, error)
}

// ============================================================================
// EXECUTION OPTIONS - Typed view of the opaque task parameters
// ============================================================================

// execOptions is the subset of task parameters the orchestrator itself acts
// on. Everything else in the params map passes through untouched.
type execOptions struct {
	Durable      bool          `mapstructure:"durable"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// decodeOptions extracts typed options from the opaque params map. Unknown
// keys and decode failures are ignored; options are advisory, never a reason
// to reject a submission.
func decodeOptions(params map[string]any) execOptions {
	var opts execOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return opts
	}
	_ = decoder.Decode(params)
	return opts
}
