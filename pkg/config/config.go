// Package config defines the YAML configuration for the gateway: server
// address, agents, workflow engine, event bridging, and logging. Values
// support ${VAR} and ${VAR:-default} environment expansion, with .env files
// loaded first.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIG TYPES
// ============================================================================

// Config is the root configuration document.
type Config struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`

	Server        ServerConfig           `yaml:"server"`
	Logging       LoggingConfig          `yaml:"logging"`
	Agents        map[string]AgentConfig `yaml:"agents"`
	Workflow      WorkflowConfig         `yaml:"workflow"`
	Events        EventsConfig           `yaml:"events"`
	Streaming     StreamingConfig        `yaml:"streaming"`
	Observability ObservabilityConfig    `yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// BaseURL is the externally visible URL advertised in the agent card.
	// Defaults to http://{host}:{port}.
	BaseURL string `yaml:"base_url"`
}

// Address returns the host:port the server binds to.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// AgentConfig declares one servable agent.
type AgentConfig struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Model        string         `yaml:"model"`
	Instructions string         `yaml:"instructions"`
	Extra        map[string]any `yaml:"extra"`
}

// WorkflowConfig configures the durable engine client and the simulation
// fallback.
type WorkflowConfig struct {
	// EngineURL is the durable workflow engine base URL. Empty means every
	// execution runs simulated.
	EngineURL string `yaml:"engine_url"`

	EngineTimeout   time.Duration `yaml:"engine_timeout"`
	SimulationDB    string        `yaml:"simulation_db"`
	CompletionDelay time.Duration `yaml:"completion_delay"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// EventsConfig configures the optional distributed event bridge.
type EventsConfig struct {
	Distributed   bool     `yaml:"distributed"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	KeyPrefix     string   `yaml:"key_prefix"`
}

// StreamingConfig tunes the SSE and polling surfaces.
type StreamingConfig struct {
	ChunkDelay  time.Duration `yaml:"chunk_delay"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	ServiceName    string `yaml:"service_name"`
}

// ============================================================================
// LOADING
// ============================================================================

// Load reads, expands, and validates the configuration at path.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document, expanding environment references in every
// string value before typed decoding.
func Parse(raw []byte) (*Config, error) {
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	expanded, err := yaml.Marshal(ExpandEnvVarsInData(tree))
	if err != nil {
		return nil, fmt.Errorf("re-encode config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a runnable zero-config setup: one echo agent, simulated
// workflow engine, in-memory events.
func Default() *Config {
	cfg := &Config{
		Name:        "helmsman",
		Description: "Task orchestration and A2A protocol gateway",
		Agents: map[string]AgentConfig{
			"assistant": {
				Name:        "Assistant",
				Description: "General-purpose assistant agent",
				Model:       "echo",
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "helmsman"
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.Workflow.EngineTimeout == 0 {
		c.Workflow.EngineTimeout = 30 * time.Second
	}
	if c.Workflow.CompletionDelay == 0 {
		c.Workflow.CompletionDelay = 5 * time.Second
	}
	if c.Workflow.PollInterval == 0 {
		c.Workflow.PollInterval = time.Second
	}
	if c.Events.KeyPrefix == "" {
		c.Events.KeyPrefix = "helmsman/events"
	}
	if c.Streaming.ChunkDelay == 0 {
		c.Streaming.ChunkDelay = 50 * time.Millisecond
	}
	if c.Streaming.WaitTimeout == 0 {
		c.Streaming.WaitTimeout = 120 * time.Second
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = c.Name
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Events.Distributed && len(c.Events.EtcdEndpoints) == 0 {
		return fmt.Errorf("events.distributed requires events.etcd_endpoints")
	}
	for id, agent := range c.Agents {
		if id == "" {
			return fmt.Errorf("agent with empty id")
		}
		if agent.Name == "" {
			return fmt.Errorf("agent %s: name is required", id)
		}
	}
	return nil
}
