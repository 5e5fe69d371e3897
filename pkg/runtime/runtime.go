// Package runtime constructs the whole platform from configuration: event
// bus, workflow gateway, completion tracker, orchestrator, protocol handler,
// and HTTP server.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/config"
	"github.com/helmsman-ai/helmsman/pkg/event"
	"github.com/helmsman-ai/helmsman/pkg/observability"
	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
	"github.com/helmsman-ai/helmsman/pkg/server"
	"github.com/helmsman-ai/helmsman/pkg/task"
	"github.com/helmsman-ai/helmsman/pkg/transport"
	"github.com/helmsman-ai/helmsman/pkg/workflow"
)

// Runtime holds the assembled components for one process.
type Runtime struct {
	Config       *config.Config
	Bus          event.Bus
	Tracker      *task.Tracker
	Gateway      *workflow.Gateway
	Orchestrator *orchestrator.Orchestrator
	Handler      *transport.Handler
	Metrics      *observability.Metrics
	Server       *server.Server

	closers []func() error
}

// New wires every component from cfg.
func New(cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	// Event bus, optionally bridged to etcd for external observers.
	var bus event.Bus = event.NewMemoryBus()
	if cfg.Events.Distributed {
		bridge := event.NewEtcdBridge(bus, event.EtcdBridgeConfig{
			Endpoints: cfg.Events.EtcdEndpoints,
			KeyPrefix: cfg.Events.KeyPrefix,
		})
		rt.closers = append(rt.closers, bridge.Close)
		bus = bridge
	}
	rt.Bus = bus
	rt.Tracker = task.NewTracker(bus)

	// Workflow gateway over the durable engine with simulation fallback.
	sim, err := workflow.NewSimulatedBackend(cfg.Workflow.SimulationDB, cfg.Workflow.CompletionDelay)
	if err != nil {
		return nil, fmt.Errorf("init simulation store: %w", err)
	}
	rt.closers = append(rt.closers, sim.Close)

	var remote workflow.Backend
	if cfg.Workflow.EngineURL != "" {
		remote = workflow.NewRemoteBackend(workflow.RemoteConfig{
			BaseURL: cfg.Workflow.EngineURL,
			Timeout: cfg.Workflow.EngineTimeout,
		})
	}
	rt.Gateway = workflow.NewGateway(remote, sim)

	// Orchestrator with the in-memory default collaborators.
	registry := NewAgentRegistry(cfg.Agents)
	rt.Orchestrator = orchestrator.New(orchestrator.Config{
		Bus:          bus,
		Gateway:      rt.Gateway,
		Validator:    registry,
		Configs:      registry,
		Sessions:     UUIDSessionFactory{},
		Tools:        registry,
		Backend:      EchoBackend{},
		PollInterval: cfg.Workflow.PollInterval,
	})

	// Metrics observe the bus alongside everything else.
	rt.Metrics = observability.NewMetrics(cfg.Observability.MetricsEnabled)
	observeBus(bus, rt.Metrics)

	rt.Handler = transport.NewHandler(transport.HandlerConfig{
		Card:           buildAgentCard(cfg),
		DefaultAgentID: defaultAgentID(cfg),
		ChunkDelay:     cfg.Streaming.ChunkDelay,
		WaitTimeout:    cfg.Streaming.WaitTimeout,
	}, rt.Orchestrator, rt.Gateway, rt.Tracker)

	rt.Server = server.New(server.Config{Address: cfg.Server.Address()}, rt.Handler, rt.Metrics)
	return rt, nil
}

// Run starts tracing and serves HTTP until ctx is cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	shutdownTracer, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:     rt.Config.Observability.TracingEnabled,
		ServiceName: rt.Config.Observability.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

	return rt.Server.Run(ctx)
}

// Close releases the runtime's resources.
func (rt *Runtime) Close() error {
	var firstErr error
	for _, closer := range rt.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// observeBus counts published events and terminal task outcomes.
func observeBus(bus event.Bus, metrics *observability.Metrics) {
	for _, t := range []event.Type{event.TypeStatusChanged, event.TypeCompleted, event.TypeFailed, event.TypeProgress} {
		eventType := t
		bus.Subscribe(eventType, func(ctx context.Context, ev event.Event) error {
			metrics.RecordEvent(string(eventType))
			return nil
		})
	}
	bus.Subscribe(event.TypeCompleted, func(ctx context.Context, ev event.Event) error {
		metrics.RecordTask(string(task.StatusCompleted))
		return nil
	})
	bus.Subscribe(event.TypeFailed, func(ctx context.Context, ev event.Event) error {
		metrics.RecordTask(string(task.StatusFailed))
		return nil
	})
}

// buildAgentCard derives the served agent card from configuration.
func buildAgentCard(cfg *config.Config) transport.AgentCard {
	skills := make([]transport.Skill, 0, len(cfg.Agents))
	for id, agent := range cfg.Agents {
		skills = append(skills, transport.Skill{
			ID:          id,
			Name:        agent.Name,
			Description: agent.Description,
			InputModes:  []string{"text"},
			OutputModes: []string{"text"},
		})
	}

	return transport.AgentCard{
		Name:        cfg.Name,
		Description: cfg.Description,
		URL:         cfg.Server.BaseURL,
		Version:     cfg.Version,
		Capabilities: transport.Capabilities{
			Streaming: true,
		},
		Provider: &transport.Provider{Organization: cfg.Name},
		Skills:   skills,
	}
}

// defaultAgentID picks the agent unnamed submissions go to. With exactly one
// agent configured the choice is obvious; otherwise "assistant" wins if
// present, else the lexically first id.
func defaultAgentID(cfg *config.Config) string {
	if _, ok := cfg.Agents["assistant"]; ok {
		return "assistant"
	}
	best := ""
	for id := range cfg.Agents {
		if best == "" || id < best {
			best = id
		}
	}
	return best
}
