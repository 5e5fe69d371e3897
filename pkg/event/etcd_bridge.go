package event

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultKeyPrefix = "helmsman/events"

// EtcdBridgeConfig configures the distributed event bridge.
type EtcdBridgeConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	KeyPrefix   string        `yaml:"key_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// EtcdBridge decorates a Bus so every published event is also written to
// etcd for cross-process observers. Local delivery always happens first and
// is never blocked by bridge state.
//
// The bridge connects lazily on the first publish. A failed connect is
// returned to the caller rather than swallowed; the next publish retries.
type EtcdBridge struct {
	inner  Bus
	config EtcdBridgeConfig

	mu     sync.Mutex
	client *clientv3.Client
}

// NewEtcdBridge wraps inner with an etcd forwarding layer.
func NewEtcdBridge(inner Bus, cfg EtcdBridgeConfig) *EtcdBridge {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &EtcdBridge{
		inner:  inner,
		config: cfg,
	}
}

// Publish delivers ev locally, then forwards its envelope to etcd.
func (b *EtcdBridge) Publish(ctx context.Context, ev Event) error {
	if err := b.inner.Publish(ctx, ev); err != nil {
		return err
	}

	cli, err := b.connect()
	if err != nil {
		return fmt.Errorf("event bridge connect: %w", err)
	}

	env := Wrap(ev)
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("event bridge encode: %w", err)
	}

	key := path.Join(b.config.KeyPrefix, string(env.EventType), env.EventID)
	if _, err := cli.Put(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("event bridge put: %w", err)
	}
	return nil
}

// connect establishes the etcd client on first use and reuses it afterwards.
func (b *EtcdBridge) connect() (*clientv3.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return b.client, nil
	}
	if len(b.config.Endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints configured")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   b.config.Endpoints,
		DialTimeout: b.config.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	b.client = cli
	return cli, nil
}

// Subscribe registers on the local bus; remote observers consume etcd keys.
func (b *EtcdBridge) Subscribe(t Type, h Handler) { b.inner.Subscribe(t, h) }

// Unsubscribe removes a local handler.
func (b *EtcdBridge) Unsubscribe(t Type, h Handler) { b.inner.Unsubscribe(t, h) }

// Close releases the etcd client if one was established.
func (b *EtcdBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}
