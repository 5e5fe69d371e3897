package event

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
)

// Handler processes a single event. Handlers for one publish call run
// sequentially in subscription order; an error from one handler is logged
// and does not prevent the remaining handlers from running.
type Handler func(ctx context.Context, ev Event) error

// Bus routes events to handlers registered per event type.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(t Type, h Handler)
	Unsubscribe(t Type, h Handler)
}

// MemoryBus is the in-process Bus implementation. It is safe for concurrent
// use: publishes from different goroutines do not serialize against each
// other, and subscribe/unsubscribe may race with in-flight publishes.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewMemoryBus creates an empty in-process event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		handlers: make(map[Type][]Handler),
	}
}

// Publish delivers ev to every handler subscribed to its type, in
// subscription order. Handler failures are isolated: they are logged and the
// remaining handlers still run. The subscriber list is snapshotted before
// delivery so a concurrent subscribe/unsubscribe cannot tear the iteration.
func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	registered := b.handlers[ev.Type()]
	handlers := make([]Handler, len(registered))
	copy(handlers, registered)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, h, ev)
	}
	return nil
}

// invoke runs a single handler, containing both errors and panics.
func (b *MemoryBus) invoke(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event_type", ev.Type(), "task_id", ev.TaskID(), "panic", r)
		}
	}()

	if err := h(ctx, ev); err != nil {
		slog.Error("event handler failed", "event_type", ev.Type(), "task_id", ev.TaskID(), "error", err)
	}
}

// Subscribe appends h to the handler list for t.
func (b *MemoryBus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Unsubscribe removes h from the handler list for t. Removing a handler that
// was never subscribed is a no-op.
func (b *MemoryBus) Unsubscribe(t Type, h Handler) {
	target := reflect.ValueOf(h).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[t]
	for i, registered := range handlers {
		if reflect.ValueOf(registered).Pointer() == target {
			b.handlers[t] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}
