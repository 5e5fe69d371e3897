package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/event"
)

func TestTracker_WaitResolvesOnCompleted(t *testing.T) {
	bus := event.NewMemoryBus()
	tr := NewTracker(bus)

	tr.Register("t-1")
	go func() {
		_ = bus.Publish(context.Background(), event.Completed{
			Task:   "t-1",
			Result: map[string]any{"text": "pong"},
		})
	}()

	text, err := tr.Wait(context.Background(), "t-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
	assertNoWaiter(t, tr, "t-1")
}

func TestTracker_WaitResolvesOnFailed(t *testing.T) {
	bus := event.NewMemoryBus()
	tr := NewTracker(bus)

	tr.Register("t-1")
	require.NoError(t, bus.Publish(context.Background(), event.Failed{
		Task:      "t-1",
		ErrorCode: ErrCodeExecution,
		Message:   "backend exploded",
	}))

	text, err := tr.Wait(context.Background(), "t-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Task failed: backend exploded", text)
	assertNoWaiter(t, tr, "t-1")
}

func TestTracker_WaitTimeoutCleansRegistry(t *testing.T) {
	bus := event.NewMemoryBus()
	tr := NewTracker(bus)

	tr.Register("t-1")
	_, err := tr.Wait(context.Background(), "t-1", 20*time.Millisecond)
	require.ErrorIs(t, err, ErrWaitTimeout)
	assertNoWaiter(t, tr, "t-1")

	// Timeout is distinct from a task failure and from context cancellation.
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestTracker_WaitWithoutRegister(t *testing.T) {
	tr := NewTracker(event.NewMemoryBus())
	_, err := tr.Wait(context.Background(), "ghost", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestTracker_DuplicateEventIsNoop(t *testing.T) {
	bus := event.NewMemoryBus()
	tr := NewTracker(bus)

	tr.Register("t-1")
	ev := event.Completed{Task: "t-1", Result: map[string]any{"text": "first"}}
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), ev)) // duplicate

	text, err := tr.Wait(context.Background(), "t-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", text)
	assertNoWaiter(t, tr, "t-1")
}

func TestTracker_NoCrossTaskContamination(t *testing.T) {
	bus := event.NewMemoryBus()
	tr := NewTracker(bus)

	const n = 16
	for i := 0; i < n; i++ {
		tr.Register(fmt.Sprintf("t-%d", i))
	}

	// Resolve in reverse order; every waiter must get its own result.
	go func() {
		for i := n - 1; i >= 0; i-- {
			_ = bus.Publish(context.Background(), event.Completed{
				Task:   fmt.Sprintf("t-%d", i),
				Result: map[string]any{"text": fmt.Sprintf("result-%d", i)},
			})
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, n)
	got := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = tr.Wait(context.Background(), fmt.Sprintf("t-%d", i), 2*time.Second)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("result-%d", i), got[i])
	}
}

func TestTracker_EventBeforeRegisterIsBuffered(t *testing.T) {
	bus := event.NewMemoryBus()
	tr := NewTracker(bus)

	// Force the bus subscription before the event fires.
	tr.Register("warmup")

	require.NoError(t, bus.Publish(context.Background(), event.Completed{
		Task:   "early",
		Result: map[string]any{"text": "already done"},
	}))

	tr.Register("early")
	text, err := tr.Wait(context.Background(), "early", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "already done", text)
	assertNoWaiter(t, tr, "early")
}

func TestTracker_DuplicateAfterBufferedResolutionDoesNotBlock(t *testing.T) {
	bus := event.NewMemoryBus()
	tr := NewTracker(bus)

	// Force the bus subscription before the event fires.
	tr.Register("warmup")

	ev := event.Completed{Task: "early", Result: map[string]any{"text": "already done"}}
	require.NoError(t, bus.Publish(context.Background(), ev))

	// Registration drains the buffered outcome into the waiter's channel.
	// A duplicate event for the same id must be dropped, not wedge the
	// publishing bus against the already-full channel.
	tr.Register("early")

	published := make(chan struct{})
	go func() {
		_ = bus.Publish(context.Background(), ev) // duplicate
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("duplicate publish blocked on an already-resolved waiter")
	}

	text, err := tr.Wait(context.Background(), "early", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "already done", text)
	assertNoWaiter(t, tr, "early")

	// The tracker must still function after the duplicate.
	tr.Register("next")
	require.NoError(t, bus.Publish(context.Background(), event.Completed{
		Task:   "next",
		Result: map[string]any{"text": "still alive"},
	}))
	text, err = tr.Wait(context.Background(), "next", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "still alive", text)
}

func TestTracker_ContextCancellationCleansRegistry(t *testing.T) {
	tr := NewTracker(event.NewMemoryBus())
	tr.Register("t-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Wait(ctx, "t-1", time.Second)
	require.True(t, errors.Is(err, context.Canceled))
	assertNoWaiter(t, tr, "t-1")
}

func assertNoWaiter(t *testing.T, tr *Tracker, taskID string) {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	_, ok := tr.waiters[taskID]
	assert.False(t, ok, "waiter for %s must not outlive Wait", taskID)
}
