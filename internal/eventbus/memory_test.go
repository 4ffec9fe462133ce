package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hydra-run/hydra/pkg/hydraapi"
)

func TestMemoryBusDeliversToSubscriber(t *testing.T) {
	b := NewMemoryBus(nil)
	defer func() { _ = b.Close() }()

	received := make(chan hydraapi.Event, 1)
	sub, err := b.Subscribe("run1", func(ctx context.Context, ev hydraapi.Event) error {
		received <- ev
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "run1", hydraapi.Event{EventType: hydraapi.EvMessage}))

	select {
	case ev := <-received:
		require.Equal(t, hydraapi.EvMessage, ev.EventType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestMemoryBusOnlyDeliversToMatchingRunID(t *testing.T) {
	b := NewMemoryBus(nil)
	defer func() { _ = b.Close() }()

	var mu sync.Mutex
	var calls int
	sub, err := b.Subscribe("run1", func(ctx context.Context, ev hydraapi.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "run2", hydraapi.Event{}))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, calls)
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus(nil)
	defer func() { _ = b.Close() }()

	var mu sync.Mutex
	var calls int
	sub, err := b.Subscribe("run1", func(ctx context.Context, ev hydraapi.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "run1", hydraapi.Event{}))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, calls)
}

func TestMemoryBusPublishAfterCloseFails(t *testing.T) {
	b := NewMemoryBus(nil)
	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), "run1", hydraapi.Event{})
	require.Error(t, err)
}

func TestMemoryBusSubscribeAfterCloseFails(t *testing.T) {
	b := NewMemoryBus(nil)
	require.NoError(t, b.Close())
	_, err := b.Subscribe("run1", func(ctx context.Context, ev hydraapi.Event) error { return nil })
	require.Error(t, err)
}
