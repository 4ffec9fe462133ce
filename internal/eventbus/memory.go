package eventbus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hydra-run/hydra/internal/common/logger"
	"github.com/hydra-run/hydra/pkg/hydraapi"
)

// MemoryBus is an in-process Bus backed by plain Go maps and goroutines.
// It is the default for `hydra` running as a single local process.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySubscription
	closed        bool
	log           *logger.Logger
}

type memorySubscription struct {
	bus     *MemoryBus
	runID   string
	handler Handler
	mu      sync.Mutex
	active  bool
}

func (s *memorySubscription) Unsubscribe() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscriptions[s.runID]
	for i, sub := range subs {
		if sub == s {
			s.bus.subscriptions[s.runID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// NewMemoryBus constructs an empty MemoryBus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		subscriptions: make(map[string][]*memorySubscription),
		log:           log.With(zap.String("component", "eventbus_memory")),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, runID string, ev hydraapi.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subscriptions[runID] {
		sub.mu.Lock()
		active := sub.active
		sub.mu.Unlock()
		if !active {
			continue
		}
		go func(s *memorySubscription) {
			if err := s.handler(ctx, ev); err != nil {
				b.log.Warn("event handler returned an error",
					zap.String("run_id", runID), zap.Error(err))
			}
		}(sub)
	}
	return nil
}

func (b *MemoryBus) Subscribe(runID string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}
	sub := &memorySubscription{bus: b, runID: runID, handler: handler, active: true}
	b.subscriptions[runID] = append(b.subscriptions[runID], sub)
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		}
	}
	b.subscriptions = make(map[string][]*memorySubscription)
	return nil
}
