package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ametller/crewd/pkg/ports"
)

// EventBus delivers events to in-process subscribers. Delivery is
// asynchronous per event so a slow handler never blocks a publisher.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]ports.EventHandler
	closed   bool
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewEventBus creates an in-memory event bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		handlers: make(map[string][]ports.EventHandler),
		logger:   logger,
	}
}

// Publish delivers the event to every handler subscribed to the topic.
func (b *EventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	handlers := make([]ports.EventHandler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	for _, handler := range handlers {
		h := handler
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := h(ctx, event); err != nil {
				b.logger.Warn("event handler failed",
					zap.String("topic", topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}()
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (b *EventBus) Subscribe(_ context.Context, topic string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Unsubscribe drops every handler for a topic.
func (b *EventBus) Unsubscribe(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

// Close stops accepting publishes and waits for in-flight deliveries.
func (b *EventBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handlers = make(map[string][]ports.EventHandler)
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
