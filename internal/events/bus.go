// Package events fans orchestrator lifecycle events out to in-process
// subscribers. Handlers run asynchronously so a slow subscriber never holds
// up an execution.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// TopicAll receives every event regardless of type.
const TopicAll = "execution.*"

// Handler consumes one event.
type Handler func(ctx context.Context, ev domain.Event)

// Bus publishes each event on its type topic and on TopicAll.
type Bus struct {
	bus    evbus.Bus
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		bus:    evbus.New(),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Subscribe registers h for topic, which is an event type or TopicAll.
func (b *Bus) Subscribe(topic string, name string, h Handler) error {
	log := b.logger.With(slog.String("subscriber", name), slog.String("topic", topic))
	fn := func(ctx context.Context, ev domain.Event) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(ctx, "event handler panicked",
					slog.String("event", ev.Type),
					slog.String("execution_id", ev.ExecutionID),
					slog.String("panic", fmt.Sprint(r)),
				)
			}
		}()
		h(ctx, ev)
	}
	if err := b.bus.SubscribeAsync(topic, fn, false); err != nil {
		return fmt.Errorf("events: subscribe %s to %s: %w", name, topic, err)
	}
	return nil
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(name string, h Handler) error {
	return b.Subscribe(TopicAll, name, h)
}

// Publish implements domain.EventPublisher. Events published after Close are
// dropped.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.bus.Publish(ev.Type, ctx, ev)
	b.bus.Publish(TopicAll, ctx, ev)
}

// Close stops accepting events and waits for running handlers.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.bus.WaitAsync()
}

var _ domain.EventPublisher = (*Bus)(nil)
