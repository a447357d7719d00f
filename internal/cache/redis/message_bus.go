package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// Execution event fan-out names.
const (
	ChannelExecution = "ch:execution"
	StreamExecution  = "stream:execution"
)

// streamMaxLen caps streams approximately via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// MessageBus implements domain.MessageBus: pub/sub for live listeners and a
// capped stream for late readers.
type MessageBus struct {
	rdb *redis.Client
}

// NewMessageBus creates a MessageBus backed by c.
func NewMessageBus(c *Client) *MessageBus {
	return &MessageBus{rdb: c.Underlying()}
}

// Publish sends payload to a pub/sub channel.
func (mb *MessageBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := mb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. Glob
// patterns use PSUBSCRIBE. The returned channel closes when ctx ends.
func (mb *MessageBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = mb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = mb.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream.
func (mb *MessageBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := mb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count entries after lastID ("0" for the start).
// An empty stream is not an error.
func (mb *MessageBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := mb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

var _ domain.MessageBus = (*MessageBus)(nil)

// EventPublisher forwards execution lifecycle events to other processes.
// Failures are logged and dropped.
type EventPublisher struct {
	bus    domain.MessageBus
	logger *slog.Logger
}

// NewEventPublisher creates an EventPublisher writing to bus.
func NewEventPublisher(bus domain.MessageBus, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{bus: bus, logger: logger.With(slog.String("component", "redis_events"))}
}

// Publish marshals ev onto ChannelExecution and StreamExecution.
func (p *EventPublisher) Publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := p.bus.Publish(ctx, ChannelExecution, payload); err != nil {
		p.logger.WarnContext(ctx, "publish event failed",
			slog.String("execution_id", ev.ExecutionID),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, StreamExecution, payload); err != nil {
		p.logger.WarnContext(ctx, "stream event failed",
			slog.String("execution_id", ev.ExecutionID),
			slog.String("error", err.Error()),
		)
	}
}

var _ domain.EventPublisher = (*EventPublisher)(nil)
