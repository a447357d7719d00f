package domain

import (
	"context"
	"time"
)

// SegmentCache holds the most recent segment set, whole and by type.
type SegmentCache interface {
	SetSegments(ctx context.Context, segments []Segment, ttl time.Duration) error
	// GetSegments returns the cached set for t, or every segment when t is
	// empty. A miss returns ErrNotFound.
	GetSegments(ctx context.Context, t SegmentType) ([]Segment, error)
	Invalidate(ctx context.Context) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// MessageBus provides pub/sub and durable streams across processes.
type MessageBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
