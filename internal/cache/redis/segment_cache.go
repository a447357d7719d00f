package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// SegmentCache implements domain.SegmentCache with JSON hashes.
//
// Key schema:
//
//	routes:segments:latest - hash, field "data" holds every segment
//	routes:segments:{type} - hash, field "data" holds segments of one type
type SegmentCache struct {
	c *Client
}

// NewSegmentCache creates a SegmentCache backed by c.
func NewSegmentCache(c *Client) *SegmentCache {
	return &SegmentCache{c: c}
}

const latestKey = "latest"

func (sc *SegmentCache) segmentKey(name string) string {
	return sc.c.key("routes", "segments", name)
}

// SetSegments replaces the cached set and every per-type entry in one
// transaction. Types absent from segments are removed.
func (sc *SegmentCache) SetSegments(ctx context.Context, segments []domain.Segment, ttl time.Duration) error {
	byType := make(map[domain.SegmentType][]domain.Segment)
	for _, s := range segments {
		byType[s.Type] = append(byType[s.Type], s)
	}

	all, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("redis: marshal segments: %w", err)
	}

	pipe := sc.c.rdb.TxPipeline()
	pipe.HSet(ctx, sc.segmentKey(latestKey), "data", all)
	pipe.Expire(ctx, sc.segmentKey(latestKey), ttl)
	for _, t := range domain.SegmentTypes {
		key := sc.segmentKey(string(t))
		segs, ok := byType[t]
		if !ok {
			pipe.Del(ctx, key)
			continue
		}
		data, err := json.Marshal(segs)
		if err != nil {
			return fmt.Errorf("redis: marshal %s segments: %w", t, err)
		}
		pipe.HSet(ctx, key, "data", data)
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set segments: %w", err)
	}
	return nil
}

// GetSegments returns the cached set for t, or every segment when t is
// empty. A miss returns domain.ErrNotFound.
func (sc *SegmentCache) GetSegments(ctx context.Context, t domain.SegmentType) ([]domain.Segment, error) {
	name := latestKey
	if t != "" {
		name = string(t)
	}
	data, err := sc.c.rdb.HGet(ctx, sc.segmentKey(name), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get segments %s: %w", name, err)
	}
	var segs []domain.Segment
	if err := json.Unmarshal(data, &segs); err != nil {
		return nil, fmt.Errorf("redis: unmarshal segments %s: %w", name, err)
	}
	return segs, nil
}

// Invalidate drops every cached segment key.
func (sc *SegmentCache) Invalidate(ctx context.Context) error {
	keys := []string{sc.segmentKey(latestKey)}
	for _, t := range domain.SegmentTypes {
		keys = append(keys, sc.segmentKey(string(t)))
	}
	if err := sc.c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate segments: %w", err)
	}
	return nil
}

var _ domain.SegmentCache = (*SegmentCache)(nil)
