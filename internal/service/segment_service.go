package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/google/uuid"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/validation"
)

const ingestLockKey = "segments:ingest"

// SegmentMetrics receives cache and ingest counters.
type SegmentMetrics interface {
	RecordCacheLookup(layer string, hit bool)
	RecordIngest(n int)
}

// SegmentServiceConfig holds cache lifetimes.
type SegmentServiceConfig struct {
	// CacheTTL is the redis entry lifetime.
	CacheTTL time.Duration
	// LocalTTL is the in-process snapshot lifetime.
	LocalTTL time.Duration
	// LockTTL bounds how long one ingest may hold the refresh lock.
	LockTTL time.Duration
}

// SegmentService is the engine's Segment Source. Reads go through an
// in-process snapshot, then redis, then the store. Ingest writes the store
// and refreshes both caches.
type SegmentService struct {
	store     domain.SegmentStore
	snapshots domain.SnapshotStore
	cache     domain.SegmentCache
	locks     domain.LockManager
	metrics   SegmentMetrics
	local     *bigcache.BigCache
	cfg       SegmentServiceConfig
	logger    *slog.Logger
	now       func() time.Time
}

// SegmentOption configures optional collaborators.
type SegmentOption func(*SegmentService)

// WithSnapshots records a snapshot after every ingest.
func WithSnapshots(s domain.SnapshotStore) SegmentOption {
	return func(svc *SegmentService) { svc.snapshots = s }
}

// WithSegmentCache adds a shared cache between the process and the store.
func WithSegmentCache(c domain.SegmentCache) SegmentOption {
	return func(svc *SegmentService) { svc.cache = c }
}

// WithLocks serialises ingest across processes.
func WithLocks(l domain.LockManager) SegmentOption {
	return func(svc *SegmentService) { svc.locks = l }
}

// WithSegmentMetrics reports cache hits and ingest volume.
func WithSegmentMetrics(m SegmentMetrics) SegmentOption {
	return func(svc *SegmentService) { svc.metrics = m }
}

// NewSegmentService creates a SegmentService over store.
func NewSegmentService(ctx context.Context, store domain.SegmentStore, cfg SegmentServiceConfig, logger *slog.Logger, opts ...SegmentOption) (*SegmentService, error) {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = 2 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}

	bc := bigcache.DefaultConfig(cfg.LocalTTL)
	bc.Shards = 16
	bc.MaxEntriesInWindow = 64
	bc.MaxEntrySize = 64 * 1024
	bc.CleanWindow = cfg.LocalTTL
	bc.Verbose = false
	local, err := bigcache.New(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("segment_service: local cache: %w", err)
	}

	s := &SegmentService{
		store:  store,
		local:  local,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "segment_service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the in-process cache.
func (s *SegmentService) Close() error {
	return s.local.Close()
}

func localKey(t domain.SegmentType) string {
	if t == "" {
		return "all"
	}
	return string(t)
}

// ListSegments implements domain.SegmentSource.
func (s *SegmentService) ListSegments(ctx context.Context, filter domain.SegmentFilter) ([]domain.Segment, error) {
	segs, err := s.snapshot(ctx, filter.Type)
	if err != nil {
		return nil, err
	}
	return applyFilter(segs, filter), nil
}

// snapshot returns every segment of type t (all types when empty).
func (s *SegmentService) snapshot(ctx context.Context, t domain.SegmentType) ([]domain.Segment, error) {
	key := localKey(t)
	if raw, err := s.local.Get(key); err == nil {
		var segs []domain.Segment
		if err := json.Unmarshal(raw, &segs); err == nil {
			s.recordLookup("local", true)
			return segs, nil
		}
	}
	s.recordLookup("local", false)

	if s.cache != nil {
		segs, err := s.cache.GetSegments(ctx, t)
		switch {
		case err == nil:
			s.recordLookup("redis", true)
			s.storeLocal(key, segs)
			return segs, nil
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "segment cache read failed",
				slog.String("segment_type", key),
				slog.String("error", err.Error()),
			)
		}
		s.recordLookup("redis", false)
	}

	segs, err := s.store.List(ctx, domain.SegmentFilter{Type: t})
	if err != nil {
		return nil, fmt.Errorf("segment_service: list %s: %w", key, err)
	}
	if t == "" && s.cache != nil && len(segs) > 0 {
		if err := s.cache.SetSegments(ctx, segs, s.cfg.CacheTTL); err != nil {
			s.logger.WarnContext(ctx, "segment cache back-fill failed", slog.String("error", err.Error()))
		}
	}
	s.storeLocal(key, segs)
	return segs, nil
}

func (s *SegmentService) storeLocal(key string, segs []domain.Segment) {
	raw, err := json.Marshal(segs)
	if err != nil {
		return
	}
	if err := s.local.Set(key, raw); err != nil {
		s.logger.Debug("local segment cache set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (s *SegmentService) recordLookup(layer string, hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(layer, hit)
	}
}

func applyFilter(segs []domain.Segment, f domain.SegmentFilter) []domain.Segment {
	out := make([]domain.Segment, 0, len(segs))
	for _, seg := range segs {
		if !f.Matches(seg) {
			continue
		}
		out = append(out, seg)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Get returns one stored segment.
func (s *SegmentService) Get(ctx context.Context, id string) (domain.Segment, error) {
	seg, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Segment{}, fmt.Errorf("segment_service: get %s: %w", id, err)
	}
	return seg, nil
}

// Count returns the number of stored segments.
func (s *SegmentService) Count(ctx context.Context) (int64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("segment_service: count: %w", err)
	}
	return n, nil
}

// IngestReport summarises one ingest run.
type IngestReport struct {
	Upserted   int    `json:"upserted"`
	Total      int    `json:"total"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// Ingest validates segments, upserts them, records a snapshot of the full
// set and refreshes the caches. Concurrent ingests across processes are
// rejected with domain.ErrLockHeld.
func (s *SegmentService) Ingest(ctx context.Context, segments []domain.Segment) (IngestReport, error) {
	segs, err := validation.ValidateSegments(segments)
	if err != nil {
		return IngestReport{}, err
	}
	now := s.now()
	for i := range segs {
		if segs[i].Timestamp.IsZero() {
			segs[i].Timestamp = now
		}
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, ingestLockKey, s.cfg.LockTTL)
		if err != nil {
			return IngestReport{}, fmt.Errorf("segment_service: ingest lock: %w", err)
		}
		defer unlock()
	}

	n, err := s.store.UpsertBatch(ctx, segs)
	if err != nil {
		return IngestReport{}, fmt.Errorf("segment_service: upsert: %w", err)
	}
	all, err := s.store.List(ctx, domain.SegmentFilter{})
	if err != nil {
		return IngestReport{}, fmt.Errorf("segment_service: reload: %w", err)
	}
	report := IngestReport{Upserted: n, Total: len(all)}

	if s.snapshots != nil {
		snap := domain.Snapshot{ID: uuid.NewString(), Segments: all, CreatedAt: now}
		if err := s.snapshots.Insert(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "segment snapshot failed", slog.String("error", err.Error()))
		} else {
			report.SnapshotID = snap.ID
		}
	}
	s.refreshCaches(ctx, all)
	if s.metrics != nil {
		s.metrics.RecordIngest(n)
	}

	s.logger.InfoContext(ctx, "segments ingested",
		slog.Int("upserted", n),
		slog.Int("total", len(all)),
		slog.String("snapshot_id", report.SnapshotID),
	)
	return report, nil
}

func (s *SegmentService) refreshCaches(ctx context.Context, all []domain.Segment) {
	if s.cache != nil {
		if err := s.cache.SetSegments(ctx, all, s.cfg.CacheTTL); err != nil {
			s.logger.WarnContext(ctx, "segment cache refresh failed", slog.String("error", err.Error()))
		}
	}
	if err := s.local.Reset(); err != nil {
		s.logger.WarnContext(ctx, "local segment cache reset failed", slog.String("error", err.Error()))
	}
}

// Restore seeds an empty store from the latest snapshot. It returns the
// number of segments restored.
func (s *SegmentService) Restore(ctx context.Context) (int, error) {
	if s.snapshots == nil {
		return 0, nil
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("segment_service: restore count: %w", err)
	}
	if n > 0 {
		return 0, nil
	}
	snap, err := s.snapshots.Latest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("segment_service: restore: %w", err)
	}
	written, err := s.store.UpsertBatch(ctx, snap.Segments)
	if err != nil {
		return 0, fmt.Errorf("segment_service: restore upsert: %w", err)
	}
	s.refreshCaches(ctx, snap.Segments)
	s.logger.InfoContext(ctx, "segments restored from snapshot",
		slog.String("snapshot_id", snap.ID),
		slog.Int("segments", written),
	)
	return written, nil
}

// LoadSeedFile ingests a JSON array of segments from path.
func (s *SegmentService) LoadSeedFile(ctx context.Context, path string) (IngestReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return IngestReport{}, fmt.Errorf("segment_service: read seed %s: %w", path, err)
	}
	var segs []domain.Segment
	if err := json.Unmarshal(raw, &segs); err != nil {
		return IngestReport{}, fmt.Errorf("segment_service: parse seed %s: %w", path, err)
	}
	return s.Ingest(ctx, segs)
}

var _ domain.SegmentSource = (*SegmentService)(nil)
