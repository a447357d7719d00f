package service

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// MemorySegmentStore is a process-local domain.SegmentStore used when no
// database is configured. Like the postgres store it keeps one row per
// provider edge.
type MemorySegmentStore struct {
	mu    sync.RWMutex
	byKey map[string]domain.Segment
	order []string
}

// NewMemorySegmentStore creates an empty store.
func NewMemorySegmentStore() *MemorySegmentStore {
	return &MemorySegmentStore{byKey: make(map[string]domain.Segment)}
}

func edgeKey(s domain.Segment) string {
	return strings.Join([]string{
		s.Provider, string(s.Type),
		strings.ToUpper(s.FromAsset), strings.ToUpper(s.ToAsset),
		s.FromNetwork, s.ToNetwork,
	}, "|")
}

// UpsertBatch inserts or replaces segments by edge.
func (m *MemorySegmentStore) UpsertBatch(_ context.Context, segments []domain.Segment) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seg := range segments {
		k := edgeKey(seg)
		prev, ok := m.byKey[k]
		switch {
		case ok:
			seg.ID = prev.ID
		case seg.ID == "":
			seg.ID = uuid.NewString()
		}
		if !ok {
			m.order = append(m.order, k)
		}
		m.byKey[k] = seg
	}
	return len(segments), nil
}

// List returns segments matching filter in insertion order.
func (m *MemorySegmentStore) List(_ context.Context, filter domain.SegmentFilter) ([]domain.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Segment
	for _, k := range m.order {
		seg := m.byKey[k]
		if !filter.Matches(seg) {
			continue
		}
		out = append(out, seg)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// GetByID returns a segment, or domain.ErrNotFound.
func (m *MemorySegmentStore) GetByID(_ context.Context, id string) (domain.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := slices.IndexFunc(m.order, func(k string) bool { return m.byKey[k].ID == id })
	if i < 0 {
		return domain.Segment{}, domain.ErrNotFound
	}
	return m.byKey[m.order[i]], nil
}

// Count returns the number of stored edges.
func (m *MemorySegmentStore) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.byKey)), nil
}

var _ domain.SegmentStore = (*MemorySegmentStore)(nil)
