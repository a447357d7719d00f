package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore. Each snapshot is one JSONB
// row holding the full segment set.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Insert stores snap, assigning an id when it has none.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	data, err := json.Marshal(snap.Segments)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot %s: %w", snap.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO segment_snapshots (id, segment_count, data, created_at) VALUES ($1, $2, $3, $4)`,
		snap.ID, len(snap.Segments), data, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Latest returns the newest snapshot, or domain.ErrNotFound.
func (s *SnapshotStore) Latest(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, data, created_at FROM segment_snapshots ORDER BY created_at DESC LIMIT 1`,
	).Scan(&snap.ID, &data, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap.Segments); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: unmarshal snapshot %s: %w", snap.ID, err)
	}
	return snap, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
