package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// SegmentStore persists the latest known segment per provider edge.
type SegmentStore interface {
	UpsertBatch(ctx context.Context, segments []Segment) (int, error)
	List(ctx context.Context, filter SegmentFilter) ([]Segment, error)
	GetByID(ctx context.Context, id string) (Segment, error)
	Count(ctx context.Context) (int64, error)
}

// Snapshot is a frozen copy of a full segment set.
type Snapshot struct {
	ID        string
	Segments  []Segment
	CreatedAt time.Time
}

// SnapshotStore persists segment snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context) (Snapshot, error)
}

// ExecutionStore keeps a history of finished executions. It is write-mostly;
// the engine never resumes an execution from it.
type ExecutionStore interface {
	Save(ctx context.Context, result ExecutionResult) error
	GetByID(ctx context.Context, id string) (ExecutionResult, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]ExecutionResult, error)
}
