package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

const jsonContentType = "application/json"

// ByteWriter uploads a complete payload.
type ByteWriter interface {
	PutBytes(ctx context.Context, path string, payload []byte, contentType string) error
}

// ResultArchive writes terminal execution results as JSON objects under
// executions/<yyyy>/<mm>/<dd>/<id>.json.
type ResultArchive struct {
	writer ByteWriter
	reader domain.BlobReader
}

// NewResultArchive creates a ResultArchive. reader may be nil, in which case
// every result is written without an existence check.
func NewResultArchive(writer ByteWriter, reader domain.BlobReader) *ResultArchive {
	return &ResultArchive{writer: writer, reader: reader}
}

// ResultPath returns the object path for r, dated by completion time.
func ResultPath(r domain.ExecutionResult) string {
	t := r.StartedAt
	if r.CompletedAt != nil {
		t = *r.CompletedAt
	}
	t = t.UTC()
	return fmt.Sprintf("executions/%04d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), r.ExecutionID)
}

// ArchiveResult uploads r and returns its path. A result already archived is
// left untouched.
func (a *ResultArchive) ArchiveResult(ctx context.Context, r domain.ExecutionResult) (string, error) {
	path := ResultPath(r)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", err
		}
		if exists {
			return path, nil
		}
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal execution %s: %w", r.ExecutionID, err)
	}
	if err := a.writer.PutBytes(ctx, path, payload, jsonContentType); err != nil {
		return "", err
	}
	return path, nil
}

// SnapshotStore implements domain.SnapshotStore on object storage. Each
// snapshot is written under a dated key and copied to snapshots/latest.json.
type SnapshotStore struct {
	writer ByteWriter
	reader domain.BlobReader
}

// NewSnapshotStore creates a SnapshotStore.
func NewSnapshotStore(writer ByteWriter, reader domain.BlobReader) *SnapshotStore {
	return &SnapshotStore{writer: writer, reader: reader}
}

const latestSnapshotPath = "snapshots/latest.json"

type snapshotDoc struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Segments  []domain.Segment `json:"segments"`
}

// SnapshotPath returns the dated object path of snap.
func SnapshotPath(snap domain.Snapshot) string {
	t := snap.CreatedAt.UTC()
	return fmt.Sprintf("snapshots/%04d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), snap.ID)
}

// Insert writes snap. The caller assigns the id.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("s3blob: snapshot without id")
	}
	payload, err := json.Marshal(snapshotDoc{ID: snap.ID, CreatedAt: snap.CreatedAt, Segments: snap.Segments})
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot %s: %w", snap.ID, err)
	}
	if err := s.writer.PutBytes(ctx, SnapshotPath(snap), payload, jsonContentType); err != nil {
		return err
	}
	return s.writer.PutBytes(ctx, latestSnapshotPath, payload, jsonContentType)
}

// Latest reads snapshots/latest.json, or returns domain.ErrNotFound.
func (s *SnapshotStore) Latest(ctx context.Context) (domain.Snapshot, error) {
	body, err := s.reader.Get(ctx, latestSnapshotPath)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer body.Close()
	var doc snapshotDoc
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: decode latest snapshot: %w", err)
	}
	return domain.Snapshot{ID: doc.ID, Segments: doc.Segments, CreatedAt: doc.CreatedAt}, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
