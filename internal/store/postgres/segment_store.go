package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// SegmentStore implements domain.SegmentStore. One row is kept per provider
// edge; ingesting the same edge again overwrites its price and timing.
type SegmentStore struct {
	pool *pgxpool.Pool
}

// NewSegmentStore creates a SegmentStore backed by pool.
func NewSegmentStore(pool *pgxpool.Pool) *SegmentStore {
	return &SegmentStore{pool: pool}
}

const segmentColumns = `id, provider, segment_type, from_asset, to_asset, from_network, to_network,
	fee_percent, fixed_fee, fx_rate, min_minutes, max_minutes, reliability, constraints, observed_at`

const upsertSegment = `
	INSERT INTO segments (` + segmentColumns + `, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
	ON CONFLICT ON CONSTRAINT segments_edge_key DO UPDATE SET
		fee_percent = EXCLUDED.fee_percent,
		fixed_fee   = EXCLUDED.fixed_fee,
		fx_rate     = EXCLUDED.fx_rate,
		min_minutes = EXCLUDED.min_minutes,
		max_minutes = EXCLUDED.max_minutes,
		reliability = EXCLUDED.reliability,
		constraints = EXCLUDED.constraints,
		observed_at = EXCLUDED.observed_at,
		updated_at  = NOW()
	RETURNING id`

// UpsertBatch writes segments in one batch and returns how many rows were
// written.
func (s *SegmentStore) UpsertBatch(ctx context.Context, segments []domain.Segment) (int, error) {
	if len(segments) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, seg := range segments {
		id := seg.ID
		if id == "" {
			id = uuid.NewString()
		}
		constraints, err := marshalConstraints(seg.Constraints)
		if err != nil {
			return 0, fmt.Errorf("postgres: upsert segment %s->%s: %w", seg.FromAsset, seg.ToAsset, err)
		}
		batch.Queue(upsertSegment,
			id, seg.Provider, string(seg.Type), seg.FromAsset, seg.ToAsset, seg.FromNetwork, seg.ToNetwork,
			seg.Cost.FeePercent, seg.Cost.FixedFee, seg.Cost.EffectiveFXRate,
			seg.Latency.MinMinutes, seg.Latency.MaxMinutes, seg.Reliability,
			constraints, seg.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range segments {
		var id string
		if err := br.QueryRow().Scan(&id); err != nil {
			return i, fmt.Errorf("postgres: upsert segment batch item %d: %w", i, err)
		}
	}
	return len(segments), nil
}

func marshalConstraints(c map[string]any) ([]byte, error) {
	if len(c) == 0 {
		return nil, nil
	}
	return json.Marshal(c)
}

// List returns segments matching filter, ordered by type and endpoints.
func (s *SegmentStore) List(ctx context.Context, filter domain.SegmentFilter) ([]domain.Segment, error) {
	query, args := listSegmentsQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list segments: %w", err)
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan segment: %w", err)
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list segments rows: %w", err)
	}
	return out, nil
}

// listSegmentsQuery builds the SELECT for filter with positional args.
func listSegmentsQuery(filter domain.SegmentFilter) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Type != "" {
		add("segment_type = $%d", string(filter.Type))
	}
	if filter.FromAsset != "" {
		add("UPPER(from_asset) = UPPER($%d)", filter.FromAsset)
	}
	if filter.ToAsset != "" {
		add("UPPER(to_asset) = UPPER($%d)", filter.ToAsset)
	}

	var b strings.Builder
	b.WriteString("SELECT " + segmentColumns + " FROM segments")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY segment_type, from_asset, to_asset, provider")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// GetByID returns one segment, or domain.ErrNotFound.
func (s *SegmentStore) GetByID(ctx context.Context, id string) (domain.Segment, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+segmentColumns+" FROM segments WHERE id = $1", id)
	seg, err := scanSegment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Segment{}, domain.ErrNotFound
		}
		return domain.Segment{}, fmt.Errorf("postgres: get segment %s: %w", id, err)
	}
	return seg, nil
}

// Count returns the number of stored segments.
func (s *SegmentStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM segments").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count segments: %w", err)
	}
	return n, nil
}

func scanSegment(row pgx.Row) (domain.Segment, error) {
	var seg domain.Segment
	var typ string
	var constraints []byte
	err := row.Scan(
		&seg.ID, &seg.Provider, &typ, &seg.FromAsset, &seg.ToAsset, &seg.FromNetwork, &seg.ToNetwork,
		&seg.Cost.FeePercent, &seg.Cost.FixedFee, &seg.Cost.EffectiveFXRate,
		&seg.Latency.MinMinutes, &seg.Latency.MaxMinutes, &seg.Reliability,
		&constraints, &seg.Timestamp,
	)
	if err != nil {
		return domain.Segment{}, err
	}
	seg.Type = domain.SegmentType(typ)
	if len(constraints) > 0 {
		if err := json.Unmarshal(constraints, &seg.Constraints); err != nil {
			return domain.Segment{}, fmt.Errorf("constraints: %w", err)
		}
	}
	return seg, nil
}

var _ domain.SegmentStore = (*SegmentStore)(nil)
