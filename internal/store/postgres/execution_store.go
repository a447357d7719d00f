package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore. Summary columns support
// listing; the full result is kept as JSONB.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Save upserts the summary and full result of an execution.
func (s *ExecutionStore) Save(ctx context.Context, r domain.ExecutionResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution %s: %w", r.ExecutionID, err)
	}
	from, to := "", ""
	if n := len(r.Route); n > 0 {
		from, to = r.Route[0].FromAsset, r.Route[n-1].ToAsset
	}

	const query = `
		INSERT INTO executions (
			id, status, from_asset, to_asset, input_amount, final_amount,
			total_fees, total_cost_percent, segment_count, error_message,
			started_at, completed_at, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status             = EXCLUDED.status,
			final_amount       = EXCLUDED.final_amount,
			total_fees         = EXCLUDED.total_fees,
			total_cost_percent = EXCLUDED.total_cost_percent,
			segment_count      = EXCLUDED.segment_count,
			error_message      = EXCLUDED.error_message,
			completed_at       = EXCLUDED.completed_at,
			result             = EXCLUDED.result,
			recorded_at        = NOW()`

	_, err = s.pool.Exec(ctx, query,
		r.ExecutionID, string(r.Status), from, to, r.InputAmount, r.FinalAmount,
		r.TotalFees, r.TotalCostPercent, len(r.Segments), r.Error,
		r.StartedAt, r.CompletedAt, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: save execution %s: %w", r.ExecutionID, err)
	}
	return nil
}

// GetByID returns the stored result, or domain.ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM executions WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, domain.ErrNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return decodeResult(id, data)
}

// ListRecent returns results newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, result FROM executions
		WHERE $1::timestamptz IS NULL OR started_at >= $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`,
		opts.Since, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionResult
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		r, err := decodeResult(id, data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return out, nil
}

func decodeResult(id string, data []byte) (domain.ExecutionResult, error) {
	var r domain.ExecutionResult
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: unmarshal execution %s: %w", id, err)
	}
	return r, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
