package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/targetlab/dmbot/internal/domain"
)

// TargetEventStore implements domain.TargetEventStore using PostgreSQL.
// It is an append-only journal of target lifecycle events; controllers never
// read it back, operators do.
type TargetEventStore struct {
	pool *pgxpool.Pool
}

// NewTargetEventStore creates a new TargetEventStore backed by the given
// connection pool.
func NewTargetEventStore(pool *pgxpool.Pool) *TargetEventStore {
	return &TargetEventStore{pool: pool}
}

// Log appends a new lifecycle event for the given order. The detail map is
// stored as JSONB.
func (s *TargetEventStore) Log(ctx context.Context, orderID, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail: %w", err)
	}

	const query = `INSERT INTO target_events (order_id, event, detail) VALUES ($1, $2, $3)`
	_, err = s.pool.Exec(ctx, query, orderID, event, detailJSON)
	if err != nil {
		return fmt.Errorf("postgres: log target event %s: %w", event, err)
	}
	return nil
}

// ListByOrder returns the order's lifecycle events, newest first, with
// pagination and optional time filtering.
func (s *TargetEventStore) ListByOrder(ctx context.Context, orderID string, opts domain.ListOpts) ([]domain.TargetEvent, error) {
	query := `SELECT id, order_id, event, detail, created_at FROM target_events WHERE order_id = $1`
	args := []any{orderID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list target events: %w", err)
	}
	defer rows.Close()

	var events []domain.TargetEvent
	for rows.Next() {
		var e domain.TargetEvent
		var detailJSON []byte

		if err := rows.Scan(&e.ID, &e.OrderID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan target event: %w", err)
		}

		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list target events rows: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.TargetEventStore = (*TargetEventStore)(nil)
