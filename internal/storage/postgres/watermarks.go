package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/userexports/internal/domain"
)

// Store runs the export queries against a pool or a transaction.
type Store struct {
	q   Querier
	now func() time.Time
}

func NewStore(q Querier, now func() time.Time) *Store {
	return &Store{q: q, now: now}
}

// GetWatermark returns nil, nil when the consumer has no watermark yet.
func (s *Store) GetWatermark(ctx context.Context, consumerID string) (*domain.Watermark, error) {
	const q = `SELECT consumer_id, last_exported_at, updated_at FROM watermarks WHERE consumer_id = $1`

	var wm domain.Watermark
	err := s.q.QueryRow(ctx, q, consumerID).Scan(&wm.ConsumerID, &wm.LastExportedAt, &wm.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark: %w", err)
	}
	wm.LastExportedAt = wm.LastExportedAt.UTC()
	wm.UpdatedAt = wm.UpdatedAt.UTC()
	return &wm, nil
}

// UpsertWatermark stores lastExportedAt as-is. Picking the right maximum is
// the caller's job.
func (s *Store) UpsertWatermark(ctx context.Context, consumerID string, lastExportedAt time.Time) error {
	const q = `INSERT INTO watermarks (consumer_id, last_exported_at, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (consumer_id) DO UPDATE
SET last_exported_at = EXCLUDED.last_exported_at, updated_at = EXCLUDED.updated_at`

	if _, err := s.q.Exec(ctx, q, consumerID, lastExportedAt, s.now()); err != nil {
		return fmt.Errorf("upsert watermark: %w", err)
	}
	return nil
}
