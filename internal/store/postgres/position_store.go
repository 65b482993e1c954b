package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Upsert is
// the single write path: the engine flushes through it on every lifecycle
// change and once more on shutdown.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, asset_id, market_slug, condition_id, outcome,
	entry_price, entry_time, shares, cost_usd,
	status, exit_reason, exit_price, closed_at`

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var status, exitReason string

		if err := rows.Scan(
			&p.ID, &p.Asset.ID, &p.Asset.MarketSlug, &p.Asset.ConditionID, &p.Asset.Outcome,
			&p.EntryPrice, &p.EntryTime, &p.Shares, &p.CostUSD,
			&status, &exitReason, &p.ExitPrice, &p.ClosedAt,
		); err != nil {
			return nil, err
		}
		p.Status = domain.PositionStatus(status)
		p.ExitReason = domain.ExitReason(exitReason)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert inserts the position or replaces its mutable fields.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, asset_id, market_slug, condition_id, outcome,
			entry_price, entry_time, shares, cost_usd,
			status, exit_reason, exit_price, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			shares      = EXCLUDED.shares,
			status      = EXCLUDED.status,
			exit_reason = EXCLUDED.exit_reason,
			exit_price  = EXCLUDED.exit_price,
			closed_at   = EXCLUDED.closed_at,
			updated_at  = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Asset.ID, p.Asset.MarketSlug, p.Asset.ConditionID, p.Asset.Outcome,
		p.EntryPrice, p.EntryTime, p.Shares, p.CostUSD,
		string(p.Status), string(p.ExitReason), p.ExitPrice, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// GetOpen returns every non-closed position, oldest first, for startup
// recovery.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status != 'closed'
		 ORDER BY entry_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns up to limit closed positions whose close time is
// before the cutoff (Unix seconds), oldest first. The archive sweeper pages
// through this.
func (s *PositionStore) ListClosedBefore(ctx context.Context, cutoff int64, limit int) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at ASC
		 LIMIT $2`, time.Unix(cutoff, 0).UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// DeleteByIDs removes positions after archival and returns the deleted count.
func (s *PositionStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete positions: %w", err)
	}
	return tag.RowsAffected(), nil
}
