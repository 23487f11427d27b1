package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Upsert inserts or overwrites a position row.
func (s *PositionStore) Upsert(ctx context.Context, p *domain.Position) error {
	query := `
		INSERT INTO sim_position (run_id, fund_code, shares_available, shares_frozen, avg_cost)
		VALUES (($1)::uuid, $2, ($3)::numeric, ($4)::numeric, ($5)::numeric)
		ON CONFLICT (run_id, fund_code) DO UPDATE SET
			shares_available = excluded.shares_available,
			shares_frozen = excluded.shares_frozen,
			avg_cost = excluded.avg_cost,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.pool.Exec(ctx, query,
		p.RunID,
		p.FundCode,
		p.SharesAvailable.String(),
		p.SharesFrozen.String(),
		p.AvgCost.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// GetByRun retrieves all positions for a run, ordered by fund code ASC.
func (s *PositionStore) GetByRun(ctx context.Context, runID string) ([]*domain.Position, error) {
	query := `
		SELECT CAST(run_id AS TEXT), fund_code,
			CAST(shares_available AS TEXT), CAST(shares_frozen AS TEXT), CAST(avg_cost AS TEXT)
		FROM sim_position
		WHERE CAST(run_id AS TEXT) = $1
		ORDER BY fund_code ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get positions by run: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}

// GetByRunFund retrieves one position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByRunFund(ctx context.Context, runID, fundCode string) (*domain.Position, error) {
	query := `
		SELECT CAST(run_id AS TEXT), fund_code,
			CAST(shares_available AS TEXT), CAST(shares_frozen AS TEXT), CAST(avg_cost AS TEXT)
		FROM sim_position
		WHERE CAST(run_id AS TEXT) = $1 AND fund_code = $2
	`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, runID, fundCode))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var (
		p                     domain.Position
		availS, frozenS, avgS string
	)
	if err := row.Scan(&p.RunID, &p.FundCode, &availS, &frozenS, &avgS); err != nil {
		return nil, err
	}
	var err error
	if p.SharesAvailable, err = parseDecimal(availS); err != nil {
		return nil, err
	}
	if p.SharesFrozen, err = parseDecimal(frozenS); err != nil {
		return nil, err
	}
	if p.AvgCost, err = parseDecimal(avgS); err != nil {
		return nil, err
	}
	return &p, nil
}
