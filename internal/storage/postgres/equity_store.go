package postgres

import (
	"context"
	"fmt"
	"time"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// EquityStore implements storage.EquityStore using PostgreSQL.
type EquityStore struct {
	pool *Pool
}

// NewEquityStore creates a new EquityStore.
func NewEquityStore(pool *Pool) *EquityStore {
	return &EquityStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EquityStore = (*EquityStore)(nil)

// Upsert overwrites the (run, date) row idempotently.
func (s *EquityStore) Upsert(ctx context.Context, e *domain.DailyEquity) error {
	query := `
		INSERT INTO sim_daily_equity (
			run_id, as_of_date, total_equity, cash_available, cash_frozen, cash_receivable, positions_value
		) VALUES (($1)::uuid, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, as_of_date) DO UPDATE SET
			total_equity = excluded.total_equity,
			cash_available = excluded.cash_available,
			cash_frozen = excluded.cash_frozen,
			cash_receivable = excluded.cash_receivable,
			positions_value = excluded.positions_value
	`
	_, err := s.pool.Exec(ctx, query,
		e.RunID,
		e.Date.Time(),
		e.TotalEquity,
		e.CashAvailable,
		e.CashFrozen,
		e.CashReceivable,
		e.PositionsValue,
	)
	if err != nil {
		return fmt.Errorf("upsert daily equity: %w", err)
	}
	return nil
}

// GetByRun retrieves all rows for a run, ordered by date ASC.
func (s *EquityStore) GetByRun(ctx context.Context, runID string) ([]*domain.DailyEquity, error) {
	query := `
		SELECT CAST(run_id AS TEXT), as_of_date, total_equity, cash_available, cash_frozen, cash_receivable, positions_value
		FROM sim_daily_equity
		WHERE CAST(run_id AS TEXT) = $1
		ORDER BY as_of_date ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get daily equity by run: %w", err)
	}
	defer rows.Close()

	var out []*domain.DailyEquity
	for rows.Next() {
		var (
			e domain.DailyEquity
			d time.Time
		)
		if err := rows.Scan(&e.RunID, &d, &e.TotalEquity, &e.CashAvailable, &e.CashFrozen, &e.CashReceivable, &e.PositionsValue); err != nil {
			return nil, fmt.Errorf("scan daily equity: %w", err)
		}
		e.Date = dates.FromTime(d)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily equity: %w", err)
	}
	return out, nil
}

// DeleteByRun removes all rows for a run.
func (s *EquityStore) DeleteByRun(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sim_daily_equity WHERE CAST(run_id AS TEXT) = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete daily equity: %w", err)
	}
	return nil
}
