package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// ReceivableStore implements storage.ReceivableStore using PostgreSQL.
type ReceivableStore struct {
	pool *Pool
}

// NewReceivableStore creates a new ReceivableStore.
func NewReceivableStore(pool *Pool) *ReceivableStore {
	return &ReceivableStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReceivableStore = (*ReceivableStore)(nil)

// Insert adds a new receivable.
func (s *ReceivableStore) Insert(ctx context.Context, r *domain.CashReceivable) error {
	query := `
		INSERT INTO sim_cash_receivable (id, run_id, settle_date, amount)
		VALUES (($1)::uuid, ($2)::uuid, $3, ($4)::numeric)
	`
	_, err := s.pool.Exec(ctx, query, r.ID, r.RunID, r.SettleDate.Time(), r.Amount.String())
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert receivable: %w", err)
	}
	return nil
}

// SumByRun returns the total outstanding receivable amount for a run.
func (s *ReceivableStore) SumByRun(ctx context.Context, runID string) (decimal.Decimal, error) {
	query := `
		SELECT CAST(COALESCE(SUM(amount), 0) AS TEXT)
		FROM sim_cash_receivable
		WHERE CAST(run_id AS TEXT) = $1
	`
	var sumS string
	if err := s.pool.QueryRow(ctx, query, runID).Scan(&sumS); err != nil {
		return decimal.Decimal{}, fmt.Errorf("sum receivables: %w", err)
	}
	return parseDecimal(sumS)
}

// DeleteBySettleDate removes all receivables for the run that settle on
// the given date and returns their total amount.
func (s *ReceivableStore) DeleteBySettleDate(ctx context.Context, runID string, date dates.Date) (decimal.Decimal, error) {
	query := `
		DELETE FROM sim_cash_receivable
		WHERE CAST(run_id AS TEXT) = $1 AND settle_date = $2
		RETURNING CAST(amount AS TEXT)
	`
	rows, err := s.pool.Query(ctx, query, runID, date.Time())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("delete receivables: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amountS string
		if err := rows.Scan(&amountS); err != nil {
			return decimal.Decimal{}, fmt.Errorf("scan receivable: %w", err)
		}
		amount, err := parseDecimal(amountS)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Decimal{}, fmt.Errorf("iterate receivables: %w", err)
	}
	return total, nil
}
