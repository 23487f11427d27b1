package postgres

import (
	"context"
	"fmt"
	"time"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Insert adds a new pending order.
func (s *OrderStore) Insert(ctx context.Context, o *domain.Order) error {
	query := `
		INSERT INTO sim_order (
			id, run_id, trade_date, exec_date, side, fund_code,
			amount, shares, status
		) VALUES (
			($1)::uuid, ($2)::uuid, $3, $4, $5, $6,
			($7)::numeric, ($8)::numeric, $9
		)
	`
	_, err := s.pool.Exec(ctx, query,
		o.ID,
		o.RunID,
		o.TradeDate.Time(),
		o.ExecDate.Time(),
		string(o.Side),
		o.FundCode,
		o.Amount.String(),
		o.Shares.String(),
		string(o.Status),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// PendingByExecDate retrieves pending orders for a run with the given
// exec date, in creation order.
func (s *OrderStore) PendingByExecDate(ctx context.Context, runID string, execDate dates.Date) ([]*domain.Order, error) {
	query := `
		SELECT CAST(id AS TEXT), CAST(run_id AS TEXT), trade_date, exec_date, side, fund_code,
			CAST(amount AS TEXT), CAST(shares AS TEXT), status
		FROM sim_order
		WHERE CAST(run_id AS TEXT) = $1 AND exec_date = $2 AND status = $3
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query, runID, execDate.Time(), string(domain.OrderStatusPending))
	if err != nil {
		return nil, fmt.Errorf("get pending orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		var (
			o                domain.Order
			side, status     string
			tradeT, execT    time.Time
			amountS, sharesS string
		)
		if err := rows.Scan(&o.ID, &o.RunID, &tradeT, &execT, &side, &o.FundCode, &amountS, &sharesS, &status); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = domain.Side(side)
		o.Status = domain.OrderStatus(status)
		o.TradeDate = dates.FromTime(tradeT)
		o.ExecDate = dates.FromTime(execT)
		if o.Amount, err = parseDecimal(amountS); err != nil {
			return nil, err
		}
		if o.Shares, err = parseDecimal(sharesS); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return out, nil
}

// MarkExecuted transitions an order to executed and persists its
// post-execution fields. Returns ErrNotFound for unknown orders.
func (s *OrderStore) MarkExecuted(ctx context.Context, o *domain.Order) error {
	query := `
		UPDATE sim_order
		SET status = $2,
		    exec_nav = ($3)::numeric,
		    fee = ($4)::numeric,
		    executed_shares = ($5)::numeric,
		    cash_delta = ($6)::numeric,
		    settle_date = $7,
		    updated_at = CURRENT_TIMESTAMP
		WHERE CAST(id AS TEXT) = $1
	`
	var settle *time.Time
	if !o.SettleDate.IsZero() {
		t := o.SettleDate.Time()
		settle = &t
	}
	tag, err := s.pool.Exec(ctx, query,
		o.ID,
		string(domain.OrderStatusExecuted),
		o.ExecNAV.String(),
		o.Fee.String(),
		o.ExecutedShares.String(),
		o.CashDelta.String(),
		settle,
	)
	if err != nil {
		return fmt.Errorf("mark order executed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
