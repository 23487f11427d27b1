package postgres

import (
	"context"
	"fmt"
	"time"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if the ID exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	query := `
		INSERT INTO sim_trade (
			id, run_id, order_id, exec_date, side, fund_code,
			nav, shares, gross_amount, fee, net_amount, settle_date
		) VALUES (
			($1)::uuid, ($2)::uuid, ($3)::uuid, $4, $5, $6,
			($7)::numeric, ($8)::numeric, ($9)::numeric, ($10)::numeric, ($11)::numeric, $12
		)
	`
	var settle *time.Time
	if !t.SettleDate.IsZero() {
		d := t.SettleDate.Time()
		settle = &d
	}
	_, err := s.pool.Exec(ctx, query,
		t.ID,
		t.RunID,
		t.OrderID,
		t.ExecDate.Time(),
		string(t.Side),
		t.FundCode,
		t.NAV.String(),
		t.Shares.String(),
		t.GrossAmount.String(),
		t.Fee.String(),
		t.NetAmount.String(),
		settle,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByRun retrieves all trades for a run, ordered by exec date ASC.
func (s *TradeStore) GetByRun(ctx context.Context, runID string) ([]*domain.Trade, error) {
	query := `
		SELECT CAST(id AS TEXT), CAST(run_id AS TEXT), CAST(order_id AS TEXT), exec_date, side, fund_code,
			CAST(nav AS TEXT), CAST(shares AS TEXT), CAST(gross_amount AS TEXT),
			CAST(fee AS TEXT), CAST(net_amount AS TEXT), settle_date
		FROM sim_trade
		WHERE CAST(run_id AS TEXT) = $1
		ORDER BY exec_date ASC, seq ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get trades by run: %w", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		var (
			t                                 domain.Trade
			side                              string
			execT                             time.Time
			settleT                           *time.Time
			navS, sharesS, grossS, feeS, netS string
		)
		if err := rows.Scan(&t.ID, &t.RunID, &t.OrderID, &execT, &side, &t.FundCode,
			&navS, &sharesS, &grossS, &feeS, &netS, &settleT); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		t.ExecDate = dates.FromTime(execT)
		if settleT != nil {
			t.SettleDate = dates.FromTime(*settleT)
		}
		if t.NAV, err = parseDecimal(navS); err != nil {
			return nil, err
		}
		if t.Shares, err = parseDecimal(sharesS); err != nil {
			return nil, err
		}
		if t.GrossAmount, err = parseDecimal(grossS); err != nil {
			return nil, err
		}
		if t.Fee, err = parseDecimal(feeS); err != nil {
			return nil, err
		}
		if t.NetAmount, err = parseDecimal(netS); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return out, nil
}
