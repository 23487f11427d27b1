package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Insert adds a new run. Returns ErrDuplicateKey if the ID exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.Run) error {
	fundCodes, err := json.Marshal(r.FundCodes)
	if err != nil {
		return fmt.Errorf("encode fund codes: %w", err)
	}
	cal, err := json.Marshal(r.Calendar)
	if err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	tag, params, err := domain.EncodeStrategyParams(r.Params)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sim_run (
			id, name, mode, source, fund_codes, strategy, strategy_params,
			start_date, end_date, cur_date, calendar,
			initial_cash, cash_available, cash_frozen,
			buy_fee_rate, sell_fee_rate, settlement_days, status
		) VALUES (
			($1)::uuid, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18
		)
	`

	_, err = s.pool.Exec(ctx, query,
		r.ID,
		r.Name,
		string(r.Mode),
		r.Source,
		fundCodes,
		tag,
		params,
		r.StartDate.Time(),
		r.EndDate.Time(),
		r.CurrentDate.Time(),
		cal,
		r.InitialCash.String(),
		r.CashAvailable.String(),
		r.CashFrozen.String(),
		r.BuyFeeRate,
		r.SellFeeRate,
		r.SettlementDays,
		string(r.Status),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID retrieves a run. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.Run, error) {
	query := `
		SELECT
			CAST(id AS TEXT), name, mode, source, fund_codes, strategy, strategy_params,
			start_date, end_date, cur_date, calendar,
			CAST(initial_cash AS TEXT), CAST(cash_available AS TEXT), CAST(cash_frozen AS TEXT),
			buy_fee_rate, sell_fee_rate, settlement_days, status
		FROM sim_run
		WHERE CAST(id AS TEXT) = $1
	`

	var (
		r                         domain.Run
		mode, tag, status         string
		fundCodes, paramsRaw, cal []byte
		startT, endT, curT        time.Time
		initialS, availS, frozenS string
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&r.ID, &r.Name, &mode, &r.Source, &fundCodes, &tag, &paramsRaw,
		&startT, &endT, &curT, &cal,
		&initialS, &availS, &frozenS,
		&r.BuyFeeRate, &r.SellFeeRate, &r.SettlementDays, &status,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run by id: %w", err)
	}

	r.Mode = domain.Mode(mode)
	r.Status = domain.RunStatus(status)
	r.StartDate = dates.FromTime(startT)
	r.EndDate = dates.FromTime(endT)
	r.CurrentDate = dates.FromTime(curT)

	if err := json.Unmarshal(fundCodes, &r.FundCodes); err != nil {
		return nil, fmt.Errorf("decode fund codes: %w", err)
	}
	if err := json.Unmarshal(cal, &r.Calendar); err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}
	if r.Params, err = domain.DecodeStrategyParams(tag, paramsRaw); err != nil {
		return nil, err
	}
	if r.InitialCash, err = parseDecimal(initialS); err != nil {
		return nil, err
	}
	if r.CashAvailable, err = parseDecimal(availS); err != nil {
		return nil, err
	}
	if r.CashFrozen, err = parseDecimal(frozenS); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateCashAndDate persists the run's cash balances and current date.
func (s *RunStore) UpdateCashAndDate(ctx context.Context, runID string, cashAvailable, cashFrozen decimal.Decimal, current dates.Date) error {
	query := `
		UPDATE sim_run
		SET cash_available = ($2)::numeric,
		    cash_frozen = ($3)::numeric,
		    cur_date = $4,
		    updated_at = CURRENT_TIMESTAMP
		WHERE CAST(id AS TEXT) = $1
	`
	tag, err := s.pool.Exec(ctx, query, runID, cashAvailable.String(), cashFrozen.String(), current.Time())
	if err != nil {
		return fmt.Errorf("update run cash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateStatus sets the run's lifecycle status.
func (s *RunStore) UpdateStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	query := `
		UPDATE sim_run
		SET status = $2, updated_at = CURRENT_TIMESTAMP
		WHERE CAST(id AS TEXT) = $1
	`
	tag, err := s.pool.Exec(ctx, query, runID, string(status))
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateParams overwrites the run's strategy parameters.
func (s *RunStore) UpdateParams(ctx context.Context, runID string, params domain.StrategyParams) error {
	tag, raw, err := domain.EncodeStrategyParams(params)
	if err != nil {
		return err
	}
	query := `
		UPDATE sim_run
		SET strategy = $2, strategy_params = $3, updated_at = CURRENT_TIMESTAMP
		WHERE CAST(id AS TEXT) = $1
	`
	cmd, err := s.pool.Exec(ctx, query, runID, tag, raw)
	if err != nil {
		return fmt.Errorf("update run params: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
