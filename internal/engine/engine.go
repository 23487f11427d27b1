// Package engine implements the execution core shared by both run modes:
// order placement with cash/share freezing, NAV-driven execution with T+N
// settlement, receivable sweeps, and daily equity observation.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/calendar"
	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/observability"
	"fund-sim-lab/internal/storage"
)

// Action errors. Any of these fails the whole action batch with prior
// state unmodified.
var (
	ErrInsufficientCash   = errors.New("engine: insufficient available cash")
	ErrInsufficientShares = errors.New("engine: insufficient available shares")
	ErrNoFutureNavDate    = errors.New("engine: no future nav date for fund")
	ErrInvalidAction      = errors.New("engine: invalid action")
)

// Action is one requested trade. BUY actions carry Amount, SELL actions
// carry Shares.
type Action struct {
	Side     domain.Side
	FundCode string
	Amount   decimal.Decimal
	Shares   decimal.Decimal
}

// PositionView is one valued position inside an observation. NAV is nil
// when the fund has no observation at or before the valuation date; such
// positions contribute nothing to PositionsValue.
type PositionView struct {
	FundCode        string
	SharesAvailable decimal.Decimal
	SharesFrozen    decimal.Decimal
	AvgCost         decimal.Decimal
	NAV             *decimal.Decimal
	Value           decimal.Decimal
}

// Observation is the valuation of a run on one date.
type Observation struct {
	Date           dates.Date
	CashAvailable  decimal.Decimal
	CashFrozen     decimal.Decimal
	CashReceivable decimal.Decimal
	PositionsValue decimal.Decimal
	TotalEquity    decimal.Decimal
	Positions      []PositionView
}

// StepResult is the outcome of one env step.
type StepResult struct {
	Observation *Observation
	Reward      float64
	Done        bool
}

// Engine drives a run's ledger against stored NAV history.
type Engine struct {
	runs        storage.RunStore
	positions   storage.PositionStore
	orders      storage.OrderStore
	trades      storage.TradeStore
	receivables storage.ReceivableStore
	equity      storage.EquityStore
	navs        storage.NavStore
}

// New creates an engine over the given stores.
func New(runs storage.RunStore, positions storage.PositionStore, orders storage.OrderStore,
	trades storage.TradeStore, receivables storage.ReceivableStore, equity storage.EquityStore,
	navs storage.NavStore) *Engine {
	return &Engine{
		runs:        runs,
		positions:   positions,
		orders:      orders,
		trades:      trades,
		receivables: receivables,
		equity:      equity,
		navs:        navs,
	}
}

// ApplyActions stages, validates, and persists a batch of trade actions
// against the run's current date. All actions are validated against a
// staged view of cash and positions before anything is written, so a
// failing action leaves the run untouched. BUY actions debit available
// cash into frozen cash; SELL actions move shares from available to
// frozen. Each action becomes a pending order whose exec date is the
// fund's next NAV date strictly after the run's current date.
func (e *Engine) ApplyActions(ctx context.Context, run *domain.Run, actions []Action) ([]*domain.Order, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	cashAvail := run.CashAvailable
	cashFrozen := run.CashFrozen
	staged := make(map[string]*domain.Position)
	planned := make([]*domain.Order, 0, len(actions))

	for _, act := range actions {
		if act.FundCode == "" {
			return nil, fmt.Errorf("%w: empty fund code", ErrInvalidAction)
		}
		execDate, err := e.navs.NextNavDate(ctx, act.FundCode, run.Source, run.CurrentDate)
		if err != nil {
			return nil, fmt.Errorf("resolve exec date for %s: %w", act.FundCode, err)
		}
		if execDate == nil {
			return nil, fmt.Errorf("%w: %s after %s", ErrNoFutureNavDate, act.FundCode, run.CurrentDate)
		}

		o := &domain.Order{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			TradeDate: run.CurrentDate,
			ExecDate:  *execDate,
			Side:      act.Side,
			FundCode:  act.FundCode,
			Status:    domain.OrderStatusPending,
		}

		switch act.Side {
		case domain.SideBuy:
			if act.Amount.Sign() <= 0 {
				return nil, fmt.Errorf("%w: buy amount must be positive", ErrInvalidAction)
			}
			if cashAvail.Cmp(act.Amount) < 0 {
				return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, act.Amount, cashAvail)
			}
			cashAvail = cashAvail.Sub(act.Amount)
			cashFrozen = cashFrozen.Add(act.Amount)
			o.Amount = act.Amount
		case domain.SideSell:
			if act.Shares.Sign() <= 0 {
				return nil, fmt.Errorf("%w: sell shares must be positive", ErrInvalidAction)
			}
			pos, err := e.stagedPosition(ctx, run.ID, act.FundCode, staged)
			if err != nil {
				return nil, err
			}
			if pos.SharesAvailable.Cmp(act.Shares) < 0 {
				return nil, fmt.Errorf("%w: %s need %s, have %s", ErrInsufficientShares, act.FundCode, act.Shares, pos.SharesAvailable)
			}
			pos.SharesAvailable = pos.SharesAvailable.Sub(act.Shares)
			pos.SharesFrozen = pos.SharesFrozen.Add(act.Shares)
			o.Shares = act.Shares
		default:
			return nil, fmt.Errorf("%w: side %q", ErrInvalidAction, act.Side)
		}

		planned = append(planned, o)
	}

	for _, o := range planned {
		if err := e.orders.Insert(ctx, o); err != nil {
			return nil, fmt.Errorf("insert order: %w", err)
		}
		observability.RecordOrderCreated(string(o.Side))
	}
	for _, pos := range staged {
		if err := e.positions.Upsert(ctx, pos); err != nil {
			return nil, fmt.Errorf("upsert position: %w", err)
		}
	}
	run.CashAvailable = cashAvail
	run.CashFrozen = cashFrozen
	if err := e.runs.UpdateCashAndDate(ctx, run.ID, run.CashAvailable, run.CashFrozen, run.CurrentDate); err != nil {
		return nil, fmt.Errorf("persist run cash: %w", err)
	}

	return planned, nil
}

func (e *Engine) stagedPosition(ctx context.Context, runID, fundCode string, staged map[string]*domain.Position) (*domain.Position, error) {
	if pos, ok := staged[fundCode]; ok {
		return pos, nil
	}
	pos, err := e.loadPosition(ctx, runID, fundCode)
	if err != nil {
		return nil, err
	}
	staged[fundCode] = pos
	return pos, nil
}

// loadPosition returns the stored position or a zero-valued one.
func (e *Engine) loadPosition(ctx context.Context, runID, fundCode string) (*domain.Position, error) {
	pos, err := e.positions.GetByRunFund(ctx, runID, fundCode)
	if errors.Is(err, storage.ErrNotFound) {
		return &domain.Position{RunID: runID, FundCode: fundCode}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", fundCode, err)
	}
	return pos, nil
}

// ExecuteOrdersForDate executes every pending order of the run whose exec
// date equals date, in creation order. Orders whose fund has no usable NAV
// at or before date are left pending. Re-running a date with no new
// pending orders is a no-op.
func (e *Engine) ExecuteOrdersForDate(ctx context.Context, run *domain.Run, date dates.Date) error {
	pending, err := e.orders.PendingByExecDate(ctx, run.ID, date)
	if err != nil {
		return fmt.Errorf("load pending orders: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	for _, o := range pending {
		nav, err := e.navs.NavOnOrBefore(ctx, o.FundCode, run.Source, date)
		if err != nil {
			return fmt.Errorf("nav lookup %s: %w", o.FundCode, err)
		}
		if nav == nil || nav.Sign() <= 0 {
			observability.RecordOrderSkipped()
			continue
		}

		switch o.Side {
		case domain.SideBuy:
			err = e.executeBuy(ctx, run, o, *nav)
		case domain.SideSell:
			err = e.executeSell(ctx, run, o, *nav)
		default:
			err = fmt.Errorf("%w: side %q", ErrInvalidAction, o.Side)
		}
		if err != nil {
			return err
		}
		observability.RecordOrderExecuted(string(o.Side))
	}

	if err := e.runs.UpdateCashAndDate(ctx, run.ID, run.CashAvailable, run.CashFrozen, run.CurrentDate); err != nil {
		return fmt.Errorf("persist run cash: %w", err)
	}
	return nil
}

func (e *Engine) executeBuy(ctx context.Context, run *domain.Run, o *domain.Order, nav decimal.Decimal) error {
	fee := o.Amount.Mul(decimal.NewFromFloat(run.BuyFeeRate))
	net := o.Amount.Sub(fee)
	if net.Sign() < 0 {
		net = decimal.Zero
	}
	shares := net.Div(nav)

	run.CashFrozen = run.CashFrozen.Sub(o.Amount)
	if run.CashFrozen.Sign() < 0 {
		run.CashFrozen = decimal.Zero
	}

	pos, err := e.loadPosition(ctx, run.ID, o.FundCode)
	if err != nil {
		return err
	}
	prior := pos.TotalShares()
	totalAfter := prior.Add(shares)
	if totalAfter.Sign() > 0 {
		// Fees are capitalized: the blend uses the gross cash spent.
		pos.AvgCost = pos.AvgCost.Mul(prior).Add(o.Amount).Div(totalAfter)
	}
	pos.SharesAvailable = pos.SharesAvailable.Add(shares)
	if err := e.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	trade := &domain.Trade{
		ID:          uuid.NewString(),
		RunID:       run.ID,
		OrderID:     o.ID,
		ExecDate:    o.ExecDate,
		Side:        domain.SideBuy,
		FundCode:    o.FundCode,
		NAV:         nav,
		Shares:      shares,
		GrossAmount: o.Amount,
		Fee:         fee,
		NetAmount:   net,
	}
	if err := e.trades.Insert(ctx, trade); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	o.Status = domain.OrderStatusExecuted
	o.ExecNAV = nav
	o.Fee = fee
	o.ExecutedShares = shares
	o.CashDelta = o.Amount.Neg()
	if err := e.orders.MarkExecuted(ctx, o); err != nil {
		return fmt.Errorf("mark order executed: %w", err)
	}
	return nil
}

func (e *Engine) executeSell(ctx context.Context, run *domain.Run, o *domain.Order, nav decimal.Decimal) error {
	gross := o.Shares.Mul(nav)
	fee := gross.Mul(decimal.NewFromFloat(run.SellFeeRate))
	net := gross.Sub(fee)
	settle := e.settleDate(run, o.ExecDate)

	pos, err := e.loadPosition(ctx, run.ID, o.FundCode)
	if err != nil {
		return err
	}
	pos.SharesFrozen = pos.SharesFrozen.Sub(o.Shares)
	if pos.SharesFrozen.Sign() < 0 {
		pos.SharesFrozen = decimal.Zero
	}
	if pos.TotalShares().Sign() == 0 {
		pos.AvgCost = decimal.Zero
	}
	if err := e.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	recv := &domain.CashReceivable{
		ID:         uuid.NewString(),
		RunID:      run.ID,
		SettleDate: settle,
		Amount:     net,
	}
	if err := e.receivables.Insert(ctx, recv); err != nil {
		return fmt.Errorf("insert receivable: %w", err)
	}

	trade := &domain.Trade{
		ID:          uuid.NewString(),
		RunID:       run.ID,
		OrderID:     o.ID,
		ExecDate:    o.ExecDate,
		Side:        domain.SideSell,
		FundCode:    o.FundCode,
		NAV:         nav,
		Shares:      o.Shares,
		GrossAmount: gross,
		Fee:         fee,
		NetAmount:   net,
		SettleDate:  settle,
	}
	if err := e.trades.Insert(ctx, trade); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	o.Status = domain.OrderStatusExecuted
	o.ExecNAV = nav
	o.Fee = fee
	o.ExecutedShares = o.Shares
	o.CashDelta = net
	o.SettleDate = settle
	if err := e.orders.MarkExecuted(ctx, o); err != nil {
		return fmt.Errorf("mark order executed: %w", err)
	}
	return nil
}

// settleDate advances settlement_days trading days from the exec date.
// Past the buffered calendar it degrades to plain day arithmetic.
func (e *Engine) settleDate(run *domain.Run, execDate dates.Date) dates.Date {
	if d, ok := calendar.AddTradingDays(run.Calendar, execDate, run.SettlementDays); ok {
		return d
	}
	return execDate.AddDays(run.SettlementDays)
}

// SettleReceivablesForDate sweeps receivables due on date into the run's
// available cash.
func (e *Engine) SettleReceivablesForDate(ctx context.Context, run *domain.Run, date dates.Date) error {
	total, err := e.receivables.DeleteBySettleDate(ctx, run.ID, date)
	if err != nil {
		return fmt.Errorf("settle receivables: %w", err)
	}
	if total.Sign() == 0 {
		return nil
	}
	run.CashAvailable = run.CashAvailable.Add(total)
	observability.RecordReceivablesSettled(1)
	if err := e.runs.UpdateCashAndDate(ctx, run.ID, run.CashAvailable, run.CashFrozen, run.CurrentDate); err != nil {
		return fmt.Errorf("persist run cash: %w", err)
	}
	return nil
}

// ComputeObservation values the run on date and upserts its DailyEquity
// row. Positions without a NAV at or before date stay in the view but
// contribute nothing to PositionsValue.
func (e *Engine) ComputeObservation(ctx context.Context, run *domain.Run, date dates.Date) (*Observation, error) {
	positions, err := e.positions.GetByRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	posValue := decimal.Zero
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		total := p.TotalShares()
		if total.Sign() == 0 {
			continue
		}
		view := PositionView{
			FundCode:        p.FundCode,
			SharesAvailable: p.SharesAvailable,
			SharesFrozen:    p.SharesFrozen,
			AvgCost:         p.AvgCost,
		}
		nav, err := e.navs.NavOnOrBefore(ctx, p.FundCode, run.Source, date)
		if err != nil {
			return nil, fmt.Errorf("nav lookup %s: %w", p.FundCode, err)
		}
		if nav != nil {
			view.NAV = nav
			view.Value = total.Mul(*nav)
			posValue = posValue.Add(view.Value)
		}
		views = append(views, view)
	}

	recv, err := e.receivables.SumByRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("sum receivables: %w", err)
	}

	obs := &Observation{
		Date:           date,
		CashAvailable:  run.CashAvailable,
		CashFrozen:     run.CashFrozen,
		CashReceivable: recv,
		PositionsValue: posValue,
		TotalEquity:    run.CashAvailable.Add(run.CashFrozen).Add(recv).Add(posValue),
		Positions:      views,
	}

	row := &domain.DailyEquity{
		RunID:          run.ID,
		Date:           date,
		TotalEquity:    obs.TotalEquity.InexactFloat64(),
		CashAvailable:  obs.CashAvailable.InexactFloat64(),
		CashFrozen:     obs.CashFrozen.InexactFloat64(),
		CashReceivable: obs.CashReceivable.InexactFloat64(),
		PositionsValue: obs.PositionsValue.InexactFloat64(),
	}
	if err := e.equity.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("upsert daily equity: %w", err)
	}
	observability.RecordEquitySnapshot()

	return obs, nil
}

// StepDate advances the run to the given trading date, executes orders due
// that date, and sweeps matured receivables.
func (e *Engine) StepDate(ctx context.Context, run *domain.Run, next dates.Date) error {
	run.CurrentDate = next
	if err := e.runs.UpdateCashAndDate(ctx, run.ID, run.CashAvailable, run.CashFrozen, next); err != nil {
		return fmt.Errorf("persist run date: %w", err)
	}
	if err := e.ExecuteOrdersForDate(ctx, run, next); err != nil {
		return err
	}
	return e.SettleReceivablesForDate(ctx, run, next)
}
