package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
)

// RunStore provides access to simulation runs.
type RunStore interface {
	// Insert adds a new run. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, r *domain.Run) error

	// GetByID retrieves a run. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.Run, error)

	// UpdateCashAndDate persists the run's cash balances and current date.
	UpdateCashAndDate(ctx context.Context, runID string, cashAvailable, cashFrozen decimal.Decimal, current dates.Date) error

	// UpdateStatus sets the run's lifecycle status.
	UpdateStatus(ctx context.Context, runID string, status domain.RunStatus) error

	// UpdateParams overwrites the run's strategy parameters.
	UpdateParams(ctx context.Context, runID string, params domain.StrategyParams) error
}

// PositionStore provides access to per (run, fund) positions.
type PositionStore interface {
	// Upsert inserts or overwrites a position row.
	Upsert(ctx context.Context, p *domain.Position) error

	// GetByRun retrieves all positions for a run, ordered by fund code ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.Position, error)

	// GetByRunFund retrieves one position. Returns ErrNotFound if not exists.
	GetByRunFund(ctx context.Context, runID, fundCode string) (*domain.Position, error)
}

// OrderStore provides access to orders.
type OrderStore interface {
	// Insert adds a new pending order.
	Insert(ctx context.Context, o *domain.Order) error

	// PendingByExecDate retrieves pending orders for a run with the given
	// exec date, in creation order.
	PendingByExecDate(ctx context.Context, runID string, execDate dates.Date) ([]*domain.Order, error)

	// MarkExecuted transitions an order to executed and persists its
	// post-execution fields. Returns ErrNotFound for unknown orders.
	MarkExecuted(ctx context.Context, o *domain.Order) error
}

// TradeStore provides access to executed-trade records.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// GetByRun retrieves all trades for a run, ordered by exec date ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.Trade, error)
}

// ReceivableStore provides access to pending sell proceeds.
type ReceivableStore interface {
	// Insert adds a new receivable.
	Insert(ctx context.Context, r *domain.CashReceivable) error

	// SumByRun returns the total outstanding receivable amount for a run.
	SumByRun(ctx context.Context, runID string) (decimal.Decimal, error)

	// DeleteBySettleDate removes all receivables for the run that settle
	// on the given date and returns their total amount.
	DeleteBySettleDate(ctx context.Context, runID string, date dates.Date) (decimal.Decimal, error)
}

// EquityStore provides access to daily equity snapshots.
type EquityStore interface {
	// Upsert overwrites the (run, date) row idempotently.
	Upsert(ctx context.Context, e *domain.DailyEquity) error

	// GetByRun retrieves all rows for a run, ordered by date ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.DailyEquity, error)

	// DeleteByRun removes all rows for a run.
	DeleteByRun(ctx context.Context, runID string) error
}

// TrainRoundStore provides access to optimizer round history.
type TrainRoundStore interface {
	// Upsert overwrites the (run, round) row.
	Upsert(ctx context.Context, r *domain.TrainRound) error

	// GetByRun retrieves all rounds for a run, ordered by round ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.TrainRound, error)

	// DeleteByRun removes all rounds for a run.
	DeleteByRun(ctx context.Context, runID string) error
}

// NavStore provides access to NAV history (funds and index close series).
type NavStore interface {
	// InsertBulk adds multiple points. Fails the entire batch on a
	// duplicate (fund, source, date).
	InsertBulk(ctx context.Context, points []*domain.NavPoint) error

	// NavOnOrBefore returns the latest known NAV at or before date,
	// or nil when the fund has no observation in range.
	NavOnOrBefore(ctx context.Context, fundCode, source string, date dates.Date) (*decimal.Decimal, error)

	// NextNavDate returns the earliest date with a NAV strictly after
	// the given date, or nil when none exists.
	NextNavDate(ctx context.Context, fundCode, source string, after dates.Date) (*dates.Date, error)

	// Series retrieves points for a fund within [start, end], date ASC.
	Series(ctx context.Context, fundCode, source string, start, end dates.Date) ([]*domain.NavPoint, error)

	// TradingDates returns the distinct dates within [start, end] that
	// have at least one NAV observation for the given funds; a nil or
	// empty fund list means the whole source. Ascending.
	TradingDates(ctx context.Context, source string, fundCodes []string, start, end dates.Date) ([]dates.Date, error)
}

// SignalStore provides access to per-date signal snapshots.
type SignalStore interface {
	// InsertBulk adds multiple snapshots. Fails the entire batch on a
	// duplicate (fund, date).
	InsertBulk(ctx context.Context, snaps []*domain.SignalSnapshot) error

	// TopKByScore returns up to topK fund codes for the date, ranked by
	// the weighted signal score descending, ties broken by fund code ASC.
	// Only funds with a snapshot row on that date are candidates.
	TopKByScore(ctx context.Context, date dates.Date, topK int, weights [5]float64) ([]string, error)
}
