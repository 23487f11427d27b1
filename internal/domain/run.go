package domain

import (
	"errors"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
)

// Mode distinguishes interactive stepping from autonomous replay.
type Mode string

// Run modes.
const (
	ModeEnv      Mode = "env"
	ModeBacktest Mode = "backtest"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusCreated RunStatus = "created"
	RunStatusDone    RunStatus = "done"
)

// Validation errors for runs.
var (
	ErrInvalidDateRange = errors.New("start_date must be before end_date")
	ErrNegativeCash     = errors.New("initial_cash must be positive")
	ErrInvalidFeeRate   = errors.New("fee rates must be in [0, 1)")
	ErrInvalidSettle    = errors.New("settlement_days must be >= 0")
)

// Run is one simulation instance. All ledger rows (positions, orders,
// trades, receivables, daily equity, train rounds) are keyed by its ID.
type Run struct {
	ID     string
	Name   string
	Mode   Mode
	Source string

	// FundCodes is the fixed universe. Empty means the universe is
	// dynamic: the whole source, re-scored per date.
	FundCodes []string

	Params StrategyParams

	StartDate   dates.Date
	EndDate     dates.Date
	CurrentDate dates.Date

	// Calendar is the ordered, duplicate-free set of trading dates for
	// the run, including the settlement buffer past EndDate.
	Calendar []dates.Date

	InitialCash   decimal.Decimal
	CashAvailable decimal.Decimal
	CashFrozen    decimal.Decimal

	BuyFeeRate     float64
	SellFeeRate    float64
	SettlementDays int

	Status RunStatus
}

// Validate checks creation-time configuration. Strategy params are
// validated separately by their own Validate.
func (r *Run) Validate() error {
	if !r.StartDate.Before(r.EndDate) {
		return ErrInvalidDateRange
	}
	if r.InitialCash.Sign() <= 0 {
		return ErrNegativeCash
	}
	if r.BuyFeeRate < 0 || r.BuyFeeRate >= 1 || r.SellFeeRate < 0 || r.SellFeeRate >= 1 {
		return ErrInvalidFeeRate
	}
	if r.SettlementDays < 0 {
		return ErrInvalidSettle
	}
	if r.Params == nil {
		return ErrUnknownStrategy
	}
	return r.Params.Validate()
}
