package domain

import (
	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
)

// Side is the direction of an order or trade.
type Side string

// Order sides.
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// Order statuses. An order transitions pending -> executed exactly once;
// orders whose NAV never materializes on exec_date stay pending.
const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusExecuted OrderStatus = "executed"
)

// Position is the per (run, fund) holding. AvgCost is the weighted-average
// cost per share including capitalized buy fees; it is unaffected by sells
// and resets to zero when the position fully closes.
type Position struct {
	RunID           string
	FundCode        string
	SharesAvailable decimal.Decimal
	SharesFrozen    decimal.Decimal
	AvgCost         decimal.Decimal
}

// TotalShares returns available + frozen shares.
func (p *Position) TotalShares() decimal.Decimal {
	return p.SharesAvailable.Add(p.SharesFrozen)
}

// Order is a trade instruction decided on TradeDate and executed against
// the NAV of ExecDate. BUY orders carry Amount (cash to spend), SELL
// orders carry Shares (quantity to liquidate).
type Order struct {
	ID        string
	RunID     string
	TradeDate dates.Date
	ExecDate  dates.Date
	Side      Side
	FundCode  string
	Amount    decimal.Decimal
	Shares    decimal.Decimal
	Status    OrderStatus

	// Populated on execution.
	ExecNAV        decimal.Decimal
	Fee            decimal.Decimal
	ExecutedShares decimal.Decimal
	CashDelta      decimal.Decimal
	SettleDate     dates.Date // SELL only
}

// Trade is the immutable record of an executed order.
type Trade struct {
	ID          string
	RunID       string
	OrderID     string
	ExecDate    dates.Date
	Side        Side
	FundCode    string
	NAV         decimal.Decimal
	Shares      decimal.Decimal
	GrossAmount decimal.Decimal
	Fee         decimal.Decimal
	NetAmount   decimal.Decimal
	SettleDate  dates.Date // zero for BUY
}

// CashReceivable is pending sell proceeds awaiting T+N settlement.
// It is deleted exactly once when SettleDate arrives, crediting the
// run's available cash.
type CashReceivable struct {
	ID         string
	RunID      string
	SettleDate dates.Date
	Amount     decimal.Decimal
}

// DailyEquity is the per (run, date) valuation snapshot. Rows are
// overwritten idempotently, so re-running a date is safe.
type DailyEquity struct {
	RunID          string
	Date           dates.Date
	TotalEquity    float64
	CashAvailable  float64
	CashFrozen     float64
	CashReceivable float64
	PositionsValue float64
}

// TrainRound records the best candidate of one optimizer round.
type TrainRound struct {
	RunID           string
	Round           int
	BestTotalReturn float64
	BestFinalEquity float64
	BestWeights     []float64
}
