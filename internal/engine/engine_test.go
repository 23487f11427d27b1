package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage/memory"
)

type testStores struct {
	runs        *memory.RunStore
	positions   *memory.PositionStore
	orders      *memory.OrderStore
	trades      *memory.TradeStore
	receivables *memory.ReceivableStore
	equity      *memory.EquityStore
	navs        *memory.NavStore
}

func newTestStores() *testStores {
	return &testStores{
		runs:        memory.NewRunStore(),
		positions:   memory.NewPositionStore(),
		orders:      memory.NewOrderStore(),
		trades:      memory.NewTradeStore(),
		receivables: memory.NewReceivableStore(),
		equity:      memory.NewEquityStore(),
		navs:        memory.NewNavStore(),
	}
}

func (s *testStores) engine() *Engine {
	return New(s.runs, s.positions, s.orders, s.trades, s.receivables, s.equity, s.navs)
}

// seedNavs stores one NAV per day for the fund, starting at startDay.
func seedNavs(t *testing.T, s *testStores, fund, startDay string, navs ...string) []dates.Date {
	t.Helper()
	start := dates.MustParse(startDay)
	points := make([]*domain.NavPoint, len(navs))
	cal := make([]dates.Date, len(navs))
	for i, nav := range navs {
		d := start.AddDays(i)
		points[i] = &domain.NavPoint{
			FundCode: fund,
			Source:   "src",
			Date:     d,
			NAV:      decimal.RequireFromString(nav),
		}
		cal[i] = d
	}
	if err := s.navs.InsertBulk(context.Background(), points); err != nil {
		t.Fatalf("seed navs: %v", err)
	}
	return cal
}

func testRun(id string, cal []dates.Date, cash int64) *domain.Run {
	return &domain.Run{
		ID:             id,
		Mode:           domain.ModeBacktest,
		Source:         "src",
		Params:         domain.BuyAndHoldEqualParams{},
		StartDate:      cal[0],
		EndDate:        cal[len(cal)-1],
		CurrentDate:    cal[0],
		Calendar:       cal,
		InitialCash:    decimal.NewFromInt(cash),
		CashAvailable:  decimal.NewFromInt(cash),
		CashFrozen:     decimal.Zero,
		BuyFeeRate:     0.01,
		SellFeeRate:    0.01,
		SettlementDays: 1,
		Status:         domain.RunStatusCreated,
	}
}

func TestApplyActions_BuyFreezesCash(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "2", "2", "2", "2", "2")
	run := testRun("r1", cal, 1000)
	if err := s.runs.Insert(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	orders, err := eng.ApplyActions(ctx, run, []Action{
		{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(100)},
	})
	if err != nil {
		t.Fatalf("ApplyActions failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}

	// Exec date is the next NAV date strictly after the current date.
	if orders[0].ExecDate != cal[1] {
		t.Errorf("expected exec date %s, got %s", cal[1], orders[0].ExecDate)
	}
	if !run.CashAvailable.Equal(decimal.NewFromInt(900)) {
		t.Errorf("expected 900 available, got %v", run.CashAvailable)
	}
	if !run.CashFrozen.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100 frozen, got %v", run.CashFrozen)
	}

	// Persisted too.
	stored, _ := s.runs.GetByID(ctx, "r1")
	if !stored.CashAvailable.Equal(decimal.NewFromInt(900)) {
		t.Errorf("run cash not persisted: %v", stored.CashAvailable)
	}
}

func TestApplyActions_InsufficientCash(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "1", "1", "1")
	run := testRun("r1", cal, 100)
	s.runs.Insert(ctx, run)

	_, err := eng.ApplyActions(ctx, run, []Action{
		{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(500)},
	})
	if !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
	if !run.CashAvailable.Equal(decimal.NewFromInt(100)) {
		t.Errorf("cash changed after failed batch: %v", run.CashAvailable)
	}
}

func TestApplyActions_BatchIsAtomic(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "1", "1", "1")
	run := testRun("r1", cal, 100)
	s.runs.Insert(ctx, run)

	// First action is valid, second overdraws. Nothing may persist.
	_, err := eng.ApplyActions(ctx, run, []Action{
		{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(60)},
		{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(60)},
	})
	if !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}

	pending, _ := s.orders.PendingByExecDate(ctx, "r1", cal[1])
	if len(pending) != 0 {
		t.Errorf("orders persisted from failed batch: %d", len(pending))
	}
	stored, _ := s.runs.GetByID(ctx, "r1")
	if !stored.CashAvailable.Equal(decimal.NewFromInt(100)) {
		t.Errorf("run cash changed: %v", stored.CashAvailable)
	}
}

func TestApplyActions_SellValidatesShares(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "1", "1", "1")
	run := testRun("r1", cal, 100)
	s.runs.Insert(ctx, run)

	_, err := eng.ApplyActions(ctx, run, []Action{
		{Side: domain.SideSell, FundCode: "f1", Shares: decimal.NewFromInt(5)},
	})
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestApplyActions_NoFutureNavDate(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "1", "1")
	run := testRun("r1", cal, 100)
	run.CurrentDate = cal[1] // at the last NAV date
	s.runs.Insert(ctx, run)

	_, err := eng.ApplyActions(ctx, run, []Action{
		{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(10)},
	})
	if !errors.Is(err, ErrNoFutureNavDate) {
		t.Fatalf("expected ErrNoFutureNavDate, got %v", err)
	}
}

func TestExecuteBuy_FeeAndAvgCost(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "2", "2", "2", "2")
	run := testRun("r1", cal, 1000)
	s.runs.Insert(ctx, run)

	if _, err := eng.ApplyActions(ctx, run, []Action{
		{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(100)},
	}); err != nil {
		t.Fatalf("ApplyActions failed: %v", err)
	}
	if err := eng.ExecuteOrdersForDate(ctx, run, cal[1]); err != nil {
		t.Fatalf("ExecuteOrdersForDate failed: %v", err)
	}

	// fee = 100 * 0.01 = 1, net = 99, shares = 99 / 2 = 49.5
	pos, err := s.positions.GetByRunFund(ctx, "r1", "f1")
	if err != nil {
		t.Fatalf("position missing: %v", err)
	}
	if !pos.SharesAvailable.Equal(decimal.RequireFromString("49.5")) {
		t.Errorf("expected 49.5 shares, got %v", pos.SharesAvailable)
	}
	// Average cost covers the gross spend including the fee.
	if !pos.AvgCost.Mul(pos.SharesAvailable).Equal(decimal.NewFromInt(100)) {
		t.Errorf("avg cost does not recover gross spend: %v", pos.AvgCost)
	}
	if !run.CashFrozen.IsZero() {
		t.Errorf("frozen cash not released: %v", run.CashFrozen)
	}

	trades, _ := s.trades.GetByRun(ctx, "r1")
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if !trades[0].Fee.Equal(decimal.NewFromInt(1)) || !trades[0].NetAmount.Equal(decimal.NewFromInt(99)) {
		t.Errorf("unexpected trade amounts: fee=%v net=%v", trades[0].Fee, trades[0].NetAmount)
	}

	// Re-running the date is a no-op: the order is no longer pending.
	if err := eng.ExecuteOrdersForDate(ctx, run, cal[1]); err != nil {
		t.Fatalf("re-run failed: %v", err)
	}
	trades, _ = s.trades.GetByRun(ctx, "r1")
	if len(trades) != 1 {
		t.Errorf("re-run produced duplicate trades: %d", len(trades))
	}
}

func TestExecuteBuy_AvgCostBlendsAcrossBuys(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	// NAV doubles between the two executions.
	cal := seedNavs(t, s, "f1", "2024-01-01", "1", "1", "2", "2", "2")
	run := testRun("r1", cal, 1000)
	run.BuyFeeRate = 0
	s.runs.Insert(ctx, run)

	eng.ApplyActions(ctx, run, []Action{{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(100)}})
	if err := eng.ExecuteOrdersForDate(ctx, run, cal[1]); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	run.CurrentDate = cal[1]
	eng.ApplyActions(ctx, run, []Action{{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(100)}})
	if err := eng.ExecuteOrdersForDate(ctx, run, cal[2]); err != nil {
		t.Fatalf("second execute: %v", err)
	}

	// 100 shares @ 1 then 50 shares @ 2: avg cost = 200 / 150
	pos, _ := s.positions.GetByRunFund(ctx, "r1", "f1")
	if !pos.SharesAvailable.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected 150 shares, got %v", pos.SharesAvailable)
	}
	want := decimal.NewFromInt(200).Div(decimal.NewFromInt(150))
	if !pos.AvgCost.Equal(want) {
		t.Errorf("expected avg cost %v, got %v", want, pos.AvgCost)
	}
}

func TestExecuteSell_SettlesAfterLag(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "2", "2", "2", "2", "2")
	run := testRun("r1", cal, 1000)
	run.BuyFeeRate = 0
	s.runs.Insert(ctx, run)

	// Buy 50 shares, then sell 20 of them.
	eng.ApplyActions(ctx, run, []Action{{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(100)}})
	if err := eng.StepDate(ctx, run, cal[1]); err != nil {
		t.Fatalf("step to exec date: %v", err)
	}
	if _, err := eng.ApplyActions(ctx, run, []Action{
		{Side: domain.SideSell, FundCode: "f1", Shares: decimal.NewFromInt(20)},
	}); err != nil {
		t.Fatalf("sell action: %v", err)
	}

	// Shares are frozen until execution.
	pos, _ := s.positions.GetByRunFund(ctx, "r1", "f1")
	if !pos.SharesFrozen.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected 20 frozen shares, got %v", pos.SharesFrozen)
	}

	if err := eng.StepDate(ctx, run, cal[2]); err != nil {
		t.Fatalf("step to sell exec: %v", err)
	}

	// gross = 40, fee = 0.4, net = 39.6 held as a receivable, not cash.
	net := decimal.RequireFromString("39.6")
	recv, _ := s.receivables.SumByRun(ctx, "r1")
	if !recv.Equal(net) {
		t.Errorf("expected receivable 39.6, got %v", recv)
	}
	if !run.CashAvailable.Equal(decimal.NewFromInt(900)) {
		t.Errorf("cash credited before settlement: %v", run.CashAvailable)
	}

	// T+1: the receivable sweeps into cash on the next trading day.
	if err := eng.StepDate(ctx, run, cal[3]); err != nil {
		t.Fatalf("step to settle date: %v", err)
	}
	recv, _ = s.receivables.SumByRun(ctx, "r1")
	if !recv.IsZero() {
		t.Errorf("receivable not swept: %v", recv)
	}
	if !run.CashAvailable.Equal(decimal.NewFromInt(900).Add(net)) {
		t.Errorf("expected cash 939.6, got %v", run.CashAvailable)
	}

	// Avg cost survives a partial sell.
	pos, _ = s.positions.GetByRunFund(ctx, "r1", "f1")
	if !pos.SharesAvailable.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected 30 shares left, got %v", pos.SharesAvailable)
	}
	if !pos.AvgCost.Equal(decimal.NewFromInt(2)) {
		t.Errorf("avg cost changed on sell: %v", pos.AvgCost)
	}
}

func TestExecuteSell_FullCloseResetsAvgCost(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "2", "2", "2", "2")
	run := testRun("r1", cal, 1000)
	run.BuyFeeRate = 0
	s.runs.Insert(ctx, run)

	eng.ApplyActions(ctx, run, []Action{{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(100)}})
	eng.StepDate(ctx, run, cal[1])
	eng.ApplyActions(ctx, run, []Action{{Side: domain.SideSell, FundCode: "f1", Shares: decimal.NewFromInt(50)}})
	eng.StepDate(ctx, run, cal[2])

	pos, _ := s.positions.GetByRunFund(ctx, "r1", "f1")
	if !pos.TotalShares().IsZero() {
		t.Fatalf("position not closed: %v", pos.TotalShares())
	}
	if !pos.AvgCost.IsZero() {
		t.Errorf("avg cost not reset on full close: %v", pos.AvgCost)
	}
}

func TestExecuteOrders_ZeroNavLeftPending(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "1", "0", "1")
	run := testRun("r1", cal, 1000)
	s.runs.Insert(ctx, run)

	eng.ApplyActions(ctx, run, []Action{{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(100)}})
	if err := eng.ExecuteOrdersForDate(ctx, run, cal[1]); err != nil {
		t.Fatalf("ExecuteOrdersForDate failed: %v", err)
	}

	pending, _ := s.orders.PendingByExecDate(ctx, "r1", cal[1])
	if len(pending) != 1 {
		t.Errorf("order with zero NAV should stay pending, got %d pending", len(pending))
	}
	if !run.CashFrozen.Equal(decimal.NewFromInt(100)) {
		t.Errorf("frozen cash released without execution: %v", run.CashFrozen)
	}
}

func TestComputeObservation_AccountsAllBuckets(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "2", "2", "2", "2", "2")
	run := testRun("r1", cal, 1000)
	run.BuyFeeRate = 0
	run.SellFeeRate = 0
	s.runs.Insert(ctx, run)

	eng.ApplyActions(ctx, run, []Action{{Side: domain.SideBuy, FundCode: "f1", Amount: decimal.NewFromInt(200)}})
	eng.StepDate(ctx, run, cal[1])
	eng.ApplyActions(ctx, run, []Action{{Side: domain.SideSell, FundCode: "f1", Shares: decimal.NewFromInt(40)}})
	eng.StepDate(ctx, run, cal[2])

	obs, err := eng.ComputeObservation(ctx, run, cal[2])
	if err != nil {
		t.Fatalf("ComputeObservation failed: %v", err)
	}

	// 800 cash + 80 receivable + 60 shares * 2 = 1000; no fees configured.
	if !obs.CashAvailable.Equal(decimal.NewFromInt(800)) {
		t.Errorf("cash: %v", obs.CashAvailable)
	}
	if !obs.CashReceivable.Equal(decimal.NewFromInt(80)) {
		t.Errorf("receivable: %v", obs.CashReceivable)
	}
	if !obs.PositionsValue.Equal(decimal.NewFromInt(120)) {
		t.Errorf("positions value: %v", obs.PositionsValue)
	}
	if !obs.TotalEquity.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("total equity: %v", obs.TotalEquity)
	}

	// The observation is persisted as a DailyEquity row.
	curve, _ := s.equity.GetByRun(ctx, "r1")
	if len(curve) == 0 || curve[len(curve)-1].TotalEquity != 1000 {
		t.Errorf("daily equity not persisted: %+v", curve)
	}
}

func TestComputeObservation_NavlessPositionContributesNothing(t *testing.T) {
	s := newTestStores()
	eng := s.engine()
	ctx := context.Background()

	cal := seedNavs(t, s, "f1", "2024-01-01", "2", "2")
	run := testRun("r1", cal, 100)
	s.runs.Insert(ctx, run)

	// A holding whose fund has no NAV at or before the valuation date.
	s.positions.Upsert(ctx, &domain.Position{
		RunID:           "r1",
		FundCode:        "ghost",
		SharesAvailable: decimal.NewFromInt(10),
	})

	obs, err := eng.ComputeObservation(ctx, run, cal[0])
	if err != nil {
		t.Fatalf("ComputeObservation failed: %v", err)
	}
	if !obs.PositionsValue.IsZero() {
		t.Errorf("nav-less position valued: %v", obs.PositionsValue)
	}
	if len(obs.Positions) != 1 || obs.Positions[0].NAV != nil {
		t.Errorf("nav-less position should stay in view with nil NAV: %+v", obs.Positions)
	}
}
