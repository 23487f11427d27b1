// Package backtest creates autonomous runs and replays them to completion,
// dispatching on the run's strategy parameters.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/calendar"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/engine"
	"fund-sim-lab/internal/observability"
	"fund-sim-lab/internal/storage"
	"fund-sim-lab/internal/strategy"
	"fund-sim-lab/internal/timing"
)

// ErrNotBacktestMode is returned when Run is pointed at an env run.
var ErrNotBacktestMode = errors.New("backtest: run is not in backtest mode")

// Runner creates and replays backtest runs.
type Runner struct {
	engine    *engine.Engine
	sim       *strategy.Simulator
	runs      storage.RunStore
	navs      storage.NavStore
	equity    storage.EquityStore
	newOracle func(baseURL string) timing.Oracle
}

// Option configures Runner.
type Option func(*Runner)

// WithOracleFactory overrides how the timing oracle is built from a quant
// service URL.
func WithOracleFactory(f func(baseURL string) timing.Oracle) Option {
	return func(r *Runner) {
		r.newOracle = f
	}
}

// New creates a runner over the engine, the strategy simulator, and the
// stores both need.
func New(eng *engine.Engine, sim *strategy.Simulator, runs storage.RunStore,
	navs storage.NavStore, equity storage.EquityStore, opts ...Option) *Runner {
	r := &Runner{
		engine: eng,
		sim:    sim,
		runs:   runs,
		navs:   navs,
		equity: equity,
		newOracle: func(baseURL string) timing.Oracle {
			return timing.NewClient(baseURL)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRun validates the run, builds its trading calendar, and persists
// it in created status. Buy-and-hold requires a fixed universe and builds
// the calendar over it; the automatic strategies use the whole source. An
// empty calendar aborts creation.
func (r *Runner) CreateRun(ctx context.Context, run *domain.Run) error {
	run.Mode = domain.ModeBacktest
	if err := run.Validate(); err != nil {
		return err
	}

	var universe []string
	switch run.Params.(type) {
	case domain.BuyAndHoldEqualParams:
		if len(run.FundCodes) == 0 {
			return domain.ErrBuyAndHoldUniverse
		}
		universe = run.FundCodes
	case domain.TopkSnapshotParams, domain.TopkTsTimingParams:
		// Dynamic universe: the calendar spans the whole source.
	default:
		return domain.ErrUnknownStrategy
	}

	cal, err := calendar.Build(ctx, r.navs, run.Source, universe, run.StartDate, run.EndDate, run.SettlementDays+5)
	if err != nil {
		return err
	}
	run.Calendar = cal

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.CurrentDate = run.StartDate
	run.CashAvailable = run.InitialCash
	run.CashFrozen = decimal.Zero
	run.Status = domain.RunStatusCreated

	if err := r.runs.Insert(ctx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	observability.RecordRunCreated(string(run.Mode))
	return nil
}

// Run replays a backtest run to completion and marks it done. Prior daily
// equity rows are discarded first so re-runs start from a clean series.
func (r *Runner) Run(ctx context.Context, runID string) error {
	run, err := r.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Mode != domain.ModeBacktest {
		return ErrNotBacktestMode
	}

	if err := r.equity.DeleteByRun(ctx, run.ID); err != nil {
		return fmt.Errorf("clear daily equity: %w", err)
	}

	start := time.Now()
	switch p := run.Params.(type) {
	case domain.BuyAndHoldEqualParams:
		err = r.runBuyAndHold(ctx, run)
	case domain.TopkSnapshotParams:
		_, err = r.sim.RunSnapshot(ctx, r.simInput(run), p)
	case domain.TopkTsTimingParams:
		_, err = r.sim.RunTiming(ctx, r.simInput(run), p, r.newOracle(p.QuantServiceURL))
	default:
		err = domain.ErrUnknownStrategy
	}
	if err != nil {
		return err
	}

	if err := r.runs.UpdateStatus(ctx, run.ID, domain.RunStatusDone); err != nil {
		return fmt.Errorf("mark run done: %w", err)
	}
	tag := run.Params.Tag()
	observability.RecordRunCompleted(tag)
	observability.DefaultMetrics.BacktestDuration.WithLabelValues(tag).Observe(time.Since(start).Seconds())
	return nil
}

// runBuyAndHold places one equal-split BUY per universe fund at the run's
// current date, then mechanically advances through the calendar executing,
// settling, and observing until the end date.
func (r *Runner) runBuyAndHold(ctx context.Context, run *domain.Run) error {
	if len(run.FundCodes) == 0 {
		return domain.ErrBuyAndHoldUniverse
	}

	amountEach := run.CashAvailable.Div(decimal.NewFromInt(int64(len(run.FundCodes))))
	actions := make([]engine.Action, 0, len(run.FundCodes))
	running := run.CashAvailable
	for _, code := range run.FundCodes {
		// Division rounding can leave the last slice short of cash.
		if amountEach.Sign() <= 0 || running.Cmp(amountEach) < 0 {
			break
		}
		running = running.Sub(amountEach)
		actions = append(actions, engine.Action{Side: domain.SideBuy, FundCode: code, Amount: amountEach})
	}
	if _, err := r.engine.ApplyActions(ctx, run, actions); err != nil {
		return err
	}

	for cur := run.CurrentDate; cur.Before(run.EndDate); {
		next, ok := calendar.NextAfter(run.Calendar, cur)
		if !ok {
			return engine.ErrNoNextTradingDay
		}
		if err := r.engine.StepDate(ctx, run, next); err != nil {
			return err
		}
		if _, err := r.engine.ComputeObservation(ctx, run, next); err != nil {
			return err
		}
		cur = next
	}
	return nil
}

func (r *Runner) simInput(run *domain.Run) strategy.SimInput {
	return strategy.SimInput{
		Source:       run.Source,
		Calendar:     run.Calendar,
		StartDate:    run.StartDate,
		EndDate:      run.EndDate,
		InitialCash:  run.InitialCash,
		BuyFeeRate:   run.BuyFeeRate,
		SellFeeRate:  run.SellFeeRate,
		PersistRunID: run.ID,
	}
}
