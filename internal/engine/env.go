package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/calendar"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/observability"
)

// Env controller errors.
var (
	ErrRunDone          = errors.New("engine: run already reached its end date")
	ErrNotEnvMode       = errors.New("engine: run is not in env mode")
	ErrNoNextTradingDay = errors.New("engine: no next trading day in calendar")
)

// EnvCreate validates and persists an interactive run and returns its
// initial observation. The run's calendar must already be built; the
// current date snaps to the first trading day at or after the start date.
func (e *Engine) EnvCreate(ctx context.Context, run *domain.Run) (*Observation, error) {
	run.Mode = domain.ModeEnv
	if err := run.Validate(); err != nil {
		return nil, err
	}
	if len(run.Calendar) == 0 {
		return nil, calendar.ErrEmptyCalendar
	}

	first, ok := calendar.AddTradingDays(run.Calendar, run.StartDate, 0)
	if !ok {
		return nil, calendar.ErrEmptyCalendar
	}
	run.CurrentDate = first
	run.CashAvailable = run.InitialCash
	run.CashFrozen = decimal.Zero
	run.Status = domain.RunStatusCreated

	if err := e.runs.Insert(ctx, run); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	observability.RecordRunCreated(string(run.Mode))

	return e.ComputeObservation(ctx, run, run.CurrentDate)
}

// EnvStep advances an interactive run by one trading day. The action
// batch is staged and validated first; any invalid action fails the whole
// step with the run unchanged. Reward is the fractional equity change
// against the pre-step observation (zero when prior equity is not
// positive). Stepping a run at or past its end date returns ErrRunDone.
func (e *Engine) EnvStep(ctx context.Context, runID string, actions []Action) (*StepResult, error) {
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if run.Mode != domain.ModeEnv {
		return nil, ErrNotEnvMode
	}
	if run.Status == domain.RunStatusDone || !run.CurrentDate.Before(run.EndDate) {
		return nil, ErrRunDone
	}

	prev, err := e.ComputeObservation(ctx, run, run.CurrentDate)
	if err != nil {
		return nil, err
	}

	if _, err := e.ApplyActions(ctx, run, actions); err != nil {
		return nil, err
	}

	next, ok := calendar.NextAfter(run.Calendar, run.CurrentDate)
	if !ok {
		return nil, ErrNoNextTradingDay
	}
	if err := e.StepDate(ctx, run, next); err != nil {
		return nil, err
	}

	obs, err := e.ComputeObservation(ctx, run, next)
	if err != nil {
		return nil, err
	}

	reward := 0.0
	if prevEq := prev.TotalEquity.InexactFloat64(); prevEq > 0 {
		reward = (obs.TotalEquity.InexactFloat64() - prevEq) / prevEq
	}

	done := !next.Before(run.EndDate)
	if done {
		if err := e.runs.UpdateStatus(ctx, run.ID, domain.RunStatusDone); err != nil {
			return nil, fmt.Errorf("mark run done: %w", err)
		}
		run.Status = domain.RunStatusDone
	}
	observability.RecordEnvStep()

	return &StepResult{Observation: obs, Reward: reward, Done: done}, nil
}

// EnvObservation values the run at its current date without advancing it.
func (e *Engine) EnvObservation(ctx context.Context, runID string) (*Observation, error) {
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if run.Mode != domain.ModeEnv {
		return nil, ErrNotEnvMode
	}
	return e.ComputeObservation(ctx, run, run.CurrentDate)
}
