// Package optimizer tunes the snapshot strategy's scoring weights with a
// cross-entropy search over full strategy simulations.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/observability"
	"fund-sim-lab/internal/storage"
	"fund-sim-lab/internal/strategy"
)

// DefaultSeed drives the candidate sampler when no seed is given, keeping
// repeated trainings comparable.
const DefaultSeed = 42

const weightDims = 5

// Trainer errors.
var (
	ErrNotBacktestMode = errors.New("optimizer: run is not in backtest mode")
	ErrWrongStrategy   = errors.New("optimizer: run strategy is not auto_topk_snapshot")
)

// Trainer searches weight vectors for an auto_topk_snapshot run.
type Trainer struct {
	runs   storage.RunStore
	rounds storage.TrainRoundStore
	sim    *strategy.Simulator
}

// New creates a trainer.
func New(runs storage.RunStore, rounds storage.TrainRoundStore, sim *strategy.Simulator) *Trainer {
	return &Trainer{runs: runs, rounds: rounds, sim: sim}
}

// Options bound one training call. Out-of-range values are clamped.
type Options struct {
	Rounds     int     // [1, 200]
	Population int     // [5, 200]
	EliteRatio float64 // [0.05, 0.5]
	Seed       int64   // 0 means DefaultSeed
}

// RoundResult is the best candidate of one round.
type RoundResult struct {
	Round           int
	BestTotalReturn float64
	BestFinalEquity float64
	BestWeights     []float64
}

// Train runs the cross-entropy search: each round draws a Gaussian
// population around the running mean/std, scores every candidate by its
// simulated total return, and refits mean/std on the elite fraction. Round
// history is persisted and the run's stored weights are overwritten with
// the best candidate seen across all rounds. Deterministic for a fixed
// seed.
func (t *Trainer) Train(ctx context.Context, runID string, opts Options) ([]RoundResult, error) {
	run, err := t.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if run.Mode != domain.ModeBacktest {
		return nil, ErrNotBacktestMode
	}
	params, ok := run.Params.(domain.TopkSnapshotParams)
	if !ok {
		return nil, ErrWrongStrategy
	}

	rounds := clampInt(opts.Rounds, 1, 200)
	population := clampInt(opts.Population, 5, 200)
	eliteRatio := clampFloat(opts.EliteRatio, 0.05, 0.5)
	eliteCount := clampInt(int(math.Round(float64(population)*eliteRatio)), 1, population)
	seed := opts.Seed
	if seed == 0 {
		seed = DefaultSeed
	}

	if err := t.rounds.DeleteByRun(ctx, run.ID); err != nil {
		return nil, fmt.Errorf("clear train rounds: %w", err)
	}

	var mean [weightDims]float64 = strategy.NormalizeWeights(params.Weights)
	var std [weightDims]float64
	for i := range std {
		std[i] = 0.8
	}
	rng := rand.New(rand.NewSource(seed))

	in := strategy.SimInput{
		Source:      run.Source,
		Calendar:    run.Calendar,
		StartDate:   run.StartDate,
		EndDate:     run.EndDate,
		InitialCash: run.InitialCash,
		BuyFeeRate:  run.BuyFeeRate,
		SellFeeRate: run.SellFeeRate,
	}

	type candidate struct {
		ret     float64
		equity  float64
		weights []float64
	}

	out := make([]RoundResult, 0, rounds)
	var best *RoundResult

	for round := 1; round <= rounds; round++ {
		scored := make([]candidate, 0, population)
		for i := 0; i < population; i++ {
			wv := make([]float64, weightDims)
			for j := range wv {
				wv[j] = clampFloat(randNormal(rng, mean[j], std[j]), -3, 3)
			}
			cp := params
			cp.Weights = wv
			res, err := t.sim.RunSnapshot(ctx, in, cp)
			if err != nil {
				return nil, fmt.Errorf("round %d candidate %d: %w", round, i, err)
			}
			observability.RecordCandidateSim()
			scored = append(scored, candidate{
				ret:     res.TotalReturn,
				equity:  res.FinalEquity.InexactFloat64(),
				weights: wv,
			})
		}

		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].ret > scored[j].ret
		})
		elite := scored[:eliteCount]
		for j := 0; j < weightDims; j++ {
			m := 0.0
			for _, c := range elite {
				m += c.weights[j]
			}
			m /= float64(len(elite))
			v := 0.0
			for _, c := range elite {
				v += (c.weights[j] - m) * (c.weights[j] - m)
			}
			v /= float64(len(elite))
			mean[j] = m
			std[j] = clampFloat(math.Sqrt(v), 0.05, 2.0)
		}

		top := scored[0]
		result := RoundResult{
			Round:           round,
			BestTotalReturn: top.ret,
			BestFinalEquity: top.equity,
			BestWeights:     append([]float64(nil), top.weights...),
		}
		if best == nil || result.BestTotalReturn > best.BestTotalReturn {
			cp := result
			best = &cp
		}

		row := &domain.TrainRound{
			RunID:           run.ID,
			Round:           round,
			BestTotalReturn: result.BestTotalReturn,
			BestFinalEquity: result.BestFinalEquity,
			BestWeights:     append([]float64(nil), result.BestWeights...),
		}
		if err := t.rounds.Upsert(ctx, row); err != nil {
			return nil, fmt.Errorf("persist round %d: %w", round, err)
		}
		observability.RecordTrainRound()

		out = append(out, result)
	}

	if best != nil {
		params.Weights = append([]float64(nil), best.BestWeights...)
		if err := t.runs.UpdateParams(ctx, run.ID, params); err != nil {
			return nil, fmt.Errorf("persist best weights: %w", err)
		}
	}
	return out, nil
}

// randNormal draws one Gaussian sample via Box-Muller.
func randNormal(rng *rand.Rand, mean, std float64) float64 {
	u1 := rng.Float64()
	if u1 < 1e-12 {
		u1 = 1e-12
	}
	u2 := rng.Float64()
	z0 := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + z0*std
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
