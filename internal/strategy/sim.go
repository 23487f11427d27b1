package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/observability"
	"fund-sim-lab/internal/storage"
)

// Forces the first in-range date to rebalance regardless of cadence.
const neverRebalanced = 10_000

// Simulator evaluates the automatic strategies over stored NAV history
// without touching the order/receivable ledger: sells credit cash the same
// day and settlement delay is ignored.
type Simulator struct {
	navs    storage.NavStore
	signals storage.SignalStore
	equity  storage.EquityStore
}

// NewSimulator creates a simulator over the given stores.
func NewSimulator(navs storage.NavStore, signals storage.SignalStore, equity storage.EquityStore) *Simulator {
	return &Simulator{navs: navs, signals: signals, equity: equity}
}

// SimInput is the run-level configuration shared by both simulators.
type SimInput struct {
	Source      string
	Calendar    []dates.Date
	StartDate   dates.Date
	EndDate     dates.Date
	InitialCash decimal.Decimal
	BuyFeeRate  float64
	SellFeeRate float64

	// PersistRunID, when non-empty, upserts a DailyEquity row per
	// simulated date under that run.
	PersistRunID string
}

// SimResult is the outcome of one simulation.
type SimResult struct {
	FinalEquity decimal.Decimal
	TotalReturn float64
}

// RunSnapshot simulates the top-K snapshot strategy: whenever there are no
// holdings or the rebalance cadence has elapsed, liquidate everything at
// the day's NAV, re-pick the top-K by weighted signal score, and split all
// cash equally across the picks.
func (s *Simulator) RunSnapshot(ctx context.Context, in SimInput, p domain.TopkSnapshotParams) (*SimResult, error) {
	topK := clampInt(p.TopK, 1, 200)
	rebalanceEvery := clampInt(p.RebalanceEvery, 1, 60)
	w := NormalizeWeights(p.Weights)

	cash := in.InitialCash
	holdings := make(map[string]decimal.Decimal)
	daysSinceRebalance := neverRebalanced
	last := in.EndDate

	for _, d := range in.Calendar {
		if d.Before(in.StartDate) {
			continue
		}
		if d.After(in.EndDate) {
			break
		}
		last = d

		if len(holdings) == 0 || daysSinceRebalance >= rebalanceEvery {
			liquidated, err := s.positionsValue(ctx, in.Source, holdings, d)
			if err != nil {
				return nil, err
			}
			if liquidated.Sign() > 0 {
				fee := liquidated.Mul(decimal.NewFromFloat(in.SellFeeRate))
				proceeds := liquidated.Sub(fee)
				if proceeds.Sign() < 0 {
					proceeds = decimal.Zero
				}
				cash = cash.Add(proceeds)
			}
			holdings = make(map[string]decimal.Decimal)

			picks, err := s.signals.TopKByScore(ctx, d, topK, w)
			if err != nil {
				return nil, fmt.Errorf("pick top-k: %w", err)
			}
			if len(picks) > 0 && cash.Sign() > 0 {
				spent, err := s.buyEqualSplit(ctx, in, holdings, nil, picks, cash, d)
				if err != nil {
					return nil, err
				}
				cash = cash.Sub(spent)
				if cash.Sign() < 0 {
					cash = decimal.Zero
				}
			}
			daysSinceRebalance = 0
		} else {
			daysSinceRebalance++
		}

		if err := s.persistEquity(ctx, in, d, cash, holdings); err != nil {
			return nil, err
		}
	}

	return s.finishSim(ctx, in, cash, holdings, last)
}

// buyEqualSplit splits budget equally across picks, buying fee-adjusted
// shares at the day's NAV. Picks without a usable NAV are skipped and
// their slice of the budget stays unspent. When avgCost is non-nil the
// weighted cost basis is maintained with the gross amount (fees
// capitalized). Returns the gross cash spent.
func (s *Simulator) buyEqualSplit(ctx context.Context, in SimInput, holdings, avgCost map[string]decimal.Decimal,
	picks []string, budget decimal.Decimal, d dates.Date) (decimal.Decimal, error) {
	amountEach := budget.Div(decimal.NewFromInt(int64(len(picks))))
	feeRate := decimal.NewFromFloat(in.BuyFeeRate)
	spent := decimal.Zero

	for _, code := range picks {
		nav, err := s.navs.NavOnOrBefore(ctx, code, in.Source, d)
		if err != nil {
			return spent, fmt.Errorf("nav lookup %s: %w", code, err)
		}
		if nav == nil || nav.Sign() <= 0 {
			continue
		}

		gross := amountEach
		fee := gross.Mul(feeRate)
		net := gross.Sub(fee)
		if net.Sign() < 0 {
			net = decimal.Zero
		}
		shares := net.Div(*nav)
		if shares.Sign() <= 0 {
			continue
		}

		old := holdings[code]
		total := old.Add(shares)
		holdings[code] = total
		if avgCost != nil {
			if old.Sign() > 0 {
				avgCost[code] = avgCost[code].Mul(old).Add(gross).Div(total)
			} else {
				avgCost[code] = gross.Div(total)
			}
		}
		spent = spent.Add(gross)
	}

	return spent, nil
}

// positionsValue sums shares×NAV over the holdings at date d. Funds
// without a NAV at or before d contribute nothing.
func (s *Simulator) positionsValue(ctx context.Context, source string, holdings map[string]decimal.Decimal, d dates.Date) (decimal.Decimal, error) {
	value := decimal.Zero
	for _, code := range sortedCodes(holdings) {
		shares := holdings[code]
		if shares.Sign() <= 0 {
			continue
		}
		nav, err := s.navs.NavOnOrBefore(ctx, code, source, d)
		if err != nil {
			return decimal.Zero, fmt.Errorf("nav lookup %s: %w", code, err)
		}
		if nav == nil {
			continue
		}
		value = value.Add(shares.Mul(*nav))
	}
	return value, nil
}

func (s *Simulator) persistEquity(ctx context.Context, in SimInput, d dates.Date, cash decimal.Decimal, holdings map[string]decimal.Decimal) error {
	if in.PersistRunID == "" {
		return nil
	}
	posValue, err := s.positionsValue(ctx, in.Source, holdings, d)
	if err != nil {
		return err
	}
	row := &domain.DailyEquity{
		RunID:          in.PersistRunID,
		Date:           d,
		TotalEquity:    cash.Add(posValue).InexactFloat64(),
		CashAvailable:  cash.InexactFloat64(),
		PositionsValue: posValue.InexactFloat64(),
	}
	if err := s.equity.Upsert(ctx, row); err != nil {
		return fmt.Errorf("upsert daily equity: %w", err)
	}
	observability.RecordEquitySnapshot()
	return nil
}

// finishSim values the remaining holdings at the last in-range trading day
// and converts to a total-return result.
func (s *Simulator) finishSim(ctx context.Context, in SimInput, cash decimal.Decimal, holdings map[string]decimal.Decimal, last dates.Date) (*SimResult, error) {
	posValue, err := s.positionsValue(ctx, in.Source, holdings, last)
	if err != nil {
		return nil, err
	}
	final := cash.Add(posValue)

	ret := 0.0
	if in.InitialCash.Sign() > 0 {
		ret = final.Sub(in.InitialCash).Div(in.InitialCash).InexactFloat64()
	}
	return &SimResult{FinalEquity: final, TotalReturn: ret}, nil
}

func sortedCodes(m map[string]decimal.Decimal) []string {
	codes := make([]string, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
