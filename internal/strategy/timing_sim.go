package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/lookup"
	"fund-sim-lab/internal/timing"
)

// Index series constants for the timing overlay. The Shanghai composite
// close gates the stop-profit rule; the lookback warms up the oracle's
// MACD state before the simulation window.
const (
	shCompositeCode   = "1.000001"
	indexSource       = "eastmoney"
	indexLookbackDays = 450
)

// RunTiming simulates the timing-overlay variant of the snapshot strategy.
// The oracle classifies the reference index series into buy/sell signal
// days up front; each simulated date then runs the stop-profit check, the
// gated rebalance, or a signal-day add-on buy. Oracle failures fail the
// whole simulation.
func (s *Simulator) RunTiming(ctx context.Context, in SimInput, p domain.TopkTsTimingParams, oracle timing.Oracle) (*SimResult, error) {
	topK := clampInt(p.TopK, 1, 200)
	rebalanceEvery := clampInt(p.RebalanceEvery, 1, 60)
	w := NormalizeWeights(p.Weights)

	referCode := strings.TrimSpace(p.ReferIndexCode)
	idxSeries, err := s.navs.Series(ctx, referCode, indexSource, in.StartDate.AddDays(-indexLookbackDays), in.EndDate)
	if err != nil {
		return nil, fmt.Errorf("load index series %s: %w", referCode, err)
	}
	idxPoints := make([]timing.IndexPoint, len(idxSeries))
	for i, pt := range idxSeries {
		idxPoints[i] = timing.IndexPoint{Date: pt.Date, Close: pt.NAV.InexactFloat64()}
	}

	sellPos := clampFloat(derefOrZero(p.SellMACDPoint), 0, 100) / 100
	buyPos := clampFloat(derefOrZero(p.BuyMACDPoint), 0, 100) / 100
	cls, err := oracle.Classify(ctx, idxPoints, buyPos, sellPos)
	if err != nil {
		return nil, err
	}

	shSeries, err := s.navs.Series(ctx, shCompositeCode, indexSource, in.StartDate, in.EndDate)
	if err != nil {
		return nil, fmt.Errorf("load index series %s: %w", shCompositeCode, err)
	}

	maxEquitySeen := in.InitialCash.InexactFloat64()
	cash := in.InitialCash
	holdings := make(map[string]decimal.Decimal)
	avgCost := make(map[string]decimal.Decimal)
	daysSinceRebalance := neverRebalanced
	var pickedCache []string
	last := in.EndDate

	for _, d := range in.Calendar {
		if d.Before(in.StartDate) {
			continue
		}
		if d.After(in.EndDate) {
			break
		}
		last = d

		shClose := 0.0
		if pt := lookup.LatestAtOrBefore(d, shSeries); pt != nil {
			shClose = pt.NAV.InexactFloat64()
		}

		// Pre-trade valuation feeds the stop-profit conditions.
		posValue, err := s.positionsValue(ctx, in.Source, holdings, d)
		if err != nil {
			return nil, err
		}
		equity := cash.Add(posValue)

		investedRatio := 0.0
		if equity.Sign() > 0 {
			investedRatio = posValue.Div(equity).InexactFloat64()
		}
		totalReturn := 0.0
		if in.InitialCash.Sign() > 0 {
			totalReturn = equity.Sub(in.InitialCash).Div(in.InitialCash).InexactFloat64()
		}

		sellTimingOK := p.SellMACDPoint == nil || cls.IsSellDay(d)
		sellAtTopOK := !p.SellAtTop || equity.InexactFloat64() >= maxEquitySeen-1e-9

		if len(holdings) > 0 &&
			sellTimingOK &&
			sellAtTopOK &&
			shClose > p.SHCompositeIndex &&
			investedRatio > clampFloat(p.FundPosition, 0, 100)/100 &&
			totalReturn > clampFloat(p.ProfitRate, -100, 10_000)/100 {
			cash, err = s.stopProfitSell(ctx, in, p, holdings, avgCost, cash, d)
			if err != nil {
				return nil, err
			}

			posValue, err = s.positionsValue(ctx, in.Source, holdings, d)
			if err != nil {
				return nil, err
			}
			equity = cash.Add(posValue)
			if e := equity.InexactFloat64(); e > maxEquitySeen {
				maxEquitySeen = e
			}
			if err := s.persistEquity(ctx, in, d, cash, holdings); err != nil {
				return nil, err
			}
			// No buying on a stop-profit day.
			daysSinceRebalance++
			continue
		}

		isBuySignal := cls.IsBuyDay(d)
		canTradeToday := p.BuyMACDPoint == nil || isBuySignal
		wantsRebalance := len(holdings) == 0 || daysSinceRebalance >= rebalanceEvery
		wantsAddOnBuy := p.BuyMACDPoint != nil && isBuySignal

		if wantsRebalance && canTradeToday {
			pickedCache, err = s.signals.TopKByScore(ctx, d, topK, w)
			if err != nil {
				return nil, fmt.Errorf("pick top-k: %w", err)
			}

			// Sell only the funds that dropped out of the pick set.
			if len(holdings) > 0 && len(pickedCache) > 0 {
				cash, err = s.sellDroppedHoldings(ctx, in, holdings, avgCost, pickedCache, cash, d)
				if err != nil {
					return nil, err
				}
			}

			cash, err = s.budgetedBuy(ctx, in, p.BuyAmountPercent, holdings, avgCost, pickedCache, cash, d)
			if err != nil {
				return nil, err
			}
			daysSinceRebalance = 0
		} else {
			if wantsAddOnBuy {
				if len(pickedCache) == 0 {
					pickedCache, err = s.signals.TopKByScore(ctx, d, topK, w)
					if err != nil {
						return nil, fmt.Errorf("pick top-k: %w", err)
					}
				}
				cash, err = s.budgetedBuy(ctx, in, p.BuyAmountPercent, holdings, avgCost, pickedCache, cash, d)
				if err != nil {
					return nil, err
				}
			}
			daysSinceRebalance++
		}

		posValue, err = s.positionsValue(ctx, in.Source, holdings, d)
		if err != nil {
			return nil, err
		}
		if e := cash.Add(posValue).InexactFloat64(); e > maxEquitySeen {
			maxEquitySeen = e
		}
		if err := s.persistEquity(ctx, in, d, cash, holdings); err != nil {
			return nil, err
		}
	}

	return s.finishSim(ctx, in, cash, holdings, last)
}

// stopProfitSell partially liquidates the holdings pro-rata, crediting
// cash immediately, and returns the new cash balance. sell_unit "amount"
// spreads a fixed cash amount by value share; "fundPercent" sells that
// percentage of every holding.
func (s *Simulator) stopProfitSell(ctx context.Context, in SimInput, p domain.TopkTsTimingParams,
	holdings, avgCost map[string]decimal.Decimal, cash decimal.Decimal, d dates.Date) (decimal.Decimal, error) {
	type holdingValue struct {
		code   string
		shares decimal.Decimal
		nav    decimal.Decimal
		value  decimal.Decimal
	}
	var values []holdingValue
	totalValue := decimal.Zero
	for _, code := range sortedCodes(holdings) {
		nav, err := s.navs.NavOnOrBefore(ctx, code, in.Source, d)
		if err != nil {
			return cash, fmt.Errorf("nav lookup %s: %w", code, err)
		}
		if nav == nil {
			continue
		}
		shares := holdings[code]
		v := shares.Mul(*nav)
		values = append(values, holdingValue{code: code, shares: shares, nav: *nav, value: v})
		totalValue = totalValue.Add(v)
	}

	feeRate := decimal.NewFromFloat(in.SellFeeRate)
	newHoldings := make(map[string]decimal.Decimal)
	newAvgCost := make(map[string]decimal.Decimal)

	fixedAmount := strings.TrimSpace(p.SellUnit) == domain.SellUnitAmount
	remaining := decimal.NewFromFloat(math.Max(p.SellNum, 0))
	pct := decimal.NewFromFloat(clampFloat(p.SellNum/100, 0, 1))

	for _, v := range values {
		var sellGross decimal.Decimal
		if fixedAmount {
			if totalValue.Sign() > 0 {
				sellGross = decimal.Min(remaining.Mul(v.value.Div(totalValue)), v.value)
			}
		} else {
			sellGross = v.value.Mul(pct)
		}

		sellShares := decimal.Zero
		if v.nav.Sign() > 0 {
			sellShares = sellGross.Div(v.nav)
		}
		sellShares = decimal.Min(sellShares, v.shares)
		if sellShares.Sign() < 0 {
			sellShares = decimal.Zero
		}

		gross := sellShares.Mul(v.nav)
		net := gross.Sub(gross.Mul(feeRate))
		if net.Sign() < 0 {
			net = decimal.Zero
		}
		cash = cash.Add(net)

		left := v.shares.Sub(sellShares)
		if left.Sign() > 0 {
			newHoldings[v.code] = left
			if c, ok := avgCost[v.code]; ok {
				newAvgCost[v.code] = c
			}
		}
	}

	replaceMap(holdings, newHoldings)
	replaceMap(avgCost, newAvgCost)
	return cash, nil
}

// sellDroppedHoldings fully liquidates held funds missing from picks.
// Funds without a usable NAV stay held until one appears.
func (s *Simulator) sellDroppedHoldings(ctx context.Context, in SimInput,
	holdings, avgCost map[string]decimal.Decimal, picks []string, cash decimal.Decimal, d dates.Date) (decimal.Decimal, error) {
	picked := make(map[string]struct{}, len(picks))
	for _, code := range picks {
		picked[code] = struct{}{}
	}

	feeRate := decimal.NewFromFloat(in.SellFeeRate)
	for _, code := range sortedCodes(holdings) {
		if _, ok := picked[code]; ok {
			continue
		}
		shares := holdings[code]
		if shares.Sign() <= 0 {
			delete(holdings, code)
			delete(avgCost, code)
			continue
		}
		nav, err := s.navs.NavOnOrBefore(ctx, code, in.Source, d)
		if err != nil {
			return cash, fmt.Errorf("nav lookup %s: %w", code, err)
		}
		if nav == nil {
			continue
		}
		gross := shares.Mul(*nav)
		net := gross.Sub(gross.Mul(feeRate))
		if net.Sign() < 0 {
			net = decimal.Zero
		}
		cash = cash.Add(net)
		delete(holdings, code)
		delete(avgCost, code)
	}
	return cash, nil
}

// budgetedBuy spends the buy_amount_percent budget equally across picks
// and returns the new cash balance.
func (s *Simulator) budgetedBuy(ctx context.Context, in SimInput, buyAmountPercent float64,
	holdings, avgCost map[string]decimal.Decimal, picks []string, cash decimal.Decimal, d dates.Date) (decimal.Decimal, error) {
	if len(picks) == 0 || cash.Sign() <= 0 {
		return cash, nil
	}
	budget := timingBudget(buyAmountPercent, cash)
	if budget.Sign() <= 0 {
		return cash, nil
	}
	spent, err := s.buyEqualSplit(ctx, in, holdings, avgCost, picks, budget, d)
	if err != nil {
		return cash, err
	}
	cash = cash.Sub(spent)
	if cash.Sign() < 0 {
		cash = decimal.Zero
	}
	return cash, nil
}

// timingBudget interprets buy_amount_percent: values up to 100 are a
// percentage of remaining cash, larger values an absolute amount. The
// budget never exceeds cash.
func timingBudget(buyAmountPercent float64, cash decimal.Decimal) decimal.Decimal {
	pct := math.Max(buyAmountPercent, 0)
	var budget decimal.Decimal
	if pct <= 100 {
		budget = cash.Mul(decimal.NewFromFloat(pct / 100))
	} else {
		budget = decimal.NewFromFloat(pct)
	}
	if budget.Cmp(cash) > 0 {
		budget = cash
	}
	if budget.Sign() < 0 {
		budget = decimal.Zero
	}
	return budget
}

func derefOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func replaceMap(dst, src map[string]decimal.Decimal) {
	for k := range dst {
		delete(dst, k)
	}
	for k, v := range src {
		dst[k] = v
	}
}
