// Package strategy implements the ledger-free portfolio simulators behind
// the automatic strategies: weighted top-K snapshot rebalancing and its
// timing-overlay variant with a portfolio-level stop-profit rule.
package strategy

import "math"

// NormalizeWeights coerces a raw weight slice into the 5-dim scoring
// vector [pos_percentile, dip5, dip20, magic5, magic20]. Non-finite
// entries drop to zero and a vanishing vector defaults all weight to the
// 20-trading-day rebound probability.
func NormalizeWeights(raw []float64) [5]float64 {
	var w [5]float64
	for i := 0; i < len(raw) && i < len(w); i++ {
		if !math.IsNaN(raw[i]) && !math.IsInf(raw[i], 0) {
			w[i] = raw[i]
		}
	}
	for _, x := range w {
		if math.Abs(x) >= 1e-12 {
			return w
		}
	}
	w[4] = 1.0
	return w
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
