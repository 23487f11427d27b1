package domain

import (
	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
)

// NavPoint is one (fund, source, date) net-asset-value observation.
// Index close series are stored the same way, with the index code in
// FundCode.
type NavPoint struct {
	FundCode string
	Source   string
	Date     dates.Date
	NAV      decimal.Decimal
}

// SignalSnapshot is the precomputed per (fund, date) predictive signal row
// used for top-K scoring. Absent components score as zero.
type SignalSnapshot struct {
	FundCode string
	Date     dates.Date

	PositionPercentile   *float64 // 0..100
	DipBuyProba5T        *float64
	DipBuyProba20T       *float64
	MagicReboundProba5T  *float64
	MagicReboundProba20T *float64
}

// SignalVector returns the snapshot as the 5-dimensional scoring input,
// with nil components as zero.
func (s *SignalSnapshot) SignalVector() [5]float64 {
	var v [5]float64
	for i, p := range []*float64{
		s.PositionPercentile,
		s.DipBuyProba5T,
		s.DipBuyProba20T,
		s.MagicReboundProba5T,
		s.MagicReboundProba20T,
	} {
		if p != nil {
			v[i] = *p
		}
	}
	return v
}
