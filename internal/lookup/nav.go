// Package lookup provides at-or-before and next-date resolution over
// date-ascending NAV series.
package lookup

import (
	"errors"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
)

// ErrNoNavData is returned when a series is empty.
var ErrNoNavData = errors.New("no nav data available")

// NavOnOrBefore returns the latest NAV at or before target in a
// date-ascending series, or nil when no point is at or before target.
// Returns ErrNoNavData if the series is empty.
func NavOnOrBefore(target dates.Date, points []*domain.NavPoint) (*decimal.Decimal, error) {
	if len(points) == 0 {
		return nil, ErrNoNavData
	}

	for i := len(points) - 1; i >= 0; i-- {
		if !points[i].Date.After(target) {
			nav := points[i].NAV
			return &nav, nil
		}
	}

	return nil, nil
}

// NextNavDate returns the earliest date strictly after the given date in a
// date-ascending series, or nil when none exists.
func NextNavDate(after dates.Date, points []*domain.NavPoint) *dates.Date {
	for _, p := range points {
		if p.Date.After(after) {
			d := p.Date
			return &d
		}
	}
	return nil
}

// LatestAtOrBefore advances through a date-ascending series and returns the
// last point at or before target, or nil. Used for stepping an index close
// series along a trading calendar.
func LatestAtOrBefore(target dates.Date, points []*domain.NavPoint) *domain.NavPoint {
	var latest *domain.NavPoint
	for _, p := range points {
		if p.Date.After(target) {
			break
		}
		latest = p
	}
	return latest
}
