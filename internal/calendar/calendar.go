// Package calendar derives trading calendars from recorded NAV history and
// provides trading-day arithmetic on them.
package calendar

import (
	"context"
	"errors"
	"sort"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/storage"
)

// ErrEmptyCalendar is returned when no trading dates exist in the
// requested window.
var ErrEmptyCalendar = errors.New("calendar: no trading dates in range")

// Build derives the trading calendar for a run: the sorted distinct dates
// within [start, end.AddDays(bufferDays)] on which any of the given funds
// (or the whole source, when fundCodes is empty) has a NAV observation.
// The buffer lets settlement arithmetic reach past the nominal end.
func Build(ctx context.Context, navs storage.NavStore, source string, fundCodes []string, start, end dates.Date, bufferDays int) ([]dates.Date, error) {
	if bufferDays < 0 {
		bufferDays = 0
	}
	cal, err := navs.TradingDates(ctx, source, fundCodes, start, end.AddDays(bufferDays))
	if err != nil {
		return nil, err
	}
	if len(cal) == 0 {
		return nil, ErrEmptyCalendar
	}
	return cal, nil
}

// AddTradingDays advances n trading days along the calendar starting from
// the first calendar date at or after from. Returns false when the
// calendar is too short to hold the result.
func AddTradingDays(cal []dates.Date, from dates.Date, n int) (dates.Date, bool) {
	if len(cal) == 0 {
		return dates.Date{}, false
	}
	idx := sort.Search(len(cal), func(i int) bool {
		return !cal[i].Before(from)
	})
	idx += n
	if idx < 0 || idx >= len(cal) {
		return dates.Date{}, false
	}
	return cal[idx], true
}

// NextAfter returns the first calendar date strictly after from, or false
// when from is at or past the end of the calendar.
func NextAfter(cal []dates.Date, from dates.Date) (dates.Date, bool) {
	idx := sort.Search(len(cal), func(i int) bool {
		return cal[i].After(from)
	})
	if idx >= len(cal) {
		return dates.Date{}, false
	}
	return cal[idx], true
}
