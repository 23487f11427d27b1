package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/lookup"
	"fund-sim-lab/internal/storage"
)

type navKey struct {
	fundCode string
	source   string
}

// NavStore is an in-memory implementation of storage.NavStore. Series are
// kept date-ascending per (fund, source).
type NavStore struct {
	mu   sync.RWMutex
	data map[navKey][]*domain.NavPoint
}

// NewNavStore creates a new in-memory NAV store.
func NewNavStore() *NavStore {
	return &NavStore{data: make(map[navKey][]*domain.NavPoint)}
}

// Compile-time interface check.
var _ storage.NavStore = (*NavStore)(nil)

// InsertBulk adds multiple points. Fails the entire batch on a duplicate
// (fund, source, date).
func (s *NavStore) InsertBulk(_ context.Context, points []*domain.NavPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type fullKey struct {
		navKey
		date dates.Date
	}
	batchKeys := make(map[fullKey]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.FundCode == "" || p.Source == "" || p.Date.IsZero() {
			return storage.ErrInvalidInput
		}
		k := fullKey{navKey{p.FundCode, p.Source}, p.Date}
		if _, exists := batchKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = struct{}{}
		for _, existing := range s.data[k.navKey] {
			if existing.Date == p.Date {
				return storage.ErrDuplicateKey
			}
		}
	}

	touched := make(map[navKey]struct{})
	for _, p := range points {
		k := navKey{p.FundCode, p.Source}
		copy := *p
		s.data[k] = append(s.data[k], &copy)
		touched[k] = struct{}{}
	}
	for k := range touched {
		series := s.data[k]
		sort.Slice(series, func(i, j int) bool {
			return series[i].Date.Before(series[j].Date)
		})
	}

	return nil
}

// NavOnOrBefore returns the latest known NAV at or before date, or nil.
func (s *NavStore) NavOnOrBefore(_ context.Context, fundCode, source string, date dates.Date) (*decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.data[navKey{fundCode, source}]
	if len(series) == 0 {
		return nil, nil
	}
	return lookup.NavOnOrBefore(date, series)
}

// NextNavDate returns the earliest date with a NAV strictly after the
// given date, or nil.
func (s *NavStore) NextNavDate(_ context.Context, fundCode, source string, after dates.Date) (*dates.Date, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lookup.NextNavDate(after, s.data[navKey{fundCode, source}]), nil
}

// Series retrieves points for a fund within [start, end], date ASC.
func (s *NavStore) Series(_ context.Context, fundCode, source string, start, end dates.Date) ([]*domain.NavPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.NavPoint
	for _, p := range s.data[navKey{fundCode, source}] {
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		copy := *p
		result = append(result, &copy)
	}
	return result, nil
}

// TradingDates returns the distinct dates within [start, end] that have at
// least one NAV observation for the given funds (nil/empty = whole source).
func (s *NavStore) TradingDates(_ context.Context, source string, fundCodes []string, start, end dates.Date) ([]dates.Date, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(fundCodes))
	for _, c := range fundCodes {
		wanted[c] = struct{}{}
	}

	seen := make(map[dates.Date]struct{})
	for k, series := range s.data {
		if k.source != source {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[k.fundCode]; !ok {
				continue
			}
		}
		for _, p := range series {
			if p.Date.Before(start) || p.Date.After(end) {
				continue
			}
			seen[p.Date] = struct{}{}
		}
	}

	result := make([]dates.Date, 0, len(seen))
	for d := range seen {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Before(result[j])
	})

	return result, nil
}
