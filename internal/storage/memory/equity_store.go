package memory

import (
	"context"
	"sort"
	"sync"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// EquityStore is an in-memory implementation of storage.EquityStore.
type EquityStore struct {
	mu   sync.RWMutex
	data map[string]map[dates.Date]*domain.DailyEquity // run_id -> date
}

// NewEquityStore creates a new in-memory daily equity store.
func NewEquityStore() *EquityStore {
	return &EquityStore{data: make(map[string]map[dates.Date]*domain.DailyEquity)}
}

// Compile-time interface check.
var _ storage.EquityStore = (*EquityStore)(nil)

// Upsert overwrites the (run, date) row idempotently.
func (s *EquityStore) Upsert(_ context.Context, e *domain.DailyEquity) error {
	if e == nil || e.RunID == "" || e.Date.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byDate, exists := s.data[e.RunID]
	if !exists {
		byDate = make(map[dates.Date]*domain.DailyEquity)
		s.data[e.RunID] = byDate
	}
	copy := *e
	byDate[e.Date] = &copy
	return nil
}

// GetByRun retrieves all rows for a run, ordered by date ASC.
func (s *EquityStore) GetByRun(_ context.Context, runID string) ([]*domain.DailyEquity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DailyEquity
	for _, e := range s.data[runID] {
		copy := *e
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})

	return result, nil
}

// DeleteByRun removes all rows for a run.
func (s *EquityStore) DeleteByRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, runID)
	return nil
}
