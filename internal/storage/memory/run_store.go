// Package memory provides in-memory store implementations, used by tests
// and the CLIs' -use-memory mode.
package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Run
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{data: make(map[string]*domain.Run)}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

func cloneRun(r *domain.Run) *domain.Run {
	c := *r
	c.FundCodes = append([]string(nil), r.FundCodes...)
	c.Calendar = append([]dates.Date(nil), r.Calendar...)
	return &c
}

// Insert adds a new run. Returns ErrDuplicateKey if the ID exists.
func (s *RunStore) Insert(_ context.Context, r *domain.Run) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[r.ID] = cloneRun(r)
	return nil
}

// GetByID retrieves a run. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneRun(r), nil
}

// UpdateCashAndDate persists the run's cash balances and current date.
func (s *RunStore) UpdateCashAndDate(_ context.Context, runID string, cashAvailable, cashFrozen decimal.Decimal, current dates.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.data[runID]
	if !exists {
		return storage.ErrNotFound
	}
	r.CashAvailable = cashAvailable
	r.CashFrozen = cashFrozen
	r.CurrentDate = current
	return nil
}

// UpdateStatus sets the run's lifecycle status.
func (s *RunStore) UpdateStatus(_ context.Context, runID string, status domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.data[runID]
	if !exists {
		return storage.ErrNotFound
	}
	r.Status = status
	return nil
}

// UpdateParams overwrites the run's strategy parameters.
func (s *RunStore) UpdateParams(_ context.Context, runID string, params domain.StrategyParams) error {
	if params == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.data[runID]
	if !exists {
		return storage.ErrNotFound
	}
	r.Params = params
	return nil
}
