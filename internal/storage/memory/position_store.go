package memory

import (
	"context"
	"sort"
	"sync"

	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*domain.Position // run_id -> fund_code
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{data: make(map[string]map[string]*domain.Position)}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Upsert inserts or overwrites a position row.
func (s *PositionStore) Upsert(_ context.Context, p *domain.Position) error {
	if p == nil || p.RunID == "" || p.FundCode == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byFund, exists := s.data[p.RunID]
	if !exists {
		byFund = make(map[string]*domain.Position)
		s.data[p.RunID] = byFund
	}
	copy := *p
	byFund[p.FundCode] = &copy
	return nil
}

// GetByRun retrieves all positions for a run, ordered by fund code ASC.
func (s *PositionStore) GetByRun(_ context.Context, runID string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data[runID] {
		copy := *p
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FundCode < result[j].FundCode
	})

	return result, nil
}

// GetByRunFund retrieves one position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByRunFund(_ context.Context, runID, fundCode string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[runID][fundCode]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}
