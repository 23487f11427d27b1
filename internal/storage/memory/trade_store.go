package memory

import (
	"context"
	"sort"
	"sync"

	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by trade id
	seq  map[string]int
	next int
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.Trade),
		seq:  make(map[string]int),
	}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if the ID exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.Trade) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *t
	s.data[t.ID] = &copy
	s.seq[t.ID] = s.next
	s.next++
	return nil
}

// GetByRun retrieves all trades for a run, ordered by exec date ASC
// (creation order within a date).
func (s *TradeStore) GetByRun(_ context.Context, runID string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.data {
		if t.RunID == runID {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ExecDate != result[j].ExecDate {
			return result[i].ExecDate.Before(result[j].ExecDate)
		}
		return s.seq[result[i].ID] < s.seq[result[j].ID]
	})

	return result, nil
}
