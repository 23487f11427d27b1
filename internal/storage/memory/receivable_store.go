package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// ReceivableStore is an in-memory implementation of storage.ReceivableStore.
type ReceivableStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CashReceivable // keyed by receivable id
}

// NewReceivableStore creates a new in-memory receivable store.
func NewReceivableStore() *ReceivableStore {
	return &ReceivableStore{data: make(map[string]*domain.CashReceivable)}
}

// Compile-time interface check.
var _ storage.ReceivableStore = (*ReceivableStore)(nil)

// Insert adds a new receivable.
func (s *ReceivableStore) Insert(_ context.Context, r *domain.CashReceivable) error {
	if r == nil || r.ID == "" || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *r
	s.data[r.ID] = &copy
	return nil
}

// SumByRun returns the total outstanding receivable amount for a run.
func (s *ReceivableStore) SumByRun(_ context.Context, runID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, r := range s.data {
		if r.RunID == runID {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

// DeleteBySettleDate removes all receivables for the run that settle on the
// given date and returns their total amount.
func (s *ReceivableStore) DeleteBySettleDate(_ context.Context, runID string, date dates.Date) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for id, r := range s.data {
		if r.RunID == runID && r.SettleDate == date {
			total = total.Add(r.Amount)
			delete(s.data, id)
		}
	}
	return total, nil
}
