package memory

import (
	"context"
	"sort"
	"sync"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Order // keyed by order id
	seq  map[string]int           // creation order per order id
	next int
}

// NewOrderStore creates a new in-memory order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		data: make(map[string]*domain.Order),
		seq:  make(map[string]int),
	}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Insert adds a new pending order.
func (s *OrderStore) Insert(_ context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" || o.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.ID]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *o
	s.data[o.ID] = &copy
	s.seq[o.ID] = s.next
	s.next++
	return nil
}

// PendingByExecDate retrieves pending orders for a run with the given exec
// date, in creation order.
func (s *OrderStore) PendingByExecDate(_ context.Context, runID string, execDate dates.Date) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Order
	for _, o := range s.data {
		if o.RunID == runID && o.Status == domain.OrderStatusPending && o.ExecDate == execDate {
			copy := *o
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return s.seq[result[i].ID] < s.seq[result[j].ID]
	})

	return result, nil
}

// MarkExecuted transitions an order to executed and persists its
// post-execution fields.
func (s *OrderStore) MarkExecuted(_ context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.data[o.ID]
	if !exists {
		return storage.ErrNotFound
	}
	stored.Status = domain.OrderStatusExecuted
	stored.ExecNAV = o.ExecNAV
	stored.Fee = o.Fee
	stored.ExecutedShares = o.ExecutedShares
	stored.CashDelta = o.CashDelta
	stored.SettleDate = o.SettleDate
	return nil
}
