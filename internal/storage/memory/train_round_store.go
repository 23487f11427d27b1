package memory

import (
	"context"
	"sort"
	"sync"

	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// TrainRoundStore is an in-memory implementation of storage.TrainRoundStore.
type TrainRoundStore struct {
	mu   sync.RWMutex
	data map[string]map[int]*domain.TrainRound // run_id -> round
}

// NewTrainRoundStore creates a new in-memory train round store.
func NewTrainRoundStore() *TrainRoundStore {
	return &TrainRoundStore{data: make(map[string]map[int]*domain.TrainRound)}
}

// Compile-time interface check.
var _ storage.TrainRoundStore = (*TrainRoundStore)(nil)

// Upsert overwrites the (run, round) row.
func (s *TrainRoundStore) Upsert(_ context.Context, r *domain.TrainRound) error {
	if r == nil || r.RunID == "" || r.Round < 1 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byRound, exists := s.data[r.RunID]
	if !exists {
		byRound = make(map[int]*domain.TrainRound)
		s.data[r.RunID] = byRound
	}
	copy := *r
	copy.BestWeights = append([]float64(nil), r.BestWeights...)
	byRound[r.Round] = &copy
	return nil
}

// GetByRun retrieves all rounds for a run, ordered by round ASC.
func (s *TrainRoundStore) GetByRun(_ context.Context, runID string) ([]*domain.TrainRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TrainRound
	for _, r := range s.data[runID] {
		copy := *r
		copy.BestWeights = append([]float64(nil), r.BestWeights...)
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Round < result[j].Round
	})

	return result, nil
}

// DeleteByRun removes all rounds for a run.
func (s *TrainRoundStore) DeleteByRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, runID)
	return nil
}
