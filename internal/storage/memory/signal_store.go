package memory

import (
	"context"
	"sort"
	"sync"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// SignalStore is an in-memory implementation of storage.SignalStore.
type SignalStore struct {
	mu   sync.RWMutex
	data map[dates.Date]map[string]*domain.SignalSnapshot
}

// NewSignalStore creates a new in-memory signal snapshot store.
func NewSignalStore() *SignalStore {
	return &SignalStore{data: make(map[dates.Date]map[string]*domain.SignalSnapshot)}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

// InsertBulk adds multiple snapshots. Fails the entire batch on a
// duplicate (fund, date).
func (s *SignalStore) InsertBulk(_ context.Context, snapshots []*domain.SignalSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type fullKey struct {
		date dates.Date
		code string
	}
	batchKeys := make(map[fullKey]struct{}, len(snapshots))
	for _, snap := range snapshots {
		if snap == nil || snap.FundCode == "" || snap.Date.IsZero() {
			return storage.ErrInvalidInput
		}
		k := fullKey{snap.Date, snap.FundCode}
		if _, exists := batchKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = struct{}{}
		if _, exists := s.data[snap.Date][snap.FundCode]; exists {
			return storage.ErrDuplicateKey
		}
	}

	for _, snap := range snapshots {
		byFund, ok := s.data[snap.Date]
		if !ok {
			byFund = make(map[string]*domain.SignalSnapshot)
			s.data[snap.Date] = byFund
		}
		copy := *snap
		byFund[snap.FundCode] = &copy
	}

	return nil
}

// TopKByScore returns up to topK fund codes, ranked by the dot product of
// the snapshot's signal vector with weights. Ties break on fund code ASC.
// Missing signal components score as zero.
func (s *SignalStore) TopKByScore(_ context.Context, date dates.Date, topK int, weights [5]float64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byFund := s.data[date]
	if len(byFund) == 0 {
		return nil, nil
	}

	type scored struct {
		code  string
		score float64
	}
	ranked := make([]scored, 0, len(byFund))
	for code, snap := range byFund {
		vec := snap.SignalVector()
		var score float64
		for i := range vec {
			score += vec[i] * weights[i]
		}
		ranked = append(ranked, scored{code: code, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].code < ranked[j].code
	})

	if topK < len(ranked) {
		ranked = ranked[:topK]
	}
	codes := make([]string, len(ranked))
	for i, r := range ranked {
		codes[i] = r.code
	}
	return codes, nil
}
