package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// TrainRoundStore implements storage.TrainRoundStore using PostgreSQL.
type TrainRoundStore struct {
	pool *Pool
}

// NewTrainRoundStore creates a new TrainRoundStore.
func NewTrainRoundStore(pool *Pool) *TrainRoundStore {
	return &TrainRoundStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TrainRoundStore = (*TrainRoundStore)(nil)

// Upsert overwrites the (run, round) row.
func (s *TrainRoundStore) Upsert(ctx context.Context, r *domain.TrainRound) error {
	weights, err := json.Marshal(r.BestWeights)
	if err != nil {
		return fmt.Errorf("encode best weights: %w", err)
	}
	query := `
		INSERT INTO sim_train_round (run_id, round, best_total_return, best_final_equity, best_weights)
		VALUES (($1)::uuid, $2, $3, $4, $5)
		ON CONFLICT (run_id, round) DO UPDATE SET
			best_total_return = excluded.best_total_return,
			best_final_equity = excluded.best_final_equity,
			best_weights = excluded.best_weights
	`
	_, err = s.pool.Exec(ctx, query, r.RunID, r.Round, r.BestTotalReturn, r.BestFinalEquity, weights)
	if err != nil {
		return fmt.Errorf("upsert train round: %w", err)
	}
	return nil
}

// GetByRun retrieves all rounds for a run, ordered by round ASC.
func (s *TrainRoundStore) GetByRun(ctx context.Context, runID string) ([]*domain.TrainRound, error) {
	query := `
		SELECT CAST(run_id AS TEXT), round, best_total_return, best_final_equity, best_weights
		FROM sim_train_round
		WHERE CAST(run_id AS TEXT) = $1
		ORDER BY round ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get train rounds by run: %w", err)
	}
	defer rows.Close()

	var out []*domain.TrainRound
	for rows.Next() {
		var (
			r       domain.TrainRound
			weights []byte
		)
		if err := rows.Scan(&r.RunID, &r.Round, &r.BestTotalReturn, &r.BestFinalEquity, &weights); err != nil {
			return nil, fmt.Errorf("scan train round: %w", err)
		}
		if err := json.Unmarshal(weights, &r.BestWeights); err != nil {
			return nil, fmt.Errorf("decode best weights: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate train rounds: %w", err)
	}
	return out, nil
}

// DeleteByRun removes all rounds for a run.
func (s *TrainRoundStore) DeleteByRun(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sim_train_round WHERE CAST(run_id AS TEXT) = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete train rounds: %w", err)
	}
	return nil
}
