package clickhouse

import (
	"context"
	"fmt"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// SignalSnapshotStore implements storage.SignalStore using ClickHouse.
type SignalSnapshotStore struct {
	conn *Conn
}

// NewSignalSnapshotStore creates a new SignalSnapshotStore.
func NewSignalSnapshotStore(conn *Conn) *SignalSnapshotStore {
	return &SignalSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalSnapshotStore)(nil)

// InsertBulk adds multiple snapshots. Fails the entire batch on a
// duplicate (fund, date).
func (s *SignalSnapshotStore) InsertBulk(ctx context.Context, snaps []*domain.SignalSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		fundCode string
		date     dates.Date
	}
	seen := make(map[key]struct{}, len(snaps))
	for _, snap := range snaps {
		if snap == nil || snap.FundCode == "" || snap.Date.IsZero() {
			return storage.ErrInvalidInput
		}
		k := key{snap.FundCode, snap.Date}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, snap := range snaps {
		exists, err := s.exists(ctx, snap.FundCode, snap.Date)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO fund_signal_snapshot (
			fund_code, as_of_date, position_percentile_0_100,
			dip_buy_proba_5t, dip_buy_proba_20t,
			magic_rebound_proba_5t, magic_rebound_proba_20t
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snaps {
		err := batch.Append(
			snap.FundCode,
			snap.Date.Time(),
			snap.PositionPercentile,
			snap.DipBuyProba5T,
			snap.DipBuyProba20T,
			snap.MagicReboundProba5T,
			snap.MagicReboundProba20T,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// TopKByScore returns up to topK fund codes for the date, ranked by the
// weighted signal score descending, ties broken by fund code ASC. The
// scoring runs inside ClickHouse so only the winning codes come back.
func (s *SignalSnapshotStore) TopKByScore(ctx context.Context, date dates.Date, topK int, weights [5]float64) ([]string, error) {
	query := `
		SELECT fund_code
		FROM fund_signal_snapshot
		WHERE as_of_date = ?
		ORDER BY (
			coalesce(position_percentile_0_100, 0.0) * ?
			+ coalesce(dip_buy_proba_5t, 0.0) * ?
			+ coalesce(dip_buy_proba_20t, 0.0) * ?
			+ coalesce(magic_rebound_proba_5t, 0.0) * ?
			+ coalesce(magic_rebound_proba_20t, 0.0) * ?
		) DESC,
		fund_code ASC
		LIMIT ?
	`
	rows, err := s.conn.Query(ctx, query, date.Time(),
		weights[0], weights[1], weights[2], weights[3], weights[4], uint64(topK))
	if err != nil {
		return nil, fmt.Errorf("query top-k by score: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan fund code: %w", err)
		}
		out = append(out, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fund codes: %w", err)
	}
	return out, nil
}

// exists checks if a snapshot with the given key exists.
func (s *SignalSnapshotStore) exists(ctx context.Context, fundCode string, date dates.Date) (bool, error) {
	query := `
		SELECT count(*) FROM fund_signal_snapshot
		WHERE fund_code = ? AND as_of_date = ?
	`
	var count uint64
	if err := s.conn.QueryRow(ctx, query, fundCode, date.Time()).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
