package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
)

// NavHistoryStore implements storage.NavStore using ClickHouse.
type NavHistoryStore struct {
	conn *Conn
}

// NewNavHistoryStore creates a new NavHistoryStore.
func NewNavHistoryStore(conn *Conn) *NavHistoryStore {
	return &NavHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.NavStore = (*NavHistoryStore)(nil)

// InsertBulk adds multiple points. Fails the entire batch on a duplicate
// (fund, source, date).
func (s *NavHistoryStore) InsertBulk(ctx context.Context, points []*domain.NavPoint) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		fundCode string
		source   string
		date     dates.Date
	}
	seen := make(map[key]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.FundCode == "" || p.Source == "" || p.Date.IsZero() {
			return storage.ErrInvalidInput
		}
		k := key{p.FundCode, p.Source, p.Date}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, p := range points {
		exists, err := s.exists(ctx, p.FundCode, p.Source, p.Date)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO nav_history (fund_code, source, as_of_date, nav)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		if err := batch.Append(p.FundCode, p.Source, p.Date.Time(), p.NAV); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// NavOnOrBefore returns the latest known NAV at or before date, or nil.
func (s *NavHistoryStore) NavOnOrBefore(ctx context.Context, fundCode, source string, date dates.Date) (*decimal.Decimal, error) {
	query := `
		SELECT nav
		FROM nav_history
		WHERE fund_code = ? AND source = ? AND as_of_date <= ?
		ORDER BY as_of_date DESC
		LIMIT 1
	`
	rows, err := s.conn.Query(ctx, query, fundCode, source, date.Time())
	if err != nil {
		return nil, fmt.Errorf("query nav on or before: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var nav decimal.Decimal
	if err := rows.Scan(&nav); err != nil {
		return nil, fmt.Errorf("scan nav: %w", err)
	}
	return &nav, rows.Err()
}

// NextNavDate returns the earliest date with a NAV strictly after the
// given date, or nil.
func (s *NavHistoryStore) NextNavDate(ctx context.Context, fundCode, source string, after dates.Date) (*dates.Date, error) {
	query := `
		SELECT as_of_date
		FROM nav_history
		WHERE fund_code = ? AND source = ? AND as_of_date > ?
		ORDER BY as_of_date ASC
		LIMIT 1
	`
	rows, err := s.conn.Query(ctx, query, fundCode, source, after.Time())
	if err != nil {
		return nil, fmt.Errorf("query next nav date: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var t time.Time
	if err := rows.Scan(&t); err != nil {
		return nil, fmt.Errorf("scan nav date: %w", err)
	}
	d := dates.FromTime(t)
	return &d, rows.Err()
}

// Series retrieves points for a fund within [start, end], date ASC.
func (s *NavHistoryStore) Series(ctx context.Context, fundCode, source string, start, end dates.Date) ([]*domain.NavPoint, error) {
	query := `
		SELECT fund_code, source, as_of_date, nav
		FROM nav_history
		WHERE fund_code = ? AND source = ? AND as_of_date >= ? AND as_of_date <= ?
		ORDER BY as_of_date ASC
	`
	rows, err := s.conn.Query(ctx, query, fundCode, source, start.Time(), end.Time())
	if err != nil {
		return nil, fmt.Errorf("query nav series: %w", err)
	}
	defer rows.Close()

	var out []*domain.NavPoint
	for rows.Next() {
		var (
			p domain.NavPoint
			t time.Time
		)
		if err := rows.Scan(&p.FundCode, &p.Source, &t, &p.NAV); err != nil {
			return nil, fmt.Errorf("scan nav point: %w", err)
		}
		p.Date = dates.FromTime(t)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nav series: %w", err)
	}
	return out, nil
}

// TradingDates returns the distinct dates within [start, end] that have at
// least one NAV observation for the given funds (nil/empty = whole source).
func (s *NavHistoryStore) TradingDates(ctx context.Context, source string, fundCodes []string, start, end dates.Date) ([]dates.Date, error) {
	query := `
		SELECT DISTINCT as_of_date
		FROM nav_history
		WHERE source = ? AND as_of_date >= ? AND as_of_date <= ?
	`
	args := []any{source, start.Time(), end.Time()}
	if len(fundCodes) > 0 {
		query += ` AND has(?, fund_code)`
		args = append(args, fundCodes)
	}
	query += ` ORDER BY as_of_date ASC`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trading dates: %w", err)
	}
	defer rows.Close()

	var out []dates.Date
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan trading date: %w", err)
		}
		out = append(out, dates.FromTime(t))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trading dates: %w", err)
	}
	return out, nil
}

// exists checks if a point with the given key exists.
func (s *NavHistoryStore) exists(ctx context.Context, fundCode, source string, date dates.Date) (bool, error) {
	query := `
		SELECT count(*) FROM nav_history
		WHERE fund_code = ? AND source = ? AND as_of_date = ?
	`
	var count uint64
	if err := s.conn.QueryRow(ctx, query, fundCode, source, date.Time()).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
