// Package ingest loads NAV history and signal snapshots from CSV files
// into the stores.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/observability"
	"fund-sim-lab/internal/storage"
)

// DefaultBatchSize is the number of rows per InsertBulk call.
const DefaultBatchSize = 1000

// LoadNavCSV reads NAV points from a CSV file with columns
// fund_code,date,nav. A header row is skipped when present. The source
// is applied to every row.
func LoadNavCSV(path, source string) ([]*domain.NavPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open nav csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3

	var points []*domain.NavPoint
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read nav csv: %w", err)
		}
		line++
		if line == 1 && strings.EqualFold(rec[0], "fund_code") {
			continue
		}

		d, err := dates.Parse(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("nav csv line %d: %w", line, err)
		}
		nav, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
		if err != nil {
			return nil, fmt.Errorf("nav csv line %d: parse nav: %w", line, err)
		}
		points = append(points, &domain.NavPoint{
			FundCode: strings.TrimSpace(rec[0]),
			Source:   source,
			Date:     d,
			NAV:      nav,
		})
	}
	return points, nil
}

// LoadSignalCSV reads signal snapshots from a CSV file with columns
// fund_code,date,position_percentile_0_100,dip_buy_proba_5t,
// dip_buy_proba_20t,magic_rebound_proba_5t,magic_rebound_proba_20t.
// Empty signal cells become nil components.
func LoadSignalCSV(path string) ([]*domain.SignalSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signal csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 7

	var snaps []*domain.SignalSnapshot
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read signal csv: %w", err)
		}
		line++
		if line == 1 && strings.EqualFold(rec[0], "fund_code") {
			continue
		}

		d, err := dates.Parse(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("signal csv line %d: %w", line, err)
		}
		snap := &domain.SignalSnapshot{
			FundCode: strings.TrimSpace(rec[0]),
			Date:     d,
		}
		fields := []**float64{
			&snap.PositionPercentile,
			&snap.DipBuyProba5T,
			&snap.DipBuyProba20T,
			&snap.MagicReboundProba5T,
			&snap.MagicReboundProba20T,
		}
		for i, dst := range fields {
			cell := strings.TrimSpace(rec[i+2])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("signal csv line %d column %d: %w", line, i+3, err)
			}
			*dst = &v
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// StoreNavPoints inserts points in batches. batchSize <= 0 uses
// DefaultBatchSize.
func StoreNavPoints(ctx context.Context, navs storage.NavStore, points []*domain.NavPoint, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	for start := 0; start < len(points); start += batchSize {
		end := start + batchSize
		if end > len(points) {
			end = len(points)
		}
		if err := navs.InsertBulk(ctx, points[start:end]); err != nil {
			return fmt.Errorf("insert nav batch at row %d: %w", start, err)
		}
		observability.RecordNavStored(end - start)
	}
	return nil
}

// StoreSignals inserts snapshots in batches. batchSize <= 0 uses
// DefaultBatchSize.
func StoreSignals(ctx context.Context, signals storage.SignalStore, snaps []*domain.SignalSnapshot, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	for start := 0; start < len(snaps); start += batchSize {
		end := start + batchSize
		if end > len(snaps) {
			end = len(snaps)
		}
		if err := signals.InsertBulk(ctx, snaps[start:end]); err != nil {
			return fmt.Errorf("insert signal batch at row %d: %w", start, err)
		}
		observability.RecordSignalsStored(end - start)
	}
	return nil
}
