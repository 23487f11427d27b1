package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
	"fund-sim-lab/internal/storage/postgres"
)

func TestRunStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewRunStore(pool)

	start := dates.MustParse("2024-03-01")
	sellPoint := 60.0
	run := &domain.Run{
		ID:        uuid.NewString(),
		Name:      "timing run",
		Mode:      domain.ModeBacktest,
		Source:    "eastmoney",
		FundCodes: nil,
		Params: domain.TopkTsTimingParams{
			TopK:             3,
			RebalanceEvery:   5,
			Weights:          []float64{0.2, 0, 0, 0, 0.8},
			ReferIndexCode:   "1.000300",
			SellMACDPoint:    &sellPoint,
			SHCompositeIndex: 3000,
			FundPosition:     50,
			SellAtTop:        true,
			SellNum:          2000,
			SellUnit:         domain.SellUnitAmount,
			ProfitRate:       8,
			BuyAmountPercent: 100,
			QuantServiceURL:  "http://quant.local",
		},
		StartDate:      start,
		EndDate:        start.AddDays(30),
		CurrentDate:    start,
		Calendar:       []dates.Date{start, start.AddDays(1), start.AddDays(4)},
		InitialCash:    decimal.RequireFromString("100000.5"),
		CashAvailable:  decimal.RequireFromString("100000.5"),
		CashFrozen:     decimal.Zero,
		BuyFeeRate:     0.0015,
		SellFeeRate:    0.005,
		SettlementDays: 1,
		Status:         domain.RunStatusCreated,
	}

	t.Run("insert and get roundtrip", func(t *testing.T) {
		require.NoError(t, store.Insert(ctx, run))

		got, err := store.GetByID(ctx, run.ID)
		require.NoError(t, err)
		require.Equal(t, run.ID, got.ID)
		require.Equal(t, run.Name, got.Name)
		require.Equal(t, domain.ModeBacktest, got.Mode)
		require.Equal(t, run.Source, got.Source)
		require.Equal(t, run.StartDate, got.StartDate)
		require.Equal(t, run.EndDate, got.EndDate)
		require.Equal(t, run.CurrentDate, got.CurrentDate)
		require.Equal(t, run.Calendar, got.Calendar)
		require.True(t, got.InitialCash.Equal(run.InitialCash), "initial cash %s", got.InitialCash)
		require.True(t, got.CashAvailable.Equal(run.CashAvailable))
		require.True(t, got.CashFrozen.IsZero())
		require.Equal(t, run.BuyFeeRate, got.BuyFeeRate)
		require.Equal(t, run.SellFeeRate, got.SellFeeRate)
		require.Equal(t, run.SettlementDays, got.SettlementDays)
		require.Equal(t, domain.RunStatusCreated, got.Status)
		require.Equal(t, run.Params, got.Params)
	})

	t.Run("duplicate id", func(t *testing.T) {
		require.ErrorIs(t, store.Insert(ctx, run), storage.ErrDuplicateKey)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.GetByID(ctx, uuid.NewString())
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("update cash and date", func(t *testing.T) {
		avail := decimal.RequireFromString("99000.25")
		frozen := decimal.RequireFromString("1000.25")
		cur := start.AddDays(4)
		require.NoError(t, store.UpdateCashAndDate(ctx, run.ID, avail, frozen, cur))

		got, err := store.GetByID(ctx, run.ID)
		require.NoError(t, err)
		require.True(t, got.CashAvailable.Equal(avail), "cash available %s", got.CashAvailable)
		require.True(t, got.CashFrozen.Equal(frozen), "cash frozen %s", got.CashFrozen)
		require.Equal(t, cur, got.CurrentDate)

		require.ErrorIs(t, store.UpdateCashAndDate(ctx, uuid.NewString(), avail, frozen, cur), storage.ErrNotFound)
	})

	t.Run("update status", func(t *testing.T) {
		require.NoError(t, store.UpdateStatus(ctx, run.ID, domain.RunStatusDone))

		got, err := store.GetByID(ctx, run.ID)
		require.NoError(t, err)
		require.Equal(t, domain.RunStatusDone, got.Status)

		require.ErrorIs(t, store.UpdateStatus(ctx, uuid.NewString(), domain.RunStatusDone), storage.ErrNotFound)
	})

	t.Run("update params", func(t *testing.T) {
		next := domain.TopkSnapshotParams{TopK: 7, RebalanceEvery: 12, Weights: []float64{1, 0, 0, 0, 0}}
		require.NoError(t, store.UpdateParams(ctx, run.ID, next))

		got, err := store.GetByID(ctx, run.ID)
		require.NoError(t, err)
		require.Equal(t, next, got.Params)

		require.ErrorIs(t, store.UpdateParams(ctx, uuid.NewString(), next), storage.ErrNotFound)
	})
}
