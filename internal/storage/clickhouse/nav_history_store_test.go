package clickhouse_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
	chstore "fund-sim-lab/internal/storage/clickhouse"
)

func navPoint(fund, source, day, nav string) *domain.NavPoint {
	return &domain.NavPoint{
		FundCode: fund,
		Source:   source,
		Date:     dates.MustParse(day),
		NAV:      decimal.RequireFromString(nav),
	}
}

func TestNavHistoryStore(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := chstore.NewNavHistoryStore(conn)

	require.NoError(t, store.InsertBulk(ctx, []*domain.NavPoint{
		navPoint("000001", "eastmoney", "2024-01-02", "1.5"),
		navPoint("000001", "eastmoney", "2024-01-03", "1.6"),
		navPoint("000001", "eastmoney", "2024-01-05", "1.7"),
		navPoint("000002", "eastmoney", "2024-01-03", "2.0"),
		navPoint("000001", "other", "2024-01-03", "9.9"),
	}))

	t.Run("nav on or before", func(t *testing.T) {
		// Exact hit.
		nav, err := store.NavOnOrBefore(ctx, "000001", "eastmoney", dates.MustParse("2024-01-03"))
		require.NoError(t, err)
		require.NotNil(t, nav)
		require.True(t, nav.Equal(decimal.RequireFromString("1.6")), "nav %s", nav)

		// Carry-forward across the gap.
		nav, err = store.NavOnOrBefore(ctx, "000001", "eastmoney", dates.MustParse("2024-01-04"))
		require.NoError(t, err)
		require.NotNil(t, nav)
		require.True(t, nav.Equal(decimal.RequireFromString("1.6")))

		// Before the first observation.
		nav, err = store.NavOnOrBefore(ctx, "000001", "eastmoney", dates.MustParse("2024-01-01"))
		require.NoError(t, err)
		require.Nil(t, nav)
	})

	t.Run("next nav date", func(t *testing.T) {
		d, err := store.NextNavDate(ctx, "000001", "eastmoney", dates.MustParse("2024-01-03"))
		require.NoError(t, err)
		require.NotNil(t, d)
		require.Equal(t, dates.MustParse("2024-01-05"), *d)

		d, err = store.NextNavDate(ctx, "000001", "eastmoney", dates.MustParse("2024-01-05"))
		require.NoError(t, err)
		require.Nil(t, d)
	})

	t.Run("series window", func(t *testing.T) {
		series, err := store.Series(ctx, "000001", "eastmoney",
			dates.MustParse("2024-01-03"), dates.MustParse("2024-01-05"))
		require.NoError(t, err)
		require.Len(t, series, 2)
		require.Equal(t, dates.MustParse("2024-01-03"), series[0].Date)
		require.Equal(t, dates.MustParse("2024-01-05"), series[1].Date)
		require.True(t, series[1].NAV.Equal(decimal.RequireFromString("1.7")))
	})

	t.Run("source isolation", func(t *testing.T) {
		nav, err := store.NavOnOrBefore(ctx, "000001", "other", dates.MustParse("2024-01-03"))
		require.NoError(t, err)
		require.NotNil(t, nav)
		require.True(t, nav.Equal(decimal.RequireFromString("9.9")))
	})

	t.Run("trading dates", func(t *testing.T) {
		all, err := store.TradingDates(ctx, "eastmoney", nil,
			dates.MustParse("2024-01-01"), dates.MustParse("2024-01-31"))
		require.NoError(t, err)
		require.Equal(t, []dates.Date{
			dates.MustParse("2024-01-02"),
			dates.MustParse("2024-01-03"),
			dates.MustParse("2024-01-05"),
		}, all)

		only2, err := store.TradingDates(ctx, "eastmoney", []string{"000002"},
			dates.MustParse("2024-01-01"), dates.MustParse("2024-01-31"))
		require.NoError(t, err)
		require.Equal(t, []dates.Date{dates.MustParse("2024-01-03")}, only2)
	})

	t.Run("duplicate against stored rows", func(t *testing.T) {
		err := store.InsertBulk(ctx, []*domain.NavPoint{
			navPoint("000001", "eastmoney", "2024-01-02", "1.5"),
		})
		require.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("intra-batch duplicate", func(t *testing.T) {
		err := store.InsertBulk(ctx, []*domain.NavPoint{
			navPoint("000003", "eastmoney", "2024-01-02", "1.0"),
			navPoint("000003", "eastmoney", "2024-01-02", "1.1"),
		})
		require.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("invalid input", func(t *testing.T) {
		err := store.InsertBulk(ctx, []*domain.NavPoint{
			{FundCode: "", Source: "eastmoney", Date: dates.MustParse("2024-01-02")},
		})
		require.ErrorIs(t, err, storage.ErrInvalidInput)
	})
}
