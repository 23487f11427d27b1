package clickhouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage"
	chstore "fund-sim-lab/internal/storage/clickhouse"
)

func fp(v float64) *float64 { return &v }

func TestSignalSnapshotStore(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := chstore.NewSignalSnapshotStore(conn)
	day := dates.MustParse("2024-01-02")

	require.NoError(t, store.InsertBulk(ctx, []*domain.SignalSnapshot{
		{FundCode: "000001", Date: day, PositionPercentile: fp(10), MagicReboundProba20T: fp(0.9)},
		{FundCode: "000002", Date: day, MagicReboundProba20T: fp(0.7)},
		{FundCode: "000003", Date: day, DipBuyProba5T: fp(0.95)},
		{FundCode: "000004", Date: day, MagicReboundProba20T: fp(0.7)},
	}))

	t.Run("top k by weighted score", func(t *testing.T) {
		// Full weight on magic20: nil components score zero.
		picks, err := store.TopKByScore(ctx, day, 2, [5]float64{0, 0, 0, 0, 1})
		require.NoError(t, err)
		require.Equal(t, []string{"000001", "000002"}, picks)
	})

	t.Run("ties break by fund code", func(t *testing.T) {
		picks, err := store.TopKByScore(ctx, day, 3, [5]float64{0, 0, 0, 0, 1})
		require.NoError(t, err)
		require.Equal(t, []string{"000001", "000002", "000004"}, picks)
	})

	t.Run("weights change the ranking", func(t *testing.T) {
		picks, err := store.TopKByScore(ctx, day, 1, [5]float64{0, 1, 0, 0, 0})
		require.NoError(t, err)
		require.Equal(t, []string{"000003"}, picks)
	})

	t.Run("no rows for the date", func(t *testing.T) {
		picks, err := store.TopKByScore(ctx, dates.MustParse("2024-02-01"), 5, [5]float64{0, 0, 0, 0, 1})
		require.NoError(t, err)
		require.Empty(t, picks)
	})

	t.Run("duplicate against stored rows", func(t *testing.T) {
		err := store.InsertBulk(ctx, []*domain.SignalSnapshot{
			{FundCode: "000001", Date: day, MagicReboundProba20T: fp(0.5)},
		})
		require.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("intra-batch duplicate", func(t *testing.T) {
		err := store.InsertBulk(ctx, []*domain.SignalSnapshot{
			{FundCode: "000009", Date: day, MagicReboundProba20T: fp(0.5)},
			{FundCode: "000009", Date: day, MagicReboundProba20T: fp(0.6)},
		})
		require.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("invalid input", func(t *testing.T) {
		err := store.InsertBulk(ctx, []*domain.SignalSnapshot{
			{FundCode: "", Date: day},
		})
		require.ErrorIs(t, err, storage.ErrInvalidInput)
	})
}
