package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/storage/migrations"
	"fund-sim-lab/internal/storage/postgres"
)

// setupTestDB creates a PostgreSQL container for testing and applies
// migrations. Returns a cleanup function that must be called after tests
// complete.
func setupTestDB(t *testing.T) (*postgres.Pool, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool), "failed to apply migrations")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// insertTestRun inserts a minimal valid run and returns its ID. Ledger
// tables reference sim_run, so most tests need one.
func insertTestRun(t *testing.T, ctx context.Context, pool *postgres.Pool) string {
	t.Helper()

	start := dates.MustParse("2024-01-01")
	run := &domain.Run{
		ID:             uuid.NewString(),
		Name:           "test run",
		Mode:           domain.ModeBacktest,
		Source:         "eastmoney",
		Params:         domain.BuyAndHoldEqualParams{},
		FundCodes:      []string{"000001"},
		StartDate:      start,
		EndDate:        start.AddDays(10),
		CurrentDate:    start,
		Calendar:       []dates.Date{start, start.AddDays(1), start.AddDays(2)},
		InitialCash:    decimal.NewFromInt(10_000),
		CashAvailable:  decimal.NewFromInt(10_000),
		CashFrozen:     decimal.Zero,
		BuyFeeRate:     0.0015,
		SellFeeRate:    0.005,
		SettlementDays: 1,
		Status:         domain.RunStatusCreated,
	}
	require.NoError(t, postgres.NewRunStore(pool).Insert(ctx, run))
	return run.ID
}
