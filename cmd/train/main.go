package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fund-sim-lab/internal/observability"
	"fund-sim-lab/internal/optimizer"
	"fund-sim-lab/internal/storage"
	chstore "fund-sim-lab/internal/storage/clickhouse"
	"fund-sim-lab/internal/storage/memory"
	"fund-sim-lab/internal/storage/migrations"
	pgstore "fund-sim-lab/internal/storage/postgres"
	"fund-sim-lab/internal/strategy"
)

func main() {
	// Parse flags
	runID := flag.String("run-id", "", "Backtest run ID to optimize (required)")
	rounds := flag.Int("rounds", 10, "Optimizer rounds")
	population := flag.Int("population", 20, "Candidates per round")
	eliteRatio := flag.Float64("elite-ratio", 0.2, "Elite fraction per round")
	seed := flag.Int64("seed", optimizer.DefaultSeed, "Random seed")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	// Output
	outputJSON := flag.Bool("json", false, "Output round history as JSON")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[train] ", log.LstdFlags)

	if *runID == "" {
		logger.Fatal("--run-id is required")
	}

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Create stores
	var (
		runStore    storage.RunStore        = memory.NewRunStore()
		roundStore  storage.TrainRoundStore = memory.NewTrainRoundStore()
		equityStore storage.EquityStore     = memory.NewEquityStore()
		navStore    storage.NavStore        = memory.NewNavStore()
		signalStore storage.SignalStore     = memory.NewSignalStore()
	)

	if !*useMemory {
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required when not using --use-memory (runs and rounds)")
		}
		if *clickhouseDSN == "" {
			logger.Fatal("--clickhouse-dsn is required when not using --use-memory (NAV and signals)")
		}

		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("migrate postgres: %v", err)
		}

		runStore = pgstore.NewRunStore(pool)
		roundStore = pgstore.NewTrainRoundStore(pool)
		equityStore = pgstore.NewEquityStore(pool)

		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("migrate clickhouse: %v", err)
		}
		defer conn.Close()

		navStore = chstore.NewNavHistoryStore(conn)
		signalStore = chstore.NewSignalSnapshotStore(conn)
	}

	sim := strategy.NewSimulator(navStore, signalStore, equityStore)
	trainer := optimizer.New(runStore, roundStore, sim)

	logger.Printf("Training run %s: rounds=%d population=%d elite-ratio=%.2f seed=%d",
		*runID, *rounds, *population, *eliteRatio, *seed)

	results, err := trainer.Train(ctx, *runID, optimizer.Options{
		Rounds:     *rounds,
		Population: *population,
		EliteRatio: *eliteRatio,
		Seed:       *seed,
	})
	if err != nil {
		logger.Fatalf("training failed: %v", err)
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return
	}
	for _, r := range results {
		fmt.Printf("round %3d  return=%+.4f%%  equity=%.2f  weights=%v\n",
			r.Round, r.BestTotalReturn*100, r.BestFinalEquity, r.BestWeights)
	}
	if len(results) > 0 {
		best := results[0]
		for _, r := range results[1:] {
			if r.BestTotalReturn > best.BestTotalReturn {
				best = r
			}
		}
		fmt.Printf("best: round %d  return=%+.4f%%  weights=%v\n",
			best.Round, best.BestTotalReturn*100, best.BestWeights)
	}
}
