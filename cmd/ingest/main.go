package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fund-sim-lab/internal/ingest"
	"fund-sim-lab/internal/observability"
	"fund-sim-lab/internal/storage"
	chstore "fund-sim-lab/internal/storage/clickhouse"
	"fund-sim-lab/internal/storage/memory"
	"fund-sim-lab/internal/storage/migrations"
)

func main() {
	// Parse flags
	navCSV := flag.String("nav-csv", "", "NAV history CSV (fund_code,date,nav)")
	signalCSV := flag.String("signal-csv", "", "Signal snapshot CSV (fund_code,date,five signal columns)")
	source := flag.String("source", "eastmoney", "Data source tag applied to NAV rows")
	batchSize := flag.Int("batch-size", ingest.DefaultBatchSize, "Rows per insert batch")

	// Storage
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Parse and validate only, using in-memory storage")

	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[ingest] ", log.LstdFlags)

	if *navCSV == "" && *signalCSV == "" {
		logger.Fatal("Nothing to do: provide --nav-csv and/or --signal-csv")
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
	var navStore storage.NavStore = memory.NewNavStore()
	var signalStore storage.SignalStore = memory.NewSignalStore()

	if !*useMemory {
		if *clickhouseDSN == "" {
			logger.Fatal("--clickhouse-dsn is required when not using --use-memory")
		}
		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("migrate clickhouse: %v", err)
		}
		defer conn.Close()

		navStore = chstore.NewNavHistoryStore(conn)
		signalStore = chstore.NewSignalSnapshotStore(conn)
	}

	if *navCSV != "" {
		points, err := ingest.LoadNavCSV(*navCSV, *source)
		if err != nil {
			logger.Fatalf("load nav csv: %v", err)
		}
		if err := ingest.StoreNavPoints(ctx, navStore, points, *batchSize); err != nil {
			logger.Fatalf("store nav points: %v", err)
		}
		logger.Printf("Stored %d NAV points from %s (source=%s)", len(points), *navCSV, *source)
	}

	if *signalCSV != "" {
		snaps, err := ingest.LoadSignalCSV(*signalCSV)
		if err != nil {
			logger.Fatalf("load signal csv: %v", err)
		}
		if err := ingest.StoreSignals(ctx, signalStore, snaps, *batchSize); err != nil {
			logger.Fatalf("store signals: %v", err)
		}
		logger.Printf("Stored %d signal snapshots from %s", len(snaps), *signalCSV)
	}
}
