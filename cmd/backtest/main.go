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
	"strconv"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"

	"fund-sim-lab/internal/backtest"
	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/domain"
	"fund-sim-lab/internal/engine"
	"fund-sim-lab/internal/ingest"
	"fund-sim-lab/internal/observability"
	"fund-sim-lab/internal/storage"
	chstore "fund-sim-lab/internal/storage/clickhouse"
	"fund-sim-lab/internal/storage/memory"
	"fund-sim-lab/internal/storage/migrations"
	pgstore "fund-sim-lab/internal/storage/postgres"
	"fund-sim-lab/internal/strategy"
)

func main() {
	// Run identity
	runID := flag.String("run-id", "", "Existing run ID to execute (skips creation)")
	name := flag.String("name", "", "Run name")

	// Run configuration
	strategyTag := flag.String("strategy", "", "Strategy: buy_and_hold_equal, auto_topk_snapshot, auto_topk_ts_timing")
	source := flag.String("source", "eastmoney", "NAV data source")
	fundCodes := flag.String("fund-codes", "", "Comma-separated fund universe (required for buy_and_hold_equal)")
	startDate := flag.String("start", "", "Start date (YYYY-MM-DD)")
	endDate := flag.String("end", "", "End date (YYYY-MM-DD)")
	initialCash := flag.String("initial-cash", "100000", "Initial cash")
	buyFeeRate := flag.Float64("buy-fee-rate", 0.0015, "Buy fee rate")
	sellFeeRate := flag.Float64("sell-fee-rate", 0.005, "Sell fee rate")
	settlementDays := flag.Int("settlement-days", 1, "Sell settlement lag in trading days (T+N)")

	// Top-K strategy parameters
	topK := flag.Int("top-k", 5, "Number of funds to hold after each rebalance")
	rebalanceEvery := flag.Int("rebalance-every", 10, "Trading days between rebalances")
	weightsCSV := flag.String("weights", "", "Comma-separated 5-dim scoring weights")

	// Timing strategy parameters
	referIndex := flag.String("refer-index-code", "", "Index code the timing oracle classifies")
	sellMACD := flag.String("sell-macd-point", "", "Sell MACD threshold 0..100 (empty disables)")
	buyMACD := flag.String("buy-macd-point", "", "Buy MACD threshold 0..100 (empty disables)")
	shIndex := flag.Float64("sh-composite-index", 0, "SH composite close floor for stop-profit")
	fundPosition := flag.Float64("fund-position", 0, "Invested ratio floor for stop-profit (0..100)")
	sellAtTop := flag.Bool("sell-at-top", false, "Require equity at running maximum for stop-profit")
	sellNum := flag.Float64("sell-num", 0, "Stop-profit sell size")
	sellUnit := flag.String("sell-unit", domain.SellUnitAmount, "Stop-profit sell unit: amount or fundPercent")
	profitRate := flag.Float64("profit-rate", 0, "Cumulative return floor for stop-profit (percent)")
	buyAmountPercent := flag.Float64("buy-amount-percent", 100, "Buy budget: <=100 percent of cash, else absolute")
	quantURL := flag.String("quant-url", "", "Timing oracle base URL")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	navCSV := flag.String("nav-csv", "", "NAV CSV to preload (memory mode)")
	signalCSV := flag.String("signal-csv", "", "Signal CSV to preload (memory mode)")

	// Output
	outputJSON := flag.Bool("json", false, "Output equity curve as JSON")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

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
		runStore        storage.RunStore        = memory.NewRunStore()
		positionStore   storage.PositionStore   = memory.NewPositionStore()
		orderStore      storage.OrderStore      = memory.NewOrderStore()
		tradeStore      storage.TradeStore      = memory.NewTradeStore()
		receivableStore storage.ReceivableStore = memory.NewReceivableStore()
		equityStore     storage.EquityStore     = memory.NewEquityStore()
		navStore        storage.NavStore        = memory.NewNavStore()
		signalStore     storage.SignalStore     = memory.NewSignalStore()
	)

	if *useMemory {
		if *navCSV != "" {
			points, err := ingest.LoadNavCSV(*navCSV, *source)
			if err != nil {
				logger.Fatalf("load nav csv: %v", err)
			}
			if err := ingest.StoreNavPoints(ctx, navStore, points, 0); err != nil {
				logger.Fatalf("store nav points: %v", err)
			}
			logger.Printf("Preloaded %d NAV points", len(points))
		}
		if *signalCSV != "" {
			snaps, err := ingest.LoadSignalCSV(*signalCSV)
			if err != nil {
				logger.Fatalf("load signal csv: %v", err)
			}
			if err := ingest.StoreSignals(ctx, signalStore, snaps, 0); err != nil {
				logger.Fatalf("store signals: %v", err)
			}
			logger.Printf("Preloaded %d signal snapshots", len(snaps))
		}
	} else {
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required when not using --use-memory (runs and ledger)")
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
		positionStore = pgstore.NewPositionStore(pool)
		orderStore = pgstore.NewOrderStore(pool)
		tradeStore = pgstore.NewTradeStore(pool)
		receivableStore = pgstore.NewReceivableStore(pool)
		equityStore = pgstore.NewEquityStore(pool)

		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("migrate clickhouse: %v", err)
		}
		defer conn.Close()

		navStore = chstore.NewNavHistoryStore(conn)
		signalStore = chstore.NewSignalSnapshotStore(conn)
	}

	eng := engine.New(runStore, positionStore, orderStore, tradeStore, receivableStore, equityStore, navStore)
	sim := strategy.NewSimulator(navStore, signalStore, equityStore)
	runner := backtest.New(eng, sim, runStore, navStore, equityStore)

	id := *runID
	if id == "" {
		run, err := buildRun(logger, *name, *strategyTag, *source, *fundCodes,
			*startDate, *endDate, *initialCash, *buyFeeRate, *sellFeeRate, *settlementDays,
			*topK, *rebalanceEvery, *weightsCSV,
			*referIndex, *sellMACD, *buyMACD, *shIndex, *fundPosition,
			*sellAtTop, *sellNum, *sellUnit, *profitRate, *buyAmountPercent, *quantURL)
		if err != nil {
			logger.Fatalf("build run: %v", err)
		}
		if err := runner.CreateRun(ctx, run); err != nil {
			logger.Fatalf("create run: %v", err)
		}
		id = run.ID
		logger.Printf("Created run %s (strategy=%s)", id, run.Params.Tag())
	}

	logger.Printf("Running backtest %s", id)
	if err := runner.Run(ctx, id); err != nil {
		logger.Fatalf("backtest failed: %v", err)
	}

	curve, err := equityStore.GetByRun(ctx, id)
	if err != nil {
		logger.Fatalf("load equity curve: %v", err)
	}
	if *outputJSON {
		output, _ := json.MarshalIndent(curve, "", "  ")
		fmt.Println(string(output))
	} else {
		printSummary(id, curve)
	}
}

// buildRun assembles a run from CLI flags.
func buildRun(logger *log.Logger, name, strategyTag, source, fundCodes,
	startDate, endDate, initialCash string, buyFeeRate, sellFeeRate float64, settlementDays int,
	topK, rebalanceEvery int, weightsCSV string,
	referIndex, sellMACD, buyMACD string, shIndex, fundPosition float64,
	sellAtTop bool, sellNum float64, sellUnit string, profitRate, buyAmountPercent float64,
	quantURL string) (*domain.Run, error) {

	if strategyTag == "" {
		return nil, fmt.Errorf("--strategy is required")
	}
	start, err := dates.Parse(startDate)
	if err != nil {
		return nil, fmt.Errorf("--start: %w", err)
	}
	end, err := dates.Parse(endDate)
	if err != nil {
		return nil, fmt.Errorf("--end: %w", err)
	}
	cash, err := decimal.NewFromString(initialCash)
	if err != nil {
		return nil, fmt.Errorf("--initial-cash: %w", err)
	}

	var universe []string
	if fundCodes != "" {
		for _, code := range strings.Split(fundCodes, ",") {
			if code = strings.TrimSpace(code); code != "" {
				universe = append(universe, code)
			}
		}
	}

	weights, err := parseWeights(weightsCSV)
	if err != nil {
		return nil, err
	}

	var params domain.StrategyParams
	switch strategyTag {
	case domain.StrategyBuyAndHoldEqual:
		params = domain.BuyAndHoldEqualParams{}
	case domain.StrategyTopkSnapshot:
		params = domain.TopkSnapshotParams{
			TopK:           topK,
			RebalanceEvery: rebalanceEvery,
			Weights:        weights,
		}
	case domain.StrategyTopkTsTiming:
		sellPoint, err := parseOptionalFloat(sellMACD)
		if err != nil {
			return nil, fmt.Errorf("--sell-macd-point: %w", err)
		}
		buyPoint, err := parseOptionalFloat(buyMACD)
		if err != nil {
			return nil, fmt.Errorf("--buy-macd-point: %w", err)
		}
		params = domain.TopkTsTimingParams{
			TopK:             topK,
			RebalanceEvery:   rebalanceEvery,
			Weights:          weights,
			ReferIndexCode:   referIndex,
			SellMACDPoint:    sellPoint,
			BuyMACDPoint:     buyPoint,
			SHCompositeIndex: shIndex,
			FundPosition:     fundPosition,
			SellAtTop:        sellAtTop,
			SellNum:          sellNum,
			SellUnit:         sellUnit,
			ProfitRate:       profitRate,
			BuyAmountPercent: buyAmountPercent,
			QuantServiceURL:  quantURL,
		}
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, strategyTag)
	}

	return &domain.Run{
		Name:           name,
		Source:         source,
		FundCodes:      universe,
		Params:         params,
		StartDate:      start,
		EndDate:        end,
		InitialCash:    cash,
		BuyFeeRate:     buyFeeRate,
		SellFeeRate:    sellFeeRate,
		SettlementDays: settlementDays,
	}, nil
}

// parseWeights parses a comma-separated weight list; empty returns nil.
func parseWeights(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	weights := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("--weights: %w", err)
		}
		weights = append(weights, v)
	}
	return weights, nil
}

// parseOptionalFloat parses a float flag whose empty value means unset.
func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func printSummary(runID string, curve []*domain.DailyEquity) {
	fmt.Printf("Run:    %s\n", runID)
	fmt.Printf("Days:   %d\n", len(curve))
	if len(curve) == 0 {
		return
	}
	first := curve[0]
	last := curve[len(curve)-1]
	fmt.Printf("Start:  %s  equity=%.2f\n", first.Date, first.TotalEquity)
	fmt.Printf("End:    %s  equity=%.2f\n", last.Date, last.TotalEquity)
	if first.TotalEquity > 0 {
		ret := (last.TotalEquity - first.TotalEquity) / first.TotalEquity
		fmt.Printf("Return: %.4f%%\n", ret*100)
	}
}
