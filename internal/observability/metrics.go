// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Run lifecycle metrics
	RunsCreated   *prometheus.CounterVec
	RunsCompleted *prometheus.CounterVec
	EnvSteps      prometheus.Counter

	// Ledger metrics
	OrdersCreated      *prometheus.CounterVec
	OrdersExecuted     *prometheus.CounterVec
	OrdersSkipped      prometheus.Counter
	ReceivablesSettled prometheus.Counter
	EquitySnapshots    prometheus.Counter

	// Ingestion metrics
	NavPointsStored  prometheus.Counter
	SignalRowsStored prometheus.Counter

	// Training metrics
	CandidateSims     prometheus.Counter
	TrainRounds       prometheus.Counter
	TimingOracleCalls *prometheus.CounterVec

	// Latency metrics
	BacktestDuration    *prometheus.HistogramVec
	TimingOracleLatency prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fund_sim_lab"
	}

	return &Metrics{
		// Run lifecycle metrics
		RunsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "created_total",
			Help:      "Total number of runs created by mode",
		}, []string{"mode"}),
		RunsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "completed_total",
			Help:      "Total number of runs that reached terminal status by strategy",
		}, []string{"strategy"}),
		EnvSteps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "env_steps_total",
			Help:      "Total number of interactive environment steps taken",
		}),

		// Ledger metrics
		OrdersCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "orders_created_total",
			Help:      "Total number of orders created by side",
		}, []string{"side"}),
		OrdersExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "orders_executed_total",
			Help:      "Total number of orders executed by side",
		}, []string{"side"}),
		OrdersSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "orders_skipped_total",
			Help:      "Total number of due orders left pending for missing NAV",
		}),
		ReceivablesSettled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "receivables_settled_total",
			Help:      "Total number of cash receivables settled into available cash",
		}),
		EquitySnapshots: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "equity_snapshots_total",
			Help:      "Total number of daily equity snapshots written",
		}),

		// Ingestion metrics
		NavPointsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "nav_points_stored_total",
			Help:      "Total number of NAV history points stored",
		}),
		SignalRowsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "signal_rows_stored_total",
			Help:      "Total number of signal snapshot rows stored",
		}),

		// Training metrics
		CandidateSims: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "candidate_simulations_total",
			Help:      "Total number of candidate weight simulations evaluated",
		}),
		TrainRounds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "rounds_total",
			Help:      "Total number of optimizer rounds completed",
		}),
		TimingOracleCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timing",
			Name:      "oracle_calls_total",
			Help:      "Total number of timing oracle calls by status",
		}, []string{"status"}),

		// Latency metrics
		BacktestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "duration_seconds",
			Help:      "Backtest run duration in seconds by strategy",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		TimingOracleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "timing",
			Name:      "oracle_latency_seconds",
			Help:      "Timing oracle HTTP call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRunCreated increments the runs created counter.
func RecordRunCreated(mode string) {
	DefaultMetrics.RunsCreated.WithLabelValues(mode).Inc()
}

// RecordRunCompleted increments the runs completed counter.
func RecordRunCompleted(strategy string) {
	DefaultMetrics.RunsCompleted.WithLabelValues(strategy).Inc()
}

// RecordEnvStep increments the environment step counter.
func RecordEnvStep() {
	DefaultMetrics.EnvSteps.Inc()
}

// RecordOrderCreated increments the orders created counter for a side.
func RecordOrderCreated(side string) {
	DefaultMetrics.OrdersCreated.WithLabelValues(side).Inc()
}

// RecordOrderExecuted increments the orders executed counter for a side.
func RecordOrderExecuted(side string) {
	DefaultMetrics.OrdersExecuted.WithLabelValues(side).Inc()
}

// RecordOrderSkipped increments the skipped orders counter.
func RecordOrderSkipped() {
	DefaultMetrics.OrdersSkipped.Inc()
}

// RecordReceivablesSettled adds settled receivable rows to the counter.
func RecordReceivablesSettled(n int) {
	DefaultMetrics.ReceivablesSettled.Add(float64(n))
}

// RecordEquitySnapshot increments the equity snapshot counter.
func RecordEquitySnapshot() {
	DefaultMetrics.EquitySnapshots.Inc()
}

// RecordNavStored adds stored NAV points to the counter.
func RecordNavStored(n int) {
	DefaultMetrics.NavPointsStored.Add(float64(n))
}

// RecordSignalsStored adds stored signal rows to the counter.
func RecordSignalsStored(n int) {
	DefaultMetrics.SignalRowsStored.Add(float64(n))
}

// RecordCandidateSim increments the candidate simulation counter.
func RecordCandidateSim() {
	DefaultMetrics.CandidateSims.Inc()
}

// RecordTrainRound increments the optimizer round counter.
func RecordTrainRound() {
	DefaultMetrics.TrainRounds.Inc()
}

// RecordTimingOracleCall records a timing oracle call and its latency.
func RecordTimingOracleCall(status string, seconds float64) {
	DefaultMetrics.TimingOracleCalls.WithLabelValues(status).Inc()
	DefaultMetrics.TimingOracleLatency.Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
