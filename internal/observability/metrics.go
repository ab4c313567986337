// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	TradeEventsProcessed prometheus.Counter
	MigrationsProcessed  prometheus.Counter
	FeedReconnects       prometheus.Counter
	FeedMessageLatency   prometheus.Histogram

	// Ledger metrics
	TrackedTraders prometheus.Gauge
	TradersRemoved prometheus.Counter

	// Copier metrics
	PositionsOpened prometheus.Counter
	PositionsClosed *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
	RealizedPnLSol  prometheus.Gauge
	OrdersSubmitted *prometheus.CounterVec
	OrderErrors     *prometheus.CounterVec

	// Solana metrics
	RPCCallLatency *prometheus.HistogramVec

	// Health metrics
	LastEventTimestamp prometheus.Gauge
	UptimeSeconds      prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "kolt"
	}

	return &Metrics{
		// Feed metrics
		TradeEventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "trade_events_processed_total",
			Help:      "Total number of trade events processed",
		}),
		MigrationsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "migrations_processed_total",
			Help:      "Total number of token migrations processed",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnections",
		}),
		FeedMessageLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "message_latency_seconds",
			Help:      "Feed-reported event delivery latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Ledger metrics
		TrackedTraders: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tracked_traders",
			Help:      "Current number of traders in the PnL ledger",
		}),
		TradersRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "traders_removed_total",
			Help:      "Total number of traders dropped by ledger GC",
		}),

		// Copier metrics
		PositionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "copier",
			Name:      "positions_opened_total",
			Help:      "Total number of copy positions opened",
		}),
		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "copier",
			Name:      "positions_closed_total",
			Help:      "Total number of copy positions closed by outcome",
		}, []string{"outcome"}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "copier",
			Name:      "open_positions",
			Help:      "Current number of open copy positions",
		}),
		RealizedPnLSol: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "copier",
			Name:      "realized_pnl_sol",
			Help:      "Cumulative realized PnL in SOL across closed positions",
		}),
		OrdersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "copier",
			Name:      "orders_submitted_total",
			Help:      "Total number of orders submitted by action",
		}, []string{"action"}),
		OrderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "copier",
			Name:      "order_errors_total",
			Help:      "Total number of failed order submissions by action",
		}, []string{"action"}),

		// Solana metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Health metrics
		LastEventTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_event_timestamp",
			Help:      "Unix timestamp of the last feed event",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTradeEvent increments the trade events counter and tracks the
// feed-reported latency.
func RecordTradeEvent(latencyMs int64) {
	DefaultMetrics.TradeEventsProcessed.Inc()
	DefaultMetrics.LastEventTimestamp.Set(float64(time.Now().Unix()))
	if latencyMs > 0 {
		DefaultMetrics.FeedMessageLatency.Observe(float64(latencyMs) / 1000)
	}
}

// RecordMigration increments the migrations processed counter.
func RecordMigration() {
	DefaultMetrics.MigrationsProcessed.Inc()
}

// RecordOrder records an order submission and its outcome.
func RecordOrder(action string, err error) {
	DefaultMetrics.OrdersSubmitted.WithLabelValues(action).Inc()
	if err != nil {
		DefaultMetrics.OrderErrors.WithLabelValues(action).Inc()
	}
}

// RecordPositionClosed records a closed position by outcome.
func RecordPositionClosed(returnsSol float64) {
	outcome := "win"
	if returnsSol < 0 {
		outcome = "loss"
	}
	DefaultMetrics.PositionsClosed.WithLabelValues(outcome).Inc()
}

// UpdateEngineGauges refreshes the ledger and copier gauges.
func UpdateEngineGauges(trackedTraders, openPositions int, realizedPnL float64) {
	DefaultMetrics.TrackedTraders.Set(float64(trackedTraders))
	DefaultMetrics.OpenPositions.Set(float64(openPositions))
	DefaultMetrics.RealizedPnLSol.Set(realizedPnL)
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}
