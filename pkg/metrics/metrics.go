package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_intents_discovered_total",
		Help: "The total number of intents handed to the engine",
	}, []string{"standard"})

	IntentDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_intent_decisions_total",
		Help: "Outcome of intent evaluation: validated, rejected, skipped, deferred or executed",
	}, []string{"decision"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_order_transitions_total",
		Help: "The total number of order status transitions",
	}, []string{"from", "to"})

	OrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_orders_failed_total",
		Help: "The total number of orders moved to failed, by stage",
	}, []string{"stage"})

	Transactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_transactions_total",
		Help: "Submitted transactions by stage and outcome",
	}, []string{"stage", "chain_id", "status"})

	GasUsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solver_gas_used",
		Help:    "Gas used by confirmed transactions",
		Buckets: prometheus.ExponentialBuckets(21000, 2, 10), // Start at 21000 with 10 buckets doubling in size
	}, []string{"chain_id"})

	GasPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "solver_gas_price_gwei",
		Help: "Current gas price in gwei",
	}, []string{"chain_id"})

	ProfitMargin = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "solver_profit_margin_pct",
		Help:    "Computed profit margin of evaluated orders in percent",
		Buckets: []float64{-10, -1, 0, 0.5, 1, 2, 5, 10, 25, 50},
	})

	ActiveMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solver_active_monitors",
		Help: "The number of orders currently waiting for a claimable proof",
	})

	MonitorPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_monitor_polls_total",
		Help: "Settlement monitor polls by result",
	}, []string{"result"})

	RecoveredOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_recovered_orders_total",
		Help: "Orders resumed by startup recovery, by action",
	}, []string{"action"})

	DeferredQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solver_deferred_queue_size",
		Help: "The number of orders waiting for deferred re-evaluation",
	})

	OrderLifecycleTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "solver_order_lifecycle_seconds",
		Help:    "Time from order creation to finalization",
		Buckets: prometheus.ExponentialBuckets(30, 2, 10),
	})
)
