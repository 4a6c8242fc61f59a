// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "perpbot"

// Notification hub.

// NotificationsTotal counts stored notifications by type and priority.
var NotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Notifications stored by the hub",
	},
	[]string{"type", "priority"},
)

// HandlerFailures counts subscriber handlers that returned an error or
// panicked.
var HandlerFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "handler_failures_total",
		Help:      "Notification handlers that failed",
	},
	[]string{"handler"},
)

// Monitoring supervisor.

// ActiveMonitors is the number of wallets under surveillance.
var ActiveMonitors = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "active_wallets",
		Help:      "Wallets with a running monitoring loop",
	},
)

// MonitorCycles counts completed monitoring cycles by outcome.
var MonitorCycles = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "cycles_total",
		Help:      "Monitoring cycles by result",
	},
	[]string{"result"}, // ok, error, panic
)

// MonitorCycleSeconds observes the duration of a monitoring cycle.
var MonitorCycleSeconds = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one monitoring cycle",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
)

// PriceAlertsFired counts price alerts that crossed their level.
var PriceAlertsFired = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "price_alerts_fired_total",
		Help:      "Price alerts that fired",
	},
)

// Order ledger.

// OrderTransitions counts orders entering each status.
var OrderTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "transitions_total",
		Help:      "Order status transitions",
	},
	[]string{"kind", "status"},
)

// SweepsTotal counts matching sweeps.
var SweepsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "sweeps_total",
		Help:      "Order matching sweeps run",
	},
)

// SweepFailures counts matched orders whose execution failed.
var SweepFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "sweep_failures_total",
		Help:      "Matched orders that failed to execute",
	},
)

// PendingOrders is the current pending order count.
var PendingOrders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "pending",
		Help:      "Orders awaiting their trigger",
	},
)

// Exchange and prices.

// ConnectorLatency observes exchange connector call latency.
var ConnectorLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "call_duration_seconds",
		Help:      "Exchange connector call latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
	},
	[]string{"method", "result"},
)

// SpotPrice is the last observed spot price per symbol.
var SpotPrice = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "prices",
		Name:      "spot_usd",
		Help:      "Last observed spot price in USD",
	},
	[]string{"symbol"},
)

// PriceCacheResults counts price cache lookups by result.
var PriceCacheResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prices",
		Name:      "cache_lookups_total",
		Help:      "Price cache lookups",
	},
	[]string{"result"}, // hit, miss, stale, error
)

// TradesTotal counts executed trade intents by operation and result.
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "intents_total",
		Help:      "Trade intents processed",
	},
	[]string{"operation", "result"},
)

// WSClients is the number of connected websocket clients.
var WSClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "ws_clients",
		Help:      "Connected websocket clients",
	},
)

// ArchivedRecords counts rows moved to cold storage.
var ArchivedRecords = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "archive",
		Name:      "records_total",
		Help:      "Records exported to object storage and removed from Postgres",
	},
	[]string{"kind"},
)

// HTTPRequests counts API requests by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "HTTP requests served",
	},
	[]string{"route", "code"},
)
