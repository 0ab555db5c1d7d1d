package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntryAttempts counts entry-pipeline runs by entity kind and outcome
	EntryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_entry_attempts_total",
			Help: "Total number of entry pipeline runs",
		},
		[]string{"kind", "outcome"},
	)

	// EntryDuration tracks entry-pipeline wall-clock time
	EntryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_entry_duration_seconds",
			Help:    "Entry pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// ReconcileSweeps counts reconciler sweeps by result
	ReconcileSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_reconcile_sweeps_total",
			Help: "Total number of reconciliation sweeps",
		},
		[]string{"result"},
	)

	// ReconcileConnections counts per-connection reconcile results
	ReconcileConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_reconcile_connections_total",
			Help: "Total number of per-connection reconcile passes",
		},
		[]string{"result"},
	)

	// ReconcileLag tracks the worst projection staleness across active connections
	ReconcileLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_reconcile_lag_seconds",
			Help: "Age of the oldest projection among active connections",
		},
	)

	// StaleConnections tracks connections failing reconciliation past the failure cap
	StaleConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_reconcile_stale_connections",
			Help: "Connections whose reconciliation has been failing past the cap",
		},
	)

	// GatewayRequests counts chat-platform calls by operation and result
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_gateway_requests_total",
			Help: "Total number of chat gateway calls",
		},
		[]string{"operation", "result"},
	)

	// GatewayThrottle tracks time spent waiting on the per-scope token bucket
	GatewayThrottle = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_gateway_throttle_seconds",
			Help:    "Time spent waiting for gateway rate-limit tokens",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	// BackendRequests counts backend API calls by endpoint and status class
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_backend_requests_total",
			Help: "Total number of backend API calls",
		},
		[]string{"endpoint", "status"},
	)

	// ErrorsTotal counts errors by component and category
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "category"},
	)

	// InvariantViolations counts detected invariant violations; any increment
	// is an alerting condition
	InvariantViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_invariant_violations_total",
			Help: "Detected invariant violations",
		},
		[]string{"invariant"},
	)
)
