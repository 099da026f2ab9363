package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReconciliationMetrics tracks the reconciliation engine's behavior.
type ReconciliationMetrics struct {
	// Accepted status transitions
	TransitionsTotal *prometheus.CounterVec

	// Observations ignored by the rank check (stale webhooks, out-of-order polls)
	StaleObservationsTotal *prometheus.CounterVec

	// Store write conflicts resolved by retry
	StoreConflictsTotal prometheus.Counter

	// Gateway client failures by operation
	GatewayErrorsTotal *prometheus.CounterVec

	// Currently registered payment monitors
	ActiveMonitors prometheus.Gauge

	// Poll ticks executed across all monitors
	MonitorChecksTotal prometheus.Counter

	// Monitors that exhausted their duration budget without a terminal status
	MonitorTimeoutsTotal prometheus.Counter

	// Batch sweep duration per tenant
	BatchSyncDuration *prometheus.HistogramVec
}

// NewReconciliationMetrics registers the collectors on the default
// registry. Tests use NewReconciliationMetricsWith and a fresh registry.
func NewReconciliationMetrics() *ReconciliationMetrics {
	return NewReconciliationMetricsWith(prometheus.DefaultRegisterer)
}

func NewReconciliationMetricsWith(reg prometheus.Registerer) *ReconciliationMetrics {
	factory := promauto.With(reg)

	return &ReconciliationMetrics{
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_transitions_total",
				Help: "Accepted payment status transitions",
			},
			[]string{"from", "to", "source"},
		),

		StaleObservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_stale_observations_total",
				Help: "Observations ignored because their rank was below the stored status",
			},
			[]string{"source"},
		),

		StoreConflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_store_conflicts_total",
				Help: "Optimistic-lock conflicts during reconciliation writes",
			},
		),

		GatewayErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_gateway_errors_total",
				Help: "Gateway client failures by operation",
			},
			[]string{"operation"},
		),

		ActiveMonitors: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "payment_active_monitors",
				Help: "Payment monitors currently registered",
			},
		),

		MonitorChecksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_monitor_checks_total",
				Help: "Poll ticks executed across all monitors",
			},
		),

		MonitorTimeoutsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_monitor_timeouts_total",
				Help: "Monitors that hit their max duration while the payment was still non-terminal",
			},
		),

		BatchSyncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_batch_sync_duration_seconds",
				Help:    "Duration of batch reconciliation sweeps",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tenant_id"},
		),
	}
}
