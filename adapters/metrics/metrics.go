// Package metrics provides Prometheus metrics collection for FnGate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for FnGate.
type Collector struct {
	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ExecutionFailures *prometheus.CounterVec
	SandboxInFlight   prometheus.Gauge
	SandboxWaiting    prometheus.Gauge

	// Metering metrics
	MeterQueueDepth prometheus.Gauge
	MeterDropped    prometheus.Counter
	MeterRecords    prometheus.Counter
	MeterErrors     *prometheus.CounterVec

	// Billing metrics
	BillingEventsTotal prometheus.Counter
	BillingAcksTotal   prometheus.Counter
	BillingPending     prometheus.Gauge
	SnapshotsTotal     *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector on a custom registry. Useful for
// testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		// Execution metrics
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fngate",
				Name:      "executions_total",
				Help:      "Total number of sandbox executions",
			},
			[]string{"api_id", "status"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fngate",
				Name:      "execution_duration_seconds",
				Help:      "Sandbox execution duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"api_id"},
		),
		ExecutionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fngate",
				Name:      "execution_failures_total",
				Help:      "Total number of failed executions by failure kind",
			},
			[]string{"kind"},
		),
		SandboxInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fngate",
				Name:      "sandbox_in_flight",
				Help:      "Number of executions currently running in the sandbox",
			},
		),
		SandboxWaiting: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fngate",
				Name:      "sandbox_waiting",
				Help:      "Number of executions waiting for a sandbox slot",
			},
		),

		// Metering metrics
		MeterQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fngate",
				Name:      "meter_queue_depth",
				Help:      "Number of calls queued for metering",
			},
		),
		MeterDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fngate",
				Name:      "meter_dropped_total",
				Help:      "Total calls dropped because the meter queue was full",
			},
		),
		MeterRecords: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fngate",
				Name:      "meter_records_total",
				Help:      "Total usage records produced by the meter",
			},
		),
		MeterErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fngate",
				Name:      "meter_errors_total",
				Help:      "Total metering failures by stage",
			},
			[]string{"stage"},
		),

		// Billing metrics
		BillingEventsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fngate",
				Name:      "billing_events_total",
				Help:      "Total events consumed by the billing worker",
			},
		),
		BillingAcksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fngate",
				Name:      "billing_acks_total",
				Help:      "Total events acknowledged by the billing worker",
			},
		),
		BillingPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fngate",
				Name:      "billing_pending",
				Help:      "Unacknowledged events in the billing consumer group",
			},
		),
		SnapshotsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fngate",
				Name:      "snapshots_total",
				Help:      "Total usage snapshots materialized",
			},
			[]string{"period"},
		),

		// Config metrics
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fngate",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fngate",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fngate",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}
