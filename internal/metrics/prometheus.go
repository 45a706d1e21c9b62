package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeNoCompletion = "no_completion"
	OutcomeError        = "error"
)

// Default histogram buckets for invocation duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// PrometheusMetrics wraps prometheus collectors for invocation metrics.
// A nil *PrometheusMetrics records nothing.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	invocationsTotal   *prometheus.CounterVec
	ignoredCallsTotal  *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	moduleLoadDuration *prometheus.HistogramVec
	lastRunTimestamp   prometheus.Gauge
}

// NewPrometheus creates the invocation collectors on a private registry.
func NewPrometheus(namespace string, buckets []float64) *PrometheusMetrics {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of handler invocations by outcome",
			},
			[]string{"handler", "outcome"},
		),

		ignoredCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ignored_completion_calls_total",
				Help:      "Completion calls made after the invocation was already resolved",
			},
			[]string{"handler"},
		),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_ms",
				Help:      "Handler invocation duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"handler", "outcome"},
		),

		moduleLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_load_duration_ms",
				Help:      "Time to start the runtime and load the handler module in milliseconds",
				Buckets:   buckets,
			},
			[]string{"runtime"},
		),

		lastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last finished invocation",
			},
		),
	}

	pm.registry.MustRegister(
		pm.invocationsTotal,
		pm.ignoredCallsTotal,
		pm.invocationDuration,
		pm.moduleLoadDuration,
		pm.lastRunTimestamp,
	)

	return pm
}

// RecordInvocation records a finished invocation.
func (pm *PrometheusMetrics) RecordInvocation(handler, outcome string, duration time.Duration, ignoredCalls int) {
	if pm == nil {
		return
	}
	pm.invocationsTotal.WithLabelValues(handler, outcome).Inc()
	pm.invocationDuration.WithLabelValues(handler, outcome).Observe(float64(duration.Milliseconds()))
	if ignoredCalls > 0 {
		pm.ignoredCallsTotal.WithLabelValues(handler).Add(float64(ignoredCalls))
	}
	pm.lastRunTimestamp.SetToCurrentTime()
}

// RecordModuleLoad records how long loading the handler module took.
func (pm *PrometheusMetrics) RecordModuleLoad(runtime string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.moduleLoadDuration.WithLabelValues(runtime).Observe(float64(duration.Milliseconds()))
}

// Registry returns the underlying registry
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// WriteTextfile writes the current metrics in the text exposition format,
// suitable for the node_exporter textfile collector.
func (pm *PrometheusMetrics) WriteTextfile(path string) error {
	if pm == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, pm.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
