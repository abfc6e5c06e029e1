// Package telemetry exposes the ICT Engine's Prometheus metrics: pattern
// detection throughput, scheduler pool load, memory/shared cache hit
// rates, risk pipeline verdicts, and execution outcomes.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the engine exports. It uses its own
// prometheus.Registry rather than the global default so multiple
// instances (e.g. in tests) don't collide on duplicate registration.
type Registry struct {
	reg *prometheus.Registry

	DetectionDuration *prometheus.HistogramVec
	PatternsDetected  *prometheus.CounterVec

	SchedulerQueueDepth prometheus.Gauge
	SchedulerPoolLoad   *prometheus.GaugeVec
	TaskRetries         *prometheus.CounterVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	RiskRejections *prometheus.CounterVec
	RiskApprovals  prometheus.Counter

	OrdersSubmitted *prometheus.CounterVec
	OrderLatency    prometheus.Histogram

	BaselineDeviations *prometheus.CounterVec
}

// New builds and registers every metric.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		DetectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ictengine_detection_duration_seconds",
				Help:    "Duration of a detector pass over one bar window",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"kind", "timeframe"},
		),
		PatternsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictengine_patterns_detected_total",
				Help: "Total patterns detected by kind and symbol",
			},
			[]string{"kind", "symbol"},
		),
		SchedulerQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ictengine_scheduler_queue_depth",
				Help: "Current number of queued analysis tasks",
			},
		),
		SchedulerPoolLoad: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ictengine_scheduler_worker_load",
				Help: "Current accounted load per worker",
			},
			[]string{"worker_id"},
		),
		TaskRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictengine_scheduler_task_retries_total",
				Help: "Total analysis task retries by outcome",
			},
			[]string{"outcome"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictengine_cache_hits_total",
				Help: "Total shared-memory cache hits by cache name",
			},
			[]string{"cache"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictengine_cache_misses_total",
				Help: "Total shared-memory cache misses by cache name",
			},
			[]string{"cache"},
		),
		RiskRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictengine_risk_rejections_total",
				Help: "Total risk pipeline rejections by stage and reason",
			},
			[]string{"stage", "reason"},
		),
		RiskApprovals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ictengine_risk_approvals_total",
				Help: "Total risk pipeline approvals",
			},
		),
		OrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictengine_orders_submitted_total",
				Help: "Total orders submitted by terminal state",
			},
			[]string{"state"},
		),
		OrderLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ictengine_order_submit_latency_seconds",
				Help:    "Latency from Submitted to a terminal execution state",
				Buckets: prometheus.DefBuckets,
			},
		),
		BaselineDeviations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictengine_baseline_deviations_total",
				Help: "Total baseline deviation reports by status",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		r.DetectionDuration,
		r.PatternsDetected,
		r.SchedulerQueueDepth,
		r.SchedulerPoolLoad,
		r.TaskRetries,
		r.CacheHits,
		r.CacheMisses,
		r.RiskRejections,
		r.RiskApprovals,
		r.OrdersSubmitted,
		r.OrderLatency,
		r.BaselineDeviations,
	)

	return r
}

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
