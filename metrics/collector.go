// Package metrics exposes Prometheus metrics for the retention engine, the
// dispatcher work queue and the expired-record sweeper.
//
// Every method is safe to call on a nil *Collector, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/retention/internal/logger"
)

// Config controls metric naming.
type Config struct {
	Namespace string
	Subsystem string
}

// Collector owns a private registry and the retention metrics.
type Collector struct {
	registry *prometheus.Registry

	attachTotal      *prometheus.CounterVec
	evaluationsTotal *prometheus.CounterVec
	finalizeTotal    *prometheus.CounterVec
	actionFailures   *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec

	batchesEnqueued prometheus.Counter
	batchesRetried  prometheus.Counter
	batchesFailed   prometheus.Counter
	ignoredNotes    prometheus.Counter
	queueDepth      prometheus.Gauge

	sweepRuns      prometheus.Counter
	sweepFinalized prometheus.Counter
}

// NewCollector creates and registers all metrics. A nil registry gets a
// fresh private one.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "retention"
	}
	ns, sub := cfg.Namespace, cfg.Subsystem

	c := &Collector{
		registry: registry,
		attachTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "attach_total",
			Help: "Rule attach attempts by result.",
		}, []string{"result"}),
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "evaluations_total",
			Help: "Record evaluations by outcome.",
		}, []string{"outcome"}),
		finalizeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "finalize_total",
			Help: "Record finalizations by result.",
		}, []string{"result"}),
		actionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "action_failures_total",
			Help: "Aborted action sequences by phase (begin or end).",
		}, []string{"phase"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "operation_duration_seconds",
			Help:    "Duration of engine operations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"operation"}),
		batchesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "batches_enqueued_total",
			Help: "Event batches handed to the work queue.",
		}),
		batchesRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "batches_retried_total",
			Help: "Work unit redeliveries after infrastructure errors.",
		}),
		batchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "batches_failed_total",
			Help: "Work units abandoned after exhausting retries.",
		}),
		ignoredNotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "ignored_notifications_total",
			Help: "Self-generated notifications dropped by the dispatcher.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "queue_depth",
			Help: "Work units waiting or in progress.",
		}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "sweep_runs_total",
			Help: "Expired-record sweeps executed.",
		}),
		sweepFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "sweep_finalized_total",
			Help: "Records finalized by the sweeper.",
		}),
	}

	registry.MustRegister(
		c.attachTotal, c.evaluationsTotal, c.finalizeTotal, c.actionFailures, c.operationLatency,
		c.batchesEnqueued, c.batchesRetried, c.batchesFailed, c.ignoredNotes, c.queueDepth,
		c.sweepRuns, c.sweepFinalized,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "condition_errors_total",
			Help: "Expression evaluations that failed and were read as false.",
		}, func() float64 { return float64(logger.ConditionErrors.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "log_errors_total",
			Help: "Error log events, counted before sampling.",
		}, func() float64 { return float64(logger.TotalErrors.Load()) }),
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the registry metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// RecordAttach counts an attach attempt. result is "ok", "rejected" or "error".
func (c *Collector) RecordAttach(result string) {
	if c == nil {
		return
	}
	c.attachTotal.WithLabelValues(result).Inc()
}

// RecordEvaluation counts an evaluation outcome: "started", "unchanged",
// "finalized" or "error".
func (c *Collector) RecordEvaluation(outcome string) {
	if c == nil {
		return
	}
	c.evaluationsTotal.WithLabelValues(outcome).Inc()
}

// RecordFinalize counts a finalization: "ok", "noop" or "error".
func (c *Collector) RecordFinalize(result string) {
	if c == nil {
		return
	}
	c.finalizeTotal.WithLabelValues(result).Inc()
}

// RecordActionFailure counts an aborted action sequence.
func (c *Collector) RecordActionFailure(phase string) {
	if c == nil {
		return
	}
	c.actionFailures.WithLabelValues(phase).Inc()
}

// ObserveOperation records how long an engine operation took.
func (c *Collector) ObserveOperation(operation string, start time.Time) {
	if c == nil {
		return
	}
	c.operationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// BatchEnqueued counts a work unit and raises the queue depth.
func (c *Collector) BatchEnqueued() {
	if c == nil {
		return
	}
	c.batchesEnqueued.Inc()
	c.queueDepth.Inc()
}

// BatchDone lowers the queue depth.
func (c *Collector) BatchDone() {
	if c == nil {
		return
	}
	c.queueDepth.Dec()
}

// BatchRetried counts a redelivery.
func (c *Collector) BatchRetried() {
	if c == nil {
		return
	}
	c.batchesRetried.Inc()
}

// BatchFailed counts an abandoned work unit.
func (c *Collector) BatchFailed() {
	if c == nil {
		return
	}
	c.batchesFailed.Inc()
}

// NotificationIgnored counts a dropped self-generated notification.
func (c *Collector) NotificationIgnored() {
	if c == nil {
		return
	}
	c.ignoredNotes.Inc()
}

// RecordSweep counts a sweep and the records it finalized.
func (c *Collector) RecordSweep(finalized int) {
	if c == nil {
		return
	}
	c.sweepRuns.Inc()
	c.sweepFinalized.Add(float64(finalized))
}
