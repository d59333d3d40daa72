// Package metrics exposes prometheus collectors for the sync engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stock_sync"

// Metrics holds every collector on its own registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	syncRuns           *prometheus.CounterVec
	syncDuration       *prometheus.HistogramVec
	itemsSynced        *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
	imageOutcomes      *prometheus.CounterVec
	invalidationErrors prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sync runs by kind, trigger and result.",
		}, []string{"kind", "trigger", "result"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"kind"}),
		itemsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items reconciled by result.",
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by entity and outcome.",
		}, []string{"entity", "outcome"}),
		imageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_outcomes_total",
			Help:      "Image sync outcomes by action.",
		}, []string{"action"}),
		invalidationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidation_failures_total",
			Help:      "Cache tags or path batches that could not be invalidated.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.syncRuns, m.syncDuration, m.itemsSynced, m.webhookEvents,
		m.imageOutcomes, m.invalidationErrors, m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSyncRun records one finished run.
func (m *Metrics) ObserveSyncRun(kind, trigger string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(kind, trigger, resultLabel(success)).Inc()
	m.syncDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// AddItems counts reconciled and failed items.
func (m *Metrics) AddItems(updated, failed int) {
	if m == nil {
		return
	}
	m.itemsSynced.WithLabelValues("updated").Add(float64(updated))
	m.itemsSynced.WithLabelValues("failed").Add(float64(failed))
}

// WebhookEvent counts one webhook delivery.
func (m *Metrics) WebhookEvent(entity, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(entity, outcome).Inc()
}

// ImageOutcome counts one image sync result.
func (m *Metrics) ImageOutcome(action string) {
	if m == nil {
		return
	}
	m.imageOutcomes.WithLabelValues(action).Inc()
}

// InvalidationFailures adds n failed invalidations.
func (m *Metrics) InvalidationFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidationErrors.Add(float64(n))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
