// Package metrics exposes the billing engine's Prometheus instruments.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds application-level instruments. All methods are safe on a nil
// receiver so callers can treat instrumentation as optional.
type Metrics struct {
	registry *prometheus.Registry

	deductions          *prometheus.CounterVec
	creditsDeducted     *prometheus.CounterVec
	insufficientCredits prometheus.Counter
	webhookIntents      *prometheus.CounterVec
	cacheLookups        *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New builds the instruments on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		deductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inferbill_deductions_total",
			Help: "Committed credit deductions by credit type.",
		}, []string{"credit_type"}),
		creditsDeducted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inferbill_credits_deducted_total",
			Help: "Total credits deducted by credit type.",
		}, []string{"credit_type"}),
		insufficientCredits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inferbill_insufficient_credits_total",
			Help: "Deductions rejected for insufficient balance.",
		}),
		webhookIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inferbill_webhook_intents_total",
			Help: "Balance threshold notification intents by event type.",
		}, []string{"event_type"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inferbill_cache_lookups_total",
			Help: "Pricing resolver cache lookups by cache name and outcome.",
		}, []string{"cache", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inferbill_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inferbill_http_request_duration_seconds",
			Help:    "HTTP request latency by route and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	registry.MustRegister(
		m.deductions,
		m.creditsDeducted,
		m.insufficientCredits,
		m.webhookIntents,
		m.cacheLookups,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordDeduction counts a committed deduction and its credit volume.
func (m *Metrics) RecordDeduction(creditType string, credits int64) {
	if m == nil {
		return
	}
	m.deductions.WithLabelValues(creditType).Inc()
	m.creditsDeducted.WithLabelValues(creditType).Add(float64(credits))
}

// IncInsufficientCredits counts a strict post-hoc rejection.
func (m *Metrics) IncInsufficientCredits() {
	if m == nil {
		return
	}
	m.insufficientCredits.Inc()
}

// IncWebhookIntent counts a threshold notification intent.
func (m *Metrics) IncWebhookIntent(eventType string) {
	if m == nil {
		return
	}
	m.webhookIntents.WithLabelValues(eventType).Inc()
}

// IncCacheLookup counts one resolver cache lookup.
func (m *Metrics) IncCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, outcome).Inc()
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(route, method string, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
