// Package telemetry provides observability primitives for the routecodex
// gateway: Prometheus metrics and OpenTelemetry tracing, one span/series per
// pipeline stage.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec   // labels: route, provider, status
	RequestDuration       *prometheus.HistogramVec // labels: stage
	ActiveRequests        prometheus.Gauge
	TokensProcessed       *prometheus.CounterVec // labels: model, type (prompt/completion)
	ProviderAttempts      *prometheus.CounterVec // labels: provider, outcome (success/retry/exclude)
	CircuitBreakerState   *prometheus.GaugeVec   // labels: provider (0=closed, 1=open, 2=half_open)
	CircuitBreakerRejects *prometheus.CounterVec // labels: provider
	OAuthRefreshTotal     *prometheus.CounterVec // labels: credential_id, outcome
	SSEEventsTotal        *prometheus.CounterVec // labels: provider, dialect
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routecodex",
			Name:      "requests_total",
			Help:      "Total number of pipeline requests.",
		}, []string{"route", "provider", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "routecodex",
			Name:                            "stage_duration_seconds",
			Help:                            "Pipeline stage duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"stage"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "routecodex",
			Name:      "active_requests",
			Help:      "Number of requests currently in the pipeline.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routecodex",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		ProviderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routecodex",
			Name:      "provider_attempts_total",
			Help:      "Total provider attempts by outcome.",
		}, []string{"provider", "outcome"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "routecodex",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open).",
		}, []string{"provider"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routecodex",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by circuit breaker.",
		}, []string{"provider"}),

		OAuthRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routecodex",
			Name:      "oauth_refresh_total",
			Help:      "Total OAuth token refresh attempts.",
		}, []string{"credential_id", "outcome"}),

		SSEEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routecodex",
			Name:      "sse_events_total",
			Help:      "Total upstream SSE events normalized.",
		}, []string{"provider", "dialect"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.TokensProcessed,
		m.ProviderAttempts,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
		m.OAuthRefreshTotal,
		m.SSEEventsTotal,
	)

	return m
}
