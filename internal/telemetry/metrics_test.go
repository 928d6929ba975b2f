package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.ActiveRequests == nil {
		t.Error("ActiveRequests is nil")
	}
	if m.TokensProcessed == nil {
		t.Error("TokensProcessed is nil")
	}
	if m.ProviderAttempts == nil {
		t.Error("ProviderAttempts is nil")
	}
	if m.CircuitBreakerState == nil {
		t.Error("CircuitBreakerState is nil")
	}
	if m.CircuitBreakerRejects == nil {
		t.Error("CircuitBreakerRejects is nil")
	}
	if m.OAuthRefreshTotal == nil {
		t.Error("OAuthRefreshTotal is nil")
	}
	if m.SSEEventsTotal == nil {
		t.Error("SSEEventsTotal is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("gpt-4o", "openai", "200").Inc()
	m.ProviderAttempts.WithLabelValues("openai", "success").Inc()
	m.ActiveRequests.Set(5)
	m.RequestDuration.WithLabelValues("executor").Observe(0.123)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"routecodex_requests_total",
		"routecodex_provider_attempts_total",
		"routecodex_active_requests",
		"routecodex_stage_duration_seconds",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection to
// an OTLP collector, which is integration-test territory.
