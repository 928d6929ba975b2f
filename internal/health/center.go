package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/routecodex/routecodex/internal/circuitbreaker"
	"github.com/routecodex/routecodex/internal/corepipe"
)

// Center is the provider-error center: it satisfies executor.HealthGate by
// consulting a circuit breaker per ProviderKey, and persists every failure
// to the sqlite ledger for later inspection. Ledger write failures are
// logged, never propagated -- the breaker's in-memory state is the
// authoritative fast path.
type Center struct {
	breakers *circuitbreaker.Registry
	store    *Store
}

// NewCenter returns a Center backed by store, using cfg for every
// provider's breaker.
func NewCenter(store *Store, cfg circuitbreaker.Config) *Center {
	return &Center{breakers: circuitbreaker.NewRegistry(cfg), store: store}
}

// Allow reports whether providerKey's breaker currently permits a request.
func (c *Center) Allow(providerKey string) bool {
	return c.breakers.GetOrCreate(providerKey).Allow()
}

// RecordResult folds one attempt's outcome into providerKey's breaker and,
// for failures, the persistent ledger.
func (c *Center) RecordResult(providerKey string, sig corepipe.RetrySignal, latency time.Duration) {
	breaker := c.breakers.GetOrCreate(providerKey)

	if sig.StatusCode >= 200 && sig.StatusCode < 300 && sig.Code == "" {
		breaker.RecordSuccess()
		return
	}

	weight := weightFor(sig)
	breaker.RecordError(weight)

	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.store.recordFailure(ctx, providerKey, sig); err != nil {
		slog.Warn("health: failed to persist provider error", "provider_key", providerKey, "error", err)
	}
}

// weightFor maps a RetrySignal onto circuitbreaker.ClassifyError's weight
// scale without requiring an httpStatusError-shaped error value.
func weightFor(sig corepipe.RetrySignal) float64 {
	switch {
	case sig.StatusCode == 429:
		return 0.5
	case sig.StatusCode >= 500 && sig.StatusCode <= 504:
		return 1.0
	case sig.Code == "ERR_TRANSPORT" || sig.Code == "ERR_NO_RESPONSE":
		return 1.0
	case sig.StatusCode >= 400 && sig.StatusCode < 500:
		return 0.0
	default:
		return 0.0
	}
}
