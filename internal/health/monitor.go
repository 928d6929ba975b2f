package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/routecodex/routecodex/internal/circuitbreaker"
)

// staleBreakerTTL bounds how long an idle provider's breaker is kept before
// eviction; a provider that hasn't been attempted in this long has likely
// been removed from the route table entirely.
const staleBreakerTTL = 30 * time.Minute

// evictionInterval is how often the monitor sweeps for stale breakers.
const evictionInterval = 5 * time.Minute

// Monitor runs the Center's background maintenance: periodic stale-breaker
// eviction, run alongside any other long-lived gateway workers under one
// errgroup so a panic or fatal error in either cancels the other.
type Monitor struct {
	breakers *circuitbreaker.Registry
}

// NewMonitor returns a Monitor over c's breaker registry.
func NewMonitor(c *Center) *Monitor {
	return &Monitor{breakers: c.breakers}
}

// Name satisfies worker.Worker for registration with the process-wide
// background task runner.
func (m *Monitor) Name() string {
	return "health_monitor"
}

// Run blocks, sweeping stale breakers every evictionInterval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			evicted := m.breakers.EvictStale(time.Now().Add(-staleBreakerTTL))
			if evicted > 0 {
				slog.Info("health: evicted stale breakers", "count", evicted)
			}
		}
	}
}
