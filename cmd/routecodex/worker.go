package main

import (
	"context"
	"time"

	"github.com/rs/dnscache"
)

// dnsRefreshWorker periodically refreshes the shared DNS cache so a
// provider hostname's A/AAAA change is picked up without a process
// restart.
type dnsRefreshWorker struct {
	resolver *dnscache.Resolver
	interval time.Duration
}

func (w *dnsRefreshWorker) Name() string { return "dns_refresh" }

func (w *dnsRefreshWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.resolver.Refresh(true)
		}
	}
}
