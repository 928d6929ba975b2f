package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/routecodex/routecodex/internal/circuitbreaker"
	"github.com/routecodex/routecodex/internal/compat"
	"github.com/routecodex/routecodex/internal/config"
	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/executor"
	"github.com/routecodex/routecodex/internal/health"
	"github.com/routecodex/routecodex/internal/ingress"
	"github.com/routecodex/routecodex/internal/oauth"
	"github.com/routecodex/routecodex/internal/providerreg"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/telemetry"
	"github.com/routecodex/routecodex/internal/transport"
	"github.com/routecodex/routecodex/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting routecodex", "version", version, "addr", cfg.Server.Addr)

	// Shared DNS cache for every provider family's HTTP client.
	dnsResolver := &dnscache.Resolver{}

	reg, err := providerreg.NewRegistry(cfg.Providers)
	if err != nil {
		return fmt.Errorf("provider registry: %w", err)
	}
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			slog.Info("provider skipped (disabled)", "name", p.Name)
			continue
		}
		slog.Info("provider registered", "name", p.Name, "family", p.Family, "models", p.Models)
	}

	rt, err := router.New(reg, cfg.Routes)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	for _, r := range cfg.Routes {
		targets := make([]string, len(r.Targets))
		for i, t := range r.Targets {
			targets[i] = t.Provider + "/" + t.Model
		}
		slog.Info("route configured", "alias", r.ModelAlias, "targets", targets)
	}

	compatRegistry := compat.NewRegistry()

	dialer := newFamilyDialer(cfg.Providers, dnsResolver)

	oauthManager, err := oauth.NewManager(cfg.OAuth, oauthTokenDir())
	if err != nil {
		return fmt.Errorf("oauth manager: %w", err)
	}

	store, err := health.Open(cfg.Health.DSN)
	if err != nil {
		return fmt.Errorf("health store: %w", err)
	}
	defer store.Close()

	breakerCfg := circuitbreaker.DefaultConfig()
	if cfg.Health.PoisonThreshold > 0 {
		breakerCfg.MinSamples = cfg.Health.PoisonThreshold
	}
	if cfg.Health.PoisonWindow > 0 {
		breakerCfg.WindowSeconds = int(cfg.Health.PoisonWindow.Seconds())
	}
	center := health.NewCenter(store, breakerCfg)
	monitor := health.NewMonitor(center)

	responsesCtx := corepipe.NewResponsesContextStore(4096)

	exec := executor.New(rt, compatRegistry, dialer, center, oauthManager, responsesCtx)

	// Metrics register against the default registry so the admin /metrics
	// endpoint (promhttp.Handler, which gathers from it) serves them without
	// the ingress package needing a registry reference of its own.
	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		prometheus.DefaultRegisterer.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prometheus.DefaultRegisterer.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
		slog.Info("prometheus metrics enabled")
	}

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(context.Background(), endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("routecodex/ingress")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	srv := ingress.New(cfg.Server, exec, responsesCtx, metrics, tracer)
	publicSrv, adminSrv := srv.HTTPServers()

	runner := worker.NewRunner(
		monitor,
		&dnsRefreshWorker{resolver: dnsResolver, interval: 5 * time.Minute},
	)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	ingress.SetShutdownHook(workerCancel)

	errCh := make(chan error, 2)
	go func() {
		if err := publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public listener: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin listener: %w", err)
			return
		}
		errCh <- nil
	}()

	slog.Info("routecodex ready", "addr", cfg.Server.Addr, "admin_addr", cfg.Server.AdminAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case <-workerCtx.Done():
		slog.Info("shutdown requested via admin endpoint")
	case err := <-errCh:
		workerCancel()
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := publicSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("public listener shutdown error", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin listener shutdown error", "error", err)
	}

	workerCancel()
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("background worker error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("routecodex stopped")
	return nil
}

// oauthTokenDir resolves where refreshed OAuth tokens are persisted,
// honoring ROUTECODEX_TOKEN_DIR for deployments that need a non-default
// location (e.g. a mounted secrets volume).
func oauthTokenDir() string {
	if dir := os.Getenv("ROUTECODEX_TOKEN_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".routecodex/tokens"
	}
	return home + "/.routecodex/tokens"
}
