// Package ingress is the HTTP ingress stage: it mounts the gateway's wire
// endpoints on chi, classifies each request's payload kind, and drives it
// through the Request Executor.
package ingress

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/routecodex/routecodex/internal/config"
	"github.com/routecodex/routecodex/internal/corepipe"
	"github.com/routecodex/routecodex/internal/executor"
	"github.com/routecodex/routecodex/internal/telemetry"
)

// Server wires the chi router to the executor and serves both the public
// wire API and a localhost-only admin surface.
type Server struct {
	cfg      config.ServerConfig
	exec     *executor.Executor
	store    *corepipe.ResponsesContextStore
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	Public   http.Handler
	Admin    http.Handler
}

// New builds the Server's public and admin handlers.
func New(cfg config.ServerConfig, exec *executor.Executor, store *corepipe.ResponsesContextStore, metrics *telemetry.Metrics, tracer trace.Tracer) *Server {
	s := &Server{cfg: cfg, exec: exec, store: store, metrics: metrics, tracer: tracer}

	public := chi.NewRouter()
	public.Use(recovery, securityHeaders, requestID, logging)
	if tracer != nil {
		public.Use(tracingMiddleware(tracer))
	}
	public.Post("/v1/chat/completions", s.handleChat)
	public.Post("/v1/responses", s.handleResponses)
	public.Post("/v1/responses/{id}/submit_tool_outputs", s.handleSubmitToolOutputs)
	public.Post("/v1/messages", s.handleAnthropic)
	public.Post("/v1/anthropic/messages", s.handleAnthropic)
	public.Get("/health", s.handleHealthz)
	s.Public = public

	admin := chi.NewRouter()
	admin.Use(recovery, securityHeaders, logging)
	admin.Get("/ready", s.handleReady)
	admin.Get("/live", s.handleHealthz)
	admin.Handle("/metrics", promhttp.Handler())
	admin.Get("/config", s.handleConfig)
	admin.Get("/status", s.handleStatus)
	admin.Post("/shutdown", s.handleShutdown)
	s.Admin = admin

	return s
}

// HTTPServers returns the two *http.Server instances this Server should be
// served on, letting cmd/routecodex own their lifecycle.
func (s *Server) HTTPServers() (public, admin *http.Server) {
	public = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Public,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	admin = &http.Server{
		Addr:    s.cfg.AdminAddr,
		Handler: s.Admin,
	}
	return public, admin
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"addr": s.cfg.Addr, "admin_addr": s.cfg.AdminAddr})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"uptime_ok": true})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "shutting down"})
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.shutdownRequested()
	}()
}

// shutdownHook is set by cmd/routecodex through SetShutdownHook to trigger
// graceful shutdown; left nil, the admin handler stays safe to call in tests.
var shutdownHook context.CancelFunc

func (s *Server) shutdownRequested() {
	if shutdownHook != nil {
		shutdownHook()
	}
}

// SetShutdownHook registers the cancel function cmd/routecodex's shutdown
// path invokes when POST /shutdown is received on the admin listener.
func SetShutdownHook(cancel context.CancelFunc) {
	shutdownHook = cancel
}
