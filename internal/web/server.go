// Package web exposes the REST facade and the websocket event stream over
// the orchestration core. It consumes runtime events; it never reaches into
// agent internals.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localhive/localhive/internal/agent"
	"github.com/localhive/localhive/internal/guardian"
	"github.com/localhive/localhive/internal/memory"
	"github.com/localhive/localhive/internal/plan"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Server wires the HTTP routes to the core.
type Server struct {
	manager   *agent.Manager
	guard     *guardian.Guardian
	collector *agent.ResponseCollector
	memStore  memory.Store
	projects  *plan.Store
	hub       *Hub
	chatWait  time.Duration
	logger    *slog.Logger
	router    chi.Router
}

// NewServer builds the server and its routes. promReg may be nil to omit
// the /metrics endpoint.
func NewServer(manager *agent.Manager, guard *guardian.Guardian, collector *agent.ResponseCollector,
	emitter *agent.Emitter, memStore memory.Store, projects *plan.Store, promReg *prometheus.Registry,
	chatWait time.Duration, logger *slog.Logger) *Server {

	s := &Server{
		manager:   manager,
		guard:     guard,
		collector: collector,
		memStore:  memStore,
		projects:  projects,
		hub:       NewHub(emitter, logger),
		chatWait:  chatWait,
		logger:    logger.With("component", "web"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/health", s.handleHealth)
	r.Get("/agents", s.handleListAgents)
	r.Post("/agents/create", s.handleCreateAgent)
	r.Delete("/agents/{agentID}", s.handleRemoveAgent)
	r.Get("/stats", s.handleStats)
	r.Post("/chat", s.handleChat)
	r.Get("/memory/{agentID}", s.handleMemorySummary)
	r.Post("/memory/{agentID}/search", s.handleMemorySearch)
	r.Get("/projects", s.handleProjects)
	r.Get("/compliance", s.handleCompliance)
	r.Get("/violations", s.handleViolations)
	r.Post("/violations/{violationID}/acknowledge", s.handleAcknowledge)
	r.Get("/ws/{clientID}", s.hub.HandleWS)
	if promReg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	}

	s.router = r
	return s
}

// Handler returns the root HTTP handler (exported for tests).
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully, giving
// in-flight requests up to 10s to finish.
func (s *Server) Run(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web server shutdown: %w", err)
		}
		s.logger.Info("web server stopped")
		return nil
	}
}
