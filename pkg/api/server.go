package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sandchest/control/pkg/leader"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/metrics"
	"github.com/sandchest/control/pkg/nodes"
	"github.com/sandchest/control/pkg/storage"
)

// Server is the operator-facing HTTP surface: health, metrics, and
// read-only diagnostics over workers, nodes, and sandboxes. It carries
// no tenant traffic.
type Server struct {
	httpServer *http.Server
	store      storage.Store
	locks      *leader.Locks
	registry   *nodes.Registry
	ready      func() bool
}

// NewServer builds the admin server. The ready callback reports whether
// the process is fully started; readiness fails until it returns true.
func NewServer(addr string, store storage.Store, locks *leader.Locks, registry *nodes.Registry, ready func() bool) *Server {
	s := &Server{
		store:    store,
		locks:    locks,
		registry: registry,
		ready:    ready,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/admin", func(r chi.Router) {
		r.Get("/workers", s.handleWorkers)
		r.Get("/nodes", s.handleNodes)
		r.Get("/sandboxes", s.handleSandboxes)
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	logger := log.WithComponent("api")
	logger.Info().Str("address", s.httpServer.Addr).Msg("admin server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server, letting in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.locks.Statuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.registry.Statuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleSandboxes(w http.ResponseWriter, r *http.Request) {
	sandboxes, err := s.store.ListSandboxes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sandboxes)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
