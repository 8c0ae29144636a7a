// Package api serves the read-only status surface of a running pipeline
// daemon: health, Prometheus metrics, experiment lifecycle snapshots, and a
// live activity stream over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"graphloom/internal/config"
	"graphloom/internal/pipeline"
	"graphloom/internal/storage"
)

// defaultActivityLimit caps the activity endpoint when no limit is given
const defaultActivityLimit = 50

// Server is the status API server
type Server struct {
	store  storage.Store
	feed   *pipeline.Feed
	logger *zap.Logger
	http   *http.Server
}

// NewServer builds the status server. The feed may be nil, in which case
// the activity endpoints fall back to the durable log and the WebSocket
// endpoint is unavailable.
func NewServer(cfg *config.ServerConfig, store storage.Store, feed *pipeline.Feed, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		store:  store,
		feed:   feed,
		logger: logger.With(zap.String("component", "api")),
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return s, nil
}

// Router assembles the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/experiments", s.handleListExperiments)
		r.Get("/experiments/{id}", s.handleGetExperiment)
		r.Get("/experiments/{id}/results", s.handleExperimentResults)
		r.Get("/experiments/{id}/metrics", s.handleExperimentMetrics)
		r.Get("/activity", s.handleActivity)
		r.Get("/ws", s.handleWebSocket)
	})
	return r
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("status API listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status API failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("status API shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("store unhealthy: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list experiments")
		s.logger.Error("list experiments failed", zap.Error(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"experiments": experiments})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exp, err := s.store.GetExperiment(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("experiment %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleExperimentResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	results, err := s.store.ListExperimentResults(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list experiment results")
		s.logger.Error("list experiment results failed", zap.String("experiment_id", id), zap.Error(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"experiment_id": id, "results": results})
}

func (s *Server) handleExperimentMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	layers, err := s.store.ListLayerMetrics(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list layer metrics")
		s.logger.Error("list layer metrics failed", zap.String("experiment_id", id), zap.Error(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"experiment_id": id, "layers": layers})
}

// handleActivity returns recent activity, preferring the in-process feed
// window and falling back to the durable log.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	if s.feed != nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"activity": s.feed.Recent(limit)})
		return
	}
	records, err := s.store.ListActivityLog(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list activity")
		s.logger.Error("list activity failed", zap.Error(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"activity": records})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
