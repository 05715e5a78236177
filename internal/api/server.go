// Package api exposes the control-plane HTTP surface: strategy listing,
// manual run triggering, and the execution audit trail.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"straddlebot/internal/storage"
	"straddlebot/internal/straddle"
)

// Runner is the scheduler surface the API needs.
type Runner interface {
	RunNow(ctx context.Context, strategyID int64) error
	Running(strategyID int64) bool
}

var _ Runner = (*straddle.Scheduler)(nil)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	runner    Runner
	logger    *logrus.Logger
	port      int
	authToken string
}

type Config struct {
	Port      int
	AuthToken string
}

func NewServer(cfg Config, store storage.Interface, runner Runner, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		runner:    runner,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/api/strategies", s.handleListStrategies)
	s.router.Get("/api/strategies/{id}", s.handleGetStrategy)
	s.router.Post("/api/strategies/{id}/execute", s.handleExecuteStrategy)
	s.router.Get("/api/executions", s.handleListExecutions)
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	s.logger.Infof("Starting API server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.storage.ListStrategies(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list strategies")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, strategies)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	strategy, err := s.storage.GetStrategy(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrStrategyNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("Failed to load strategy")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, strategy)
}

func (s *Server) handleExecuteStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	err = s.runner.RunNow(r.Context(), id)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"strategy_id": id,
			"running":     true,
		})
	case errors.Is(err, storage.ErrStrategyNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, straddle.ErrRunActive):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, straddle.ErrHoliday),
		errors.Is(err, straddle.ErrStrategyInactive),
		errors.Is(err, storage.ErrAccountNotFound):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	default:
		s.logger.WithError(err).Error("Failed to trigger run")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := s.storage.ListExecutionRecords(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list execution records")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
