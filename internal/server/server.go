// Package server exposes health, metrics and a small summary API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/summary"
)

const defaultJobListLimit = 50

// HealthFunc reports whether the backing store is reachable.
type HealthFunc func() error

// Server represents the HTTP server
type Server struct {
	server  *http.Server
	service *summary.Service
	queue   *summary.Queue
	health  HealthFunc
	logger  *logger.Logger
}

// New creates the HTTP server. A nil health func always reports ok.
func New(addr string, service *summary.Service, queue *summary.Queue, health HealthFunc, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	s := &Server{
		server:  &http.Server{Addr: addr},
		service: service,
		queue:   queue,
		health:  health,
		logger:  log.With(map[string]interface{}{"component": "http_server"}),
	}

	handler := http.NewServeMux()
	handler.HandleFunc("GET /healthz", s.handleHealthCheck)
	handler.Handle("GET /metrics", promhttp.Handler())
	handler.HandleFunc("GET /api/books/{id}/summary", s.handleGetSummary)
	handler.HandleFunc("POST /api/books/{id}/summary", s.handleRequestSummary)
	handler.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	handler.HandleFunc("GET /api/jobs", s.handleListJobs)

	s.server.Handler = s.logRequests(handler)

	s.server.ReadTimeout = 10 * time.Second
	s.server.WriteTimeout = 30 * time.Second
	s.server.IdleTimeout = 120 * time.Second

	return s
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.server.Addr,
	})

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug("HTTP request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			s.logger.Warn("Health check failed", map[string]interface{}{"error": err.Error()})
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("id")
	sum, err := s.service.Get(r.Context(), bookID)
	if err != nil {
		s.logger.Error("Failed to load summary", map[string]interface{}{
			"book_id": bookID,
			"error":   err.Error(),
		})
		s.writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}
	if sum == nil {
		s.writeError(w, http.StatusNotFound, "summary not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRequestSummary(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("id")
	regenerate, _ := strconv.ParseBool(r.URL.Query().Get("regenerate"))

	var opts []summary.RequestOption
	if style := r.URL.Query().Get("style"); style != "" {
		opts = append(opts, summary.WithStyle(style))
	}

	job, err := s.queue.RequestSummary(r.Context(), bookID, regenerate, opts...)
	switch {
	case errors.Is(err, summary.ErrBookNotFound):
		s.writeError(w, http.StatusNotFound, "book not found")
		return
	case err != nil:
		s.logger.Error("Failed to request summary", map[string]interface{}{
			"book_id": bookID,
			"error":   err.Error(),
		})
		s.writeError(w, http.StatusInternalServerError, "failed to request summary")
		return
	}

	status := http.StatusAccepted
	if job.Reused {
		status = http.StatusOK
	}
	s.writeJSON(w, status, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, summary.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
	default:
		s.writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}
	limit := defaultJobListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := s.queue.ListJobs(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}
