// Package api exposes the HTTP control surface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/control"
	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/metrics"
)

// Server wires HTTP handlers to the control service.
type Server struct {
	router  chi.Router
	control *control.Service
	logger  *zap.Logger
}

// Config tunes the HTTP layer.
type Config struct {
	RequestTimeout time.Duration
	APIKey         string
}

// NewServer constructs a Server with middleware and routes.
func NewServer(ctrl *control.Service, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	s := &Server{control: ctrl, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Get("/stats", s.jobStats)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.deleteJob)
				r.Post("/pause", s.pauseJob)
				r.Post("/resume", s.resumeJob)
				r.Post("/cancel", s.cancelJob)
				r.Post("/retry", s.retryJob)
				r.Get("/pages", s.listPages)
				r.Get("/products", s.listProducts)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.control.Stats(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var params control.CreateJobParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.control.Create(r.Context(), params)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": job})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := crawler.JobFilter{
		Status:     crawler.JobStatus(r.URL.Query().Get("status")),
		ProviderID: r.URL.Query().Get("provider_id"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	jobs, err := s.control.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []crawler.CrawlJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.control.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count jobs")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.control.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Delete(r.Context(), chi.URLParam(r, "job_id")); err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.control.Pause, crawler.JobStatusPaused)
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.control.Resume, crawler.JobStatusQueued)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.control.Cancel, crawler.JobStatusCanceled)
}

func (s *Server) transition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, jobID string) error,
	target crawler.JobStatus,
) {
	jobID := chi.URLParam(r, "job_id")
	if err := apply(r.Context(), jobID); err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(target)})
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	clone, err := s.control.Retry(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": clone})
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.control.Pages(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	if pages == nil {
		pages = []crawler.CrawlPage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.control.Products(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	if products == nil {
		products = []crawler.ExtractedProduct{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

// writeServiceError maps domain errors to HTTP statuses. fallback is
// used for everything unrecognized.
func writeServiceError(w http.ResponseWriter, err error, fallback int) {
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, crawler.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, crawler.ErrJobActive):
		writeError(w, http.StatusConflict, "job is queued or running; cancel it first")
	default:
		writeError(w, fallback, err.Error())
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
