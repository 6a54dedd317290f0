// Package api exposes the HTTP interface for the review scraper service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/productpulse/review-scraper/internal/config"
	"github.com/productpulse/review-scraper/internal/metrics"
	"github.com/productpulse/review-scraper/internal/scraper"
)

// Orchestrator is the subset of job control the handlers need.
type Orchestrator interface {
	Submit(ctx context.Context, source scraper.SourceType, target scraper.Target, maxItems int) (scraper.Job, error)
	Cancel(ctx context.Context, jobID string) (scraper.Job, error)
	Running() int
}

// Server wires HTTP handlers to the orchestrator and job store.
type Server struct {
	router chi.Router
	store  scraper.JobStore
	orch   Orchestrator
	logger *zap.Logger
	cfg    config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store scraper.JobStore, orch Orchestrator, logger *zap.Logger, cfg config.Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		orch:   orch,
		logger: logger.Named("api"),
		cfg:    cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/amazon/reviews", s.submitHandler(scraper.SourceAmazonReviews))
		r.Post("/amazon/count", s.submitHandler(scraper.SourceAmazonCount))
		r.Post("/flipkart/reviews", s.submitHandler(scraper.SourceFlipkartReviews))
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/results", s.getJobResults)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListJobs(r.Context(), scraper.JobFilter{Limit: 1}); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"running_jobs": s.orch.Running(),
	})
}

type submitRequest struct {
	URL        string `json:"url"`
	MaxReviews int    `json:"max_reviews"`
}

// submitHandler builds the submission handler for one source type. The
// job only exists once every validation has passed, so a rejected
// request leaves no trace.
func (s *Server) submitHandler(source scraper.SourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := scraper.ValidateSubmission(source, req.MaxReviews); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		target, err := scraper.ParseTarget(source, req.URL)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		job, err := s.orch.Submit(r.Context(), source, target, req.MaxReviews)
		if err != nil {
			var verr *scraper.ValidationError
			switch {
			case errors.As(err, &verr):
				s.writeError(w, http.StatusBadRequest, verr.Error())
			case errors.Is(err, scraper.ErrCapacity):
				s.writeError(w, http.StatusTooManyRequests, "too many jobs in flight, try again later")
			default:
				s.logger.Error("job submission failed", zap.Error(err))
				s.writeError(w, http.StatusInternalServerError, "failed to submit job")
			}
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.ID,
			"status": string(job.Status),
		})
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// getJobResults returns the captured reviews once the job completed;
// before that it reports only id and status so pollers can keep
// waiting on the same endpoint.
func (s *Server) getJobResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	if job.Status != scraper.JobStatusCompleted {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"job_id": job.ID,
			"status": string(job.Status),
		})
		return
	}
	reviews, err := s.store.ListRecords(r.Context(), jobID)
	if err != nil {
		s.logger.Error("list records failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job results")
		return
	}
	// Count-only jobs persist no rows; their total is the count the
	// source reported.
	total := len(reviews)
	if job.Source.CountOnly() && job.TotalFound != nil {
		total = *job.TotalFound
	}
	s.writeJSON(w, http.StatusOK, scraper.JobResult{
		JobID:        job.ID,
		Status:       job.Status,
		TotalReviews: total,
		Reviews:      reviews,
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJobFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.orch.Cancel(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, scraper.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, scraper.ErrConflict):
			s.writeError(w, http.StatusConflict, "job already finished")
		default:
			s.logger.Error("cancel job failed", zap.String("job_id", jobID), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// defaultListLimit bounds GET /v1/jobs when the caller sends no limit.
const defaultListLimit = 100

func parseJobFilter(r *http.Request) (scraper.JobFilter, error) {
	filter := scraper.JobFilter{Limit: defaultListLimit}
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status := scraper.JobStatus(raw)
		if !status.Valid() {
			return filter, fmt.Errorf("unknown status %q", raw)
		}
		filter.Status = &status
	}
	if raw := q.Get("source_type"); raw != "" {
		source := scraper.SourceType(raw)
		if !source.Valid() {
			return filter, fmt.Errorf("unknown source_type %q", raw)
		}
		filter.Source = &source
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
