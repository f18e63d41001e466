package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/config"
	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/metrics"
	"github.com/dealbridge/dealroom-capture/internal/platform"
)

// Server wires HTTP handlers to the queue and job store.
type Server struct {
	router   chi.Router
	jobStore engine.JobStore
	queue    engine.Queue
	registry *platform.Registry
	idGen    engine.IDGenerator
	clock    engine.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore engine.JobStore,
	queue engine.Queue,
	registry *platform.Registry,
	idGen engine.IDGenerator,
	clock engine.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore: jobStore,
		queue:    queue,
		registry: registry,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
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
		r.Post("/webhooks/dealroom", s.intakeWebhook)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/status", s.getJobStatus)
			r.Get("/result", s.getJobResult)
			r.Post("/cancel", s.cancelJob)
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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// A cheap read against the job store is the closest thing to a
	// readiness signal shared by the memory and pgx backends.
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.jobStore.GetJob(ctx, "readyz-probe"); err != nil && ctx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// webhookRequest mirrors the document-management system's capture event.
type webhookRequest struct {
	Event            string            `json:"event"`
	PortalURL        string            `json:"portal_url"`
	DealID           string            `json:"deal_id"`
	Platform         string            `json:"platform"`
	MaxFormSteps     *int              `json:"max_form_steps"`
	RequiredOnly     *bool             `json:"required_only"`
	SkipSensitive    *bool             `json:"skip_sensitive"`
	OptInAggressive  *bool             `json:"opt_in_aggressive"`
	FallbackMaxSteps *int              `json:"fallback_max_steps"`
	Tags             map[string]string `json:"tags"`
}

func (s *Server) intakeWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.registry != nil && s.registry.Denied(params.PortalURL) {
		writeError(w, http.StatusUnprocessableEntity, "portal host is deny-listed")
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	s.logger.Info("capture job accepted",
		zap.String("job_id", jobID),
		zap.String("deal_id", params.DealID),
		zap.String("host", platform.HostOf(params.PortalURL)),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	docs, err := s.jobStore.ListDocuments(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job documents")
		return
	}
	writeJSON(w, http.StatusOK, engine.JobResult{Job: job, Documents: docs})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobStore.UpdateJobStatus(
		r.Context(),
		jobID,
		engine.JobStatusCanceled,
		"canceled via API",
		engine.JobCounters{},
	); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(engine.JobStatusCanceled)})
}

func (s *Server) enqueueJob(ctx context.Context, params engine.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := engine.Job{
		ID:         jobID,
		Status:     engine.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
		Counters:   engine.JobCounters{},
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := engine.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.queue.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) toJobParameters(req webhookRequest) (engine.JobParameters, error) {
	if req.PortalURL == "" {
		return engine.JobParameters{}, errors.New("portal_url required")
	}
	u, err := url.Parse(req.PortalURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return engine.JobParameters{}, errors.New("portal_url must be an absolute http(s) URL")
	}
	if req.DealID == "" {
		return engine.JobParameters{}, errors.New("deal_id required")
	}

	params := engine.JobParameters{
		PortalURL:        req.PortalURL,
		DealID:           req.DealID,
		Platform:         req.Platform,
		MaxFormSteps:     valueOrDefault(req.MaxFormSteps, s.cfg.Capture.MaxFormSteps),
		RequiredOnly:     boolOrDefault(req.RequiredOnly, false),
		SkipSensitive:    boolOrDefault(req.SkipSensitive, true),
		OptInAggressive:  boolOrDefault(req.OptInAggressive, false),
		FallbackMaxSteps: valueOrDefault(req.FallbackMaxSteps, s.cfg.Fallback.MaxSteps),
		Tags:             req.Tags,
	}
	if params.Tags == nil {
		params.Tags = map[string]string{}
	}
	return params, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
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
				writeError(w, http.StatusInternalServerError, "internal server error")
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
