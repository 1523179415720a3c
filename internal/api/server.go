package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/metrics"
)

// Runner executes one source synchronously.
type Runner interface {
	RunByID(ctx context.Context, sourceID string) (crawler.RunResult, error)
}

// Enqueuer queues one source for the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, sourceID string) error
}

// Sweeper queues every eligible source.
type Sweeper interface {
	Tick(ctx context.Context) (int, error)
}

// ReadyCheck reports whether a downstream dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Deps are the collaborators behind the handlers. Enqueuer and Sweeper are
// optional; their routes answer 503 when unset.
type Deps struct {
	Runner   Runner
	Enqueuer Enqueuer
	Sweeper  Sweeper
	Ready    []ReadyCheck
	// ValidID rejects malformed source ids with 404 before any lookup.
	ValidID func(string) bool
}

// Config controls the server.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator and queue.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		r.Post("/v1/sources/{source_id}/enqueue", s.enqueueSource)
	})
	// Synchronous runs are bounded by the orchestrator's run timeout and
	// sweeps by the scheduler's stagger.
	r.Post("/v1/sources/{source_id}/run", s.runSource)
	r.Post("/v1/runs/all", s.runAll)

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
	for _, check := range s.deps.Ready {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) runSource(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := s.sourceID(w, r)
	if !ok {
		return
	}
	result, err := s.deps.Runner.RunByID(r.Context(), sourceID)
	if err != nil {
		s.writeLookupError(w, sourceID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) enqueueSource(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := s.sourceID(w, r)
	if !ok {
		return
	}
	if s.deps.Enqueuer == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	if err := s.deps.Enqueuer.Enqueue(r.Context(), sourceID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, crawler.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"source_id": sourceID, "status": "queued"})
}

func (s *Server) runAll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	queued, err := s.deps.Sweeper.Tick(r.Context())
	if err != nil && queued == 0 {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (s *Server) sourceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sourceID := chi.URLParam(r, "source_id")
	if sourceID == "" || (s.deps.ValidID != nil && !s.deps.ValidID(sourceID)) {
		writeError(w, http.StatusNotFound, "source not found")
		return "", false
	}
	return sourceID, true
}

func (s *Server) writeLookupError(w http.ResponseWriter, sourceID string, err error) {
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if errors.Is(err, crawler.ErrSourceBusy) {
		writeError(w, http.StatusConflict, "source already running")
		return
	}
	s.logger.Error("load source", zap.String("source_id", sourceID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load source")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
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

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
