package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/driver"
	"github.com/JakeFAU/brand-monitor/internal/maintenance"
	"github.com/JakeFAU/brand-monitor/internal/metrics"
	"github.com/JakeFAU/brand-monitor/internal/monitor"
	"github.com/JakeFAU/brand-monitor/internal/orchestrator"
)

// Scans is the scan lifecycle surface.
type Scans interface {
	StartScan(ctx context.Context, projectID string, opts orchestrator.StartOptions) (monitor.Scan, error)
	StopScan(ctx context.Context, scanID string) (monitor.Scan, error)
	ResetStuckScan(ctx context.Context, scanID string) (orchestrator.Status, error)
	Status(ctx context.Context, scanID string) (orchestrator.Status, error)
}

// Filter is the context filter surface.
type Filter interface {
	RunBatch(ctx context.Context, projectID, scanID string) (maintenance.FilterBatchResult, error)
	Reset(ctx context.Context, projectID, scanID string) (int, error)
	PurgeOffTopic(ctx context.Context, projectID string) (int, error)
}

// Normalizer is the tag normalizer surface.
type Normalizer interface {
	Run(ctx context.Context, projectID string) (maintenance.NormalizeResult, error)
}

// Blacklister bans tags.
type Blacklister interface {
	BlacklistTag(ctx context.Context, projectID, name string) (maintenance.BlacklistResult, error)
}

// Briefer regenerates briefings.
type Briefer interface {
	Regenerate(ctx context.Context, projectID string) (*string, error)
}

// Deps bundles the handlers' collaborators. Maintenance collaborators are
// optional; their routes answer 503 when absent.
type Deps struct {
	Scans       Scans
	Step        driver.Stepper
	Runner      driver.Runner
	Background  driver.Kicker
	Filter      Filter
	Normalizer  Normalizer
	Blacklister Blacklister
	Briefer     Briefer
	// Ready reports whether downstream dependencies are reachable.
	Ready func(ctx context.Context) error
}

// Config controls the HTTP surface.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	CronSecret     string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator, the worker step and the
// maintenance agents.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(timeoutMiddleware(cfg.RequestTimeout)).Get("/scans/{scan_id}", s.scanStatus)

		r.Group(func(r chi.Router) {
			if cfg.AuthEnabled {
				r.Use(sharedSecretMiddleware(cfg.APIKey, cfg.CronSecret))
			}
			// The run loop is bounded by its own budget.
			r.Post("/scans/{scan_id}/run", s.runScan)

			r.Group(func(r chi.Router) {
				r.Use(timeoutMiddleware(cfg.RequestTimeout))
				r.Post("/scans/{scan_id}/stop", s.stopScan)
				r.Post("/scans/{scan_id}/reset", s.resetScan)
				r.Post("/jobs/process-one", s.processOneJob)

				r.Route("/projects/{project_id}", func(r chi.Router) {
					r.Post("/scans", s.triggerScan)
					r.Post("/context-filter", s.runContextFilter)
					r.Post("/context-filter/reset", s.resetContextFilter)
					r.Post("/context-filter/purge", s.purgeOffTopic)
					r.Post("/tags/normalize", s.normalizeTags)
					r.Post("/tags/blacklist", s.blacklistTag)
					r.Post("/briefing", s.regenerateBriefing)
				})
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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeServiceError maps sentinel errors to status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, monitor.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, monitor.ErrScanNotRunning):
		status = http.StatusConflict
	case errors.Is(err, monitor.ErrNoKeywords), errors.Is(err, monitor.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// decodeOptional decodes a JSON body into dst, accepting an empty body.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
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

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
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

// sharedSecretMiddleware admits callers presenting the API key or, for
// scheduled callers, the cron secret.
func sharedSecretMiddleware(apiKey, cronSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secretMatches(r.Header.Get("X-API-Key"), apiKey) &&
				!secretMatches(r.Header.Get("X-Cron-Secret"), cronSecret) {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secretMatches(got, expected string) bool {
	return expected != "" && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
