package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/metrics"
	"github.com/JakeFAU/news-engagement-crawler/internal/service"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

const (
	defaultRequestTimeout = 60 * time.Second
	enqueueTimeout        = 5 * time.Second
	readyTimeout          = 2 * time.Second
)

// CrawlService runs and validates crawls.
type CrawlService interface {
	Prepare(req service.Request) (service.Request, error)
	Crawl(ctx context.Context, req service.Request, sink crawler.ProgressSink) (service.Run, error)
	Sources() []string
}

// Enqueuer hands crawls to background workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// ETagger derives an entity tag from a response body.
type ETagger interface {
	ETag(data []byte) string
}

// Config wires a Server. Jobs, Runs and Ready are optional; the matching
// endpoints answer 503 when they are missing.
type Config struct {
	Crawls         CrawlService
	Snapshots      store.SnapshotRepository
	Runs           store.RunRepository
	Jobs           Enqueuer
	ETags          ETagger
	Ready          func(ctx context.Context) error
	RequestTimeout time.Duration
	// CrawlTimeout bounds a streamed crawl. Zero leaves it unbounded.
	CrawlTimeout time.Duration
	Logger       *zap.Logger
}

// Server wires HTTP handlers to the crawl service and stores.
type Server struct {
	router       chi.Router
	crawls       CrawlService
	snapshots    store.SnapshotRepository
	jobs         Enqueuer
	etags        ETagger
	ready        func(ctx context.Context) error
	crawlTimeout time.Duration
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Crawls == nil {
		return nil, errors.New("crawl service is required")
	}
	if cfg.Snapshots == nil {
		return nil, errors.New("snapshot repository is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		crawls:       cfg.Crawls,
		snapshots:    cfg.Snapshots,
		jobs:         cfg.Jobs,
		etags:        cfg.ETags,
		ready:        cfg.Ready,
		crawlTimeout: cfg.CrawlTimeout,
		logger:       logger,
	}
	runs := NewRunsHandler(cfg.Runs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	// Streaming responses cannot pass through http.TimeoutHandler.
	r.Post("/api/crawl", s.streamCrawl)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))

		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		r.Route("/api", func(r chi.Router) {
			r.Get("/sources", s.listSources)
			r.Get("/results/{source}", s.getResults)
			r.Post("/jobs", s.submitJob)
			r.Get("/runs", runs.ListRuns)
			r.Get("/runs/{run_id}", runs.GetRun)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
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

// RequestID returns the id assigned by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
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
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestID(r.Context())),
					)
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

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
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
