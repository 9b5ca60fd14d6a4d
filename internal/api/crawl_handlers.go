package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/pipeline"
	"github.com/JakeFAU/news-engagement-crawler/internal/service"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

const (
	msgNoResults     = "No results found"
	msgCrawlFailed   = "Crawling failed"
	msgQueueRejected = "crawl queue unavailable"
	msgCrawlPending  = "crawl already pending"
)

type crawlRequest struct {
	Source string `json:"source"`
	Days   int    `json:"days"`
}

type resultsResponse struct {
	Results   []crawler.Result `json:"results"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type progressEvent struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

type completedEvent struct {
	Completed bool             `json:"completed"`
	Results   []crawler.Result `json:"results"`
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.crawls.Sources()})
}

// getResults handles GET /api/results/{source}. The body carries an ETag and
// a matching If-None-Match answers 304.
func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	src := strings.ToLower(chi.URLParam(r, "source"))
	snap, err := s.snapshots.GetSnapshot(r.Context(), src)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgNoResults)
			return
		}
		s.logger.Error("load snapshot failed", zap.String("source", src), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	results := snap.Results
	if results == nil {
		results = []crawler.Result{}
	}
	body, err := json.Marshal(resultsResponse{Results: results, UpdatedAt: snap.UpdatedAt})
	if err != nil {
		s.logger.Error("encode snapshot failed", zap.String("source", src), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to encode results")
		return
	}
	if s.etags != nil {
		tag := s.etags.ETag(body)
		w.Header().Set("ETag", tag)
		if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, tag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write results failed", zap.Error(err))
	}
}

func etagMatches(header, tag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == tag {
			return true
		}
	}
	return false
}

// submitJob handles POST /api/jobs and answers 202 with the allocated run id.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, msgQueueRejected)
		return
	}
	req, ok := s.decodeCrawl(w, r, service.TriggerJob)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		RunID:   req.RunID,
		Source:  req.Source,
		Days:    req.Days,
		Trigger: req.Trigger,
	}
	if err := s.jobs.Enqueue(ctx, item); err != nil {
		var pending *crawler.PendingError
		if errors.As(err, &pending) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":  msgCrawlPending,
				"run_id": pending.RunID,
			})
			return
		}
		s.logger.Warn("enqueue crawl failed", zap.String("source", req.Source), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, msgQueueRejected)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": req.RunID,
		"source": req.Source,
		"days":   req.Days,
		"status": "queued",
	})
}

// streamCrawl handles POST /api/crawl. Validation failures answer 400 before
// any event is written; afterwards every progress report becomes one
// server-sent event and the stream ends with either the results or an error.
// The run is detached from the request: a client that disconnects stops
// receiving events but the crawl still completes and persists its snapshot.
func (s *Server) streamCrawl(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	req, ok := s.decodeCrawl(w, r, service.TriggerAPI)
	if !ok {
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := &eventStream{w: w, flusher: flusher, logger: s.logger}
	sink := crawler.ProgressFunc(func(percent int, message string) {
		stream.send(progressEvent{Progress: percent, Message: message})
	})

	ctx := context.WithoutCancel(r.Context())
	if s.crawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.crawlTimeout)
		defer cancel()
	}
	run, err := s.crawls.Crawl(ctx, req, sink)
	if r.Context().Err() != nil {
		s.logger.Info("crawl client disconnected before completion",
			zap.String("run_id", req.RunID),
			zap.String("source", req.Source),
			zap.Bool("succeeded", err == nil),
		)
	}
	if err != nil {
		s.logger.Error("streamed crawl failed",
			zap.String("run_id", req.RunID),
			zap.String("source", req.Source),
			zap.Error(err),
		)
		stream.send(map[string]string{"error": msgCrawlFailed})
		return
	}
	results := run.Results
	if results == nil {
		results = []crawler.Result{}
	}
	stream.send(completedEvent{Completed: true, Results: results})
}

// decodeCrawl parses and validates a crawl body. It writes the error response
// itself and reports whether the caller may continue.
func (s *Server) decodeCrawl(w http.ResponseWriter, r *http.Request, trigger string) (service.Request, bool) {
	var body crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return service.Request{}, false
	}
	if strings.TrimSpace(body.Source) == "" {
		writeError(w, http.StatusBadRequest, "source required")
		return service.Request{}, false
	}
	req, err := s.crawls.Prepare(service.Request{Source: body.Source, Days: body.Days, Trigger: trigger})
	switch {
	case err == nil:
		return req, true
	case errors.Is(err, crawler.ErrUnknownSource):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q", body.Source))
	case errors.Is(err, pipeline.ErrInvalidDays):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("prepare crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to prepare crawl")
	}
	return service.Request{}, false
}

// eventStream serializes writes of data-only server-sent events.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *zap.Logger
	broken  bool
}

func (e *eventStream) send(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("encode event failed", zap.Error(err))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken {
		return
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		e.broken = true
		e.logger.Debug("event stream closed", zap.Error(err))
		return
	}
	e.flusher.Flush()
}
