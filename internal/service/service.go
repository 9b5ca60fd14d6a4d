// Package service runs crawls on behalf of the HTTP API, the CLI and the
// background workers. It resolves the source, assigns a run ID, drives the
// pipeline and then archives and announces the snapshot.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/logging"
	"github.com/JakeFAU/news-engagement-crawler/internal/pipeline"
	"github.com/JakeFAU/news-engagement-crawler/internal/progress"
	"github.com/JakeFAU/news-engagement-crawler/internal/source"
)

// Defaults for the run window.
const (
	DefaultDays = 7
	DefaultMax  = 31
)

// Triggers recorded on runs.
const (
	TriggerAPI       = "api"
	TriggerJob       = "job"
	TriggerSchedule  = "schedule"
	TriggerCLI       = "cli"
	EventCompleted   = "crawl.completed"
	archiveMediaType = "application/json"
)

// Crawler executes one pipeline run and returns the persisted snapshot.
type Crawler interface {
	Crawl(ctx context.Context, req pipeline.Request, sink crawler.ProgressSink) (crawler.Snapshot, error)
}

// Config wires a Service. Blobs, Publisher, Hasher and Emitter are optional.
type Config struct {
	Registry      *source.Registry
	Pipeline      Crawler
	Emitter       progress.Emitter
	Blobs         crawler.BlobStore
	ArchivePrefix string
	Publisher     crawler.Publisher
	Topic         string
	Hasher        crawler.Hasher
	IDs           crawler.IDGenerator
	Clock         crawler.Clock
	DefaultDays   int
	MaxDays       int
	Logger        *zap.Logger
}

// Request asks for one run. Zero Days selects the default window; an empty
// RunID allocates a new one.
type Request struct {
	Source  string
	Days    int
	Trigger string
	RunID   string
}

// Run is a finished crawl. UpdatedAt is the persisted snapshot's timestamp,
// the same value GET /api/results serves.
type Run struct {
	ID         string           `json:"run_id"`
	Source     string           `json:"source"`
	Days       int              `json:"days"`
	Trigger    string           `json:"trigger"`
	Results    []crawler.Result `json:"results"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	ArchiveURI string           `json:"archive_uri,omitempty"`
}

// Service is safe for concurrent use.
type Service struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Registry == nil:
		return nil, fmt.Errorf("source registry is required")
	case cfg.Pipeline == nil:
		return nil, fmt.Errorf("pipeline is required")
	case cfg.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = DefaultDays
	}
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = DefaultMax
	}
	if cfg.DefaultDays > cfg.MaxDays {
		return nil, fmt.Errorf("default days %d exceeds max days %d", cfg.DefaultDays, cfg.MaxDays)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, logger: logger.Named("service")}, nil
}

// Sources lists the registered source ids.
func (s *Service) Sources() []string {
	return s.cfg.Registry.Names()
}

// Prepare validates req without any I/O: the source must be registered and
// the window within bounds. The returned request is normalized and carries a
// run ID.
func (s *Service) Prepare(req Request) (Request, error) {
	entry, err := s.cfg.Registry.Resolve(req.Source)
	if err != nil {
		return Request{}, err
	}
	req.Source = entry.Adapter.Name()
	if req.Days == 0 {
		req.Days = s.cfg.DefaultDays
	}
	if req.Days < 1 || req.Days > s.cfg.MaxDays {
		return Request{}, fmt.Errorf("%w: must be between 1 and %d, got %d", pipeline.ErrInvalidDays, s.cfg.MaxDays, req.Days)
	}
	if req.Trigger == "" {
		req.Trigger = TriggerAPI
	}
	if req.RunID == "" {
		id, err := s.cfg.IDs.NewID()
		if err != nil {
			return Request{}, fmt.Errorf("allocate run id: %w", err)
		}
		req.RunID = id
	}
	if _, err := uuid.Parse(req.RunID); err != nil {
		return Request{}, fmt.Errorf("invalid run id %q: %w", req.RunID, err)
	}
	return req, nil
}

// Crawl runs one crawl. sink receives every pipeline progress report in
// order. An unknown source fails before any I/O with crawler.ErrUnknownSource.
func (s *Service) Crawl(ctx context.Context, req Request, sink crawler.ProgressSink) (Run, error) {
	req, err := s.Prepare(req)
	if err != nil {
		return Run{}, err
	}
	entry, err := s.cfg.Registry.Resolve(req.Source)
	if err != nil {
		return Run{}, err
	}
	runID := uuid.MustParse(req.RunID)
	logger := logging.ForRun(s.logger, req.RunID, req.Source, zap.String("trigger", req.Trigger), zap.Int("days", req.Days))

	reporter := progress.NewRunReporter(s.cfg.Emitter, runID, req.Source, sink, s.cfg.Clock.Now)
	reporter.Start(req.Days, req.Trigger)
	started := time.Now()

	snap, err := s.cfg.Pipeline.Crawl(ctx, pipeline.Request{
		Adapter: entry.Adapter,
		Policy:  entry.Policy,
		Days:    req.Days,
	}, reporter)
	if err != nil {
		reporter.Fail(err, time.Since(started))
		logger.Error("crawl failed", zap.Int("days", req.Days), zap.Error(err))
		return Run{}, fmt.Errorf("crawl %s: %w", req.Source, err)
	}

	run := Run{
		ID:        req.RunID,
		Source:    req.Source,
		Days:      req.Days,
		Trigger:   req.Trigger,
		Results:   snap.Results,
		UpdatedAt: snap.UpdatedAt,
	}
	body, err := json.Marshal(run)
	if err != nil {
		logger.Warn("failed to encode run archive", zap.Error(err))
	} else {
		run.ArchiveURI = s.archive(ctx, logger, run, body)
		s.announce(ctx, logger, run, body)
	}
	reporter.Done(len(run.Results), time.Since(started))
	return run, nil
}

// ArchivePath returns <prefix>/<source>/<YYYY-MM-DD>/<run_id>.json.
func ArchivePath(prefix string, run Run) string {
	day := run.UpdatedAt.Format(time.DateOnly)
	return path.Join(strings.Trim(prefix, "/"), run.Source, day, run.ID+".json")
}

func (s *Service) archive(ctx context.Context, logger *zap.Logger, run Run, body []byte) string {
	if s.cfg.Blobs == nil {
		return ""
	}
	p := ArchivePath(s.cfg.ArchivePrefix, run)
	uri, err := s.cfg.Blobs.PutObject(ctx, p, archiveMediaType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("failed to archive snapshot", zap.String("path", p), zap.Error(err))
		return ""
	}
	logger.Debug("snapshot archived", zap.String("uri", uri))
	return uri
}

func (s *Service) announce(ctx context.Context, logger *zap.Logger, run Run, body []byte) {
	if s.cfg.Publisher == nil || s.cfg.Topic == "" {
		return
	}
	evt := CompletedEvent{
		Type:        EventCompleted,
		RunID:       run.ID,
		Source:      run.Source,
		Days:        run.Days,
		Trigger:     run.Trigger,
		ResultCount: len(run.Results),
		ArchiveURI:  run.ArchiveURI,
		CompletedAt: run.UpdatedAt,
	}
	if len(run.Results) > 0 {
		evt.TopURL = run.Results[0].URL
	}
	if s.cfg.Hasher != nil {
		if digest, err := s.cfg.Hasher.Hash(body); err == nil {
			evt.Digest = digest
		}
	}
	id, err := s.cfg.Publisher.Publish(ctx, s.cfg.Topic, evt)
	if err != nil {
		logger.Warn("failed to publish crawl notification", zap.String("topic", s.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("crawl notification published", zap.String("message_id", id))
}

// CompletedEvent announces a finished run.
type CompletedEvent struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id"`
	Source      string    `json:"source"`
	Days        int       `json:"days"`
	Trigger     string    `json:"trigger"`
	ResultCount int       `json:"result_count"`
	TopURL      string    `json:"top_url,omitempty"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	Digest      string    `json:"sha256,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Attributes are copied onto the published message for subscription filters.
func (e CompletedEvent) Attributes() map[string]string {
	return map[string]string{
		"event_type": e.Type,
		"source":     e.Source,
		"run_id":     e.RunID,
	}
}

// OrderingKey keeps completions of one source in order for subscribers.
func (e CompletedEvent) OrderingKey() string {
	return e.Source
}
