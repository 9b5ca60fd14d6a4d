// Package scheduler enqueues crawls for configured sources on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/service"
)

// Enqueuer accepts crawl work. *dispatcher.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Job is one scheduled crawl. Spec is a standard five-field cron expression.
type Job struct {
	Source string
	Days   int
	Spec   string
}

// Entry describes a registered job and its next activation.
type Entry struct {
	Job  Job
	Next time.Time
}

// Config wires a Scheduler.
type Config struct {
	Jobs     []Job
	Location *time.Location
	IDs      crawler.IDGenerator
	Logger   *zap.Logger
}

// Scheduler owns a cron instance. Start and Stop may each be called once.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	enqueue Enqueuer
	ids     crawler.IDGenerator
	logger  *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[cron.EntryID]Job
}

// New parses every job's spec and registers it. Nothing runs until Start.
func New(enqueue Enqueuer, cfg Config) (*Scheduler, error) {
	if enqueue == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		parser:  parser,
		enqueue: enqueue,
		ids:     cfg.IDs,
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[cron.EntryID]Job),
	}
	for _, job := range cfg.Jobs {
		if err := s.add(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(job Job) error {
	if job.Source == "" {
		return fmt.Errorf("scheduled job requires a source")
	}
	schedule, err := s.parser.Parse(job.Spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", job.Spec, job.Source, err)
	}
	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		err := s.Trigger(ctx, job)
		switch {
		case errors.Is(err, crawler.ErrCrawlPending):
			s.logger.Info("scheduled crawl skipped", zap.String("source", job.Source), zap.Error(err))
		case err != nil:
			s.logger.Error("failed to enqueue scheduled crawl", zap.String("source", job.Source), zap.Error(err))
		}
	}))
	s.entries[id] = job
	s.logger.Info("crawl scheduled", zap.String("source", job.Source), zap.String("schedule", job.Spec))
	return nil
}

// Trigger enqueues job immediately with a fresh run ID.
func (s *Scheduler) Trigger(ctx context.Context, job Job) error {
	runID, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("allocate run id: %w", err)
	}
	item := crawler.QueueItem{
		RunID:   runID,
		Source:  job.Source,
		Days:    job.Days,
		Trigger: service.TriggerSchedule,
	}
	if err := s.enqueue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue scheduled crawl: %w", err)
	}
	s.logger.Info("scheduled crawl enqueued", zap.String("source", job.Source), zap.String("run_id", runID))
	return nil
}

// Start runs the cron loop in the background. Jobs enqueue with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts scheduling and waits for running enqueue calls or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Entries lists registered jobs ordered by next activation.
func (s *Scheduler) Entries() []Entry {
	var out []Entry
	for _, e := range s.cron.Entries() {
		job, ok := s.entries[e.ID]
		if !ok {
			continue
		}
		next := e.Next
		if next.IsZero() {
			next = e.Schedule.Next(time.Now())
		}
		out = append(out, Entry{Job: job, Next: next})
	}
	return out
}
