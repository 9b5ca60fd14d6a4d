// Package worker runs queued crawls in the background.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/logging"
	"github.com/JakeFAU/news-engagement-crawler/internal/metrics"
	"github.com/JakeFAU/news-engagement-crawler/internal/service"
)

// Job outcomes recorded in metrics.
const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobCanceled  = "canceled"
)

// Runner executes one crawl. *service.Service satisfies it.
type Runner interface {
	Crawl(ctx context.Context, req service.Request, sink crawler.ProgressSink) (service.Run, error)
}

// Config controls Worker behavior.
type Config struct {
	// RunTimeout bounds a single crawl. Zero means no limit.
	RunTimeout time.Duration
}

// Worker consumes queue items and executes crawls one at a time.
type Worker struct {
	queue  crawler.Queue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue crawler.Queue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		runner: runner,
		cfg:    cfg,
		logger: logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued crawl", zap.String("run_id", item.RunID), zap.String("source", item.Source))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	if w.runner == nil {
		w.logger.Error("no crawl runner configured", zap.String("run_id", item.RunID))
		metrics.ObserveJob(JobFailed)
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runCtx := ctx
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}

	trigger := item.Trigger
	if trigger == "" {
		trigger = service.TriggerJob
	}
	logger := logging.ForRun(w.logger, item.RunID, item.Source)
	if item.Submitted > 0 {
		logger = logger.With(zap.Duration("queued_for", time.Since(time.Unix(0, item.Submitted))))
	}

	run, err := w.runner.Crawl(runCtx, service.Request{
		Source:  item.Source,
		Days:    item.Days,
		Trigger: trigger,
		RunID:   item.RunID,
	}, crawler.DiscardProgress)
	switch {
	case err == nil:
		metrics.ObserveJob(JobSucceeded)
		logger.Info("queued crawl finished", zap.Int("results", len(run.Results)))
	case runCtx.Err() != nil:
		metrics.ObserveJob(JobCanceled)
		logger.Warn("queued crawl canceled", zap.Error(err))
	default:
		metrics.ObserveJob(JobFailed)
		logger.Error("queued crawl failed", zap.Error(err))
	}
}
