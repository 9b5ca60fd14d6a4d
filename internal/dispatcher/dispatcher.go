// Package dispatcher runs a fixed pool of crawl workers over the queue and
// keeps at most one pending crawl per source and day range.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/service"
	"github.com/JakeFAU/news-engagement-crawler/internal/worker"
)

type crawlKey struct {
	source string
	days   int
}

func keyOf(source string, days int) crawlKey {
	return crawlKey{source: strings.ToLower(source), days: days}
}

// Dispatcher owns the worker pool. Enqueue rejects a crawl with a
// *crawler.PendingError while an identical one is queued or running.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[crawlKey]string
}

// NewPool builds size workers that share queue and run crawls through runner.
func NewPool(queue crawler.Queue, runner worker.Runner, size int, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		queue:   queue,
		now:     time.Now,
		logger:  logger.Named("dispatcher"),
		pending: make(map[crawlKey]string),
	}
	tracked := trackedRunner{next: runner, d: d}
	for i := range size {
		d.workers = append(d.workers, worker.New(queue, tracked, cfg, logger.With(zap.Int("worker", i))))
	}
	return d
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Pending reports how many crawls are queued or running.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Run starts every worker and returns once ctx is done and all workers have
// exited.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Go(func() { w.Run(ctx) })
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue reserves the crawl's source and day range, stamps the submission
// time and hands the item to the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	key := keyOf(item.Source, item.Days)
	d.mu.Lock()
	if runID, busy := d.pending[key]; busy {
		d.mu.Unlock()
		return &crawler.PendingError{RunID: runID, Source: key.source, Days: key.days}
	}
	d.pending[key] = item.RunID
	d.mu.Unlock()

	if item.Submitted == 0 {
		item.Submitted = d.now().UnixNano()
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		d.release(key, item.RunID)
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Debug("crawl queued", zap.String("run_id", item.RunID), zap.String("source", key.source), zap.Int("days", key.days))
	return nil
}

func (d *Dispatcher) release(key crawlKey, runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[key] == runID {
		delete(d.pending, key)
	}
}

// trackedRunner frees the reservation once a worker finishes the crawl.
type trackedRunner struct {
	next worker.Runner
	d    *Dispatcher
}

func (r trackedRunner) Crawl(ctx context.Context, req service.Request, sink crawler.ProgressSink) (service.Run, error) {
	defer r.d.release(keyOf(req.Source, req.Days), req.RunID)
	if r.next == nil {
		return service.Run{}, fmt.Errorf("dispatcher: no crawl runner for run %s", req.RunID)
	}
	return r.next.Crawl(ctx, req, sink)
}
