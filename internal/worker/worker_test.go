package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/queue/memory"
	"github.com/JakeFAU/news-engagement-crawler/internal/service"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []service.Request
	err      error
	block    bool
}

func (f *fakeRunner) Crawl(ctx context.Context, req service.Request, _ crawler.ProgressSink) (service.Run, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return service.Run{}, fmt.Errorf("crawl canceled: %w", ctx.Err())
	}
	if f.err != nil {
		return service.Run{}, f.err
	}
	return service.Run{ID: req.RunID, Source: req.Source, Results: []crawler.Result{{Title: "a"}}}, nil
}

func (f *fakeRunner) calls() []service.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.Request(nil), f.requests...)
}

func TestWorkerRunsQueuedCrawls(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := memory.NewQueue(4)
	runner := &fakeRunner{}
	w := New(q, runner, Config{}, zap.NewNop())

	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{RunID: "r1", Source: "vnexpress", Days: 2, Submitted: time.Now().UnixNano()}))
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{RunID: "r2", Source: "tuoitre", Trigger: service.TriggerSchedule}))

	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(runner.calls()) == 2 }, time.Second, 10*time.Millisecond)
	calls := runner.calls()
	require.Equal(t, service.Request{Source: "vnexpress", Days: 2, Trigger: service.TriggerJob, RunID: "r1"}, calls[0])
	require.Equal(t, service.TriggerSchedule, calls[1].Trigger)
}

func TestWorkerContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := memory.NewQueue(4)
	runner := &fakeRunner{err: errors.New("boom")}
	w := New(q, runner, Config{}, zap.NewNop())
	require.NoError(t, q.TryEnqueue(crawler.QueueItem{RunID: "r1", Source: "vnexpress"}))
	require.NoError(t, q.TryEnqueue(crawler.QueueItem{RunID: "r2", Source: "vnexpress"}))

	go w.Run(ctx)
	require.Eventually(t, func() bool { return len(runner.calls()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestWorkerRunTimeout(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	runner := &fakeRunner{block: true}
	w := New(q, runner, Config{RunTimeout: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, q.TryEnqueue(crawler.QueueItem{RunID: "slow", Source: "tuoitre"}))
	q.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after the queue closed")
	}
	require.Len(t, runner.calls(), 1)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	w := New(memory.NewQueue(1), &fakeRunner{}, Config{}, nil)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerWithoutRunner(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	require.NoError(t, q.TryEnqueue(crawler.QueueItem{RunID: "r"}))
	q.Close()
	New(q, nil, Config{}, nil).Run(context.Background())
	require.Zero(t, q.Len())
}
