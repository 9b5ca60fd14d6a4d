// Package memory provides the in-process crawl queue used by background workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = crawler.ErrQueueClosed
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan crawler.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

var _ crawler.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan crawler.QueueItem, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// TryEnqueue pushes an item without waiting and returns ErrQueueFull when
// no capacity is left.
func (q *Queue) TryEnqueue(item crawler.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return crawler.QueueItem{}, ErrQueueClosed
		}
		return item, nil
	}
}

// Len reports items waiting in the queue.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Items already queued can
// still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
