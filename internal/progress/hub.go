package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 100).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
//   - LifecycleWait: how long Emit may wait for buffer space for RUN_START,
//     RUN_DONE and RUN_ERROR before dropping them (default 1s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	LifecycleWait  time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	defaultLifecycleWait  = time.Second
	dropLogInterval       = 5 * time.Second
)

// Stats are cumulative Hub counters.
type Stats struct {
	Accepted uint64
	Dropped  uint64
	Invalid  uint64
	Flushes  uint64
}

// Hub batches run events and fans them out to sinks in emission order.
// RUN_PROGRESS events never block the crawl: they are dropped when the buffer
// is full. Lifecycle events wait up to LifecycleWait for space. RUN_DONE and
// RUN_ERROR flush the pending batch as soon as they are received, so finished
// runs reach the store without waiting for the batch timer.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	accepted atomic.Uint64
	dropped  atomic.Uint64
	invalid  atomic.Uint64
	flushes  atomic.Uint64
	// unreported counts drops since the last warning.
	unreported atomic.Int64
	lastWarn   atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts its batching goroutine.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.LifecycleWait <= 0 {
		cfg.LifecycleWait = defaultLifecycleWait
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  live,
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger.Named("progress"),
	}
	go h.run()
	return h
}

// Emit hands evt to the batching goroutine. Invalid events and events emitted
// after Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.invalid.Add(1)
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		h.accepted.Add(1)
		return
	default:
	}
	if evt.Stage.lifecycle() {
		wait := time.NewTimer(h.cfg.LifecycleWait)
		defer wait.Stop()
		select {
		case h.events <- evt:
			h.accepted.Add(1)
			return
		case <-wait.C:
		case <-h.stopCh:
		}
	}
	h.drop(evt)
}

// Stats returns a snapshot of the counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Accepted: h.accepted.Load(),
		Dropped:  h.dropped.Load(),
		Invalid:  h.invalid.Load(),
		Flushes:  h.flushes.Load(),
	}
}

func (h *Hub) drop(evt Event) {
	h.dropped.Add(1)
	h.unreported.Add(1)
	now := time.Now().UnixNano()
	last := h.lastWarn.Load()
	if now-last < dropLogInterval.Nanoseconds() || !h.lastWarn.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure",
		zap.Int64("dropped", h.unreported.Swap(0)),
		zap.String("stage", string(evt.Stage)),
		zap.String("source", evt.Source),
	)
}

// Close drains buffered events, flushes and closes the sinks, and waits for
// the batching goroutine or ctx. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := &batcher{hub: h, pending: make([]Event, 0, h.cfg.MaxBatchEvents)}
	b.timer = time.NewTimer(h.cfg.MaxBatchWait)
	b.timer.Stop()
	for {
		select {
		case evt := <-h.events:
			b.add(evt)
		case <-b.timer.C:
			b.flush()
		case <-h.stopCh:
			b.drain()
			h.closeSinks()
			return
		}
	}
}

// batcher owns the pending batch; only the run goroutine touches it.
type batcher struct {
	hub     *Hub
	pending []Event
	timer   *time.Timer
}

func (b *batcher) add(evt Event) {
	b.pending = append(b.pending, evt)
	switch {
	case evt.Stage.terminal(), len(b.pending) >= b.hub.cfg.MaxBatchEvents:
		b.flush()
	case len(b.pending) == 1:
		b.timer.Reset(b.hub.cfg.MaxBatchWait)
	}
}

func (b *batcher) drain() {
	for {
		select {
		case evt := <-b.hub.events:
			b.pending = append(b.pending, evt)
			if len(b.pending) >= b.hub.cfg.MaxBatchEvents {
				b.flush()
			}
		default:
			b.flush()
			return
		}
	}
}

func (b *batcher) flush() {
	b.timer.Stop()
	if len(b.pending) == 0 {
		return
	}
	batch := append([]Event(nil), b.pending...)
	b.pending = b.pending[:0]
	b.hub.deliver(batch)
}

func (h *Hub) deliver(batch []Event) {
	h.flushes.Add(1)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
