package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
	closed  bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return s.err
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) stages() [][]Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Stage, 0, len(s.batches))
	for _, b := range s.batches {
		row := make([]Stage, 0, len(b))
		for _, evt := range b {
			row = append(row, evt.Stage)
		}
		out = append(out, row)
	}
	return out
}

type runEvents struct {
	id     [16]byte
	source string
}

func newRun(source string) runEvents {
	return runEvents{id: UUIDToBytes(uuid.New()), source: source}
}

func (r runEvents) event(stage Stage, percent int) Event {
	return Event{RunID: r.id, TS: time.Now().UTC(), Stage: stage, Source: r.source, Percent: percent}
}

func TestHubFlushesOnTerminalEvent(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Hour}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	run := newRun("vnexpress")
	hub.Emit(run.event(StageRunStart, 0))
	hub.Emit(run.event(StageRunProgress, 5))
	hub.Emit(run.event(StageRunProgress, 55))
	hub.Emit(run.event(StageRunDone, 100))

	require.Eventually(t, func() bool { return len(sink.stages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]Stage{{StageRunStart, StageRunProgress, StageRunProgress, StageRunDone}}, sink.stages())
}

func TestHubFlushesWhenBatchFills(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 2, MaxBatchWait: time.Hour}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	run := newRun("tuoitre")
	hub.Emit(run.event(StageRunProgress, 10))
	hub.Emit(run.event(StageRunProgress, 20))
	hub.Emit(run.event(StageRunProgress, 30))

	require.Eventually(t, func() bool { return len(sink.stages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, sink.stages()[0], 2)
}

func TestHubFlushesAfterMaxBatchWait(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 50, MaxBatchWait: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(newRun("vnexpress").event(StageRunProgress, 40))
	require.Eventually(t, func() bool { return len(sink.stages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, hub.Stats().Flushes)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 50, MaxBatchWait: time.Hour}, sink, nil)

	run := newRun("vnexpress")
	hub.Emit(run.event(StageRunStart, 0))
	hub.Emit(run.event(StageRunProgress, 70))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	assert.Equal(t, [][]Stage{{StageRunStart, StageRunProgress}}, sink.stages())
	assert.True(t, sink.closed)

	hub.Emit(run.event(StageRunDone, 100))
	assert.Len(t, sink.stages(), 1)
	assert.EqualValues(t, 2, hub.Stats().Accepted)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)

	hub.Emit(Event{Stage: StageRunStart})
	bad := newRun("tuoitre").event(StageRunProgress, 140)
	hub.Emit(bad)
	require.NoError(t, hub.Close(context.Background()))

	assert.Empty(t, sink.stages())
	assert.EqualValues(t, 2, hub.Stats().Invalid)
}

func TestHubDropsProgressWithoutBlocking(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	hub := &Hub{
		cfg:    Config{LifecycleWait: time.Hour},
		events: make(chan Event),
		stopCh: make(chan struct{}),
		logger: zap.New(core),
	}

	start := time.Now()
	hub.Emit(newRun("vnexpress").event(StageRunProgress, 50))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.EqualValues(t, 1, hub.Stats().Dropped)
	require.Equal(t, 1, logs.FilterMessage("progress events dropped due to backpressure").Len())
}

func TestHubLifecycleEventWaitsForSpace(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{LifecycleWait: time.Second},
		events: make(chan Event),
		stopCh: make(chan struct{}),
		logger: zap.NewNop(),
	}
	got := make(chan Event, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		got <- <-hub.events
	}()

	hub.Emit(newRun("vnexpress").event(StageRunDone, 100))
	evt := <-got
	assert.Equal(t, StageRunDone, evt.Stage)
	assert.Zero(t, hub.Stats().Dropped)
}

func TestHubLifecycleEventGivesUpAfterWait(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{LifecycleWait: 10 * time.Millisecond},
		events: make(chan Event),
		stopCh: make(chan struct{}),
		logger: zap.NewNop(),
	}
	hub.Emit(newRun("tuoitre").event(StageRunError, 0))
	assert.EqualValues(t, 1, hub.Stats().Dropped)
}

func TestHubLogsSinkFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	failing := &recordingSink{err: errors.New("store unavailable")}
	healthy := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1, Logger: zap.New(core)}, failing, healthy)

	hub.Emit(newRun("vnexpress").event(StageRunStart, 0))
	require.NoError(t, hub.Close(context.Background()))

	assert.Len(t, healthy.stages(), 1)
	entries := logs.FilterMessage("progress sink consume failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "store unavailable", entries[0].ContextMap()["error"])
}

func TestHubCloseHonorsContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	hub := NewHub(Config{MaxBatchEvents: 1}, blockingSink{release: block})
	hub.Emit(newRun("vnexpress").event(StageRunStart, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, hub.Close(ctx), context.DeadlineExceeded)

	close(block)
	require.NoError(t, hub.Close(context.Background()))
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Consume(ctx context.Context, _ []Event) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (blockingSink) Close(context.Context) error { return nil }
