package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

// RunStore keeps crawl runs in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.Run)}
}

// UpsertRunStart stores a running row unless one already exists.
func (s *RunStore) UpsertRunStart(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return nil
	}
	run.Status = store.RunRunning
	run.FinishedAt = nil
	s.runs[run.ID] = run
	return nil
}

// UpdateRunProgress records progress for a running run.
func (s *RunStore) UpdateRunProgress(_ context.Context, id uuid.UUID, percent int, message string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	if run.Status != store.RunRunning || percent < run.Percent {
		return nil
	}
	run.Percent = percent
	run.Message = message
	s.runs[id] = run
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	resultCount int,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	run.ResultCount = resultCount
	run.ErrorMessage = errMsg
	if status == store.RunSuccess {
		run.Percent = 100
	}
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns matching runs newest first.
func (s *RunStore) ListRuns(_ context.Context, filter store.RunFilter, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Source != "" && run.Source != filter.Source {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
