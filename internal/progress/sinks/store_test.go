package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-engagement-crawler/internal/progress"
	"github.com/JakeFAU/news-engagement-crawler/internal/storage/memory"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

// TestStoreSinkPersistsRunLifecycle ensures progress collapses before the run completes.
func TestStoreSinkPersistsRunLifecycle(t *testing.T) {
	t.Parallel()

	repo := &recordingRunRepo{RunStore: memory.NewRunStore()}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now, Source: "vnexpress", Days: 3, Trigger: "api"},
		{RunID: runID, Stage: progress.StageRunProgress, TS: now, Percent: 5, Message: "Fetching article URLs from sitemaps..."},
		{RunID: runID, Stage: progress.StageRunProgress, TS: now, Percent: 15, Message: "Filtering articles by date..."},
		{RunID: runID, Stage: progress.StageRunProgress, TS: now, Percent: 25, Message: "Fetching article details..."},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 1, repo.progressCalls)

	run, err := repo.GetRun(context.Background(), runUUID)
	require.NoError(t, err)
	require.Equal(t, store.RunRunning, run.Status)
	require.Equal(t, 25, run.Percent)
	require.Equal(t, "Fetching article details...", run.Message)
	require.Equal(t, 3, run.Days)
	require.Equal(t, "api", run.Trigger)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunProgress, TS: now, Percent: 100, Message: "Done!"},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(time.Second), Results: 10, Dur: time.Second},
	}))
	run, err = repo.GetRun(context.Background(), runUUID)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, 10, run.ResultCount)
	require.Equal(t, "Done!", run.Message)
	require.NotNil(t, run.FinishedAt)
}

// TestStoreSinkRecordsErrors stores the failure note.
func TestStoreSinkRecordsErrors(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now().UTC()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now, Source: "tuoitre"},
		{RunID: runID, Stage: progress.StageRunError, TS: now, Note: "persist snapshot: boom"},
	}))

	run, err := repo.GetRun(context.Background(), runUUID)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.NotNil(t, run.ErrorMessage)
	require.Equal(t, "persist snapshot: boom", *run.ErrorMessage)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(memory.NewRunStore(), nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), Stage: progress.StageRunDone, TS: time.Now()},
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

type recordingRunRepo struct {
	*memory.RunStore
	progressCalls int
}

func (r *recordingRunRepo) UpdateRunProgress(ctx context.Context, id uuid.UUID, percent int, message string, at time.Time) error {
	r.progressCalls++
	return r.RunStore.UpdateRunProgress(ctx, id, percent, message, at)
}
