package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/id/uuid"
	"github.com/JakeFAU/news-engagement-crawler/internal/service"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	items []crawler.QueueItem
	err   error
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, item crawler.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.items = append(r.items, item)
	return nil
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	_, err := New(&recordingEnqueuer{}, Config{
		IDs:  uuid.New(),
		Jobs: []Job{{Source: "vnexpress", Spec: "every tuesday"}},
	})
	require.Error(t, err)

	_, err = New(&recordingEnqueuer{}, Config{
		IDs:  uuid.New(),
		Jobs: []Job{{Spec: "@hourly"}},
	})
	require.Error(t, err)
}

func TestTriggerEnqueuesWithRunID(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{}
	s, err := New(enq, Config{IDs: uuid.New(), Logger: zap.NewNop()})
	require.NoError(t, err)

	require.NoError(t, s.Trigger(context.Background(), Job{Source: "tuoitre", Days: 2}))
	require.Len(t, enq.items, 1)
	item := enq.items[0]
	assert.Equal(t, "tuoitre", item.Source)
	assert.Equal(t, 2, item.Days)
	assert.Equal(t, service.TriggerSchedule, item.Trigger)
	assert.NotEmpty(t, item.RunID)

	enq.err = errors.New("queue full")
	require.Error(t, s.Trigger(context.Background(), Job{Source: "tuoitre"}))
}

func TestEntriesReportNextActivation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("ICT", 7*60*60)
	s, err := New(&recordingEnqueuer{}, Config{
		IDs:      uuid.New(),
		Location: loc,
		Jobs: []Job{
			{Source: "vnexpress", Days: 1, Spec: "0 6 * * *"},
			{Source: "tuoitre", Days: 1, Spec: "@daily"},
		},
	})
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, e.Next.After(time.Now()))
	}

	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
