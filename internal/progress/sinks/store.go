package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/progress"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

// StoreSink persists run rows via a store.RunRepository. Progress reports
// within a batch collapse to the latest one per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]progress.Event)
	var order []uuid.UUID

	flush := func(id uuid.UUID) error {
		evt, ok := pending[id]
		if !ok {
			return nil
		}
		delete(pending, id)
		if err := s.repo.UpdateRunProgress(ctx, id, evt.Percent, evt.Message, evt.TS); err != nil {
			return fmt.Errorf("update run progress: %w", err)
		}
		return nil
	}

	for _, evt := range batch {
		id := evt.RunUUID()
		if evt.Stage == progress.StageRunProgress {
			if _, ok := pending[id]; !ok {
				order = append(order, id)
			}
			pending[id] = evt
			continue
		}
		if err := flush(id); err != nil {
			return err
		}
		if err := s.handleRunEvent(ctx, id, evt); err != nil {
			return err
		}
	}
	for _, id := range order {
		if err := flush(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, id uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		run := store.Run{
			ID:        id,
			Source:    evt.Source,
			Days:      evt.Days,
			Trigger:   evt.Trigger,
			Status:    store.RunRunning,
			StartedAt: evt.TS,
		}
		if err := s.repo.UpsertRunStart(ctx, run); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, id, evt.TS, store.RunSuccess, evt.Results, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, id, evt.TS, store.RunError, 0, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
