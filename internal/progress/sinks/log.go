package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/progress"
)

// LogSink emits structured logs for run events. Progress reports are logged
// at debug level; lifecycle events at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("runs")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("source", evt.Source),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.logger.Info("crawl run started",
				append(fields, zap.Int("days", evt.Days), zap.String("trigger", evt.Trigger))...)
		case progress.StageRunProgress:
			s.logger.Debug("crawl run progress",
				append(fields, zap.Int("percent", evt.Percent), zap.String("message", evt.Message))...)
		case progress.StageRunDone:
			s.logger.Info("crawl run finished",
				append(fields, zap.Int("results", evt.Results), zap.Duration("dur", evt.Dur))...)
		case progress.StageRunError:
			s.logger.Warn("crawl run failed",
				append(fields, zap.Duration("dur", evt.Dur), zap.String("note", evt.Note))...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
