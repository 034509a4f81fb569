// Package sinks provides progress.Sink implementations.
package sinks

import (
	"go.uber.org/zap"

	"github.com/marketscope/vacancy-crawler/internal/progress"
)

// LogSink writes progress events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs one event.
func (s *LogSink) Consume(evt progress.Event) {
	fields := []zap.Field{
		zap.String("run_id", evt.RunID.String()),
		zap.String("keyword", evt.Keyword),
		zap.Int("page", evt.Page),
		zap.Int("inserted", evt.Inserted),
		zap.Int("skipped", evt.Skipped),
		zap.Int("failed", evt.Failed),
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.logger.Info("search run started", fields...)
	case progress.StagePageDone:
		s.logger.Info("page processed", fields...)
	case progress.StageRunDone:
		s.logger.Info("search run finished", fields...)
	case progress.StageRunError:
		s.logger.Warn("search run ended with error", append(fields, zap.String("note", evt.Note))...)
	}
}
