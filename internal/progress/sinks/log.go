// Package sinks provides progress.Sink implementations for structured
// logging and Prometheus export.
package sinks

import (
	"go.uber.org/zap"

	"forumharvest/internal/progress"
)

// LogSink emits structured logs for crawl progress. It is useful during
// development or audits where a metrics endpoint is not running.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(evt progress.Event) {
	fields := []zap.Field{
		zap.String("stage", string(evt.Stage)),
		zap.String("forum", evt.Forum),
		zap.String("entity", evt.Entity),
	}
	if evt.Count != 0 {
		fields = append(fields, zap.Int64("count", evt.Count))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	switch evt.Stage {
	case progress.StageRunError, progress.StageTopicError:
		s.logger.Warn("crawl progress", fields...)
	default:
		s.logger.Debug("crawl progress", fields...)
	}
}
