// Package sinks provides Sink implementations for the progress hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/seoscope/geoaudit/internal/progress"
)

// LogSink emits structured logs for progress streams; useful in development
// or when no durable sink is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress event",
			zap.String("audit_id", evt.AuditID),
			zap.String("stage", string(evt.Stage)),
			zap.String("status", string(evt.Status)),
			zap.Float64("percentage", evt.Percentage),
			zap.Int("pages_processed", evt.Delta.PagesProcessed),
			zap.Int("issues_found", evt.Delta.IssuesFound),
			zap.Bool("terminal", evt.Terminal),
			zap.String("reason", evt.Reason),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
