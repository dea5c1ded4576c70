package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/seoscope/geoaudit/internal/progress"
)

// ExportPublisher pushes terminal-event notifications to a message bus so
// downstream report exporters know a finished audit is ready to render.
type ExportPublisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// ExportSink forwards only terminal events to an ExportPublisher.
type ExportSink struct {
	publisher ExportPublisher
	logger    *zap.Logger
}

// NewExportSink wires a publisher to the sink interface.
func NewExportSink(publisher ExportPublisher, logger *zap.Logger) *ExportSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportSink{publisher: publisher, logger: logger}
}

// Consume publishes each terminal event in the batch. Snapshot replays are
// skipped so reconnecting subscribers do not retrigger exports.
func (s *ExportSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if !evt.Terminal || evt.Snapshot {
			continue
		}
		id, err := s.publisher.Publish(ctx, evt)
		if err != nil {
			return fmt.Errorf("publish terminal event: %w", err)
		}
		s.logger.Debug("terminal event published",
			zap.String("audit_id", evt.AuditID),
			zap.String("message_id", id),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *ExportSink) Close(context.Context) error {
	return nil
}
