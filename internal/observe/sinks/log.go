// Package sinks provides Sink implementations for the observer bridge.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

// LogSink emits structured logs for debugging snapshot streams. It is
// useful during development or audits where a durable store is unavailable.
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

// Consume logs the snapshot using structured fields.
func (s *LogSink) Consume(_ context.Context, snapshot tracker.Job) error {
	s.logger.Info("job snapshot",
		zap.String("job_id", snapshot.ID),
		zap.String("job_type", string(snapshot.Type)),
		zap.String("phase", string(snapshot.Phase)),
		zap.String("status", string(snapshot.Status)),
		zap.Int("progress", snapshot.Progress),
		zap.String("current_url", snapshot.CurrentURL),
		zap.Int("total", snapshot.Counters.Total),
		zap.Int("successful", snapshot.Counters.Successful),
		zap.Int("failed", snapshot.Counters.Failed),
		zap.Int("skipped", snapshot.Counters.Skipped),
		zap.String("error", snapshot.ErrorMessage),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
