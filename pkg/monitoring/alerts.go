package monitoring

import (
	"context"
	"errors"

	"github.com/platinummonkey/dataroom/pkg/observability"
)

// AlertSink delivers alerts to people. Paging and e-mail integrations plug
// in here.
type AlertSink interface {
	SendAlert(ctx context.Context, userID, title, message string) error
}

// LogSink writes alerts as structured log lines
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink that logs at warn level
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// SendAlert implements AlertSink
func (s *LogSink) SendAlert(ctx context.Context, userID, title, message string) error {
	s.logger.WithFields(map[string]interface{}{
		"alert":   title,
		"user_id": userID,
	}).Warn(message)
	return nil
}

// MultiSink fans an alert out to every sink. All sinks are attempted; their
// errors are joined.
type MultiSink []AlertSink

// SendAlert implements AlertSink
func (m MultiSink) SendAlert(ctx context.Context, userID, title, message string) error {
	var errs []error
	for _, sink := range m {
		if err := sink.SendAlert(ctx, userID, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to AlertSink
type SinkFunc func(ctx context.Context, userID, title, message string) error

// SendAlert implements AlertSink
func (f SinkFunc) SendAlert(ctx context.Context, userID, title, message string) error {
	return f(ctx, userID, title, message)
}
