package emit

import (
	"context"

	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// LogSink writes emissions to the structured log. The default sink for
// deployments without a Datadog account.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Counter(ctx context.Context, name string, value float64, tags []string) error {
	s.logger.Info("metric",
		zap.String("type", "counter"),
		zap.String("name", name),
		zap.Float64("value", value),
		zap.Strings("tags", tags))
	return nil
}

func (s *LogSink) Gauge(ctx context.Context, name string, value float64, tags []string) error {
	s.logger.Info("metric",
		zap.String("type", "gauge"),
		zap.String("name", name),
		zap.Float64("value", value),
		zap.Strings("tags", tags))
	return nil
}

func (s *LogSink) Histogram(ctx context.Context, name string, value float64, tags []string) error {
	s.logger.Info("metric",
		zap.String("type", "histogram"),
		zap.String("name", name),
		zap.Float64("value", value),
		zap.Strings("tags", tags))
	return nil
}

func (s *LogSink) Event(ctx context.Context, title, body string, severity telemetry.Severity, tags []string) error {
	s.logger.Info("event",
		zap.String("title", title),
		zap.String("body", body),
		zap.String("severity", string(severity)),
		zap.Strings("tags", tags))
	return nil
}
