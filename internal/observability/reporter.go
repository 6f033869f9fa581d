package observability

import (
	"context"

	"go.uber.org/zap"
)

// ErrorReporter is the operator channel for failures that must not crash the
// flush loop but need human attention (consumer render errors, delivery
// failures). A Sentry-style integration satisfies this in production.
type ErrorReporter interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
}

// LogReporter reports errors through the structured logger.
type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}

	fields := make([]zap.Field, 0, len(tags)+2)
	fields = append(fields, zap.Error(err))
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, zap.String("correlationId", correlationID))
	}
	for key, value := range tags {
		fields = append(fields, zap.String(key, value))
	}

	r.logger.Error("operator-reported failure", fields...)
}

// NopReporter discards every report. Used in tests.
type NopReporter struct{}

func (NopReporter) CaptureError(ctx context.Context, err error, tags map[string]string) {}
