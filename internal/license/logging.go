package license

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensor/internal/infrastructure"
)

// logOperation logs the end of an activation or validation with its duration
func (m *Manager) logOperation(ctx context.Context, operation string, start time.Time, status Status, err error) {
	duration := time.Since(start)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("license.operation", operation),
			attribute.Float64("license.duration_ms", float64(duration.Milliseconds())),
		)
	}

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("status", string(status)),
		slog.Duration("duration", duration),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		m.logger.LogAttrs(ctx, slog.LevelWarn, "License operation failed", attrs...)
		return
	}
	m.logger.LogAttrs(ctx, slog.LevelInfo, "License operation completed", attrs...)
}

// logAction logs a single state machine step and mirrors it as a span event
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("license."+action, trace.WithAttributes(
			attribute.String("action", action),
			attribute.String("result", result),
		))
	}

	all := make([]slog.Attr, 0, len(attrs)+2)
	all = append(all, slog.String("action", action))
	all = append(all, slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)))
	all = append(all, attrs...)

	m.logger.LogAttrs(ctx, level, result, all...)
}

func maskedMachineID(id string) slog.Attr {
	return slog.String("machine_id", infrastructure.MaskIdentifier(id))
}
