package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"txflow/internal/bootstrap/logging"
)

// LogSpanProcessor writes every finished span as a debug log line.
type LogSpanProcessor struct{}

var _ sdktrace.SpanProcessor = LogSpanProcessor{}

func NewLogSpanProcessor() LogSpanProcessor { return LogSpanProcessor{} }

func (LogSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (LogSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	attrs := []slog.Attr{
		slog.String("span", s.Name()),
		slog.String("trace_id", s.SpanContext().TraceID().String()),
		slog.Duration("duration", s.EndTime().Sub(s.StartTime())),
	}
	for _, kv := range s.Attributes() {
		attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
	}
	if s.Status().Code == codes.Error {
		attrs = append(attrs, slog.String("error", s.Status().Description))
	}
	logging.Debug(context.Background(), "span finished", attrs...)
}

func (LogSpanProcessor) Shutdown(context.Context) error   { return nil }
func (LogSpanProcessor) ForceFlush(context.Context) error { return nil }
