package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/ventriloquist"

type speakerKey struct{}

// Tracer returns the tracer of the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartStage starts the span of one pipeline stage ([StageSTT], [StageLLM]
// or [StageTTS]) served by provider. Finish it with [EndSpan].
func StartStage(ctx context.Context, stage, provider string) (context.Context, trace.Span) {
	return StartSpan(ctx, "pipeline."+stage,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("provider", provider),
		),
	)
}

// Fail marks span as failed with err. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	Fail(span, err)
	span.End()
}

// WithSpeaker returns a context whose [Logger] tags every record with the
// speaker of the current turn.
func WithSpeaker(ctx context.Context, speaker string) context.Context {
	return context.WithValue(ctx, speakerKey{}, speaker)
}

// Speaker returns the speaker stored by [WithSpeaker], or "".
func Speaker(ctx context.Context) string {
	s, _ := ctx.Value(speakerKey{}).(string)
	return s
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger tagged with the trace and span IDs and
// the speaker found in ctx. Absent values are omitted.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if s := Speaker(ctx); s != "" {
		attrs = append(attrs, slog.String("speaker", s))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
