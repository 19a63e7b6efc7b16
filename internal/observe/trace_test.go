package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// installTracer registers an in-memory tracer provider as the global one
// for the duration of the test.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog redirects the default logger into a buffer.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartStage(t *testing.T) {
	exp := installTracer(t)

	ctx, parent := StartSpan(context.Background(), "server.converse")
	_, span := StartStage(ctx, StageSTT, "openai")
	EndSpan(span, errors.New("whisper unavailable"))
	_, ok := StartStage(ctx, StageTTS, "elevenlabs")
	EndSpan(ok, nil)
	parent.End()

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("recorded %d spans, want 3", len(spans))
	}
	failed, succeeded := spans[0], spans[1]

	if failed.Name != "pipeline.stt" || failed.SpanKind != trace.SpanKindClient {
		t.Errorf("span = %q kind %v", failed.Name, failed.SpanKind)
	}
	if failed.Parent.SpanID() != spans[2].SpanContext.SpanID() {
		t.Error("stage span is not a child of the request span")
	}
	if failed.Status.Code != codes.Error || failed.Status.Description != "whisper unavailable" {
		t.Errorf("status = %+v", failed.Status)
	}
	if len(failed.Events) == 0 || failed.Events[0].Name != "exception" {
		t.Errorf("error was not recorded as an event: %+v", failed.Events)
	}
	attrs := map[string]string{}
	for _, kv := range failed.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["stage"] != "stt" || attrs["provider"] != "openai" {
		t.Errorf("attributes = %v", attrs)
	}

	if succeeded.Name != "pipeline.tts" || succeeded.Status.Code != codes.Unset {
		t.Errorf("successful stage = %q status %v", succeeded.Name, succeeded.Status.Code)
	}
}

func TestCorrelationID(t *testing.T) {
	installTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := map[string]bool{}
	for range 20 {
		ctx, span := StartSpan(context.Background(), "turn")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not a 32 digit hex trace ID", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestSpeaker(t *testing.T) {
	ctx := context.Background()
	if got := Speaker(ctx); got != "" {
		t.Errorf("Speaker(background) = %q", got)
	}
	ctx = WithSpeaker(ctx, "Audience")
	if got := Speaker(ctx); got != "Audience" {
		t.Errorf("Speaker = %q, want Audience", got)
	}
}

func TestLogger(t *testing.T) {
	installTracer(t)

	spanCtx, span := StartSpan(context.Background(), "log-test")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     context.Background(),
			notWant: []string{"trace_id", "span_id", "speaker"},
		},
		{
			name:    "span",
			ctx:     spanCtx,
			want:    []string{"trace_id=" + CorrelationID(spanCtx), "span_id="},
			notWant: []string{"speaker"},
		},
		{
			name:    "speaker only",
			ctx:     WithSpeaker(context.Background(), "Will"),
			want:    []string{"speaker=Will"},
			notWant: []string{"trace_id"},
		},
		{
			name: "span and speaker",
			ctx:  WithSpeaker(spanCtx, "Will"),
			want: []string{"trace_id=", "span_id=", "speaker=Will"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			Logger(tt.ctx).Info("hello")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q unexpectedly contains %q", out, w)
				}
			}
		})
	}
}
