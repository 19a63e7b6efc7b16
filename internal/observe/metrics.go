// Package observe provides observability primitives shared by the performer
// client and the conversation server: OpenTelemetry metrics, distributed
// tracing, trace-aware structured logging, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter so they can be scraped from /metrics.
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/ventriloquist"

// Pipeline stage names used as the "stage" attribute.
const (
	StageSTT = "stt"
	StageLLM = "llm"
	StageTTS = "tts"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Server pipeline ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks chat completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Attributes: provider,
	// kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// FallbackLines counts replies replaced by the fallback line because
	// nothing usable was left after dialogue extraction.
	FallbackLines metric.Int64Counter

	// ActiveConversations tracks conversation requests in flight.
	ActiveConversations metric.Int64UpDownCounter

	// --- Performer client ---

	// CycleDuration tracks a finished orchestration cycle from finish to
	// idle. Attribute: outcome.
	CycleDuration metric.Float64Histogram

	// BackendDuration tracks the client side conversation round trip.
	BackendDuration metric.Float64Histogram

	// Cycles counts orchestration cycles by outcome.
	Cycles metric.Int64Counter

	// Exchanges counts exchanges appended to history. Attribute: speaker.
	Exchanges metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider calls and whole round trips, which routinely take seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.STTDuration, err = histogram("ventriloquist.stt.duration", "Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("ventriloquist.llm.duration", "Latency of chat completion."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("ventriloquist.tts.duration", "Latency of speech synthesis."); err != nil {
		return nil, err
	}
	if met.CycleDuration, err = histogram("ventriloquist.cycle.duration", "Time from finishing a recording until the orchestrator is idle again."); err != nil {
		return nil, err
	}
	if met.BackendDuration, err = histogram("ventriloquist.backend.duration", "Round trip of a conversation request as seen by the client."); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("ventriloquist.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("ventriloquist.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.FallbackLines, err = m.Int64Counter("ventriloquist.dialogue.fallbacks",
		metric.WithDescription("Replies replaced by the fallback line."),
	); err != nil {
		return nil, err
	}
	if met.Cycles, err = m.Int64Counter("ventriloquist.cycles",
		metric.WithDescription("Orchestration cycles by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Exchanges, err = m.Int64Counter("ventriloquist.exchanges",
		metric.WithDescription("Exchanges appended to the conversation history by speaker."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConversations, err = m.Int64UpDownCounter("ventriloquist.active_conversations",
		metric.WithDescription("Conversation requests currently being processed."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("ventriloquist.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one server pipeline stage and counts
// the provider request. A non-nil err also counts a provider error.
func (m *Metrics) RecordStage(ctx context.Context, stage, provider string, d time.Duration, err error) {
	var h metric.Float64Histogram
	switch stage {
	case StageSTT:
		h = m.STTDuration
	case StageLLM:
		h = m.LLMDuration
	case StageTTS:
		h = m.TTSDuration
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, stage)
	}
	if h != nil {
		h.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		))
	}
	m.RecordProviderRequest(ctx, provider, stage, status)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFallbackLine counts a reply that was replaced by the fallback line.
func (m *Metrics) RecordFallbackLine(ctx context.Context) {
	m.FallbackLines.Add(ctx, 1)
}

// RecordCycle records the outcome and duration of one orchestration cycle.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Cycles.Add(ctx, 1, attrs)
	m.CycleDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordExchange counts an exchange appended to history for speaker.
func (m *Metrics) RecordExchange(ctx context.Context, speaker string) {
	m.Exchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}
