// Package observe provides application-wide observability primitives for
// Calliope: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Calliope metrics.
const meterName = "github.com/tutorbotics/calliope"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks latency from dispatching a student utterance to the
	// final generated token.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency per sentence unit.
	TTSDuration metric.Float64Histogram

	// InteractionDuration tracks end-of-student-speech to start-of-tutor-audio
	// latency, the number a learner actually perceives.
	InteractionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// UtterancesCaptured counts student utterances that passed segmentation
	// and were handed to transcription.
	UtterancesCaptured metric.Int64Counter

	// UtterancesDiscarded counts captured audio that was thrown away. Use
	// with attribute.String("reason", ...): "too_short", "timeout",
	// "feedback".
	UtterancesDiscarded metric.Int64Counter

	// WakeDetections counts wake-word activations. Use with
	// attribute.String("keyword", ...).
	WakeDetections metric.Int64Counter

	// PlaybackInterrupts counts barge-ins that stopped tutor playback.
	PlaybackInterrupts metric.Int64Counter

	// SentenceUnits counts sentence units emitted by the stream coordinator.
	// Use with attribute.String("status", ...): "played", "dropped".
	SentenceUnits metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live tutoring sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin endpoint request processing time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("calliope.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("calliope.llm.duration",
		metric.WithDescription("Latency of tutor response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("calliope.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis per sentence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InteractionDuration, err = m.Float64Histogram("calliope.interaction.duration",
		metric.WithDescription("End of student speech to start of tutor audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("calliope.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("calliope.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesCaptured, err = m.Int64Counter("calliope.utterances.captured",
		metric.WithDescription("Student utterances handed to transcription."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDiscarded, err = m.Int64Counter("calliope.utterances.discarded",
		metric.WithDescription("Captured audio discarded before transcription, by reason."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("calliope.wake.detections",
		metric.WithDescription("Wake-word activations by keyword."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterrupts, err = m.Int64Counter("calliope.playback.interrupts",
		metric.WithDescription("Barge-ins that stopped tutor playback."),
	); err != nil {
		return nil, err
	}
	if met.SentenceUnits, err = m.Int64Counter("calliope.sentence.units",
		metric.WithDescription("Sentence units emitted by the stream coordinator, by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("calliope.active_sessions",
		metric.WithDescription("Number of live tutoring sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("calliope.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtteranceDiscarded records a discarded utterance with its reason.
func (m *Metrics) RecordUtteranceDiscarded(ctx context.Context, reason string) {
	m.UtterancesDiscarded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordWakeDetection records a wake-word activation for the given keyword.
func (m *Metrics) RecordWakeDetection(ctx context.Context, keyword string) {
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("keyword", keyword)),
	)
}

// RecordSentenceUnit records a sentence unit with its final status.
func (m *Metrics) RecordSentenceUnit(ctx context.Context, status string) {
	m.SentenceUnits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
