// Package observe holds parley's telemetry: OpenTelemetry instruments for
// voice sessions and conversations, spans, trace-tagged logging and the
// diagnostics server middleware.
//
// [Setup] bridges the global meter provider to a Prometheus registry that
// the diagnostics server exposes on /metrics. Tests build their own
// [Metrics] with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/MrWong99/parley"

// Session start outcomes recorded on [Metrics.SessionStarts].
const (
	OutcomeActive      = "active"
	OutcomeDenied      = "permission_denied"
	OutcomeUnsupported = "unsupported"
	OutcomeFailed      = "connection_failed"
	OutcomeAborted     = "aborted"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Voice sessions ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionStarts counts start attempts. Use with attribute:
	//   attribute.String("outcome", ...)
	SessionStarts metric.Int64Counter

	// ConnectDuration tracks how long the live handshake takes, from the
	// Connect call to the setup acknowledgement.
	ConnectDuration metric.Float64Histogram

	// FramesSent counts microphone frames handed to the live session. Use
	// with attribute:
	//   attribute.String("status", "ok"|"error")
	FramesSent metric.Int64Counter

	// ChunksScheduled counts model audio chunks queued for playback.
	ChunksScheduled metric.Int64Counter

	// ScheduleLead tracks how far ahead of the output clock each chunk was
	// scheduled. A lead near zero means playback is starving.
	ScheduleLead metric.Float64Histogram

	// Interruptions counts barge-in events that flushed playback.
	Interruptions metric.Int64Counter

	// TranscriptDeltas counts transcription fragments. Use with attribute:
	//   attribute.String("direction", "INPUT"|"OUTPUT")
	TranscriptDeltas metric.Int64Counter

	// --- Text conversations ---

	// ConversationDuration tracks chat and search round-trip latency. Use
	// with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	ConversationDuration metric.Float64Histogram

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// Diagnostics server, see [Metrics.RecordDiagnosticsRequest].
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for network round-trips to model APIs.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// leadBuckets covers playback lead times, from starving to several seconds
// of buffered speech.
var leadBuckets = []float64{
	0, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Voice.
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.voice.sessions.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionStarts, err = m.Int64Counter("parley.voice.session.starts",
		metric.WithDescription("Voice session start attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("parley.voice.connect.duration",
		metric.WithDescription("Time from connect to live session setup acknowledgement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("parley.voice.frames.sent",
		metric.WithDescription("Microphone frames sent to the live session by status."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("parley.voice.chunks.scheduled",
		metric.WithDescription("Model audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.ScheduleLead, err = m.Float64Histogram("parley.voice.schedule.lead",
		metric.WithDescription("Distance between a chunk's start time and the output clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("parley.voice.interruptions",
		metric.WithDescription("Playback flushes caused by the user speaking over the model."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptDeltas, err = m.Int64Counter("parley.voice.transcript.deltas",
		metric.WithDescription("Transcription fragments received by direction."),
	); err != nil {
		return nil, err
	}

	// Conversations.
	if met.ConversationDuration, err = m.Float64Histogram("parley.conversation.duration",
		metric.WithDescription("Chat and search request latency by mode and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("parley.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("Diagnostics request latency by method, route and status."),
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

// RecordSessionStart records a start attempt with its outcome.
func (m *Metrics) RecordSessionStart(ctx context.Context, outcome string) {
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordFrameSent records one microphone frame send.
func (m *Metrics) RecordFrameSent(ctx context.Context, err error) {
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusOf(err))))
}

// RecordChunkScheduled records a scheduled playback chunk and its lead.
func (m *Metrics) RecordChunkScheduled(ctx context.Context, lead time.Duration) {
	m.ChunksScheduled.Add(ctx, 1)
	m.ScheduleLead.Record(ctx, lead.Seconds())
}

// RecordInterruption records a playback flush.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// RecordTranscriptDelta records one transcription fragment.
func (m *Metrics) RecordTranscriptDelta(ctx context.Context, direction string) {
	m.TranscriptDeltas.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordConversation records the latency of a chat or search request.
func (m *Metrics) RecordConversation(ctx context.Context, mode string, d time.Duration, err error) {
	m.ConversationDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", statusOf(err)),
		),
	)
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

// RecordBreakerTransition records a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordDiagnosticsRequest records one diagnostics server request.
func (m *Metrics) RecordDiagnosticsRequest(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}
