// Package observe provides the observability primitives shared by the jarvis
// server: OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. [DefaultMetrics] returns a package-level
// instance bound to the global provider; tests should use [NewMetrics] with
// their own [metric.MeterProvider] so observations do not leak between tests.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all jarvis metrics.
const meterName = "github.com/MrWong99/jarvis"

// Metrics holds every metric instrument of the server. All fields are safe for
// concurrent use.
type Metrics struct {
	// --- Voice ---

	// ModeTransitions counts recognition mode changes. Attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	ModeTransitions metric.Int64Counter

	// VoiceCommands counts commands emitted by recognition sessions. Attribute:
	//   attribute.String("source", "wake_word"|"capture")
	VoiceCommands metric.Int64Counter

	// CaptureTimeouts counts command-capture windows that expired without a
	// final result.
	CaptureTimeouts metric.Int64Counter

	// StreamRestarts counts recognition stream restarts. Attribute:
	//   attribute.String("reason", "end"|"error")
	StreamRestarts metric.Int64Counter

	// ActiveVoiceSessions tracks live recognition sessions.
	ActiveVoiceSessions metric.Int64UpDownCounter

	// --- Actions ---

	// ActionsStarted counts registered actions. Attribute:
	//   attribute.String("kind", ...)
	ActionsStarted metric.Int64Counter

	// ActionsFinished counts actions reaching a terminal status. Attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ActionsFinished metric.Int64Counter

	// EmergencyStops counts StopAll invocations.
	EmergencyStops metric.Int64Counter

	// --- Providers ---

	// STTDuration tracks the time from stream start to the first final
	// transcript.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Transport ---

	// ActiveClients tracks connected websocket clients.
	ActiveClients metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// conversational latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ModeTransitions, "jarvis.voice.mode_transitions", "Recognition mode changes by source and target mode."},
		{&met.VoiceCommands, "jarvis.voice.commands", "Commands emitted by recognition sessions."},
		{&met.CaptureTimeouts, "jarvis.voice.capture_timeouts", "Command-capture windows that expired without a final result."},
		{&met.StreamRestarts, "jarvis.voice.stream_restarts", "Recognition stream restarts by reason."},
		{&met.ActionsStarted, "jarvis.actions.started", "Actions registered with the tracker by kind."},
		{&met.ActionsFinished, "jarvis.actions.finished", "Actions reaching a terminal status by kind and status."},
		{&met.EmergencyStops, "jarvis.actions.emergency_stops", "Emergency stop invocations."},
		{&met.ProviderRequests, "jarvis.provider.requests", "Provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "jarvis.provider.errors", "Provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "jarvis.stt.duration", "Time from recognition start to the first final transcript."},
		{&met.LLMDuration, "jarvis.llm.duration", "Latency of LLM completions."},
		{&met.TTSDuration, "jarvis.tts.duration", "Latency of text-to-speech synthesis."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("jarvis.voice.active_sessions",
		metric.WithDescription("Number of live recognition sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveClients, err = m.Int64UpDownCounter("jarvis.bridge.active_clients",
		metric.WithDescription("Number of connected websocket clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("jarvis.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
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
// first call from [otel.GetMeterProvider]. It panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordModeTransition increments the mode transition counter.
func (m *Metrics) RecordModeTransition(ctx context.Context, from, to string) {
	m.ModeTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordStreamRestart increments the stream restart counter.
func (m *Metrics) RecordStreamRestart(ctx context.Context, reason string) {
	m.StreamRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordActionFinished increments the finished-actions counter.
func (m *Metrics) RecordActionFinished(ctx context.Context, kind, status string) {
	m.ActionsFinished.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
