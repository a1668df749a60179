// Package observe provides application-wide observability primitives for
// Reserva: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Reserva metrics.
const meterName = "github.com/Damitimo/Google-Reserva"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long the dial + setup handshake takes.
	ConnectDuration metric.Float64Histogram

	// SessionDuration tracks full voice-session lifetimes.
	SessionDuration metric.Float64Histogram

	// ToolExecutionDuration tracks local tool handler latency.
	ToolExecutionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunks counts audio chunks by direction. Use with attribute:
	//   attribute.String("direction", "sent"|"received")
	AudioChunks metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// SpeechSegments counts detected user speech segments.
	SpeechSegments metric.Int64Counter

	// PlaybackUnderruns counts times the playback scheduler fell behind the
	// device clock and had to resume with a guard band.
	PlaybackUnderruns metric.Int64Counter

	// ProtocolDrops counts inbound frames dropped as malformed.
	ProtocolDrops metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions (0 or 1 per
	// process, but exposed as a gauge for fleet-level dashboards).
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// session lifetimes.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("reserva.session.connect.duration",
		metric.WithDescription("Latency of the dial and setup handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("reserva.session.duration",
		metric.WithDescription("Voice session lifetime."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("reserva.tool_execution.duration",
		metric.WithDescription("Latency of local tool handler execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("reserva.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioChunks, err = m.Int64Counter("reserva.audio.chunks",
		metric.WithDescription("Total audio chunks by direction."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("reserva.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.SpeechSegments, err = m.Int64Counter("reserva.speech.segments",
		metric.WithDescription("Total detected user speech segments."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnderruns, err = m.Int64Counter("reserva.playback.underruns",
		metric.WithDescription("Times playback scheduling fell behind the device clock."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolDrops, err = m.Int64Counter("reserva.protocol.drops",
		metric.WithDescription("Inbound frames dropped as malformed."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("reserva.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
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

// RecordAudioChunk records one audio chunk in the given direction
// ("sent" or "received").
func (m *Metrics) RecordAudioChunk(ctx context.Context, direction string) {
	m.AudioChunks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, elapsed time.Duration) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	m.ToolExecutionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordConnect records one connect attempt with its outcome.
func (m *Metrics) RecordConnect(ctx context.Context, elapsed time.Duration, status string) {
	m.ConnectDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}
