// Package observe provides application-wide observability primitives for
// voxlink: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the admin server's /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all voxlink metrics.
const meterName = "github.com/MrWong99/voxlink"

// Reasons reported with [Metrics.FramesDropped].
const (
	DropMuted           = "muted"
	DropMalformed       = "malformed"
	DropCaptureOverflow = "capture_overflow"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Send path ---

	// FramesSent counts audio frames written to the server. Use with
	// attribute.String("stream_id", ...).
	FramesSent metric.Int64Counter

	// FramesDropped counts frames that never reached the wire. Use with
	// attribute.String("stream_id", ...), attribute.String("reason", ...).
	FramesDropped metric.Int64Counter

	// StopsSent counts utterance boundary markers. Use with
	// attribute.String("stream_id", ...).
	StopsSent metric.Int64Counter

	// --- Connections ---

	// Reconnects counts reconnection attempts. Use with
	// attribute.String("role", ...).
	Reconnects metric.Int64Counter

	// ActiveConnections tracks open WebSocket sessions. Use with
	// attribute.String("role", ...).
	ActiveConnections metric.Int64UpDownCounter

	// --- Receive path ---

	// JitterDepth records the queue depth in frames after every push.
	JitterDepth metric.Int64Histogram

	// JitterOverflow counts frames discarded because the buffer was full.
	JitterOverflow metric.Int64Counter

	// PlaybackLate counts scheduler cycles that overran their budget.
	PlaybackLate metric.Int64Counter

	// PlaybackCycleDuration tracks how long each render cycle took.
	PlaybackCycleDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// cycleBuckets are histogram boundaries (seconds) around the 20 ms frame period.
var cycleBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.015, 0.02, 0.025, 0.04, 0.1,
}

// depthBuckets are histogram boundaries in frames.
var depthBuckets = []float64{0, 1, 2, 5, 10, 15, 20, 30, 50}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Send path.
	if met.FramesSent, err = m.Int64Counter("voxlink.frames.sent",
		metric.WithDescription("Audio frames sent to the server by stream."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxlink.frames.dropped",
		metric.WithDescription("Audio frames dropped before the wire by stream and reason."),
	); err != nil {
		return nil, err
	}
	if met.StopsSent, err = m.Int64Counter("voxlink.stops.sent",
		metric.WithDescription("Utterance stop markers sent by stream."),
	); err != nil {
		return nil, err
	}

	// Connections.
	if met.Reconnects, err = m.Int64Counter("voxlink.reconnects",
		metric.WithDescription("Reconnection attempts by role."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("voxlink.connections.active",
		metric.WithDescription("Number of open streaming connections by role."),
	); err != nil {
		return nil, err
	}

	// Receive path.
	if met.JitterDepth, err = m.Int64Histogram("voxlink.jitter.depth",
		metric.WithDescription("Jitter buffer depth in frames after each received chunk."),
		metric.WithUnit("{frame}"),
		metric.WithExplicitBucketBoundaries(depthBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JitterOverflow, err = m.Int64Counter("voxlink.jitter.overflow",
		metric.WithDescription("Frames discarded from the head of a full jitter buffer."),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, err
	}
	if met.PlaybackLate, err = m.Int64Counter("voxlink.playback.late",
		metric.WithDescription("Playback cycles that overran the frame period."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackCycleDuration, err = m.Float64Histogram("voxlink.playback.cycle.duration",
		metric.WithDescription("Time spent rendering one playback frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(cycleBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxlink.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordFrameSent increments the sent-frame counter for streamID.
func (m *Metrics) RecordFrameSent(ctx context.Context, streamID string) {
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("stream_id", streamID)))
}

// RecordFrameDropped increments the drop counter for streamID with one of the
// Drop* reasons.
func (m *Metrics) RecordFrameDropped(ctx context.Context, streamID, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stream_id", streamID),
			attribute.String("reason", reason),
		),
	)
}

// RecordStopSent increments the stop-marker counter for streamID.
func (m *Metrics) RecordStopSent(ctx context.Context, streamID string) {
	m.StopsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("stream_id", streamID)))
}

// RecordReconnect increments the reconnect counter for role.
func (m *Metrics) RecordReconnect(ctx context.Context, role string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// ConnectionOpened and ConnectionClosed move the active-connection gauge.
func (m *Metrics) ConnectionOpened(ctx context.Context, role string) {
	m.ActiveConnections.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// ConnectionClosed is the counterpart of [Metrics.ConnectionOpened].
func (m *Metrics) ConnectionClosed(ctx context.Context, role string) {
	m.ActiveConnections.Add(ctx, -1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordJitterPush records the buffer depth after a push and any frames the
// push evicted.
func (m *Metrics) RecordJitterPush(ctx context.Context, depth, dropped int) {
	m.JitterDepth.Record(ctx, int64(depth))
	if dropped > 0 {
		m.JitterOverflow.Add(ctx, int64(dropped))
	}
}
