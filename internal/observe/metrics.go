// Package observe provides application-wide observability primitives for
// livescribe: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

	"github.com/MrWong99/livescribe/pkg/transport"
)

// meterName is the instrumentation scope name used for all livescribe metrics.
const meterName = "github.com/MrWong99/livescribe"

// Frame drop stages.
const (
	StageCapture = "capture"
	StageSend    = "send"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
//
// Metrics implements [transport.Recorder].
type Metrics struct {
	// --- Latency histograms ---

	// HandshakeDuration tracks websocket handshake latency. Use with
	// attribute.String("status", "ok"|"error").
	HandshakeDuration metric.Float64Histogram

	// SendDuration tracks the time to write one audio frame.
	SendDuration metric.Float64Histogram

	// --- Counters ---

	// FramesCaptured counts frames delivered by the capture device.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames evicted on overflow. Use with
	// attribute.String("stage", StageCapture|StageSend).
	FramesDropped metric.Int64Counter

	// FramesSent counts frames written to the service.
	FramesSent metric.Int64Counter

	// BytesSent counts audio bytes written to the service.
	BytesSent metric.Int64Counter

	// MessagesReceived counts inbound messages. Use with
	// attribute.String("status", "ok"|"malformed").
	MessagesReceived metric.Int64Counter

	// TranscriptEvents counts events delivered to the sink. Use with
	// attribute.Bool("final", ...).
	TranscriptEvents metric.Int64Counter

	// StateTransitions counts session state changes. Use with
	// attribute.String("state", ...).
	StateTransitions metric.Int64Counter

	// ReconnectAttempts counts dials after a failure.
	ReconnectAttempts metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of open service connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network round trips, from sub-millisecond writes to slow handshakes.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.HandshakeDuration, err = m.Float64Histogram("livescribe.handshake.duration",
		metric.WithDescription("Latency of the websocket handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SendDuration, err = m.Float64Histogram("livescribe.send.duration",
		metric.WithDescription("Latency of writing one audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("livescribe.frames.captured",
		metric.WithDescription("Total audio frames delivered by the capture device."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("livescribe.frames.dropped",
		metric.WithDescription("Total audio frames evicted on overflow by stage."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("livescribe.frames.sent",
		metric.WithDescription("Total audio frames written to the service."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("livescribe.bytes.sent",
		metric.WithDescription("Total audio bytes written to the service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.MessagesReceived, err = m.Int64Counter("livescribe.messages.received",
		metric.WithDescription("Total inbound messages by status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEvents, err = m.Int64Counter("livescribe.transcript.events",
		metric.WithDescription("Total transcript events delivered, partial and final."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("livescribe.session.transitions",
		metric.WithDescription("Total session state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("livescribe.session.reconnects",
		metric.WithDescription("Total reconnection attempts."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("livescribe.active_connections",
		metric.WithDescription("Number of open service connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livescribe.http.request.duration",
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

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordHandshake records one handshake attempt.
func (m *Metrics) RecordHandshake(ctx context.Context, d time.Duration, err error) {
	m.HandshakeDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("status", status(err))),
	)
}

// RecordFrameSent records one frame written to the service.
func (m *Metrics) RecordFrameSent(ctx context.Context, bytes int, d time.Duration) {
	m.FramesSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, int64(bytes))
	m.SendDuration.Record(ctx, d.Seconds())
}

// RecordFrameDropped records one frame evicted at stage.
func (m *Metrics) RecordFrameDropped(ctx context.Context, stage string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage)))
}

// RecordFrameCaptured records one frame delivered by the device.
func (m *Metrics) RecordFrameCaptured(ctx context.Context) {
	m.FramesCaptured.Add(ctx, 1)
}

// RecordMessage records one inbound message.
func (m *Metrics) RecordMessage(ctx context.Context, malformed bool) {
	s := "ok"
	if malformed {
		s = "malformed"
	}
	m.MessagesReceived.Add(ctx, 1, metric.WithAttributes(Attr("status", s)))
}

// RecordStateChange records a session transition into state.
func (m *Metrics) RecordStateChange(ctx context.Context, state string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(Attr("state", state)))
}

// RecordTranscript records one transcript event delivered to the sink.
func (m *Metrics) RecordTranscript(ctx context.Context, final bool) {
	m.TranscriptEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("final", final)),
	)
}

// RecordReconnect records a reconnection attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, attempt int) {
	m.ReconnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("attempt", attempt)),
	)
}

var _ transport.Recorder = (*Metrics)(nil)
