// Package observe provides application-wide observability primitives for
// hudlink: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [Setup] so that metrics can still be
// scraped via the standard /metrics endpoint. Components receive a [*Metrics]
// explicitly; [NopMetrics] returns a discard-everything instance for callers
// that do not care.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all hudlink metrics.
const meterName = "github.com/MrWong99/hudlink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// CaptureFrames counts microphone frames processed by the capture pipeline.
	CaptureFrames metric.Int64Counter

	// InputLevel records the RMS level of each captured frame.
	InputLevel metric.Float64Histogram

	// --- Outbound queue ---

	// OutboundSent counts blobs handed to the live session.
	OutboundSent metric.Int64Counter

	// OutboundDropped counts blobs discarded by the bounded outbound queue.
	OutboundDropped metric.Int64Counter

	// OutboundErrors counts failed sends. Failed sends are never retried.
	OutboundErrors metric.Int64Counter

	// --- Playback ---

	// PlaybackFragments counts inbound audio fragments scheduled for playback.
	PlaybackFragments metric.Int64Counter

	// DecodeErrors counts inbound audio fragments dropped as malformed.
	DecodeErrors metric.Int64Counter

	// PlaybackLead records how far the playback cursor runs ahead of the
	// device clock, in seconds. Zero means the next fragment starts at once.
	PlaybackLead metric.Float64Histogram

	// ActiveBuffers tracks the number of scheduled or playing buffers.
	ActiveBuffers metric.Int64UpDownCounter

	// --- Captions ---

	// CaptionExpiries counts caption clears caused by the silence timeout.
	CaptionExpiries metric.Int64Counter

	// --- Session ---

	// StateTransitions counts connection state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// ActiveSessions tracks the number of live sessions (0 or 1 per controller).
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled with
	// method, route and status by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// leadBuckets defines histogram bucket boundaries (in seconds) for the
// playback cursor lead.
var leadBuckets = []float64{
	0, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// levelBuckets covers the normalised RMS range.
var levelBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture.
	if met.CaptureFrames, err = m.Int64Counter("hudlink.capture.frames",
		metric.WithDescription("Total microphone frames processed."),
	); err != nil {
		return nil, err
	}
	if met.InputLevel, err = m.Float64Histogram("hudlink.capture.input_level",
		metric.WithDescription("RMS amplitude of captured frames."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}

	// Outbound queue.
	if met.OutboundSent, err = m.Int64Counter("hudlink.outbound.sent",
		metric.WithDescription("Total audio blobs sent to the live session."),
	); err != nil {
		return nil, err
	}
	if met.OutboundDropped, err = m.Int64Counter("hudlink.outbound.dropped",
		metric.WithDescription("Total audio blobs dropped by the outbound queue."),
	); err != nil {
		return nil, err
	}
	if met.OutboundErrors, err = m.Int64Counter("hudlink.outbound.errors",
		metric.WithDescription("Total failed sends to the live session."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.PlaybackFragments, err = m.Int64Counter("hudlink.playback.fragments",
		metric.WithDescription("Total inbound audio fragments scheduled."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("hudlink.playback.decode_errors",
		metric.WithDescription("Total inbound audio fragments dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackLead, err = m.Float64Histogram("hudlink.playback.lead",
		metric.WithDescription("Playback cursor lead over the device clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveBuffers, err = m.Int64UpDownCounter("hudlink.playback.active_buffers",
		metric.WithDescription("Number of scheduled or playing output buffers."),
	); err != nil {
		return nil, err
	}

	// Captions.
	if met.CaptionExpiries, err = m.Int64Counter("hudlink.caption.expiries",
		metric.WithDescription("Total caption clears caused by silence."),
	); err != nil {
		return nil, err
	}

	// Session.
	if met.StateTransitions, err = m.Int64Counter("hudlink.session.transitions",
		metric.WithDescription("Total connection state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("hudlink.session.active",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hudlink.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NopMetrics returns a [Metrics] whose instruments discard every measurement.
func NopMetrics() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		// The no-op provider never fails.
		panic("observe: failed to create no-op metrics: " + err.Error())
	}
	return met
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition is a convenience method that records a connection state
// change with the standard attribute set.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordDrop is a convenience method that records dropped outbound blobs with
// the reason attribute ("overflow" or "teardown").
func (m *Metrics) RecordDrop(ctx context.Context, n int64, reason string) {
	if n <= 0 {
		return
	}
	m.OutboundDropped.Add(ctx, n,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
