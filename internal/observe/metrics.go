// Package observe provides application-wide observability primitives for
// lingostream: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lingostream metrics.
const meterName = "github.com/crcostac/lingostream"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// ResponseLatency tracks the commit-to-completion round trip of one
	// translation request.
	ResponseLatency metric.Float64Histogram

	// CommitInterval tracks the adaptive commit interval in effect after each
	// latency observation.
	CommitInterval metric.Float64Histogram

	// --- Counters ---

	// Commits counts commit+response requests issued to the remote service.
	Commits metric.Int64Counter

	// TickSkips counts scheduler ticks that issued no commit. Use with
	// attribute.String("reason", "silent"|"defer"|"overload").
	TickSkips metric.Int64Counter

	// Overloads counts ticks degraded to clearing the server-side input buffer.
	Overloads metric.Int64Counter

	// AudioBytesSent counts captured PCM bytes transmitted to the remote.
	AudioBytesSent metric.Int64Counter

	// ProtocolErrors counts error events reported by the remote service.
	ProtocolErrors metric.Int64Counter

	// --- Gauges ---

	// PendingResponses tracks the number of commits awaiting completion.
	PendingResponses metric.Int64UpDownCounter

	// PlaybackQueueDepth tracks chunks waiting in the playback queue.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time on the ops
	// server. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for translation round-trip latencies.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 1.5, 2, 2.5, 3, 4, 5, 7.5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResponseLatency, err = m.Float64Histogram("lingostream.response.latency",
		metric.WithDescription("Commit-to-completion latency of one translation request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommitInterval, err = m.Float64Histogram("lingostream.commit.interval",
		metric.WithDescription("Adaptive commit interval after each latency observation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Commits, err = m.Int64Counter("lingostream.commits",
		metric.WithDescription("Total commit+response requests issued to the remote service."),
	); err != nil {
		return nil, err
	}
	if met.TickSkips, err = m.Int64Counter("lingostream.tick.skips",
		metric.WithDescription("Scheduler ticks that issued no commit, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Overloads, err = m.Int64Counter("lingostream.overloads",
		metric.WithDescription("Ticks degraded to clearing the server-side input buffer."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesSent, err = m.Int64Counter("lingostream.audio.bytes_sent",
		metric.WithDescription("Captured PCM bytes transmitted to the remote service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("lingostream.protocol.errors",
		metric.WithDescription("Error events reported by the remote service."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PendingResponses, err = m.Int64UpDownCounter("lingostream.pending_responses",
		metric.WithDescription("Commits awaiting completion or error."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("lingostream.playback.queue_depth",
		metric.WithDescription("Chunks waiting in the playback queue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lingostream.http.request.duration",
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

// RecordCommit records one issued commit+response pair and the bytes it
// covered.
func (m *Metrics) RecordCommit(ctx context.Context) {
	m.Commits.Add(ctx, 1)
	m.PendingResponses.Add(ctx, 1)
}

// RecordSkip records a tick that issued no commit for the given reason.
func (m *Metrics) RecordSkip(ctx context.Context, reason string) {
	m.TickSkips.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordResponse records the completion of one outstanding translation
// request with its observed round-trip latency and the interval now in effect.
func (m *Metrics) RecordResponse(ctx context.Context, latency, interval time.Duration) {
	m.PendingResponses.Add(ctx, -1)
	if latency > 0 {
		m.ResponseLatency.Record(ctx, latency.Seconds())
	}
	m.CommitInterval.Record(ctx, interval.Seconds())
}

// RecordProtocolError records a remote error event resolving one outstanding
// request.
func (m *Metrics) RecordProtocolError(ctx context.Context) {
	m.ProtocolErrors.Add(ctx, 1)
	m.PendingResponses.Add(ctx, -1)
}
