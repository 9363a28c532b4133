// Package observe provides the observability primitives shared by dynmon:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter installed by [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider] so that
// readings do not leak between tests.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dynmon metrics.
const meterName = "github.com/MrWong99/dynmon"

// Lifecycle events recorded by [Metrics.RecordLifecycle].
const (
	EventInitialize = "initialize"
	EventStop       = "stop"
	EventResume     = "resume"
	EventSync       = "sync"
)

// Metrics holds all OpenTelemetry instruments of the application. All fields
// are safe for concurrent use.
type Metrics struct {
	// ── Poller ──

	// PollDuration tracks how long a single poll step takes.
	PollDuration metric.Float64Histogram

	// PollInterval tracks the wall-clock time between consecutive polls.
	// Large values mean the poller is starved and the display will stutter.
	PollInterval metric.Float64Histogram

	// PacketsDrained counts packets moved from the queue into the history.
	PacketsDrained metric.Int64Counter

	// PacketsDropped counts packets the producer discarded on a full queue.
	PacketsDropped metric.Int64Counter

	// LifecycleEvents counts poller transitions. Use with attribute:
	//   attribute.String("event", ...)
	LifecycleEvents metric.Int64Counter

	// ── Gauges ──

	// QueueDepth is the number of packets waiting in the queue at the last poll.
	QueueDepth metric.Int64Gauge

	// HistoryPackets is the number of packets retained in the history.
	HistoryPackets metric.Int64Gauge

	// HistorySegments is the number of retained history segments.
	HistorySegments metric.Int64Gauge

	// ActiveSubscribers tracks the number of connected stream clients.
	ActiveSubscribers metric.Int64UpDownCounter

	// ── Stream ──

	// FramesSent counts frames written to stream clients. Use with attribute:
	//   attribute.String("transport", ...)
	FramesSent metric.Int64Counter

	// ── HTTP middleware ──

	// HTTPRequestDuration tracks HTTP request processing time by "method",
	// "route" and "status_class". See [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// pollBuckets are histogram boundaries in seconds around the 5 ms poll period.
var pollBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.0075, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PollDuration, err = m.Float64Histogram("dynmon.poll.duration",
		metric.WithDescription("Time spent in one poll step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(pollBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PollInterval, err = m.Float64Histogram("dynmon.poll.interval",
		metric.WithDescription("Wall-clock time between consecutive poll steps."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(pollBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PacketsDrained, err = m.Int64Counter("dynmon.packets.drained",
		metric.WithDescription("Total packets moved from the queue into the history."),
	); err != nil {
		return nil, err
	}
	if met.PacketsDropped, err = m.Int64Counter("dynmon.packets.dropped",
		metric.WithDescription("Total packets discarded by the producer because the queue was full."),
	); err != nil {
		return nil, err
	}
	if met.LifecycleEvents, err = m.Int64Counter("dynmon.lifecycle.events",
		metric.WithDescription("Total poller lifecycle transitions by event."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("dynmon.stream.frames",
		metric.WithDescription("Total frames delivered to stream clients by transport."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.QueueDepth, err = m.Int64Gauge("dynmon.queue.depth",
		metric.WithDescription("Packets waiting in the queue at the last poll."),
	); err != nil {
		return nil, err
	}
	if met.HistoryPackets, err = m.Int64Gauge("dynmon.history.packets",
		metric.WithDescription("Packets retained in the history window."),
	); err != nil {
		return nil, err
	}
	if met.HistorySegments, err = m.Int64Gauge("dynmon.history.segments",
		metric.WithDescription("Segments retained in the history window."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("dynmon.active_subscribers",
		metric.WithDescription("Number of connected stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dynmon.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status class."),
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

// RecordPoll records the outcome of one poll step: its duration, the packets
// it drained, and the packets dropped by the producer since the last step.
func (m *Metrics) RecordPoll(ctx context.Context, took time.Duration, drained int, dropped uint64) {
	m.PollDuration.Record(ctx, took.Seconds())
	if drained > 0 {
		m.PacketsDrained.Add(ctx, int64(drained))
	}
	if dropped > 0 {
		m.PacketsDropped.Add(ctx, int64(dropped))
	}
}

// RecordInterval records the time elapsed since the previous poll step.
func (m *Metrics) RecordInterval(ctx context.Context, d time.Duration) {
	m.PollInterval.Record(ctx, d.Seconds())
}

// RecordLifecycle increments the lifecycle counter for event.
func (m *Metrics) RecordLifecycle(ctx context.Context, event string) {
	m.LifecycleEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordOccupancy sets the queue and history gauges.
func (m *Metrics) RecordOccupancy(ctx context.Context, queued, packets, segments int) {
	m.QueueDepth.Record(ctx, int64(queued))
	m.HistoryPackets.Record(ctx, int64(packets))
	m.HistorySegments.Record(ctx, int64(segments))
}

// RecordFrame increments the frame counter for transport.
func (m *Metrics) RecordFrame(ctx context.Context, transport string) {
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}
