// Package monitor drives the consumer side of the telemetry pipeline. A
// [Poller] owns the consumer end of the packet queue, the [telemetry.History]
// and the [telemetry.ClockSync]; it drains the queue on a fixed period and
// tells subscribers when a new frame is available.
//
// The poller is driven by three lifecycle verbs issued by whoever owns the
// processor: [Poller.Initialize] when processing starts with a known sample
// rate, [Poller.Resume] when realtime processing resumes after a pause, and
// [Poller.Stop] when processing ends.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/dynmon/internal/observe"
	"github.com/MrWong99/dynmon/pkg/telemetry"
)

// DefaultPeriod is the poll period used when none is configured. Delivered
// periods may be coarser under load; the poller does not depend on them being
// exact.
const DefaultPeriod = 5 * time.Millisecond

// ErrInvalidSampleRate is returned by [Poller.Initialize] for a sample rate
// that is not a positive finite number.
var ErrInvalidSampleRate = errors.New("monitor: sample rate must be positive and finite")

// Clock supplies wall-clock instants to the poller.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// LatencyReporter reports the processor's current output latency. It is
// consulted once per span, when the clock mapping is anchored.
type LatencyReporter interface {
	Latency() time.Duration
}

// LatencyFunc adapts a function to [LatencyReporter].
type LatencyFunc func() time.Duration

// Latency calls f.
func (f LatencyFunc) Latency() time.Duration { return f() }

// Option configures a [Poller] during construction.
type Option func(*Poller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithMetrics records poller metrics into m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Poller) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithMaxTime sets the history window. It also sizes the queue.
func WithMaxTime(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.maxTime = d
		}
	}
}

// WithPeriod sets the poll period used by [Poller.Run].
func WithPeriod(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.period = d
		}
	}
}

// WithLeastPacketSize sets the smallest block size, in samples, the
// processor is expected to emit a packet for. It sizes the queue.
func WithLeastPacketSize(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.leastPacketSize = n
		}
	}
}

// Poller moves packets from the real-time producer into the history and keeps
// the clock mapping current.
//
// All exported methods are safe for concurrent use. The history and clock
// mapping are only mutated under the poller's lock; consumers read them
// through [Poller.Snapshot].
type Poller struct {
	clock           Clock
	metrics         *observe.Metrics
	period          time.Duration
	maxTime         time.Duration
	leastPacketSize int

	wake chan struct{} // signalled when a span starts

	mu          sync.Mutex
	ctx         context.Context // carries the session ID for logs and metrics
	session     string
	state       State
	running     bool // poll timer active
	consumer    *telemetry.Consumer
	latency     LatencyReporter
	history     *telemetry.History
	sync        telemetry.ClockSync
	buf         []telemetry.Packet
	seq         uint64
	drained     uint64
	lastDropped uint64
	lastPoll    time.Time

	subMu   sync.Mutex
	subs    map[uint64]chan struct{}
	nextSub uint64
}

// New creates an idle [Poller]. Call [Poller.Run] to start its timer loop and
// [Poller.Initialize] to bind a queue.
func New(opts ...Option) *Poller {
	p := &Poller{
		clock:           systemClock{},
		period:          DefaultPeriod,
		maxTime:         telemetry.DefaultMaxTime,
		leastPacketSize: telemetry.DefaultLeastPacketSize,
		wake:            make(chan struct{}, 1),
		ctx:             context.Background(),
		subs:            make(map[uint64]chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.history = telemetry.NewHistory(p.maxTime)
	return p
}

// Initialize starts a new playback span at sampleRate. It allocates a queue
// sized for the history window, resets the history and the clock mapping,
// and starts polling. The returned producer belongs to the real-time
// processor; any producer from an earlier span stops being drained.
//
// latency may be nil, meaning zero output latency.
func (p *Poller) Initialize(ctx context.Context, sampleRate float64, latency LatencyReporter) (*telemetry.Producer, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSampleRate, sampleRate)
	}

	capacity := telemetry.QueueCapacity(p.maxTime, sampleRate, p.leastPacketSize)
	producer, consumer, err := telemetry.NewQueue(capacity)
	if err != nil {
		return nil, fmt.Errorf("monitor: initialize: %w", err)
	}

	id := uuid.NewString()
	ctx = observe.WithSession(ctx, id)
	ctx, span := observe.StartSpan(ctx, "monitor.initialize", trace.WithAttributes(
		attribute.Float64("dynmon.sample_rate", sampleRate),
		attribute.Int("dynmon.queue_capacity", capacity),
	))
	defer span.End()

	p.mu.Lock()
	prev := p.state
	p.ctx = observe.WithSession(context.Background(), id)
	p.session = id
	p.state = StateAwaitingFirstPacket
	p.running = true
	p.consumer = consumer
	p.latency = latency
	p.history = telemetry.NewHistory(p.maxTime)
	p.sync = telemetry.ClockSync{}
	if cap(p.buf) < capacity {
		p.buf = make([]telemetry.Packet, 0, capacity)
	}
	p.seq++
	p.drained = 0
	p.lastDropped = 0
	p.lastPoll = time.Time{}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.metrics.RecordLifecycle(ctx, observe.EventInitialize)
	observe.Logger(ctx).Info("monitor initialized",
		"sample_rate", sampleRate,
		"queue_capacity", capacity,
		"previous_state", prev,
	)
	p.notify()
	return producer, nil
}

// Stop ends the current span: the queue is released and the poll timer
// stops. The retained history and the clock mapping stay available to
// [Poller.Snapshot] until the next Initialize; the mapping no longer ticks,
// so consumers keep drawing the last frame of the span. Stopping an idle
// poller does nothing.
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return
	}
	ctx = observe.WithSession(ctx, p.session)
	drained, dropped := p.drained, p.lastDropped
	p.state = StateIdle
	p.running = false
	p.consumer = nil
	p.latency = nil
	p.lastPoll = time.Time{}
	p.seq++
	retained := p.history.Len()
	p.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "monitor.stop")
	defer span.End()

	p.metrics.RecordLifecycle(ctx, observe.EventStop)
	observe.Logger(ctx).Info("monitor stopped",
		"drained", drained,
		"dropped", dropped,
		"retained", retained,
	)
	p.notify()
}

// Resume marks a discontinuity after a pause within the current span: the
// next packets start a new history segment. The queue and the clock mapping
// are kept. Resuming an idle poller does nothing.
func (p *Poller) Resume(ctx context.Context) {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return
	}
	ctx = observe.WithSession(ctx, p.session)
	p.history.BeginNewSegment()
	p.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "monitor.resume")
	defer span.End()

	p.metrics.RecordLifecycle(ctx, observe.EventResume)
	observe.Logger(ctx).Debug("monitor resumed, new segment pending")
}

// Poll performs one poll step: drain the queue into the history, anchor or
// advance the clock mapping, and notify subscribers. It reports whether a new
// frame was produced. When nothing was drained and the history is empty, Poll
// does no further work.
//
// Poll is called by [Poller.Run]; it is exported so that callers with their
// own scheduling, and tests, can drive the poller directly.
func (p *Poller) Poll() bool {
	start := p.clock.Now()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	ctx := p.ctx
	if !p.lastPoll.IsZero() {
		p.metrics.RecordInterval(ctx, start.Sub(p.lastPoll))
	}
	p.lastPoll = start

	p.buf = p.consumer.DrainInto(p.buf[:0])
	n := len(p.buf)
	p.history.Push(p.buf)
	p.drained += uint64(n)

	dropped := p.consumer.Dropped()
	newlyDropped := dropped - p.lastDropped
	p.lastDropped = dropped

	if n == 0 && p.history.IsEmpty() {
		p.mu.Unlock()
		p.metrics.RecordPoll(ctx, p.clock.Now().Sub(start), 0, newlyDropped)
		return false
	}

	anchored := false
	if !p.sync.Valid() {
		if n == 0 {
			// Only a retained history without fresh packets: nothing to
			// anchor on until the span produces data.
			p.mu.Unlock()
			return false
		}
		var latency time.Duration
		if p.latency != nil {
			latency = p.latency.Latency()
		}
		p.sync = telemetry.NewClockSync(p.buf[0].Time, latency, start)
		p.state = StateSynchronized
		anchored = true
	} else {
		p.sync.Tick(start)
	}
	p.seq++
	queued := p.consumer.Len()
	packets, segments := p.history.Len(), len(p.history.Segments())
	firstTime := p.sync.FirstPacketTime
	p.mu.Unlock()

	if anchored {
		p.metrics.RecordLifecycle(ctx, observe.EventSync)
		observe.Logger(ctx).Info("monitor synchronized", "first_packet_time", firstTime)
	}
	p.metrics.RecordOccupancy(ctx, queued, packets, segments)
	p.metrics.RecordPoll(ctx, p.clock.Now().Sub(start), n, newlyDropped)
	p.notify()
	return true
}

// Run polls every period while a span is active and sleeps while idle. It
// returns nil when ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if !p.isRunning() {
			select {
			case <-ctx.Done():
				return nil
			case <-p.wake:
			}
			continue
		}
		if !p.runTicker(ctx) {
			return nil
		}
	}
}

// runTicker polls until the span stops or ctx is cancelled. It returns false
// on cancellation.
func (p *Poller) runTicker(ctx context.Context) bool {
	t := time.NewTicker(p.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			p.Poll()
			if !p.isRunning() {
				return true
			}
		}
	}
}

func (p *Poller) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns a deep copy of the poller's data.
func (p *Poller) Snapshot() Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := Frame{
		Seq:      p.seq,
		Session:  p.session,
		State:    p.state,
		Segments: p.history.Copy(),
		Sync:     p.sync,
		MaxTime:  p.maxTime,
		Drained:  p.drained,
		Dropped:  p.lastDropped,
	}
	if p.consumer != nil {
		f.QueueLen = p.consumer.Len()
		f.QueueCap = p.consumer.Cap()
	}
	return f
}

// Subscribe registers for "data updated" notifications. The channel receives
// a value after each poll step that produced a new frame and after lifecycle
// changes; notifications coalesce while the subscriber is busy, so a reader
// always catches up with a single [Poller.Snapshot]. Call the returned
// function to unsubscribe; it closes the channel.
func (p *Poller) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			close(ch)
			p.subMu.Unlock()
		})
	}
}

func (p *Poller) notify() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ── health ──

// stallFactor is how many poll periods may pass without a poll before the
// poller is reported as stalled.
const stallFactor = 200

// CheckPolling reports an error when a span is active but the poll loop has
// not run for a long time. An idle poller is healthy.
func (p *Poller) CheckPolling(context.Context) error {
	p.mu.Lock()
	running, last := p.running, p.lastPoll
	p.mu.Unlock()
	if !running || last.IsZero() {
		return nil
	}
	if since := p.clock.Now().Sub(last); since > stallFactor*p.period {
		return fmt.Errorf("monitor: no poll for %s", since.Round(time.Millisecond))
	}
	return nil
}

// CheckQueue reports an error when the bound queue is at least 90% full,
// meaning the poller is falling behind and the producer is about to drop
// packets.
func (p *Poller) CheckQueue(context.Context) error {
	p.mu.Lock()
	c := p.consumer
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	if n, capacity := c.Len(), c.Cap(); n*10 >= capacity*9 {
		return fmt.Errorf("monitor: queue %d/%d full", n, capacity)
	}
	return nil
}
