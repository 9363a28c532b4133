package telemetry

import (
	"errors"
	"math"
	"sync/atomic"
	"time"
)

// DefaultLeastPacketSize is the smallest block size, in samples, the queue is
// sized for. Hosts may deliver smaller blocks; 100 samples at 8 kHz is
// already 12.5 ms, and higher sample rates make a block of that size shorter
// still.
const DefaultLeastPacketSize = 100

// MaxQueueCapacity bounds [QueueCapacity]. At 48 kHz and the default least
// packet size it covers a window of more than 30 minutes.
const MaxQueueCapacity = 1 << 20

// ErrInvalidCapacity is returned by [NewQueue] for a capacity below one.
var ErrInvalidCapacity = errors.New("telemetry: queue capacity must be positive")

// cacheLine is the padding unit used to keep the producer and consumer
// indices on separate cache lines.
const cacheLine = 64

// ring is the shared state behind a [Producer]/[Consumer] pair. tail is only
// written by the producer and head only by the consumer; both only ever grow,
// so tail-head is the number of queued packets.
type ring struct {
	slots []Packet
	size  uint64

	_    [cacheLine]byte
	tail atomic.Uint64

	_    [cacheLine - 8]byte
	head atomic.Uint64

	_       [cacheLine - 8]byte
	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// Producer is the write end of a packet queue. It must be used by exactly one
// goroutine at a time, typically the audio processing callback.
//
// Push performs no locking and no allocation. A nil *Producer accepts calls and
// drops every packet, so an effect instance can push before it has been bound
// to a queue.
type Producer struct {
	r *ring
}

// Consumer is the read end of a packet queue. It must be used by exactly one
// goroutine at a time, typically the poller. A nil *Consumer behaves like an
// empty queue of capacity zero.
type Consumer struct {
	r *ring
}

// NewQueue allocates a queue holding up to capacity packets and returns its
// two ends. The capacity never changes; a different capacity requires a new
// queue and rebinding the producer.
func NewQueue(capacity int) (*Producer, *Consumer, error) {
	if capacity < 1 {
		return nil, nil, ErrInvalidCapacity
	}
	r := &ring{
		slots: make([]Packet, capacity),
		size:  uint64(capacity),
	}
	return &Producer{r: r}, &Consumer{r: r}, nil
}

// QueueCapacity returns the number of packets needed to hold a full window of
// maxTime at sampleRate when blocks are as small as leastPacketSize samples.
// A leastPacketSize of zero or less selects [DefaultLeastPacketSize]. The
// result is clamped to [1, MaxQueueCapacity].
func QueueCapacity(maxTime time.Duration, sampleRate float64, leastPacketSize int) int {
	if leastPacketSize <= 0 {
		leastPacketSize = DefaultLeastPacketSize
	}
	n := math.Ceil(maxTime.Seconds() * sampleRate / float64(leastPacketSize))
	switch {
	case n >= MaxQueueCapacity:
		return MaxQueueCapacity
	case n >= 1:
		return int(n)
	default:
		return 1
	}
}

// Push appends pkt to the queue and reports whether it was accepted. When the
// queue is full the new packet is discarded, the overflow counter is
// incremented and false is returned; packets already queued are never
// overwritten. Push never blocks.
func (p *Producer) Push(pkt Packet) bool {
	if p == nil || p.r == nil {
		return false
	}
	r := p.r
	tail := r.tail.Load()
	if tail-r.head.Load() >= r.size {
		r.dropped.Add(1)
		return false
	}
	r.slots[tail%r.size] = pkt
	r.tail.Store(tail + 1)
	r.pushed.Add(1)
	return true
}

// Dropped returns how many packets were rejected because the queue was full.
func (p *Producer) Dropped() uint64 {
	if p == nil || p.r == nil {
		return 0
	}
	return p.r.dropped.Load()
}

// DrainInto pops queued packets oldest first, appends them to dst and returns
// the extended slice. It returns as soon as the queue is empty, and drains at
// most one queue capacity per call so that a producer outrunning the consumer
// cannot keep it here forever.
func (c *Consumer) DrainInto(dst []Packet) []Packet {
	if c == nil || c.r == nil {
		return dst
	}
	r := c.r
	head := r.head.Load()
	limit := head + r.size
	for head < limit {
		tail := r.tail.Load()
		if head == tail {
			break
		}
		for head != tail && head < limit {
			dst = append(dst, r.slots[head%r.size])
			head++
			r.head.Store(head)
		}
	}
	return dst
}

// Len returns the number of packets currently queued. The value is a snapshot
// and may be stale by the time it is used.
func (c *Consumer) Len() int {
	if c == nil || c.r == nil {
		return 0
	}
	return int(c.r.tail.Load() - c.r.head.Load())
}

// Cap returns the fixed queue capacity.
func (c *Consumer) Cap() int {
	if c == nil || c.r == nil {
		return 0
	}
	return int(c.r.size)
}

// Pushed returns how many packets have been accepted since the queue was
// created.
func (c *Consumer) Pushed() uint64 {
	if c == nil || c.r == nil {
		return 0
	}
	return c.r.pushed.Load()
}

// Dropped returns how many packets the producer has discarded on overflow.
func (c *Consumer) Dropped() uint64 {
	if c == nil || c.r == nil {
		return 0
	}
	return c.r.dropped.Load()
}
