package telemetry_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/dynmon/pkg/telemetry"
)

// packetsAt returns one packet per time, with levels derived from the time so
// that packets are distinguishable.
func packetsAt(times ...float64) []telemetry.Packet {
	out := make([]telemetry.Packet, len(times))
	for i, ts := range times {
		out[i] = telemetry.Packet{Time: ts, Input: -ts, Output: -2 * ts}
	}
	return out
}

func newQueue(t *testing.T, capacity int) (*telemetry.Producer, *telemetry.Consumer) {
	t.Helper()
	p, c, err := telemetry.NewQueue(capacity)
	if err != nil {
		t.Fatalf("NewQueue(%d): %v", capacity, err)
	}
	return p, c
}

func TestQueue_FIFOWithinCapacity(t *testing.T) {
	t.Parallel()
	p, c := newQueue(t, 8)

	in := packetsAt(0, 0.01, 0.02, 0.03, 0.04)
	for _, pkt := range in {
		if !p.Push(pkt) {
			t.Fatalf("Push(%v) = false, want true", pkt.Time)
		}
	}

	got := c.DrainInto(nil)
	if len(got) != len(in) {
		t.Fatalf("drained %d packets, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("packet %d = %+v, want %+v", i, got[i], in[i])
		}
	}
	if c.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", c.Len())
	}
}

func TestQueue_DropsNewestWhenFull(t *testing.T) {
	t.Parallel()
	p, c := newQueue(t, 4)

	in := packetsAt(1, 2, 3, 4, 5, 6)
	wantAccepted := []bool{true, true, true, true, false, false}
	for i, pkt := range in {
		if got := p.Push(pkt); got != wantAccepted[i] {
			t.Errorf("Push(P%d) = %v, want %v", i+1, got, wantAccepted[i])
		}
	}

	got := c.DrainInto(nil)
	if len(got) != 4 {
		t.Fatalf("drained %d packets, want 4", len(got))
	}
	for i, pkt := range got {
		if pkt != in[i] {
			t.Errorf("drained[%d].Time = %v, want %v", i, pkt.Time, in[i].Time)
		}
	}
	if p.Dropped() != 2 || c.Dropped() != 2 {
		t.Errorf("Dropped = %d/%d, want 2", p.Dropped(), c.Dropped())
	}
	if c.Pushed() != 4 {
		t.Errorf("Pushed = %d, want 4", c.Pushed())
	}
}

func TestQueue_WrapsAround(t *testing.T) {
	t.Parallel()
	p, c := newQueue(t, 3)

	var buf []telemetry.Packet
	next := 0.0
	for round := 0; round < 10; round++ {
		for i := 0; i < 2; i++ {
			p.Push(telemetry.Packet{Time: next})
			next++
		}
		buf = c.DrainInto(buf[:0])
		if len(buf) != 2 {
			t.Fatalf("round %d: drained %d, want 2", round, len(buf))
		}
		if buf[0].Time != next-2 || buf[1].Time != next-1 {
			t.Fatalf("round %d: got times %v,%v", round, buf[0].Time, buf[1].Time)
		}
	}
	if p.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", p.Dropped())
	}
}

func TestQueue_DrainEmptyReturnsImmediately(t *testing.T) {
	t.Parallel()
	_, c := newQueue(t, 4)

	buf := make([]telemetry.Packet, 0, 4)
	got := c.DrainInto(buf)
	if len(got) != 0 {
		t.Errorf("drained %d packets from empty queue", len(got))
	}
}

func TestNewQueue_InvalidCapacity(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, -1} {
		if _, _, err := telemetry.NewQueue(n); !errors.Is(err, telemetry.ErrInvalidCapacity) {
			t.Errorf("NewQueue(%d) err = %v, want ErrInvalidCapacity", n, err)
		}
	}
}

func TestProducer_NilIsSafe(t *testing.T) {
	t.Parallel()
	var p *telemetry.Producer
	if p.Push(telemetry.Packet{}) {
		t.Error("nil producer accepted a packet")
	}
	if p.Dropped() != 0 {
		t.Errorf("nil producer Dropped = %d", p.Dropped())
	}
}

func TestConsumer_NilIsSafe(t *testing.T) {
	t.Parallel()
	var c *telemetry.Consumer
	dst := []telemetry.Packet{{Time: 1}}
	if got := c.DrainInto(dst); len(got) != 1 {
		t.Errorf("nil consumer DrainInto appended: %v", got)
	}
	if c.Len() != 0 || c.Cap() != 0 || c.Pushed() != 0 || c.Dropped() != 0 {
		t.Errorf("nil consumer stats = %d/%d/%d/%d", c.Len(), c.Cap(), c.Pushed(), c.Dropped())
	}
}

func TestProducer_PushDoesNotAllocate(t *testing.T) {
	p, c := newQueue(t, 2)
	pkt := telemetry.Packet{Time: 1, Input: -12}
	buf := make([]telemetry.Packet, 0, 2)

	allocs := testing.AllocsPerRun(200, func() {
		p.Push(pkt)
		p.Push(pkt)
		p.Push(pkt) // full: dropped
		buf = c.DrainInto(buf[:0])
	})
	if allocs != 0 {
		t.Errorf("Push/DrainInto allocated %.1f times per run, want 0", allocs)
	}
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()
	const total = 50000
	p, c := newQueue(t, 64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			p.Push(telemetry.Packet{Time: float64(i)})
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var got []telemetry.Packet
	buf := make([]telemetry.Packet, 0, 64)
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		buf = c.DrainInto(buf[:0])
		got = append(got, buf...)
	}
	got = c.DrainInto(got)

	for i := 1; i < len(got); i++ {
		if got[i].Time <= got[i-1].Time {
			t.Fatalf("packet %d time %v not after %v: order broken", i, got[i].Time, got[i-1].Time)
		}
	}
	if uint64(len(got)) != c.Pushed() {
		t.Errorf("received %d packets, Pushed = %d", len(got), c.Pushed())
	}
	if uint64(len(got))+c.Dropped() != total {
		t.Errorf("received %d + dropped %d != %d pushed", len(got), c.Dropped(), total)
	}
}

func TestQueueCapacity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		maxTime    time.Duration
		sampleRate float64
		least      int
		want       int
	}{
		{"44.1k window", 10 * time.Second, 44100, 100, 4410},
		{"48k window", 10 * time.Second, 48000, 100, 4800},
		{"default least size", 10 * time.Second, 48000, 0, 4800},
		{"rounds up", time.Second, 150, 100, 2},
		{"never zero", time.Millisecond, 8000, 100, 1},
		{"bounded", 24 * time.Hour, 192000, 100, telemetry.MaxQueueCapacity},
		{"infinite rate", time.Second, math.Inf(1), 100, telemetry.MaxQueueCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := telemetry.QueueCapacity(tt.maxTime, tt.sampleRate, tt.least); got != tt.want {
				t.Errorf("QueueCapacity = %d, want %d", got, tt.want)
			}
		})
	}
}
