package monitor

import (
	"fmt"
	"time"

	"github.com/MrWong99/dynmon/pkg/telemetry"
)

// State is the poller's position in the per-span lifecycle.
type State int

const (
	// StateIdle means no playback span is active: no queue is bound and the
	// poll timer is stopped. History from a stopped span may still be
	// retained together with its frozen clock mapping.
	StateIdle State = iota

	// StateAwaitingFirstPacket means a queue is bound and polled but no
	// packet of the current span has arrived yet.
	StateAwaitingFirstPacket

	// StateSynchronized means at least one packet arrived and the clock
	// mapping is anchored and ticking.
	StateSynchronized
)

// String returns the state name used in logs and frames.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstPacket:
		return "awaiting_first_packet"
	case StateSynchronized:
		return "synchronized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *State) UnmarshalText(b []byte) error {
	for c := StateIdle; c <= StateSynchronized; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("monitor: unknown state %q", b)
}

// Frame is a consistent, deep-copied view of the poller at one instant. It
// is owned by the caller and safe to use from any goroutine.
type Frame struct {
	// Seq increases every time the poller produces new data. Two frames with
	// the same Seq carry the same data.
	Seq uint64

	// Session identifies the playback span, empty before the first
	// Initialize.
	Session string

	State State

	// Segments is the retained history, oldest first.
	Segments []telemetry.Segment

	// Sync maps packet times onto the wall clock. It is valid once a span
	// synchronized, and stays valid but frozen after [Poller.Stop] until the
	// next Initialize.
	Sync telemetry.ClockSync

	// MaxTime is the history window.
	MaxTime time.Duration

	// QueueLen and QueueCap describe the bound queue; both are zero when
	// idle.
	QueueLen int
	QueueCap int

	// Drained and Dropped count packets of the current span moved into the
	// history and discarded on overflow.
	Drained uint64
	Dropped uint64
}

// Latest returns the newest retained packet.
func (f Frame) Latest() (telemetry.Packet, bool) {
	if len(f.Segments) == 0 {
		return telemetry.Packet{}, false
	}
	return f.Segments[len(f.Segments)-1].Last(), true
}

// Packets returns the number of retained packets.
func (f Frame) Packets() int {
	n := 0
	for _, s := range f.Segments {
		n += len(s)
	}
	return n
}

// AwaitingPlayback reports whether a consumer should show an idle
// placeholder instead of curves.
func (f Frame) AwaitingPlayback() bool {
	return !f.Sync.Valid()
}
