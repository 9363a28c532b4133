package telemetry

import "time"

// DisplayDelay is how far behind "now" the newest data is drawn. Packets
// reach the consumer in bursts, one poll at a time; drawing slightly in the
// past hides the resulting tremble at the leading edge at the cost of 200 ms
// of visible lag.
const DisplayDelay = 200 * time.Millisecond

// ClockSync maps the audio timeline onto the wall clock for one playback span.
//
// It is anchored when the first packet of a span is observed: at wall-clock
// instant Start, the audio heard is at FirstPacketTime. From then on only Now
// moves. ClockSync is a plain value; the zero value has no mapping and
// [ClockSync.Valid] reports false.
type ClockSync struct {
	// FirstPacketTime is the audio-timeline position, in seconds, audible at
	// Start: the first packet's time shifted back by the output latency.
	FirstPacketTime float64

	// Start is the wall-clock instant the first packet was observed.
	Start time.Time

	// Now is the wall-clock instant of the latest tick.
	Now time.Time
}

// NewClockSync anchors a mapping at the first packet of a span. latency is the
// output latency reported by the processor when the span started; a packet
// processed at firstPacketTime only becomes audible latency later. Later
// latency changes are not applied to an existing mapping.
func NewClockSync(firstPacketTime float64, latency time.Duration, now time.Time) ClockSync {
	return ClockSync{
		FirstPacketTime: firstPacketTime - latency.Seconds(),
		Start:           now,
		Now:             now,
	}
}

// Valid reports whether the mapping has been anchored.
func (s ClockSync) Valid() bool {
	return !s.Start.IsZero()
}

// Tick advances Now. Instants earlier than the current Now are ignored so the
// timeline never runs backwards; ticking an unanchored mapping does nothing.
func (s *ClockSync) Tick(now time.Time) {
	if !s.Valid() || now.Before(s.Now) {
		return
	}
	s.Now = now
}

// Elapsed returns the wall-clock time since the mapping was anchored.
func (s ClockSync) Elapsed() time.Duration {
	return s.Now.Sub(s.Start)
}

// DisplayOffset returns how many seconds of wall-clock time have passed since
// p became audible. Newer packets have smaller offsets; packets not yet
// audible have negative ones.
func (s ClockSync) DisplayOffset(p Packet) float64 {
	return s.Elapsed().Seconds() - (p.Time - s.FirstPacketTime)
}
