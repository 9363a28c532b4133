package telemetry

import "time"

// DefaultMaxTime is the width of the history window used when none is given.
const DefaultMaxTime = 10 * time.Second

// Segment is a run of packets collected without a playback interruption.
// Packet times within a segment never decrease.
type Segment []Packet

// First returns the oldest packet of the segment. The segment must not be
// empty.
func (s Segment) First() Packet { return s[0] }

// Last returns the newest packet of the segment. The segment must not be
// empty.
func (s Segment) Last() Packet { return s[len(s)-1] }

// History keeps the most recent packets, at most maxTime apart, split into
// segments at every playback discontinuity so that consumers never join
// curves across a pause.
//
// A History is not safe for concurrent use. It is owned by a single goroutine
// (the poller); other goroutines must work on copies.
type History struct {
	maxTime  float64
	segments []Segment
	beginNew bool
}

// NewHistory returns an empty History spanning at most maxTime. A maxTime of
// zero or less selects [DefaultMaxTime].
func NewHistory(maxTime time.Duration) *History {
	if maxTime <= 0 {
		maxTime = DefaultMaxTime
	}
	return &History{maxTime: maxTime.Seconds()}
}

// MaxTime returns the window width.
func (h *History) MaxTime() time.Duration {
	return time.Duration(h.maxTime * float64(time.Second))
}

// Push appends packets to the newest segment, opening a new segment first if
// none exists or [History.BeginNewSegment] was called, and then trims
// everything older than the window. Packets older than the newest packet of
// the segment they would join are discarded. Pushing no packets changes
// nothing.
func (h *History) Push(packets []Packet) {
	if len(packets) == 0 {
		return
	}

	i := 0
	if len(h.segments) == 0 || h.beginNew {
		h.segments = append(h.segments, Segment{packets[0]})
		h.beginNew = false
		i = 1
	}

	cur := &h.segments[len(h.segments)-1]
	last := cur.Last().Time
	for _, p := range packets[i:] {
		if p.Time < last {
			continue
		}
		*cur = append(*cur, p)
		last = p.Time
	}

	h.trim()
}

// trim drops whole segments that ended before the cutoff, then the obsolete
// head of the oldest remaining segment.
func (h *History) trim() {
	cutoff := h.segments[len(h.segments)-1].Last().Time - h.maxTime

	drop := 0
	for drop < len(h.segments)-1 && h.segments[drop].Last().Time < cutoff {
		drop++
	}
	if drop > 0 {
		clear(h.segments[:drop])
		h.segments = h.segments[drop:]
	}

	oldest := h.segments[0]
	n := 0
	for n < len(oldest) && oldest[n].Time < cutoff {
		n++
	}
	h.segments[0] = oldest[n:]
}

// BeginNewSegment makes the next pushed packet start a new segment. The
// segment is only created once packets arrive, so calling this several times
// in a row still yields a single new segment.
func (h *History) BeginNewSegment() {
	h.beginNew = true
}

// Segments returns the retained segments, oldest first. The returned slice
// aliases internal storage: callers must not modify it and must not keep it
// across calls to [History.Push].
func (h *History) Segments() []Segment {
	return h.segments
}

// IsEmpty reports whether no packet is retained.
func (h *History) IsEmpty() bool {
	return len(h.segments) == 0
}

// Len returns the number of retained packets across all segments.
func (h *History) Len() int {
	n := 0
	for _, s := range h.segments {
		n += len(s)
	}
	return n
}

// Span returns the time between the oldest and the newest retained packet.
func (h *History) Span() time.Duration {
	if h.IsEmpty() {
		return 0
	}
	first := h.segments[0].First().Time
	last := h.segments[len(h.segments)-1].Last().Time
	return time.Duration((last - first) * float64(time.Second))
}

// Copy returns a deep copy of the retained segments, safe to hand to another
// goroutine.
func (h *History) Copy() []Segment {
	out := make([]Segment, len(h.segments))
	for i, s := range h.segments {
		out[i] = append(Segment(nil), s...)
	}
	return out
}
