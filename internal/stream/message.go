package stream

import (
	"time"

	"github.com/MrWong99/dynmon/internal/monitor"
	"github.com/MrWong99/dynmon/pkg/telemetry"
)

// FrameMessage is the JSON document served by GET /api/frame and pushed over
// /ws. All times are in seconds.
type FrameMessage struct {
	Seq     uint64        `json:"seq"`
	Session string        `json:"session,omitempty"`
	State   monitor.State `json:"state"`

	// AwaitingPlayback is set when there is no clock mapping; consumers show
	// an idle placeholder instead of curves.
	AwaitingPlayback bool `json:"awaiting_playback"`

	Window       float64 `json:"window"`
	DisplayDelay float64 `json:"display_delay"`

	// Elapsed and FirstPacketTime describe the clock mapping; a packet's
	// display offset is Elapsed - (t - FirstPacketTime).
	Elapsed         float64 `json:"elapsed"`
	FirstPacketTime float64 `json:"first_packet_time"`

	Queue    QueueStats       `json:"queue"`
	Segments []SegmentMessage `json:"segments"`
}

// QueueStats reports the state of the packet queue of the current span.
type QueueStats struct {
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
	Drained uint64 `json:"drained"`
	Dropped uint64 `json:"dropped"`
}

// SegmentMessage is one history segment. X is only present when the client
// asked for a width: it holds the horizontal position of each packet on an
// axis that many units wide, and Packets is clipped to what is on screen.
type SegmentMessage struct {
	Packets []telemetry.Packet `json:"packets"`
	X       []float64          `json:"x,omitempty"`
}

// buildMessage converts f for the wire. A positive width clips every segment
// to the visible range and adds positions.
func buildMessage(f monitor.Frame, delay time.Duration, width int) FrameMessage {
	msg := FrameMessage{
		Seq:              f.Seq,
		Session:          f.Session,
		State:            f.State,
		AwaitingPlayback: f.AwaitingPlayback(),
		Window:           f.MaxTime.Seconds(),
		DisplayDelay:     delay.Seconds(),
		Queue: QueueStats{
			Len:     f.QueueLen,
			Cap:     f.QueueCap,
			Drained: f.Drained,
			Dropped: f.Dropped,
		},
		Segments: make([]SegmentMessage, 0, len(f.Segments)),
	}
	if f.Sync.Valid() {
		msg.Elapsed = f.Sync.Elapsed().Seconds()
		msg.FirstPacketTime = f.Sync.FirstPacketTime
	}

	for _, seg := range f.Segments {
		if width <= 0 {
			msg.Segments = append(msg.Segments, SegmentMessage{Packets: seg})
			continue
		}
		lo, hi := telemetry.VisibleRange(seg, f.Sync, f.MaxTime, width, delay)
		if lo == hi {
			continue
		}
		sm := SegmentMessage{
			Packets: seg[lo:hi],
			X:       make([]float64, 0, hi-lo),
		}
		for _, p := range seg[lo:hi] {
			sm.X = append(sm.X, telemetry.DisplayPosition(f.Sync.DisplayOffset(p), f.MaxTime, width, delay))
		}
		msg.Segments = append(msg.Segments, sm)
	}
	return msg
}
