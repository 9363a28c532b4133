// Package telemetry defines the data path between a real-time dynamic-range
// processor and the code that displays what it is doing.
//
// The main pieces are:
//
//   - [Packet]: one processing block's levels at a point on the audio timeline.
//   - [Producer] / [Consumer]: the two ends of a fixed-capacity, lock-free
//     single-producer/single-consumer queue created by [NewQueue]. The
//     producer end is safe to call from the audio callback.
//   - [History]: a time-windowed record of packets split into [Segment]s at
//     playback discontinuities.
//   - [ClockSync]: maps audio-timeline time onto the wall clock so that a
//     packet can be placed on a scrolling time axis.
//
// This package lives under pkg/ because effect implementations outside this
// module are expected to produce packets into a [Producer].
package telemetry

// Packet describes one audio block processed by a dynamic-range processor.
// Packets are small values and are always copied, never shared.
type Packet struct {
	// Time is the audio-timeline position, in seconds, at which the block was
	// processed.
	Time float64 `json:"t"`

	// Input is the detected input level in dB.
	Input float64 `json:"in"`

	// Output is the output level in dB after gain has been applied.
	Output float64 `json:"out"`

	// Target is the gain in dB the processor's static curve asks for.
	Target float64 `json:"target"`

	// Follower is the smoothed gain in dB actually applied, lagging Target
	// according to the attack and release times.
	Follower float64 `json:"follower"`
}
