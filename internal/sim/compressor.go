package sim

import (
	"math"
	"time"
)

// Params are the settings of a [Compressor].
type Params struct {
	// ThresholdDB is the level above which gain is reduced.
	ThresholdDB float64

	// Ratio is the input/output slope above the threshold. 1 disables
	// compression.
	Ratio float64

	// KneeDB is the width of the soft knee centred on the threshold. Zero
	// gives a hard knee.
	KneeDB float64

	// Attack and Release are the time constants of the gain follower when
	// the target gain falls and rises respectively. Zero follows instantly.
	Attack  time.Duration
	Release time.Duration

	// MakeupDB is added to every gain.
	MakeupDB float64
}

// Compressor is a feed-forward compressor working on block levels. It is not
// safe for concurrent use.
type Compressor struct {
	p        Params
	follower float64
}

// NewCompressor creates a [Compressor] with its follower at rest.
func NewCompressor(p Params) *Compressor {
	if p.Ratio < 1 {
		p.Ratio = 1
	}
	c := &Compressor{p: p}
	c.Reset()
	return c
}

// Reset returns the follower to the gain applied to silence.
func (c *Compressor) Reset() {
	c.follower = c.p.MakeupDB
}

// TargetGain returns the gain in dB the static curve asks for at input level
// in, makeup included. The curve is continuous across the knee.
func (c *Compressor) TargetGain(in float64) float64 {
	t, r, w := c.p.ThresholdDB, c.p.Ratio, c.p.KneeDB
	var out float64
	switch {
	case w <= 0:
		if in <= t {
			out = in
		} else {
			out = t + (in-t)/r
		}
	case 2*(in-t) < -w:
		out = in
	case 2*(in-t) > w:
		out = t + (in-t)/r
	default:
		d := in - t + w/2
		out = in + (1/r-1)*d*d/(2*w)
	}
	return out - in + c.p.MakeupDB
}

// Process computes the gain for one block of length dt at input level in. It
// returns the target gain and the follower gain after the block; the
// follower moves towards the target with the attack time constant when the
// gain falls and the release time constant when it rises.
func (c *Compressor) Process(in float64, dt time.Duration) (target, follower float64) {
	target = c.TargetGain(in)
	tau := c.p.Release
	if target < c.follower {
		tau = c.p.Attack
	}
	a := coefficient(tau, dt)
	c.follower = a*c.follower + (1-a)*target
	return target, c.follower
}

// coefficient is the one-pole smoothing factor for time constant tau at step
// dt.
func coefficient(tau, dt time.Duration) float64 {
	if tau <= 0 || dt <= 0 {
		return 0
	}
	return math.Exp(-dt.Seconds() / tau.Seconds())
}

// Level returns the simulated input level in dB at t seconds: a slow swell
// with a faster tremolo and a short transient every 2.5 s. It never exceeds
// 0 dBFS.
func Level(t float64) float64 {
	level := -30 + 14*math.Sin(2*math.Pi*0.15*t) + 4*math.Sin(2*math.Pi*1.7*t)
	if ph := math.Mod(t, 2.5); ph < 0.08 {
		level += 12 * (1 - ph/0.08)
	}
	return min(level, 0)
}
