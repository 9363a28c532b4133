package sim_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/dynmon/internal/sim"
)

const eps = 1e-9

func TestCompressor_TargetGain(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		params sim.Params
		in     float64
		want   float64
	}{
		{
			name:   "below threshold passes",
			params: sim.Params{ThresholdDB: -24, Ratio: 4},
			in:     -40,
			want:   0,
		},
		{
			name:   "above threshold reduced by ratio",
			params: sim.Params{ThresholdDB: -24, Ratio: 4},
			in:     -4,
			want:   -15,
		},
		{
			name:   "hard knee at threshold",
			params: sim.Params{ThresholdDB: -24, Ratio: 4},
			in:     -24,
			want:   0,
		},
		{
			name:   "soft knee centre",
			params: sim.Params{ThresholdDB: -24, Ratio: 4, KneeDB: 6},
			in:     -24,
			want:   -0.5625,
		},
		{
			name:   "soft knee lower edge",
			params: sim.Params{ThresholdDB: -24, Ratio: 4, KneeDB: 6},
			in:     -27,
			want:   0,
		},
		{
			name:   "soft knee upper edge matches ratio line",
			params: sim.Params{ThresholdDB: -24, Ratio: 4, KneeDB: 6},
			in:     -21,
			want:   -2.25,
		},
		{
			name:   "makeup added everywhere",
			params: sim.Params{ThresholdDB: -24, Ratio: 4, MakeupDB: 6},
			in:     -4,
			want:   -9,
		},
		{
			name:   "ratio below one clamps to no compression",
			params: sim.Params{ThresholdDB: -24, Ratio: 0.5},
			in:     -4,
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := sim.NewCompressor(tt.params).TargetGain(tt.in)
			if math.Abs(got-tt.want) > eps {
				t.Errorf("TargetGain(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompressor_CurveIsContinuousAcrossKnee(t *testing.T) {
	t.Parallel()
	c := sim.NewCompressor(sim.Params{ThresholdDB: -20, Ratio: 8, KneeDB: 10})

	prev := c.TargetGain(-40)
	for in := -40.0; in <= 0; in += 0.01 {
		g := c.TargetGain(in)
		if math.Abs(g-prev) > 0.01 {
			t.Fatalf("gain jumps from %v to %v at %v dB", prev, g, in)
		}
		if g > prev+eps {
			t.Fatalf("gain rises from %v to %v at %v dB", prev, g, in)
		}
		prev = g
	}
}

func TestCompressor_InstantFollower(t *testing.T) {
	t.Parallel()
	c := sim.NewCompressor(sim.Params{ThresholdDB: -24, Ratio: 4})

	target, follower := c.Process(-4, 10*time.Millisecond)
	if target != follower {
		t.Errorf("follower = %v, want target %v with zero attack", follower, target)
	}
}

func TestCompressor_FollowerLagsTarget(t *testing.T) {
	t.Parallel()
	c := sim.NewCompressor(sim.Params{
		ThresholdDB: -24,
		Ratio:       4,
		Attack:      10 * time.Millisecond,
		Release:     100 * time.Millisecond,
	})
	dt := time.Millisecond

	// Attack: the follower falls towards -15 dB and gets within 1% after
	// about five time constants.
	prev := 0.0
	var target, follower float64
	for i := 0; i < 50; i++ {
		target, follower = c.Process(-4, dt)
		if follower > prev || follower < target {
			t.Fatalf("step %d: follower %v not between %v and %v", i, follower, target, prev)
		}
		prev = follower
	}
	if math.Abs(follower-target) > 0.15 {
		t.Errorf("after 5 attack constants follower = %v, want ~%v", follower, target)
	}

	// Release is ten times slower: after the same time the follower has
	// covered much less of the way back.
	for i := 0; i < 50; i++ {
		_, follower = c.Process(-60, dt)
	}
	if follower > -5 || follower < -14 {
		t.Errorf("after 5 attack constants of release follower = %v, want partway back", follower)
	}
}

func TestCompressor_Reset(t *testing.T) {
	t.Parallel()
	c := sim.NewCompressor(sim.Params{ThresholdDB: -24, Ratio: 4, MakeupDB: 3})
	c.Process(0, time.Millisecond)
	c.Reset()

	_, follower := c.Process(-60, time.Millisecond)
	if follower != 3 {
		t.Errorf("follower after reset = %v, want makeup 3", follower)
	}
}

func TestLevel_StaysBelowFullScale(t *testing.T) {
	t.Parallel()
	for ts := 0.0; ts < 30; ts += 0.005 {
		if l := sim.Level(ts); l > 0 || math.IsNaN(l) {
			t.Fatalf("Level(%v) = %v", ts, l)
		}
	}
	if sim.Level(0) <= sim.Level(0.1) {
		t.Error("no transient at the start of the period")
	}
}
