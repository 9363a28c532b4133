// Package sim provides a simulated dynamic-range processor. It stands in for
// a real-time audio effect: it processes fixed-size blocks on a wall-clock
// schedule, pushes one telemetry packet per block and issues the lifecycle
// verbs a host would issue when playback starts, pauses, resumes and stops.
package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/dynmon/internal/config"
	"github.com/MrWong99/dynmon/internal/monitor"
	"github.com/MrWong99/dynmon/internal/observe"
	"github.com/MrWong99/dynmon/pkg/telemetry"
)

// maxCatchUp bounds how many overdue blocks one step processes. A simulator
// that fell further behind skips ahead instead.
const maxCatchUp = 64

// Processor receives the lifecycle verbs of the simulated effect. It is
// satisfied by [monitor.Poller].
type Processor interface {
	Initialize(ctx context.Context, sampleRate float64, latency monitor.LatencyReporter) (*telemetry.Producer, error)
	Resume(ctx context.Context)
	Stop(ctx context.Context)
}

var _ Processor = (*monitor.Poller)(nil)

// Option configures a [Simulator] during construction.
type Option func(*Simulator)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c monitor.Clock) Option {
	return func(s *Simulator) {
		if c != nil {
			s.clock = c
		}
	}
}

// Simulator drives a [Compressor] in real time and feeds its telemetry to a
// [Processor]. Its methods must be called from a single goroutine.
type Simulator struct {
	proc     Processor
	cfg      config.SimulatorConfig
	clock    monitor.Clock
	comp     *Compressor
	blockDur time.Duration

	producer    *telemetry.Producer
	spanStart   time.Time
	runStart    time.Time
	pausedUntil time.Time
	blocks      int64
}

// New creates a [Simulator] from cfg that reports to proc.
func New(proc Processor, cfg config.SimulatorConfig, opts ...Option) (*Simulator, error) {
	if cfg.SampleRate <= 0 || cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("sim: invalid block %d at %v Hz", cfg.BlockSize, cfg.SampleRate)
	}
	s := &Simulator{
		proc:  proc,
		cfg:   cfg,
		clock: monitor.SystemClock(),
		comp: NewCompressor(Params{
			ThresholdDB: cfg.ThresholdDB,
			Ratio:       cfg.Ratio,
			KneeDB:      cfg.KneeDB,
			Attack:      cfg.Attack,
			Release:     cfg.Release,
			MakeupDB:    cfg.MakeupDB,
		}),
		blockDur: time.Duration(float64(cfg.BlockSize) / cfg.SampleRate * float64(time.Second)),
	}
	if s.blockDur <= 0 {
		return nil, fmt.Errorf("sim: block of %d samples at %v Hz is too short", cfg.BlockSize, cfg.SampleRate)
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Latency reports the configured output latency.
func (s *Simulator) Latency() time.Duration { return s.cfg.Latency }

// Run starts a playback span and processes blocks until ctx is cancelled,
// then stops the span. It returns an error only if the span cannot be
// started.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.start(ctx, s.clock.Now()); err != nil {
		return err
	}
	defer s.proc.Stop(context.WithoutCancel(ctx))

	observe.Logger(ctx).Info("simulator running",
		"sample_rate", s.cfg.SampleRate,
		"block_size", s.cfg.BlockSize,
		"latency", s.cfg.Latency,
	)

	t := time.NewTicker(s.blockDur)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := s.step(ctx, s.clock.Now()); err != nil {
				return err
			}
		}
	}
}

func (s *Simulator) start(ctx context.Context, now time.Time) error {
	producer, err := s.proc.Initialize(ctx, s.cfg.SampleRate, s)
	if err != nil {
		return fmt.Errorf("sim: start span: %w", err)
	}
	s.producer = producer
	s.spanStart = now
	s.runStart = now
	s.pausedUntil = time.Time{}
	s.blocks = 0
	s.comp.Reset()
	return nil
}

// step advances the simulation to now: restart or resume as scheduled, then
// process every block that has become due.
func (s *Simulator) step(ctx context.Context, now time.Time) error {
	if s.cfg.RestartEvery > 0 && now.Sub(s.spanStart) >= s.cfg.RestartEvery {
		s.proc.Stop(ctx)
		return s.start(ctx, now)
	}

	if !s.pausedUntil.IsZero() {
		s.skipTo(now)
		if now.Before(s.pausedUntil) {
			return nil
		}
		s.pausedUntil = time.Time{}
		s.runStart = now
		s.proc.Resume(ctx)
		return nil
	}

	s.processTo(now)
	if s.cfg.PauseEvery > 0 && now.Sub(s.runStart) >= s.cfg.PauseEvery {
		s.pausedUntil = now.Add(s.cfg.PauseFor)
	}
	return nil
}

// due returns the number of blocks of the current span completed by now.
func (s *Simulator) due(now time.Time) int64 {
	return int64(now.Sub(s.spanStart) / s.blockDur)
}

func (s *Simulator) skipTo(now time.Time) {
	s.blocks = max(s.blocks, s.due(now))
}

func (s *Simulator) processTo(now time.Time) {
	due := s.due(now)
	if due-s.blocks > maxCatchUp {
		s.blocks = due - maxCatchUp
	}
	for ; s.blocks < due; s.blocks++ {
		s.processBlock(float64(s.blocks) * s.blockDur.Seconds())
	}
}

// processBlock runs the compressor for the block starting at t and pushes
// its packet. A full queue drops the packet; the simulated audio carries on.
func (s *Simulator) processBlock(t float64) {
	in := Level(t)
	target, follower := s.comp.Process(in, s.blockDur)
	s.producer.Push(telemetry.Packet{
		Time:     t,
		Input:    in,
		Output:   in + follower,
		Target:   target,
		Follower: follower,
	})
}
