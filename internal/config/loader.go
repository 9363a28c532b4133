package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r onto [Default], applies
// defaults to explicit zero values and validates the result. Unknown fields
// are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to be applied already and returns a joined error listing all
// validation failures found. Questionable but workable settings are logged
// as warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Monitor
	m := cfg.Monitor
	if m.MaxTime <= 0 || m.MaxTime > MaxMaxTime {
		errs = append(errs, fmt.Errorf("monitor.max_time %s is out of range (0, %s]", m.MaxTime, MaxMaxTime))
	}
	if m.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("monitor.poll_interval %s must be positive", m.PollInterval))
	} else if m.MaxTime > 0 && m.PollInterval >= m.MaxTime {
		errs = append(errs, fmt.Errorf("monitor.poll_interval %s must be shorter than monitor.max_time %s", m.PollInterval, m.MaxTime))
	}
	if m.DisplayDelay < 0 || (m.MaxTime > 0 && m.DisplayDelay >= m.MaxTime) {
		errs = append(errs, fmt.Errorf("monitor.display_delay %s is out of range [0, max_time)", m.DisplayDelay))
	}
	if m.LeastPacketSize <= 0 {
		errs = append(errs, fmt.Errorf("monitor.least_packet_size %d must be positive", m.LeastPacketSize))
	}
	if m.StreamFPS < 1 || m.StreamFPS > 240 {
		errs = append(errs, fmt.Errorf("monitor.stream_fps %d is out of range [1, 240]", m.StreamFPS))
	}
	if m.PollInterval > 50*time.Millisecond {
		slog.Warn("monitor.poll_interval is long; the display will advance in visible steps", "poll_interval", m.PollInterval)
	}

	// Simulator
	if s := cfg.Simulator; s.Enabled {
		if s.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("simulator.sample_rate %v must be positive", s.SampleRate))
		}
		if s.BlockSize <= 0 {
			errs = append(errs, fmt.Errorf("simulator.block_size %d must be positive", s.BlockSize))
		}
		if s.Latency < 0 {
			errs = append(errs, fmt.Errorf("simulator.latency %s must not be negative", s.Latency))
		}
		if s.Ratio < 1 {
			errs = append(errs, fmt.Errorf("simulator.ratio %.2f must be at least 1", s.Ratio))
		}
		if s.KneeDB < 0 {
			errs = append(errs, fmt.Errorf("simulator.knee_db %.2f must not be negative", s.KneeDB))
		}
		if s.Attack <= 0 || s.Release <= 0 {
			errs = append(errs, errors.New("simulator.attack and simulator.release must be positive"))
		}
		if s.PauseEvery < 0 || s.PauseFor < 0 || s.RestartEvery < 0 {
			errs = append(errs, errors.New("simulator.pause_every, pause_for and restart_every must not be negative"))
		}
		if s.BlockSize > 0 && s.BlockSize < m.LeastPacketSize {
			slog.Warn("simulator.block_size is below monitor.least_packet_size; the queue may overflow",
				"block_size", s.BlockSize,
				"least_packet_size", m.LeastPacketSize,
			)
		}
		if s.PauseEvery > 0 && s.PauseFor >= s.PauseEvery {
			slog.Warn("simulator.pause_for is not shorter than pause_every; processing is mostly paused",
				"pause_every", s.PauseEvery,
				"pause_for", s.PauseFor,
			)
		}
	}

	// Observe
	if r := cfg.Observe.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observe.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}
