// Package config provides the configuration schema, loader, and file watcher
// for the dynmon telemetry monitor.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel converts l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// MonitorConfig tunes the poller and the display contract offered to
// consumers.
type MonitorConfig struct {
	// MaxTime is the width of the history window. It also sizes the packet
	// queue.
	MaxTime time.Duration `yaml:"max_time"`

	// PollInterval is the poll period.
	PollInterval time.Duration `yaml:"poll_interval"`

	// DisplayDelay is how far behind the wall clock streamed frames are
	// drawn. Hot-reloadable.
	DisplayDelay time.Duration `yaml:"display_delay"`

	// LeastPacketSize is the smallest processing block, in samples, the
	// queue is sized for.
	LeastPacketSize int `yaml:"least_packet_size"`

	// StreamFPS caps the frame rate pushed to WebSocket clients.
	// Hot-reloadable.
	StreamFPS int `yaml:"stream_fps"`
}

// SimulatorConfig configures the built-in compressor that produces telemetry
// when no external processor is attached.
type SimulatorConfig struct {
	Enabled bool `yaml:"enabled"`

	// SampleRate and BlockSize define the simulated audio callback: one
	// packet per block.
	SampleRate float64 `yaml:"sample_rate"`
	BlockSize  int     `yaml:"block_size"`

	// Latency is the output latency reported to the poller.
	Latency time.Duration `yaml:"latency"`

	// Compressor parameters.
	ThresholdDB float64       `yaml:"threshold_db"`
	Ratio       float64       `yaml:"ratio"`
	KneeDB      float64       `yaml:"knee_db"`
	Attack      time.Duration `yaml:"attack"`
	Release     time.Duration `yaml:"release"`
	MakeupDB    float64       `yaml:"makeup_db"`

	// PauseEvery and PauseFor pause processing periodically; each resume
	// opens a new history segment. Zero PauseEvery disables pausing.
	PauseEvery time.Duration `yaml:"pause_every"`
	PauseFor   time.Duration `yaml:"pause_for"`

	// RestartEvery stops and reinitializes processing periodically, starting
	// a new playback span. Zero disables restarts.
	RestartEvery time.Duration `yaml:"restart_every"`
}

// ObserveConfig configures telemetry about dynmon itself.
type ObserveConfig struct {
	// ServiceName is reported in traces and metrics. Default: "dynmon".
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of root traces sampled, in [0, 1].
	// Zero samples everything.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxTime         = 10 * time.Second
	DefaultPollInterval    = 5 * time.Millisecond
	DefaultDisplayDelay    = 200 * time.Millisecond
	DefaultLeastPacketSize = 100
	DefaultStreamFPS       = 30
	DefaultSampleRate      = 48000
	DefaultBlockSize       = 512
	DefaultThresholdDB     = -24.0

	// MaxMaxTime bounds monitor.max_time; the packet queue is sized from it.
	MaxMaxTime = time.Minute
)

// Default returns a configuration with every default applied. It is also the
// base [LoadFromReader] decodes onto, so settings whose zero value is
// meaningful, such as simulator.threshold_db, take their default only when
// absent from the file.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Simulator.ThresholdDB = DefaultThresholdDB
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults. Fields
// for which zero is a valid setting are left alone; see [Default].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	m := &cfg.Monitor
	if m.MaxTime == 0 {
		m.MaxTime = DefaultMaxTime
	}
	if m.PollInterval == 0 {
		m.PollInterval = DefaultPollInterval
	}
	if m.DisplayDelay == 0 {
		m.DisplayDelay = DefaultDisplayDelay
	}
	if m.LeastPacketSize == 0 {
		m.LeastPacketSize = DefaultLeastPacketSize
	}
	if m.StreamFPS == 0 {
		m.StreamFPS = DefaultStreamFPS
	}

	s := &cfg.Simulator
	if s.SampleRate == 0 {
		s.SampleRate = DefaultSampleRate
	}
	if s.BlockSize == 0 {
		s.BlockSize = DefaultBlockSize
	}
	if s.Ratio == 0 {
		s.Ratio = 4
	}
	if s.Attack == 0 {
		s.Attack = 10 * time.Millisecond
	}
	if s.Release == 0 {
		s.Release = 150 * time.Millisecond
	}
	if s.PauseEvery > 0 && s.PauseFor == 0 {
		s.PauseFor = time.Second
	}

	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = "dynmon"
	}
}
