package config_test

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/dynmon/internal/config"
)

func TestLoadFromReader_EmptyDocumentYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")
	if cfg.Monitor.MaxTime != config.DefaultMaxTime {
		t.Errorf("max_time = %v, want default", cfg.Monitor.MaxTime)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("monitor:\n  max_tme: 5s\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "max_tme") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoadFromReader_RejectsBadDuration(t *testing.T) {
	t.Parallel()
	if _, err := config.LoadFromReader(strings.NewReader("monitor:\n  max_time: soon\n")); err == nil {
		t.Fatal("expected error for unparsable duration, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"tls half configured", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
		{"negative max time", "monitor:\n  max_time: -1s\n", "monitor.max_time"},
		{"max time too long", "monitor:\n  max_time: 24h\n", "monitor.max_time"},
		{"poll longer than window", "monitor:\n  max_time: 1s\n  poll_interval: 2s\n", "monitor.poll_interval"},
		{"display delay beyond window", "monitor:\n  max_time: 1s\n  display_delay: 1s\n", "monitor.display_delay"},
		{"negative least packet size", "monitor:\n  least_packet_size: -5\n", "monitor.least_packet_size"},
		{"fps too high", "monitor:\n  stream_fps: 1000\n", "monitor.stream_fps"},
		{"sim ratio below one", "simulator:\n  enabled: true\n  ratio: 0.5\n", "simulator.ratio"},
		{"sim negative knee", "simulator:\n  enabled: true\n  knee_db: -1\n", "simulator.knee_db"},
		{"sim negative sample rate", "simulator:\n  enabled: true\n  sample_rate: -48000\n", "simulator.sample_rate"},
		{"sim negative latency", "simulator:\n  enabled: true\n  latency: -5ms\n", "simulator.latency"},
		{"sample ratio", "observe:\n  trace_sample_ratio: 2\n", "observe.trace_sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_DisabledSimulatorIsNotChecked(t *testing.T) {
	t.Parallel()
	mustLoad(t, "simulator:\n  enabled: false\n  ratio: 0.5\n")
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\nmonitor:\n  stream_fps: -3\n"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "monitor.stream_fps"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "dynmon.yaml")
	writeFile(t, path, sampleYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.Server.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load(missing) err = %v, want fs.ErrNotExist", err)
	}
}
