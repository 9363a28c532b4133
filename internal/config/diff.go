package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// settings are reported individually with their new value; everything else
// is listed in RestartRequired by its YAML path.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DisplayDelayChanged bool
	NewDisplayDelay     time.Duration

	StreamFPSChanged bool
	NewStreamFPS     int

	// RestartRequired lists changed settings that only take effect after a
	// restart, e.g. "monitor.max_time".
	RestartRequired []string
}

// HasChanges reports whether anything at all changed.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.DisplayDelayChanged || d.StreamFPSChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Monitor.DisplayDelay != new.Monitor.DisplayDelay {
		d.DisplayDelayChanged = true
		d.NewDisplayDelay = new.Monitor.DisplayDelay
	}
	if old.Monitor.StreamFPS != new.Monitor.StreamFPS {
		d.StreamFPSChanged = true
		d.NewStreamFPS = new.Monitor.StreamFPS
	}

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("monitor.max_time", old.Monitor.MaxTime != new.Monitor.MaxTime)
	restart("monitor.poll_interval", old.Monitor.PollInterval != new.Monitor.PollInterval)
	restart("monitor.least_packet_size", old.Monitor.LeastPacketSize != new.Monitor.LeastPacketSize)
	restart("simulator", old.Simulator != new.Simulator)
	restart("observe", old.Observe != new.Observe)

	return d
}
