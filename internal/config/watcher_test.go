package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/dynmon/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
monitor:
  stream_fps: 30
`

const watcherUpdatedYAML = `
server:
  log_level: debug
monitor:
  stream_fps: 15
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// rewrite replaces the file content and moves its mtime forward so that the
// change is visible regardless of the file system's timestamp granularity.
func rewrite(t *testing.T, path, content string, step int) {
	t.Helper()
	writeFile(t, path, content)
	mt := time.Now().Add(time.Duration(step) * time.Second)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type recorder struct {
	mu    sync.Mutex
	calls [][2]*config.Config
}

func (r *recorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]*config.Config{old, new})
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newWatcher(t *testing.T, content string) (*config.Watcher, *recorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	rec := &recorder{}
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, rec, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := newWatcher(t, watcherValidYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)

	rewrite(t, path, watcherUpdatedYAML, 1)
	w.Check()

	if rec.count() != 1 {
		t.Fatalf("callback invoked %d times, want 1", rec.count())
	}
	old, new := rec.calls[0][0], rec.calls[0][1]
	if old.Server.LogLevel != config.LogInfo || new.Server.LogLevel != config.LogDebug {
		t.Errorf("callback got %q -> %q, want info -> debug", old.Server.LogLevel, new.Server.LogLevel)
	}
	if w.Current().Monitor.StreamFPS != 15 {
		t.Errorf("Current() stream_fps = %d, want 15", w.Current().Monitor.StreamFPS)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)

	rewrite(t, path, watcherInvalidYAML, 1)
	w.Check()

	if rec.count() != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", rec.count())
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", w.Current().Server.LogLevel)
	}

	// Fixing the file is picked up.
	rewrite(t, path, watcherUpdatedYAML, 2)
	w.Check()
	if rec.count() != 1 {
		t.Errorf("callback invoked %d times after fix, want 1", rec.count())
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)

	mt := time.Now().Add(time.Second)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	w.Check()

	if rec.count() != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", rec.count())
	}
}

func TestWatcher_MissingFileKeepsConfig(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	w.Check()

	if rec.count() != 0 || w.Current() == nil {
		t.Error("removing the file changed the watcher state")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	rewrite(t, path, watcherUpdatedYAML, 1)
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() == 0 {
		t.Error("Run did not pick up the change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
