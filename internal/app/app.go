// Package app wires the dynmon subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run supervises the poll loop, the HTTP server, the simulator
// and the config watcher, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithProviders,
// WithListener, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dynmon/internal/config"
	"github.com/MrWong99/dynmon/internal/health"
	"github.com/MrWong99/dynmon/internal/monitor"
	"github.com/MrWong99/dynmon/internal/observe"
	"github.com/MrWong99/dynmon/internal/sim"
	"github.com/MrWong99/dynmon/internal/stream"
	"github.com/MrWong99/dynmon/internal/ui"
)

const (
	readHeaderTimeout = 10 * time.Second
	serverStopTimeout = 5 * time.Second
)

// errQuit ends the run group when the user quits the terminal monitor.
var errQuit = errors.New("app: terminal monitor closed")

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	version string

	// Subsystems, initialised in New.
	providers *observe.Providers
	metrics   *observe.Metrics
	poller    *monitor.Poller
	stream    *stream.Server
	health    *health.Handler
	sim       *sim.Simulator
	handler   http.Handler

	// Optional collaborators.
	level    *slog.LevelVar
	listener net.Listener
	watcher  *config.Watcher
	tui      bool

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithProviders uses p instead of installing new OTel SDK providers. The
// caller keeps ownership of p.
func WithProviders(p *observe.Providers) Option {
	return func(a *App) { a.providers = p }
}

// WithLevelVar lets hot reloads change the log level through lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithListener serves HTTP on l instead of listening on the configured
// address.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithWatcher supervises w in [App.Run].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithTUI shows the terminal monitor while running. Quitting it ends
// [App.Run].
func WithTUI(enabled bool) Option {
	return func(a *App) { a.tui = enabled }
}

// WithVersion sets the service version reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must have passed
// [config.Validate].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry providers ───────────────────────────────────────────
	if a.providers == nil {
		p, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:      cfg.Observe.ServiceName,
			ServiceVersion:   a.version,
			TraceSampleRatio: cfg.Observe.TraceSampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("app: init telemetry: %w", err)
		}
		a.providers = p
		a.closers = append(a.closers, p.Shutdown)
	}
	m, err := observe.NewMetrics(a.providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.metrics = m

	// ── 2. Poller ────────────────────────────────────────────────────────
	a.poller = monitor.New(
		monitor.WithMetrics(m),
		monitor.WithMaxTime(cfg.Monitor.MaxTime),
		monitor.WithPeriod(cfg.Monitor.PollInterval),
		monitor.WithLeastPacketSize(cfg.Monitor.LeastPacketSize),
	)

	// ── 3. Consumers ─────────────────────────────────────────────────────
	a.stream = stream.New(a.poller,
		stream.WithMetrics(m),
		stream.WithDisplayDelay(cfg.Monitor.DisplayDelay),
		stream.WithFPS(cfg.Monitor.StreamFPS),
	)
	a.health = health.New(
		health.Checker{Name: "poller", Check: a.poller.CheckPolling},
		health.Checker{Name: "queue", Check: a.poller.CheckQueue},
	)

	// ── 4. Simulated processor ───────────────────────────────────────────
	if cfg.Simulator.Enabled {
		s, err := sim.New(a.poller, cfg.Simulator)
		if err != nil {
			return nil, fmt.Errorf("app: init simulator: %w", err)
		}
		a.sim = s
	}

	// ── 5. HTTP routes ───────────────────────────────────────────────────
	mux := http.NewServeMux()
	a.health.Register(mux)
	a.stream.Register(mux)
	mux.Handle("GET /metrics", a.providers.Handler())
	a.handler = observe.Middleware(m)(mux)

	return a, nil
}

// Handler returns the HTTP handler serving all routes.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Poller returns the poller, so that an in-process processor can issue
// lifecycle verbs and push packets.
func (a *App) Poller() *monitor.Poller {
	return a.poller
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every subsystem and blocks until ctx is cancelled, the user
// quits the terminal monitor, or a subsystem fails. The first two return nil.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		// Long-lived streams end with the run.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error { return a.poller.Run(ctx) })
	g.Go(func() error { return a.serve(srv, ln) })
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverStopTimeout)
		defer cancel()
		return srv.Shutdown(stopCtx)
	})
	if a.sim != nil {
		g.Go(func() error { return a.sim.Run(ctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if a.tui {
		g.Go(func() error {
			if err := ui.Run(ctx, a.poller, a.stream.DisplayDelay); err != nil {
				return fmt.Errorf("app: terminal monitor: %w", err)
			}
			if ctx.Err() != nil {
				return nil
			}
			return errQuit
		})
	}

	slog.Info("dynmon running",
		"addr", ln.Addr().String(),
		"tls", a.cfg.Server.TLS != nil,
		"simulator", a.sim != nil,
	)
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func (a *App) serve(srv *http.Server, ln net.Listener) error {
	var err error
	if tls := a.cfg.Server.TLS; tls != nil {
		err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
	} else {
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: serve: %w", err)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of d and logs the settings
// that need a restart.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DisplayDelayChanged {
		a.stream.SetDisplayDelay(d.NewDisplayDelay)
		slog.Info("display delay changed", "delay", d.NewDisplayDelay)
	}
	if d.StreamFPSChanged {
		a.stream.SetFPS(d.NewStreamFPS)
		slog.Info("stream fps changed", "fps", d.NewStreamFPS)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "settings", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Release the queue so that a late processor stops feeding it.
		a.poller.Stop(ctx)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
