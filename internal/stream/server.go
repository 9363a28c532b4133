// Package stream serves poller frames to out-of-process consumers: a JSON
// snapshot endpoint for pull-style clients and a WebSocket that pushes a
// frame whenever the poller reports new data, throttled to a frame rate.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/dynmon/internal/monitor"
	"github.com/MrWong99/dynmon/internal/observe"
	"github.com/MrWong99/dynmon/pkg/telemetry"
)

const (
	// DefaultFPS is the WebSocket frame rate cap used when none is given.
	DefaultFPS = 30

	// maxWidth bounds the width query parameter.
	maxWidth = 16384

	writeTimeout = 5 * time.Second
)

// Source provides frames and "data updated" notifications. It is satisfied
// by [monitor.Poller].
type Source interface {
	Snapshot() monitor.Frame
	Subscribe() (<-chan struct{}, func())
}

var _ Source = (*monitor.Poller)(nil)

// Option configures a [Server] during construction.
type Option func(*Server)

// WithMetrics records stream metrics into m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithDisplayDelay sets the initial display delay.
func WithDisplayDelay(d time.Duration) Option {
	return func(s *Server) { s.SetDisplayDelay(d) }
}

// WithFPS sets the initial WebSocket frame rate cap.
func WithFPS(fps int) Option {
	return func(s *Server) { s.SetFPS(fps) }
}

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of patterns. Same-origin clients are always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server serves frames from a [Source]. Display delay and frame rate may be
// changed while clients are connected.
type Server struct {
	src     Source
	metrics *observe.Metrics
	origins []string

	mu    sync.RWMutex
	delay time.Duration
	fps   int
}

// New creates a [Server] for src.
func New(src Source, opts ...Option) *Server {
	s := &Server{
		src:   src,
		delay: telemetry.DisplayDelay,
		fps:   DefaultFPS,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetDisplayDelay changes the display delay applied to positions. Negative
// values are ignored.
func (s *Server) SetDisplayDelay(d time.Duration) {
	if d < 0 {
		return
	}
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// DisplayDelay returns the display delay currently applied to positions.
func (s *Server) DisplayDelay() time.Duration {
	d, _ := s.settings()
	return d
}

// SetFPS changes the WebSocket frame rate cap. Non-positive values are
// ignored.
func (s *Server) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	s.mu.Lock()
	s.fps = fps
	s.mu.Unlock()
}

func (s *Server) settings() (time.Duration, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delay, time.Second / time.Duration(s.fps)
}

// Register adds the stream routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/frame", s.handleFrame)
	mux.HandleFunc("GET /ws", s.handleWS)
}

// handleFrame serves the current frame as JSON. The optional width query
// parameter clips segments to the visible range and adds positions.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	width, err := parseWidth(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	delay, _ := s.settings()
	msg := buildMessage(s.src.Snapshot(), delay, width)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		observe.Logger(r.Context()).Warn("stream: encode frame", "err", err)
		return
	}
	s.metrics.RecordFrame(r.Context(), "http")
}

// handleWS upgrades to a WebSocket and pushes a frame for every
// notification, no faster than the configured frame rate. Messages from the
// client are ignored.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	width, err := parseWidth(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		observe.Logger(r.Context()).Debug("stream: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx)

	updates, unsubscribe := s.src.Subscribe()
	defer unsubscribe()

	s.metrics.ActiveSubscribers.Add(ctx, 1)
	defer s.metrics.ActiveSubscribers.Add(context.WithoutCancel(ctx), -1)
	log.Debug("stream: client connected", "remote", r.RemoteAddr, "width", width)

	err = s.push(ctx, conn, updates, width)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) != -1:
		// Closed by the client.
	default:
		log.Debug("stream: client dropped", "err", err)
	}
}

// push writes frames until ctx ends, the source unsubscribes or a write
// fails.
func (s *Server) push(ctx context.Context, conn *websocket.Conn, updates <-chan struct{}, width int) error {
	lastSeq := ^uint64(0)
	var next time.Time
	timer := time.NewTimer(0)
	defer timer.Stop()

	send := func() error {
		f := s.src.Snapshot()
		if f.Seq == lastSeq {
			return nil
		}
		delay, interval := s.settings()
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := wsjson.Write(wctx, conn, buildMessage(f, delay, width)); err != nil {
			return err
		}
		lastSeq = f.Seq
		next = time.Now().Add(interval)
		s.metrics.RecordFrame(ctx, "ws")
		return nil
	}

	if err := send(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-updates:
			if !ok {
				return nil
			}
		}

		if wait := time.Until(next); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := send(); err != nil {
			return err
		}
	}
}

func parseWidth(r *http.Request) (int, error) {
	v := r.URL.Query().Get("width")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > maxWidth {
		return 0, errors.New("stream: width must be an integer in [0, 16384]")
	}
	return n, nil
}
