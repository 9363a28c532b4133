// Package ui is a terminal consumer of poller frames built on bubbletea.
package ui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/dynmon/internal/monitor"
	"github.com/MrWong99/dynmon/pkg/telemetry"
)

// refreshInterval caps how often frames are sent to the terminal.
const refreshInterval = 50 * time.Millisecond

// Source provides frames and "data updated" notifications. It is satisfied
// by [monitor.Poller].
type Source interface {
	Snapshot() monitor.Frame
	Subscribe() (<-chan struct{}, func())
}

var _ Source = (*monitor.Poller)(nil)

// sender is the part of [tea.Program] feed needs.
type sender interface {
	Send(msg tea.Msg)
}

// Run shows the terminal monitor until the user quits or ctx is cancelled.
// Both end the program without error. delay is consulted on every refresh so
// that a reloaded display delay reaches the chart; nil means
// [telemetry.DisplayDelay]. opts are appended to the program options, mainly
// so tests can replace input and output.
func Run(ctx context.Context, src Source, delay func() time.Duration, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if delay == nil {
		delay = func() time.Duration { return telemetry.DisplayDelay }
	}
	p := tea.NewProgram(NewModel(delay()),
		append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)...)
	go feed(ctx, p, src, delay)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// feed sends the current frame to p whenever src reports new data, at most
// once per refreshInterval, and a [DelayMsg] whenever delay changes.
func feed(ctx context.Context, p sender, src Source, delay func() time.Duration) {
	updates, unsubscribe := src.Subscribe()
	defer unsubscribe()

	t := time.NewTicker(refreshInterval)
	defer t.Stop()

	p.Send(FrameMsg{Frame: src.Snapshot()})
	current := delay()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			dirty = true
		case <-t.C:
			if d := delay(); d != current {
				current = d
				p.Send(DelayMsg{Delay: d})
			}
			if dirty {
				p.Send(FrameMsg{Frame: src.Snapshot()})
				dirty = false
			}
		}
	}
}
