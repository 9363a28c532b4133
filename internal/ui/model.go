package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/dynmon/internal/monitor"
	"github.com/MrWong99/dynmon/pkg/telemetry"
)

const (
	// chartMinRows is the chart height at which chartMinRangeDB of gain
	// reduction fills the chart.
	chartMinRows    = 4
	chartMinRangeDB = 12.0
	chartMaxRows    = 16

	// chrome is the number of terminal rows used by everything but the chart.
	chrome = 10
)

// eighths are the partial block glyphs, from empty to full.
var eighths = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// FrameMsg delivers a new poller frame to the model.
type FrameMsg struct {
	Frame monitor.Frame
}

// DelayMsg changes the display delay the chart is drawn with.
type DelayMsg struct {
	Delay time.Duration
}

// Model is the terminal monitor: lifecycle state, queue counters, the latest
// levels and a gain-reduction chart scrolling like the history view.
type Model struct {
	frame monitor.Frame
	delay time.Duration

	showDetails bool

	width  int
	height int
}

// NewModel creates a model that draws delay behind the wall clock.
func NewModel(delay time.Duration) Model {
	return Model{delay: delay}
}

// Init implements [tea.Model].
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements [tea.Model].
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case FrameMsg:
		m.frame = msg.Frame
	case DelayMsg:
		m.delay = msg.Delay
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "d":
		m.showDetails = !m.showDetails
	}
	return m, nil
}

// View implements [tea.Model].
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	m.renderHeader(&b)
	m.renderLevels(&b)
	if m.showDetails {
		m.renderDetails(&b)
	}
	m.renderChart(&b)
	b.WriteString("└ q:quit  d:details\n")
	return b.String()
}

func (m Model) renderHeader(b *strings.Builder) {
	f := m.frame
	session := f.Session
	if len(session) > 8 {
		session = session[:8]
	}
	if session == "" {
		session = "-"
	}
	fmt.Fprintf(b, "┌─ dynmon %s\n", rule(m.width-10))
	fmt.Fprintf(b, "│ State:   %s  (session %s)\n", f.State, session)
	fmt.Fprintf(b, "│ History: %d packets in %d segments, window %s\n",
		f.Packets(), len(f.Segments), f.MaxTime)
	fmt.Fprintf(b, "│ Queue:   %d/%d  drained %d  dropped %d\n",
		f.QueueLen, f.QueueCap, f.Drained, f.Dropped)
}

func (m Model) renderLevels(b *strings.Builder) {
	p, ok := m.frame.Latest()
	if !ok {
		b.WriteString("│ Levels:  -\n")
		return
	}
	fmt.Fprintf(b, "│ Levels:  in %6.1f dB  out %6.1f dB  target %6.1f dB  gain %6.1f dB\n",
		p.Input, p.Output, p.Target, p.Follower)
}

func (m Model) renderDetails(b *strings.Builder) {
	s := m.frame.Sync
	if !s.Valid() {
		b.WriteString("│ Sync:    not anchored\n")
		return
	}
	fmt.Fprintf(b, "│ Sync:    first packet %.3fs  elapsed %s  delay %s\n",
		s.FirstPacketTime, s.Elapsed().Round(time.Millisecond), m.delay)
}

func (m Model) renderChart(b *strings.Builder) {
	cols := max(m.width-2, 10)
	rows := min(max(m.height-chrome, chartMinRows), chartMaxRows)
	rangeDB := telemetry.DBRange(rows, chartMinRows, chartMinRangeDB)

	fmt.Fprintf(b, "├─ gain reduction, %.0f dB full scale %s\n", rangeDB, rule(cols-30))
	if m.frame.AwaitingPlayback() {
		for r := 0; r < rows; r++ {
			if r == rows/2 {
				b.WriteString("│ Awaiting playback\n")
				continue
			}
			b.WriteString("│\n")
		}
		return
	}

	red, seen := reductionColumns(m.frame, cols, m.delay)
	for r := 0; r < rows; r++ {
		b.WriteString("│")
		for c := 0; c < cols; c++ {
			if !seen[c] {
				b.WriteByte(' ')
				continue
			}
			b.WriteString(cell(red[c]/rangeDB*float64(rows), r))
		}
		b.WriteByte('\n')
	}
}

// reductionColumns returns, for each of cols screen columns, the deepest gain
// reduction in dB among the packets drawn there, and whether any packet was.
func reductionColumns(f monitor.Frame, cols int, delay time.Duration) (red []float64, seen []bool) {
	red = make([]float64, cols)
	seen = make([]bool, cols)
	for _, seg := range f.Segments {
		lo, hi := telemetry.VisibleRange(seg, f.Sync, f.MaxTime, cols, delay)
		for _, p := range seg[lo:hi] {
			x := telemetry.DisplayPosition(f.Sync.DisplayOffset(p), f.MaxTime, cols, delay)
			c := int(math.Floor(x))
			if c < 0 || c >= cols {
				continue
			}
			red[c] = max(red[c], -p.Follower)
			seen[c] = true
		}
	}
	return red, seen
}

// cell returns the glyph for row r, counted from the top, of a bar hanging
// depth rows down.
func cell(depth float64, r int) string {
	fill := depth - float64(r)
	switch {
	case fill >= 1:
		return eighths[8]
	case fill <= 0:
		if r == 0 {
			return "·"
		}
		return " "
	default:
		return eighths[int(fill*8)]
	}
}

func rule(n int) string {
	return strings.Repeat("─", max(n, 0))
}
