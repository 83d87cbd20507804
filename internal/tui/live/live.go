package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"steadybench/internal/runner"
	"steadybench/internal/tui/components"
	"steadybench/internal/tui/styles"
)

// Model renders the snapshots of the phase that is running.
type Model struct {
	Stats    runner.StatsSnapshot
	Progress progress.Model

	QPSLine     components.Sparkline
	LatencyLine components.Sparkline

	// Target is the minimum duration of a phase; the bar fills against it.
	Target time.Duration

	lastElapsed time.Duration
	lastDone    uint64

	Width  int
	Height int
}

func NewModel(target time.Duration) Model {
	return Model{
		Progress:    progress.New(progress.WithDefaultGradient()),
		QPSLine:     components.NewSparkline(40, "QPS", "", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P99", "ms", styles.Warn),
		Target:      target,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.StatsSnapshot:
		// A new phase restarts the clock and the counters.
		if msg.Phase != m.Stats.Phase || msg.Elapsed < m.lastElapsed {
			m.lastElapsed, m.lastDone = 0, 0
		}
		dt := (msg.Elapsed - m.lastElapsed).Seconds()
		if dt < 0.01 {
			dt = 0.01
		}
		m.QPSLine.Add(float64(msg.CompletedSamples-m.lastDone) / dt)
		m.LatencyLine.Add(msg.P99Ms)

		m.Stats = msg
		m.lastElapsed = msg.Elapsed
		m.lastDone = msg.CompletedSamples

		pct := 1.0
		if m.Target > 0 {
			pct = float64(msg.Elapsed) / float64(m.Target)
		}
		if pct > 1.0 {
			pct = 1.0
		}
		return m, m.Progress.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := (msg.Width / 2) - 6
		if half < 10 {
			half = 10
		}
		m.QPSLine.Width = half
		m.LatencyLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}
	st := m.Stats

	s.WriteString(styles.Title.Render(fmt.Sprintf("Phase: %s", st.Phase)))
	s.WriteString("\n\n")

	col1 := fmt.Sprintf("ISSUED: %d q / %d s\nDONE:   %d s", st.IssuedQueries, st.IssuedSamples, st.CompletedSamples)
	col2 := fmt.Sprintf("INF:  %d\nELAP: %s", st.Inflight, st.Elapsed.Round(100*time.Millisecond))
	if st.TargetQPS > 0 {
		col2 += fmt.Sprintf("\nTGT:  %.1f qps", st.TargetQPS)
	}

	wait := st.AvgQueueWaitMs
	waitStyle := styles.Active
	if wait > 2.0 {
		waitStyle = styles.Warn
	}
	if wait > 10.0 {
		waitStyle = styles.Error
	}
	col3 := fmt.Sprintf("QUEUE WAIT:\n%s", waitStyle.Render(fmt.Sprintf("%.3f ms", wait)))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.QPSLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n\n")

	latencies := fmt.Sprintf(
		"P50: %.2f ms  |  P90: %.2f ms  |  P99: %.2f ms  |  Max: %.2f ms",
		st.P50Ms, st.P90Ms, st.P99Ms, st.MaxMs,
	)
	box := styles.Box
	if m.Width > 8 {
		box = box.Width(m.Width - 8)
	}
	s.WriteString(box.Render(latencies))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())

	return s.String()
}
