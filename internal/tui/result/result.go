package result

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"steadybench/internal/runner"
	"steadybench/internal/tui/styles"
)

type Model struct {
	Result *runner.Result
	Err    error

	Width  int
	Height int
}

func NewModel(res *runner.Result, err error) Model {
	return Model{Result: res, Err: err}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}
	s.WriteString(styles.Title.Render("📊 Test Complete"))
	s.WriteString("\n\n")

	if m.Err != nil {
		s.WriteString(styles.Error.Render("Error: " + m.Err.Error()))
		s.WriteString("\n\n")
	}
	res := m.Result
	if res == nil {
		return s.String()
	}

	// 1. Overview
	s.WriteString(styles.Active.Render("Overview"))
	s.WriteString("\n")
	overview := fmt.Sprintf(
		"Scenario: %s / %s\nSUT:      %s\nResult:   %s\nPass:     %s",
		res.Settings.Scenario, res.Settings.Mode, res.SUT,
		styles.Verdict(res.Valid, "VALID", "INVALID"),
		styles.Verdict(res.Pass, "YES", "NO"),
	)
	if p := res.Primary(); p != nil {
		overview += fmt.Sprintf("\n%s: %.4f", p.Metric.Name, p.Metric.Value)
	}
	if res.PeakQPS > 0 {
		overview += fmt.Sprintf("\nPeak QPS: %.2f", res.PeakQPS)
	}
	s.WriteString(styles.Box.Render(overview))
	s.WriteString("\n\n")

	// 2. Phases
	s.WriteString(styles.Active.Render("Phases"))
	s.WriteString("\n")
	var boxes []string
	for _, p := range res.Phases {
		boxes = append(boxes, styles.Box.Render(phaseCard(p)))
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	s.WriteString("\n")

	if len(res.Causes) > 0 {
		s.WriteString("\n")
		s.WriteString(styles.Warn.Render("Why"))
		s.WriteString("\n")
		for _, c := range res.Causes {
			s.WriteString("  • " + c + "\n")
		}
	}

	s.WriteString("\n")
	s.WriteString(styles.Subtle.Render("Press q to quit"))
	return s.String()
}

func phaseCard(p *runner.TestResult) string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "%s  %s\n", p.PhaseID, styles.Verdict(p.Pass, "PASS", "FAIL"))
	if p.TargetQPS > 0 {
		fmt.Fprintf(&b, "Target:  %.1f qps\n", p.TargetQPS)
	}
	fmt.Fprintf(&b, "Samples: %d / %d\n", p.CompletedSamples, p.IssuedSamples)
	fmt.Fprintf(&b, "QPS:     %.2f\n", p.QPS)
	fmt.Fprintf(&b, "Mean:    %.3f ms\n", ms(p.Latency.Mean))
	for _, q := range p.Latency.Percentiles {
		fmt.Fprintf(&b, "P%-6g: %.3f ms\n", q.Q*100, ms(q.Value))
	}
	fmt.Fprintf(&b, "Stop:    %s", p.Stop)
	return b.String()
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
