// Package app is the interactive front end of a run: live stats while the
// phases execute, then the result and the run history.
package app

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"steadybench/internal/runner"
	"steadybench/internal/storage"
	"steadybench/internal/tui/history"
	"steadybench/internal/tui/live"
	"steadybench/internal/tui/result"
	"steadybench/internal/tui/styles"
)

type ClearStatusMsg struct{}

func clearStatusCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(_ time.Time) tea.Msg {
		return ClearStatusMsg{}
	})
}

// View Enum
type ViewID int

const (
	ViewLive ViewID = iota
	ViewResult
	ViewHistory
)

type StatsMsg runner.StatsSnapshot

type doneMsg struct {
	res *runner.Result
	err error
}

type Model struct {
	Runner  *runner.Runner
	Store   *storage.Store
	Updates runner.StatsUpdateChan

	// Core State
	Running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
	quitting bool

	res *runner.Result
	err error

	// Layout
	Width  int
	Height int

	CurrentView ViewID
	MenuItems   []string

	LiveView    live.Model
	ResultView  result.Model
	HistoryView history.Model

	// Feedback
	StatusMsg string
}

// NewModel prepares a run of cfg. The run starts with the program. store
// may be nil.
func NewModel(ctx context.Context, cfg runner.Config, store *storage.Store) Model {
	updates := make(runner.StatsUpdateChan, 100)
	ctx, cancel := context.WithCancel(ctx)
	return Model{
		Runner:      runner.NewRunner(cfg, updates),
		Updates:     updates,
		Store:       store,
		Running:     true,
		ctx:         ctx,
		cancel:      cancel,
		finished:    make(chan struct{}),
		CurrentView: ViewLive,
		MenuItems:   []string{"[1] Live", "[2] Result", "[3] History"},
		LiveView:    live.NewModel(cfg.Settings.MinDuration),
		HistoryView: history.NewModel(store),
	}
}

// Result is what the run returned, once it has finished.
func (m Model) Result() (*runner.Result, error) {
	return m.res, m.err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.run(),
		waitForUpdate(m.Updates, m.finished),
	)
}

func (m Model) run() tea.Cmd {
	r, ctx, finished := m.Runner, m.ctx, m.finished
	return func() tea.Msg {
		res, err := r.Run(ctx)
		close(finished)
		return doneMsg{res: res, err: err}
	}
}

func waitForUpdate(sub runner.StatsUpdateChan, finished <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-sub:
			return StatsMsg(s)
		case <-finished:
			return nil
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case ClearStatusMsg:
		m.StatusMsg = ""
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.Running {
				return m, tea.Quit
			}
			// Quit once the runner has finalized and reported.
			m.quitting = true
			m.cancel()
			m.StatusMsg = "Stopping, waiting for the runner to finalize..."
			return m, nil

		case "ctrl+s":
			if m.Running {
				m.cancel()
				m.StatusMsg = "Stop requested."
				return m, clearStatusCmd()
			}
			return m, nil

		case "tab", "ctrl+right":
			m.CurrentView = (m.CurrentView + 1) % 3
			return m, nil
		case "shift+tab", "ctrl+left":
			m.CurrentView = (m.CurrentView + 2) % 3
			return m, nil

		case "1":
			m.CurrentView = ViewLive
			return m, nil
		case "2":
			m.CurrentView = ViewResult
			return m, nil
		case "3":
			m.HistoryView.Refresh()
			m.CurrentView = ViewHistory
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		inner := tea.WindowSizeMsg{Width: msg.Width - 4, Height: msg.Height - 7}
		m.LiveView, _ = m.LiveView.Update(inner)
		m.ResultView, _ = m.ResultView.Update(inner)
		m.HistoryView, _ = m.HistoryView.Update(inner)
		return m, nil

	case StatsMsg:
		var c tea.Cmd
		m.LiveView, c = m.LiveView.Update(runner.StatsSnapshot(msg))
		return m, tea.Batch(c, waitForUpdate(m.Updates, m.finished))

	case doneMsg:
		m.Running = false
		m.res, m.err = msg.res, msg.err
		m.ResultView = result.NewModel(msg.res, msg.err)
		m.ResultView.Width, m.ResultView.Height = m.Width-4, m.Height-7
		m.HistoryView.Refresh()
		m.CurrentView = ViewResult
		if m.quitting {
			return m, tea.Quit
		}
		m.StatusMsg = "Run finished."
		return m, clearStatusCmd()
	}

	// Forward everything else (FrameMsg, table keys) to the active view.
	var defaultCmd tea.Cmd
	switch m.CurrentView {
	case ViewLive:
		m.LiveView, defaultCmd = m.LiveView.Update(msg)
	case ViewResult:
		m.ResultView, defaultCmd = m.ResultView.Update(msg)
	case ViewHistory:
		m.HistoryView, defaultCmd = m.HistoryView.Update(msg)
	}
	cmds = append(cmds, defaultCmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.Width == 0 {
		return "Loading..."
	}

	nav := strings.Builder{}
	for i, item := range m.MenuItems {
		if ViewID(i) == m.CurrentView {
			nav.WriteString(styles.TabActive.Render(item))
		} else {
			nav.WriteString(styles.TabBase.Render(item))
		}
	}
	navBar := styles.FooterBase.Width(m.Width).Render(nav.String())

	contentStr := ""
	switch m.CurrentView {
	case ViewLive:
		contentStr = m.LiveView.View()
	case ViewResult:
		if m.Running {
			contentStr = styles.Subtle.Render("Still running...")
		} else {
			contentStr = m.ResultView.View()
		}
	case ViewHistory:
		contentStr = m.HistoryView.View()
	}

	content := styles.Panel.Width(m.Width - 2).Height(m.Height - 6).Render(contentStr)

	keys := []string{
		styles.RenderKey("Tab", "View"),
		styles.RenderKey("1-3", "Jump"),
		styles.RenderKey("Ctrl+S", "Stop"),
		styles.RenderKey("Q", "Quit"),
	}
	footer := styles.FooterBase.Width(m.Width).Render(strings.Join(keys, "   "))

	if m.StatusMsg != "" {
		status := styles.Box.BorderForeground(styles.ColorHighlight).Render(m.StatusMsg)
		return lipgloss.JoinVertical(lipgloss.Left, navBar, content, status, footer)
	}

	return lipgloss.JoinVertical(lipgloss.Left, navBar, content, footer)
}
