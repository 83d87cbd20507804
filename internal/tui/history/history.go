package history

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"steadybench/internal/storage"
	"steadybench/internal/tui/styles"
)

type Model struct {
	Store *storage.Store
	Table table.Model
	Items []storage.HistoryItem
	Err   error

	Width  int
	Height int
}

func NewModel(store *storage.Store) Model {
	columns := []table.Column{
		{Title: "Time", Width: 20},
		{Title: "Scenario", Width: 13},
		{Title: "Mode", Width: 20},
		{Title: "Metric", Width: 14},
		{Title: "P99 ms", Width: 10},
		{Title: "Result", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := Model{
		Store: store,
		Table: t,
	}
	m.Refresh()
	return m
}

func (m *Model) Refresh() {
	if m.Store == nil {
		return
	}
	m.Items, m.Err = m.Store.List()
	rows := make([]table.Row, len(m.Items))
	for i, item := range m.Items {
		verdict := "FAIL"
		switch {
		case !item.Summary.Valid:
			verdict = "INVALID"
		case item.Summary.Pass:
			verdict = "PASS"
		}
		rows[i] = table.Row{
			item.Timestamp.Format(time.RFC822),
			string(item.Scenario),
			string(item.Mode),
			fmt.Sprintf("%.2f", item.Summary.Metric.Value),
			fmt.Sprintf("%.3f", item.Summary.P99LatencyMs),
			verdict,
		}
	}
	m.Table.SetRows(rows)
}

// Selected is the highlighted run, or nil.
func (m Model) Selected() *storage.HistoryItem {
	i := m.Table.Cursor()
	if i < 0 || i >= len(m.Items) {
		return nil
	}
	return &m.Items[i]
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Store == nil {
		return styles.Subtle.Render("History is disabled.")
	}
	if m.Err != nil {
		return styles.Error.Render("History: " + m.Err.Error())
	}
	view := styles.Box.Render(m.Table.View())
	if item := m.Selected(); item != nil {
		detail := fmt.Sprintf("%s  %s  qps %.2f", item.ID, item.SUT, item.Summary.QPS)
		for _, c := range item.Summary.Causes {
			detail += "\n  • " + c
		}
		view += "\n" + styles.Subtle.Render(detail)
	}
	return view
}
