// Package tui provides the interactive live view of a run directory.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nuketools/burnup/internal/status"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginLeft(1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginLeft(1).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			MarginLeft(1)

	countsStyle = lipgloss.NewStyle().
			Bold(true).
			MarginLeft(1)
)

// Model represents the live run view state.
type Model struct {
	table      table.Model
	runDir     string
	lastUpdate time.Time
	err        error
	quitting   bool
	decks      int
	complete   int
	incomplete int
	pending    int
	state      string
}

type tickMsg time.Time
type reportMsg struct {
	report status.Report
}
type errMsg error

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// New creates a live run view for the given run directory.
func New(runDir string) Model {
	columns := []table.Column{
		{Title: "Seq", Width: 6},
		{Title: "Artifact", Width: 12},
		{Title: "Outcome", Width: 18},
		{Title: "Element", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("12"))
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		table:  t,
		runDir: runDir,
		state:  "in progress",
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.refresh(),
	)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 9)
		return m, nil

	case tickMsg:
		return m, tea.Batch(
			tickCmd(),
			m.refresh(),
		)

	case reportMsg:
		m.lastUpdate = time.Now()
		m.err = nil
		m.decks = msg.report.Decks
		m.complete = msg.report.Complete
		m.incomplete = msg.report.Incomplete
		m.pending = msg.report.Pending
		m.state = "in progress"
		if msg.report.Summary != nil {
			m.state = msg.report.Summary.State
		}

		rows := make([]table.Row, len(msg.report.Units))
		for i, unit := range msg.report.Units {
			outcome := unit.Outcome
			if outcome == "" {
				outcome = "-"
			}
			rows[i] = table.Row{
				fmt.Sprintf("E%04d", unit.Seq),
				string(unit.Artifact),
				outcome,
				unit.Name,
			}
		}
		m.table.SetRows(rows)
		return m, nil

	case errMsg:
		m.err = msg
		return m, nil
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the live run view.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder

	title := titleStyle.Render("Burnup Run Status")
	timestamp := timestampStyle.Render(fmt.Sprintf("Last update: %s", m.lastUpdate.Format("15:04:05")))
	header := lipgloss.JoinHorizontal(
		lipgloss.Top,
		title,
		strings.Repeat(" ", 5),
		timestamp,
	)
	b.WriteString(header)
	b.WriteString("\n\n")

	counts := countsStyle.Render(fmt.Sprintf(
		"%s | decks=%d complete=%d incomplete=%d pending=%d",
		m.state, m.decks, m.complete, m.incomplete, m.pending,
	))
	b.WriteString(counts)
	b.WriteString("\n")

	b.WriteString(m.table.View())
	b.WriteString("\n")

	help := helpStyle.Render("↑/↓: navigate • r: refresh • q/esc: quit")
	b.WriteString(help)

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return b.String()
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		report, err := status.Collect(m.runDir)
		if err != nil {
			return errMsg(err)
		}
		return reportMsg{report: report}
	}
}

// Run starts the interactive live view.
func Run(runDir string) error {
	p := tea.NewProgram(
		New(runDir),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	return err
}
