package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"council/pkg/config"
	"council/pkg/eventlog"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// dashRefresh is the dashboard poll interval.
const dashRefresh = 2 * time.Second

// dashTheme holds the dashboard color palette.
type dashTheme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

func defaultDashTheme() dashTheme {
	return dashTheme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// dashRow is one agent line in the table.
type dashRow struct {
	ID       string
	Name     string
	Pane     string
	PaneLive bool
	Circuit  string
	Queue    int
	Auto     bool
	Awaiting bool
	LastDone string
}

// dashTickMsg triggers a state refresh.
type dashTickMsg time.Time

// dashRowsMsg carries freshly loaded agent rows.
type dashRowsMsg []dashRow

// dashEventsMsg carries the most recent dispatcher events, newest first.
// nil means the event database is unavailable.
type dashEventsMsg []eventlog.Event

// dashErrMsg carries a state load failure.
type dashErrMsg struct{ err error }

// dashModel is the Bubble Tea model for the council dashboard.
type dashModel struct {
	cfg        *config.Config
	statePath  string
	eventsDB   string
	paneExists func(pane string) bool

	spin   spinner.Model
	theme  dashTheme
	rows   []dashRow
	events []eventlog.Event
	loaded bool
	err    error
	width  int
}

// newDashModel builds the dashboard model. paneExists may be nil to skip
// liveness probes (tests); eventsDB may be empty to hide the event feed.
func newDashModel(cfg *config.Config, statePath, eventsDB string, paneExists func(pane string) bool) dashModel {
	theme := defaultDashTheme()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Primary)
	return dashModel{
		cfg:        cfg,
		statePath:  statePath,
		eventsDB:   eventsDB,
		paneExists: paneExists,
		spin:       sp,
		theme:      theme,
	}
}

// dashTickCmd schedules the next refresh.
func dashTickCmd() tea.Cmd {
	return tea.Tick(dashRefresh, func(t time.Time) tea.Msg {
		return dashTickMsg(t)
	})
}

// fetchRowsCmd loads state and probes panes off the UI goroutine.
func (m dashModel) fetchRowsCmd() tea.Cmd {
	return func() tea.Msg {
		st, err := loadSavedState(m.statePath)
		if err != nil {
			return dashErrMsg{err}
		}
		return dashRowsMsg(buildDashRows(m.cfg, st, m.paneExists))
	}
}

// fetchEventsCmd loads the newest dispatcher events for the feed.
func (m dashModel) fetchEventsCmd() tea.Cmd {
	if m.eventsDB == "" {
		return nil
	}
	return func() tea.Msg {
		r, err := eventlog.NewReader(m.eventsDB)
		if err != nil {
			return dashEventsMsg(nil)
		}
		defer func() { _ = r.Close() }()
		events, err := r.Query(context.Background(), eventlog.QueryOpts{Limit: 5})
		if err != nil {
			return dashEventsMsg(nil)
		}
		return dashEventsMsg(events)
	}
}

// buildDashRows merges config, saved state, and pane liveness.
func buildDashRows(cfg *config.Config, st *savedState, paneExists func(pane string) bool) []dashRow {
	ids := make([]string, 0, len(cfg.Agents))
	for id := range cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]dashRow, 0, len(ids))
	for _, id := range ids {
		ac := cfg.Agents[id]
		sa := st.Agents[id]
		row := dashRow{
			ID:       id,
			Name:     ac.Name,
			Pane:     ac.PaneID,
			PaneLive: paneExists == nil || paneExists(ac.PaneID),
			Circuit:  sa.CircuitState,
			Queue:    len(sa.TaskQueue),
			Auto:     sa.AutoEnabled,
			Awaiting: sa.AwaitingDoneReport,
		}
		if ts, ok := sa.lastDone(); ok {
			row.LastDone = ts.Format("15:04:05")
		}
		rows = append(rows, row)
	}
	return rows
}

// Init implements tea.Model.
func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.fetchRowsCmd(), m.fetchEventsCmd(), dashTickCmd())
}

// Update implements tea.Model.
func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(m.fetchRowsCmd(), m.fetchEventsCmd())
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case dashTickMsg:
		return m, tea.Batch(m.fetchRowsCmd(), m.fetchEventsCmd(), dashTickCmd())
	case dashRowsMsg:
		m.rows = msg
		m.loaded = true
		m.err = nil
	case dashEventsMsg:
		m.events = msg
	case dashErrMsg:
		m.err = msg.err
		m.loaded = true
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// dashColWidths are the fixed table column widths.
var dashColWidths = []int{6, 16, 8, 6, 9, 5, 5, 10}

// View implements tea.Model.
func (m dashModel) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary).Render("council")
	help := lipgloss.NewStyle().Foreground(m.theme.Muted).Render("q quit · r refresh")

	var body string
	switch {
	case m.err != nil:
		body = lipgloss.NewStyle().Foreground(m.theme.Error).Render("state: " + m.err.Error())
	case !m.loaded:
		body = m.spin.View() + " loading state..."
	default:
		body = m.renderTable()
		if feed := m.renderEvents(); feed != "" {
			body += "\n" + feed
		}
	}

	return title + "\n\n" + body + "\n\n" + help + "\n"
}

// renderEvents renders the recent-events feed, newest first.
func (m dashModel) renderEvents() string {
	if len(m.events) == 0 {
		return ""
	}
	muted := lipgloss.NewStyle().Foreground(m.theme.Muted)
	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary).Render("Recent events"))
	sb.WriteString("\n")
	for _, e := range m.events {
		line := fmt.Sprintf("%s agent=%s %s", e.CreatedAt.Format("15:04:05"), e.AgentID, e.CmdType)
		if e.Error != "" {
			line += " error=" + e.Error
		}
		sb.WriteString(muted.Render(line))
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderTable renders the agent table with headers and rows.
func (m dashModel) renderTable() string {
	headers := []string{"Agent", "Name", "Pane", "Live", "Circuit", "Q", "Auto", "Last done"}

	var sb strings.Builder
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary)
	parts := make([]string, 0, len(headers))
	for i, h := range headers {
		parts = append(parts, headerStyle.Width(dashColWidths[i]).Render(h))
	}
	sb.WriteString(strings.Join(parts, " "))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", 72))
	sb.WriteString("\n")

	for _, row := range m.rows {
		sb.WriteString(m.renderRow(row))
		sb.WriteString("\n")
	}
	if len(m.rows) == 0 {
		sb.WriteString(lipgloss.NewStyle().Foreground(m.theme.Muted).Render("no agents configured"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderRow renders one agent line.
func (m dashModel) renderRow(row dashRow) string {
	live := lipgloss.NewStyle().Foreground(m.theme.Success).Render("yes")
	if !row.PaneLive {
		live = lipgloss.NewStyle().Foreground(m.theme.Error).Render("no")
	}

	circuit := row.Circuit
	if circuit == "" {
		circuit = "closed"
	}
	if circuit == "open" {
		circuit = lipgloss.NewStyle().Foreground(m.theme.Error).Bold(true).Render("OPEN")
	}

	auto := "-"
	if row.Auto {
		auto = lipgloss.NewStyle().Foreground(m.theme.Warning).Render("on")
	}

	lastDone := row.LastDone
	if row.Awaiting {
		lastDone = lipgloss.NewStyle().Foreground(m.theme.Warning).Render("awaiting")
	}
	if lastDone == "" {
		lastDone = "-"
	}

	cells := []string{
		row.ID,
		truncateCell(row.Name, dashColWidths[1]),
		row.Pane,
		live,
		circuit,
		fmt.Sprintf("%d", row.Queue),
		auto,
		lastDone,
	}
	cell := lipgloss.NewStyle()
	parts := make([]string, 0, len(cells))
	for i, c := range cells {
		parts = append(parts, cell.Width(dashColWidths[i]).Render(c))
	}
	return strings.Join(parts, " ")
}

// truncateCell clips a cell value to the column width.
func truncateCell(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 1 {
		return s[:width]
	}
	return s[:width-1] + "…"
}
