// Package tui implements the terminal monitor for a running threaddispatch pool.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/threaddispatch/internal/api"
	"github.com/mattjoyce/threaddispatch/internal/events"
)

const (
	maxJobRows   = 200
	maxEventRows = 50
)

// Job states shown in the table.
const (
	stateQueued   = "queued"
	stateRunning  = "running"
	stateFinished = "finished"
	statePanicked = "panicked"
)

type jobRow struct {
	ID      uint64
	State   string
	Elapsed time.Duration
	Error   string
}

// Model is the bubbletea model for the monitor.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health    api.HealthzResponse
	connected bool
	lastError string

	jobs     map[uint64]*jobRow
	order    []uint64 // newest first
	eventLog []events.Event
	failed   int
	lastID   int64

	jobTable    table.Model
	utilization progress.Model
	activity    *Activity
	theme       Theme

	hubEvents chan events.Event
}

// NewMonitor returns a monitor for the API at apiURL.
func NewMonitor(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Job", Width: 10},
			{Title: "State", Width: 10},
			{Title: "Elapsed", Width: 10},
			{Title: "Error", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
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

	return &Model{
		apiURL:      strings.TrimRight(apiURL, "/"),
		apiKey:      apiKey,
		jobs:        make(map[uint64]*jobRow),
		hubEvents:   make(chan events.Event, 100),
		jobTable:    t,
		utilization: progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		activity:    NewActivity(30),
		theme:       NewTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		streamEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		nextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobTable.SetWidth(m.width - 6)
		m.jobTable.SetHeight(max(5, m.height/2))

	case tickMsg:
		m.activity.Advance()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.connected = true
		m.lastError = ""
		return m, nextEvent(m.hubEvents)

	case healthMsg:
		m.health = api.HealthzResponse(msg)
		m.connected = true
		m.lastError = ""
		return m, tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case streamClosedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, streamEvents(m.apiURL, m.apiKey, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventRows {
		m.eventLog = m.eventLog[:maxEventRows]
	}
	m.activity.Record()
	if e.ID > m.lastID {
		m.lastID = e.ID
	}

	var data events.JobEvent
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return
	}

	row, ok := m.jobs[data.JobID]
	if !ok {
		row = &jobRow{ID: data.JobID}
		m.jobs[data.JobID] = row
		m.order = append([]uint64{data.JobID}, m.order...)
		if len(m.order) > maxJobRows {
			for _, id := range m.order[maxJobRows:] {
				delete(m.jobs, id)
			}
			m.order = m.order[:maxJobRows]
		}
	}

	switch e.Type {
	case events.TypeJobDispatched:
		if row.State == "" {
			row.State = stateQueued
		}
	case events.TypeJobStarted:
		row.State = stateRunning
	case events.TypeJobFinished:
		row.State = stateFinished
		row.Elapsed = time.Duration(data.ElapsedMS) * time.Millisecond
	case events.TypeJobFailed:
		row.State = statePanicked
		row.Elapsed = time.Duration(data.ElapsedMS) * time.Millisecond
		row.Error = data.Error
		m.failed++
	}

	m.updateTable()
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.order))
	for _, id := range m.order {
		rows = append(rows, m.jobToRow(m.jobs[id]))
	}
	m.jobTable.SetRows(rows)
}

func (m *Model) jobToRow(j *jobRow) table.Row {
	elapsed := "-"
	if j.State == stateFinished || j.State == statePanicked {
		elapsed = j.Elapsed.String()
	}

	return table.Row{m.theme.Glyph(j.State), fmt.Sprint(j.ID), j.State, elapsed, j.Error}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	jobs := m.theme.Frame.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Heading.Render("Jobs"),
			m.jobTable.View(),
		),
	)

	eventsView := m.theme.Frame.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Heading.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	parts := []string{m.renderHeader(), jobs, eventsView}
	if m.lastError != "" {
		parts = append(parts, m.theme.Alert.Render(" ! "+m.lastError))
	}
	parts = append(parts, m.theme.Muted.Render(" q quit   ↑/↓ scroll jobs"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	status := m.theme.Good.Render("RUNNING")
	switch {
	case !m.connected:
		status = m.theme.Alert.Render("CONNECTING")
	case m.health.Status != "ok" && m.health.Status != "":
		status = m.theme.Alert.Render("DEGRADED")
	}

	p := m.health.Pool
	uptime := time.Duration(m.health.UptimeSeconds) * time.Second

	runID := m.health.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}

	busy := 0.0
	if p.Workers > 0 {
		busy = float64(min(p.InProgress, p.Workers)) / float64(p.Workers)
	}

	title := fmt.Sprintf("%s  %s  run %s  up %s",
		m.theme.Heading.Render("THREADDISPATCH"), status, runID, uptime)
	pool := fmt.Sprintf("workers %d  %s  queued %d  in-progress %d  finished %d",
		p.Workers, m.utilization.ViewAs(busy), p.Queued, p.InProgress, p.Finished)
	totals := fmt.Sprintf("dispatched %d  completed %d  panicked %d  (seen %d failed)",
		p.Dispatched, p.Completed, p.Panicked, m.failed)
	activity := fmt.Sprintf("events/s %s %s",
		m.theme.Accent.Render(m.activity.Sparkline()), m.theme.Muted.Render(fmt.Sprintf("%.1f avg", m.activity.Rate())))

	return m.theme.Frame.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, pool, totals, activity),
	)
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s  #%-6d %-14s %s",
			m.theme.Muted.Render(e.At.Format("15:04:05")), e.ID, e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return m.theme.Muted.Render("no events yet")
	}
	return strings.Join(lines, "\n")
}
