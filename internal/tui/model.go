package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

// DefaultRefresh is the polling interval used when none is given.
const DefaultRefresh = time.Second

// fetchTimeout bounds a single Snapshot call.
const fetchTimeout = 5 * time.Second

// maxAlerts is how many recent alerts the alerts pane shows.
const maxAlerts = 8

// Approver is recorded as the approver for approvals made from the monitor.
const Approver = "monitor"

// focus names the pane that receives navigation keys.
type focus int

const (
	focusAgents focus = iota
	focusApprovals
)

// tickMsg triggers a refresh.
type tickMsg time.Time

// snapshotMsg carries the result of a Snapshot call.
type snapshotMsg struct {
	snap Snapshot
	err  error
}

// actionMsg carries the result of an approve or reject.
type actionMsg struct {
	verb string
	id   string
	err  error
}

type keyMap struct {
	Quit    key.Binding
	Tab     key.Binding
	Up      key.Binding
	Down    key.Binding
	Approve key.Binding
	Reject  key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Tab:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Approve: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
	Reject:  key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reject")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
}

// Model is the bubbletea model for the fleet monitor.
type Model struct {
	source  Source
	refresh time.Duration

	agents  table.Model
	spinner spinner.Model

	snap     Snapshot
	loaded   bool
	fetching bool
	err      error
	status   string

	focus  focus
	cursor int

	width  int
	height int
}

// New creates a monitor polling source every refresh.
func New(source Source, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}

	t := table.New(
		table.WithColumns(agentColumns()),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(tableStyles())

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = warnStyle

	return Model{
		source:   source,
		refresh:  refresh,
		agents:   t,
		spinner:  s,
		fetching: true,
	}
}

func agentColumns() []table.Column {
	return []table.Column{
		{Title: "Agent", Width: 16},
		{Title: "State", Width: 20},
		{Title: "CPU%", Width: 7},
		{Title: "Mem MB", Width: 8},
		{Title: "Resp ms", Width: 8},
		{Title: "Cmds", Width: 6},
		{Title: "Errs", Width: 6},
	}
}

// Init starts the spinner and the first fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) fetch() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		snap, err := source.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) approve(id string) tea.Cmd {
	source := m.source
	return func() tea.Msg {
		return actionMsg{verb: "approved", id: id, err: source.Approve(id)}
	}
}

func (m Model) reject(id string) tea.Cmd {
	source := m.source
	return func() tea.Msg {
		return actionMsg{verb: "rejected", id: id, err: source.Reject(id, "rejected from monitor")}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.agents.SetWidth(msg.Width - 4)
		if h := msg.Height / 3; h > 3 {
			m.agents.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if m.fetching {
			return m, m.tick()
		}
		m.fetching = true
		return m, m.fetch()

	case snapshotMsg:
		m.fetching = false
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.loaded = true
			m.agents.SetRows(agentRows(msg.snap.Agents))
			m.clampCursor()
		}
		return m, m.tick()

	case actionMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s %s failed: %v", msg.verb, msg.id, msg.err)
		} else {
			m.status = fmt.Sprintf("%s %s", msg.verb, msg.id)
		}
		if m.fetching {
			return m, nil
		}
		m.fetching = true
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Tab):
		if m.focus == focusAgents {
			m.focus = focusApprovals
			m.agents.Blur()
		} else {
			m.focus = focusAgents
			m.agents.Focus()
		}
		return m, nil

	case key.Matches(msg, keys.Refresh):
		if m.fetching {
			return m, nil
		}
		m.fetching = true
		return m, m.fetch()
	}

	if m.focus == focusAgents {
		var cmd tea.Cmd
		m.agents, cmd = m.agents.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.snap.Approvals)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Approve):
		if id, ok := m.selectedApproval(); ok {
			return m, m.approve(id)
		}
	case key.Matches(msg, keys.Reject):
		if id, ok := m.selectedApproval(); ok {
			return m, m.reject(id)
		}
	}
	return m, nil
}

func (m Model) selectedApproval() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Approvals) {
		return "", false
	}
	return m.snap.Approvals[m.cursor].ID, true
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.snap.Approvals) {
		m.cursor = len(m.snap.Approvals) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func agentRows(agents []AgentRow) []table.Row {
	rows := make([]table.Row, 0, len(agents))
	for _, a := range agents {
		name := a.Agent.ID
		if a.Agent.Name != "" && a.Agent.Name != a.Agent.ID {
			name = a.Agent.Name
		}
		row := table.Row{name, stateLabel(a.Agent.State, a.Recovery), "-", "-", "-", "-", "-"}
		if s := a.Sample; s != nil {
			row[2] = fmt.Sprintf("%.1f", s.CPU)
			row[3] = fmt.Sprintf("%.0f", s.MemoryMB)
			row[4] = fmt.Sprintf("%d", s.ResponseTimeMs)
			row[5] = fmt.Sprintf("%d", s.CommandCount)
			row[6] = fmt.Sprintf("%d", s.ErrorCount)
		}
		rows = append(rows, row)
	}
	return rows
}
