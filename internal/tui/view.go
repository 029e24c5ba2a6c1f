package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the monitor.
func (m Model) View() string {
	var b strings.Builder

	header := titleStyle.Render("fleet monitor")
	if m.fetching {
		header += " " + m.spinner.View()
	}
	if m.loaded {
		header += " " + mutedStyle.Render(m.snap.TakenAt.Format("15:04:05"))
	}
	b.WriteString(header)
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("refresh failed: " + m.err.Error()))
		b.WriteString("\n")
	}
	if !m.loaded {
		b.WriteString(mutedStyle.Render("waiting for first snapshot..."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.renderSystem())
	b.WriteString("\n\n")

	b.WriteString(m.sectionTitle("Agents", m.focus == focusAgents))
	b.WriteString("\n")
	b.WriteString(borderStyle.Render(m.agents.View()))
	b.WriteString("\n")

	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderApprovals(),
		"  ",
		m.renderAlerts(),
	)
	b.WriteString(panes)
	b.WriteString("\n")

	if len(m.snap.ActiveTasks) > 0 {
		b.WriteString(m.renderTasks())
		b.WriteString("\n")
	}
	if len(m.snap.Suggestions) > 0 {
		b.WriteString(sectionStyle.Render("Suggestions"))
		b.WriteString("\n")
		for _, s := range m.snap.Suggestions {
			b.WriteString(hintStyle.Render("  • " + s))
			b.WriteString("\n")
		}
	}

	if m.status != "" {
		b.WriteString(mutedStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(hintStyle.Render("tab switch pane · ↑/↓ move · a approve · x reject · r refresh · q quit"))
	return b.String()
}

func (m Model) sectionTitle(title string, focused bool) string {
	if focused {
		return focusedSectionStyle.Render(title)
	}
	return sectionStyle.Render(title)
}

func (m Model) renderSystem() string {
	s := m.snap.System
	if s == nil {
		return mutedStyle.Render("no system sample yet")
	}
	errStyle := okStyle
	if s.ErrorRate > 0 {
		errStyle = warnStyle
	}
	return fmt.Sprintf("agents %d/%d active · cpu %.1f%% · mem %.0f MB · avg resp %.0f ms · %.1f cmd/min · %s",
		s.ActiveAgents, s.AgentCount, s.TotalCPU, s.TotalMemory,
		s.AvgResponseTimeMs, s.CommandsPerMinute,
		errStyle.Render(fmt.Sprintf("errors %.1f%%", s.ErrorRate*100)))
}

func (m Model) renderApprovals() string {
	var b strings.Builder
	b.WriteString(m.sectionTitle(fmt.Sprintf("Approvals (%d)", len(m.snap.Approvals)), m.focus == focusApprovals))
	b.WriteString("\n")
	if len(m.snap.Approvals) == 0 {
		b.WriteString(mutedStyle.Render("  none pending"))
		return b.String()
	}
	for i, a := range m.snap.Approvals {
		line := fmt.Sprintf("%s  %s  %s", a.AgentID, a.Tier, truncate(a.Command, 40))
		if m.focus == focusApprovals && i == m.cursor {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderAlerts() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Alerts"))
	b.WriteString("\n")
	alerts := m.snap.Alerts
	if len(alerts) == 0 {
		b.WriteString(okStyle.Render("  all clear"))
		return b.String()
	}
	if len(alerts) > maxAlerts {
		alerts = alerts[len(alerts)-maxAlerts:]
	}
	for i := len(alerts) - 1; i >= 0; i-- {
		a := alerts[i]
		line := fmt.Sprintf("%s [%s] %s", a.Timestamp.Format("15:04:05"), a.Severity, a.Message)
		b.WriteString("  " + severityStyle(a.Severity).Render(truncate(line, 60)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderTasks() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Active tasks"))
	b.WriteString("\n")
	for _, t := range m.snap.ActiveTasks {
		counts := t.Counts()
		done := 0
		for status, n := range counts {
			if status.Terminal() {
				done += n
			}
		}
		b.WriteString(fmt.Sprintf("  %s  %s  %d/%d units  %s\n",
			t.ID, t.Status, done, len(t.Units), truncate(t.MainPrompt, 40)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
