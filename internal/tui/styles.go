package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/fleet/internal/recovery"
	"github.com/ShayCichocki/fleet/internal/telemetry"
	"github.com/ShayCichocki/fleet/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("63")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252"))

	focusedSectionStyle = sectionStyle.
				Foreground(lipgloss.Color("63")).
				Underline(true)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("34")) // Green

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Orange

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)
)

// tableStyles returns the agents table styling.
func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	return s
}

// severityStyle colors an alert by severity.
func severityStyle(s telemetry.Severity) lipgloss.Style {
	switch s {
	case telemetry.SeverityCritical:
		return errorStyle
	case telemetry.SeverityHigh:
		return warnStyle
	case telemetry.SeverityMedium:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	default:
		return mutedStyle
	}
}

// stateLabel renders an agent state with its recovery state when not healthy.
func stateLabel(state models.AgentState, rs recovery.State) string {
	if rs != "" && rs != recovery.StateHealthy {
		return string(state) + "/" + string(rs)
	}
	return string(state)
}
