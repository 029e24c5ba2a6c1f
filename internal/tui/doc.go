// Package tui provides the live monitor for fleet.
//
// The monitor polls a Source on a fixed interval and shows:
//   - every agent with its state, latest resource sample, and recovery state
//   - the latest system sample and optimization hints
//   - pending approvals, which can be approved or rejected in place
//   - the most recent alerts, colored by severity
//
// Usage:
//
//	model := tui.New(source, time.Second)
//	program := tea.NewProgram(model, tea.WithAltScreen())
//	_, err := program.Run()
//
// Keys: tab switches between the agents table and the approvals list,
// a approves the selected approval, x rejects it, r refreshes, q quits.
package tui
