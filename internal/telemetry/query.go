package telemetry

import "fmt"

// History returns an agent's samples, oldest first.
func (m *Monitor) History(agentID string) []PerformanceSample {
	m.mu.RLock()
	buf, ok := m.history[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.Items()
}

// Latest returns an agent's most recent sample.
func (m *Monitor) Latest(agentID string) (PerformanceSample, bool) {
	m.mu.RLock()
	buf, ok := m.history[agentID]
	m.mu.RUnlock()
	if !ok {
		return PerformanceSample{}, false
	}
	return buf.Last()
}

// SystemHistory returns system samples, oldest first.
func (m *Monitor) SystemHistory() []SystemSample {
	return m.system.Items()
}

// LatestSystem returns the most recent system sample.
func (m *Monitor) LatestSystem() (SystemSample, bool) {
	return m.system.Last()
}

// Alerts returns the alert log, oldest first.
func (m *Monitor) Alerts() []Alert {
	return m.alerts.Items()
}

// IsHealthy reports the agent's latest health. Agents never sampled count as healthy.
func (m *Monitor) IsHealthy(agentID string) bool {
	s, ok := m.Latest(agentID)
	return !ok || s.Healthy
}

// Counters returns the command and error totals recorded for an agent.
func (m *Monitor) Counters(agentID string) (commands, errors int64) {
	m.countMu.Lock()
	defer m.countMu.Unlock()
	if c, ok := m.counts[agentID]; ok {
		return c.commands, c.errors
	}
	return 0, 0
}

// OptimizationSuggestions derives advisory hints from the latest system
// sample. It never changes state. It returns nil when nothing stands out.
func (m *Monitor) OptimizationSuggestions() []string {
	sys, ok := m.LatestSystem()
	if !ok {
		return nil
	}
	return Suggest(sys, m.Thresholds())
}

// Suggest is the pure form of OptimizationSuggestions.
func Suggest(sys SystemSample, th Thresholds) []string {
	var out []string

	if th.SystemCPU > 0 && sys.TotalCPU > 0.8*th.SystemCPU && sys.AgentCount > 1 {
		out = append(out, fmt.Sprintf(
			"reduce concurrency: total cpu %.1f%% across %d agents is near the %.0f%% limit",
			sys.TotalCPU, sys.AgentCount, th.SystemCPU))
	}
	if th.SystemMemoryMB > 0 && sys.TotalMemory > 0.8*th.SystemMemoryMB {
		out = append(out, fmt.Sprintf(
			"memory pressure: %.0fMB in use of %.0fMB; close idle agents",
			sys.TotalMemory, th.SystemMemoryMB))
	}
	if th.ErrorRate > 0 && sys.ErrorRate > th.ErrorRate/2 {
		out = append(out, fmt.Sprintf(
			"error rate %.1f%% is rising; review failing commands before adding work",
			sys.ErrorRate))
	}
	if limit := float64(th.AgentResponseTime.Milliseconds()); limit > 0 && sys.AvgResponseTimeMs > limit {
		out = append(out, fmt.Sprintf(
			"agents average %.0fms since their last command; split work into smaller units",
			sys.AvgResponseTimeMs))
	}
	if down := sys.AgentCount - sys.ActiveAgents; down > 0 {
		out = append(out, fmt.Sprintf("%d agent(s) in error state; run recovery", down))
	}
	return out
}
