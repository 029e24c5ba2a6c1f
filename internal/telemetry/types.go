// Package telemetry samples agent resource usage, keeps bounded history, and
// raises threshold alerts.
package telemetry

import (
	"fmt"
	"time"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertType names the metric an alert fired on.
type AlertType string

const (
	AlertCPU          AlertType = "cpu"
	AlertMemory       AlertType = "memory"
	AlertResponseTime AlertType = "response_time"
	AlertSystemCPU    AlertType = "system_cpu"
	AlertSystemMemory AlertType = "system_memory"
	AlertErrorRate    AlertType = "error_rate"
)

// PerformanceSample is one agent's metrics at one tick.
type PerformanceSample struct {
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id"`
	// CPU is the summed cpu percentage of the agent's processes.
	CPU float64 `json:"cpu"`
	// MemoryMB is the summed resident memory of the agent's processes.
	MemoryMB float64 `json:"memory_mb"`
	// ResponseTimeMs is the time since the agent's last recorded command, or 0.
	ResponseTimeMs int64 `json:"response_time_ms"`
	CommandCount   int64 `json:"command_count"`
	ErrorCount     int64 `json:"error_count"`
	// Healthy is true when cpu and memory are both under the agent thresholds.
	Healthy bool `json:"healthy"`
}

// SystemSample aggregates all agents at one tick.
type SystemSample struct {
	Timestamp    time.Time `json:"timestamp"`
	AgentCount   int       `json:"agent_count"`
	ActiveAgents int       `json:"active_agents"`
	TotalCPU     float64   `json:"total_cpu"`
	TotalMemory  float64   `json:"total_memory_mb"`
	// AvgResponseTimeMs is the mean response time over active agents.
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	// CommandsPerMinute is derived from counter deltas since the previous tick.
	CommandsPerMinute float64 `json:"commands_per_minute"`
	// ErrorRate is errors per command since the previous tick, in percent.
	ErrorRate     float64 `json:"error_rate"`
	TotalCommands int64   `json:"total_commands"`
	TotalErrors   int64   `json:"total_errors"`
}

// Alert is a threshold breach.
type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	AgentID   string    `json:"agent_id,omitempty"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

// Thresholds configure alerting. A non-positive value disables that check.
type Thresholds struct {
	// AgentCPU is the per-agent cpu percentage limit.
	AgentCPU float64
	// AgentMemoryMB is the per-agent memory limit.
	AgentMemoryMB float64
	// AgentResponseTime is the longest an agent may go without a command.
	AgentResponseTime time.Duration
	// SystemCPU is the limit on total cpu across agents.
	SystemCPU float64
	// SystemMemoryMB is the limit on total memory across agents.
	SystemMemoryMB float64
	// ErrorRate is the error percentage limit.
	ErrorRate float64
}

// DefaultThresholds returns the built-in thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AgentCPU:          80,
		AgentMemoryMB:     1024,
		AgentResponseTime: 5 * time.Minute,
		SystemCPU:         400,
		SystemMemoryMB:    8192,
		ErrorRate:         10,
	}
}

// Validate rejects negative thresholds.
func (t Thresholds) Validate() error {
	switch {
	case t.AgentCPU < 0:
		return fmt.Errorf("agent cpu threshold must not be negative")
	case t.AgentMemoryMB < 0:
		return fmt.Errorf("agent memory threshold must not be negative")
	case t.AgentResponseTime < 0:
		return fmt.Errorf("agent response time threshold must not be negative")
	case t.SystemCPU < 0:
		return fmt.Errorf("system cpu threshold must not be negative")
	case t.SystemMemoryMB < 0:
		return fmt.Errorf("system memory threshold must not be negative")
	case t.ErrorRate < 0:
		return fmt.Errorf("error rate threshold must not be negative")
	}
	return nil
}

// Config configures a Monitor.
type Config struct {
	// Interval is the sampling cadence.
	Interval time.Duration
	// Retention bounds each agent's history and the system history.
	Retention int
	// AlertCapacity bounds the alert log.
	AlertCapacity int
	// Thresholds are the initial alert thresholds.
	Thresholds Thresholds
}

// DefaultConfig returns a 5s cadence with one hour of history.
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Second,
		Retention:     720,
		AlertCapacity: 1000,
		Thresholds:    DefaultThresholds(),
	}
}
