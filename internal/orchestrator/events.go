package orchestrator

import "time"

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskSubmitted indicates a task was registered.
	EventTaskSubmitted EventType = "task_submitted"
	// EventTaskStarted indicates units were assigned and execution began.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates every unit completed.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates at least one unit failed or no agent was available.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates the task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventUnitStarted indicates a unit was dispatched to its agent.
	EventUnitStarted EventType = "unit_started"
	// EventUnitCompleted indicates a unit finished successfully.
	EventUnitCompleted EventType = "unit_completed"
	// EventUnitFailed indicates a unit failed or was skipped.
	EventUnitFailed EventType = "unit_failed"
)

// Event is a task or unit status change. Events are informational; the
// query methods remain the source of truth.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task.
	TaskID string
	// UnitID is the ID of the related unit, if any.
	UnitID string
	// AgentID is the ID of the related agent, if any.
	AgentID string
	// Message provides additional context.
	Message string
	// Error contains failure details.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
