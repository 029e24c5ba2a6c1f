package models

import (
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been created but not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates units of the task are being executed.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates every unit completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed or was cancelled.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true once the task can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// UnitStatus represents the current state of a unit.
type UnitStatus string

const (
	// UnitStatusPending indicates the unit has not been assigned.
	UnitStatusPending UnitStatus = "pending"
	// UnitStatusAssigned indicates the unit is queued on an agent.
	UnitStatusAssigned UnitStatus = "assigned"
	// UnitStatusInProgress indicates the unit has been dispatched to its agent.
	UnitStatusInProgress UnitStatus = "in_progress"
	// UnitStatusCompleted indicates the unit finished successfully.
	UnitStatusCompleted UnitStatus = "completed"
	// UnitStatusFailed indicates the unit failed, was skipped, or was cancelled.
	UnitStatusFailed UnitStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitStatusPending, UnitStatusAssigned, UnitStatusInProgress,
		UnitStatusCompleted, UnitStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true once the unit can no longer change.
func (s UnitStatus) Terminal() bool {
	return s == UnitStatusCompleted || s == UnitStatusFailed
}

// Unit is one independently dispatchable piece of a decomposed task.
type Unit struct {
	// ID is derived from the parent task ID and the ordinal.
	ID string `json:"id"`
	// TaskID is the ID of the parent task.
	TaskID string `json:"task_id"`
	// Ordinal is the position of the unit within its task.
	Ordinal int `json:"ordinal"`
	// AssignedAgent is the ID of the agent the unit was assigned to.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// Prompt is the text sent to the agent.
	Prompt string `json:"prompt"`
	// DependsOn lists unit IDs that must complete before this unit starts.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the unit.
	Status UnitStatus `json:"status"`
	// Result holds the agent output for a completed unit.
	Result string `json:"result,omitempty"`
	// Error contains the failure reason for a failed unit.
	Error string `json:"error,omitempty"`
	// Attempts is the number of times the unit was dispatched.
	Attempts int `json:"attempts,omitempty"`
}

// UnitID returns the unit identifier for the given task and ordinal.
func UnitID(taskID string, ordinal int) string {
	return fmt.Sprintf("%s-u%d", taskID, ordinal)
}

// Task is a unit of orchestrated work, decomposed into units.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// MainPrompt is the prompt the task was submitted with.
	MainPrompt string `json:"main_prompt"`
	// Units are the independently assignable pieces of the task.
	Units []*Unit `json:"units"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Results maps unit IDs to the output of completed units.
	Results map[string]string `json:"results"`
}

// Unit returns the unit with the given ID, or nil.
func (t *Task) Unit(id string) *Unit {
	for _, u := range t.Units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// Counts returns the number of units in each status.
func (t *Task) Counts() map[UnitStatus]int {
	counts := make(map[UnitStatus]int)
	for _, u := range t.Units {
		counts[u.Status]++
	}
	return counts
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Units = make([]*Unit, len(t.Units))
	for i, u := range t.Units {
		uc := *u
		uc.DependsOn = append([]string(nil), u.DependsOn...)
		c.Units[i] = &uc
	}
	c.Results = make(map[string]string, len(t.Results))
	for k, v := range t.Results {
		c.Results[k] = v
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
