package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoCapacity is returned when no idle, healthy agent can take the task.
	ErrNoCapacity = errors.New("no idle agents available")
	// ErrEmptyTask is returned when a task has no units.
	ErrEmptyTask = errors.New("task has no units")
	// ErrUnknownDependency is returned when a unit depends on a unit that does not exist.
	ErrUnknownDependency = errors.New("unknown unit dependency")
	// ErrDependencyCycle is returned when unit dependencies form a cycle.
	ErrDependencyCycle = errors.New("circular unit dependency")
	// ErrTaskCancelled marks units failed by CancelTask.
	ErrTaskCancelled = errors.New("cancelled")
	// ErrUnitSkipped marks units dropped after an earlier unit on the same agent failed.
	ErrUnitSkipped = errors.New("skipped")
	// ErrDependencyFailed marks units whose dependency did not complete.
	ErrDependencyFailed = errors.New("dependency failed")
)

// TaskError reports every failed unit of a task. The task record still
// carries results for the units that completed.
type TaskError struct {
	TaskID string
	// Failed maps unit IDs to their failure.
	Failed map[string]error
}

func (e *TaskError) unitIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *TaskError) Error() string {
	ids := e.unitIDs()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("task %s failed (%d units): %s", e.TaskID, len(ids), strings.Join(parts, "; "))
}

// Unwrap exposes the unit errors to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	ids := e.unitIDs()
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, e.Failed[id])
	}
	return errs
}
