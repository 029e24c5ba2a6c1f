// Package host defines the contract toward the agent host: the mechanism that
// enumerates, creates and destroys agents, sends text into one and reads its
// output back.
//
// The orchestration core only talks to agents through Host. The tmux
// implementation in this package runs every agent in its own tmux session.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/fleet/pkg/models"
)

// Common errors returned by Host implementations.
var (
	// ErrHostUnavailable marks a transient host failure. Every error returned
	// by a Host matches it under errors.Is.
	ErrHostUnavailable = errors.New("host unavailable")

	// ErrAgentNotFound is returned when an agent ID does not resolve.
	ErrAgentNotFound = errors.New("agent not found")
)

// Error describes a failed host call.
type Error struct {
	Op      string
	AgentID string
	Err     error
}

func (e *Error) Error() string {
	if e.AgentID == "" {
		return fmt.Sprintf("host %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("host %s %s: %v", e.Op, e.AgentID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports every host error as ErrHostUnavailable.
func (e *Error) Is(target error) bool {
	return target == ErrHostUnavailable
}

// Unavailable wraps err as a host failure for the given operation.
func Unavailable(op, agentID string, err error) error {
	if err == nil {
		err = ErrHostUnavailable
	}
	return &Error{Op: op, AgentID: agentID, Err: err}
}

// CreateConfig holds the settings for a new agent.
type CreateConfig struct {
	// Name is the agent name. The host derives the agent ID from it.
	Name string
	// WorkDir is the working directory of the agent's shell.
	WorkDir string
	// Command is run in the new session instead of the default shell.
	Command string
	// Width and Height set the terminal size (defaults 200x50).
	Width  int
	Height int
}

// Host is the agent host contract. All calls may fail with an error matching
// ErrHostUnavailable; callers must not assume success.
type Host interface {
	// List returns a snapshot of every agent the host knows about.
	List(ctx context.Context) ([]models.AgentSnapshot, error)
	// Create starts a new agent.
	Create(ctx context.Context, cfg CreateConfig) (models.AgentSnapshot, error)
	// Execute sends a command line into the agent.
	Execute(ctx context.Context, agentID, command string) error
	// ReadOutput returns the last lines of the agent's output.
	ReadOutput(ctx context.Context, agentID string, lines int) (string, error)
	// Close destroys the agent.
	Close(ctx context.Context, agentID string) error
}

// Interrupter is implemented by hosts that can interrupt a running command.
type Interrupter interface {
	Interrupt(ctx context.Context, agentID string) error
}

// Restarter is implemented by hosts that can hard-stop and reset an agent in
// place, keeping its ID.
type Restarter interface {
	Restart(ctx context.Context, agentID string) error
}

// ProcessStats is the resource usage of an agent's process tree.
type ProcessStats struct {
	// CPU is the summed CPU percentage of the agent's processes.
	CPU float64
	// MemoryMB is the summed resident memory in megabytes.
	MemoryMB float64
	// Processes is the number of processes counted.
	Processes int
}

// StatsSource is implemented by hosts that can report per-agent resource usage.
type StatsSource interface {
	Stats(ctx context.Context, agentID string) (ProcessStats, error)
}
