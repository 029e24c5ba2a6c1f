package models

import "time"

// AgentState represents the liveness state of an agent.
type AgentState string

const (
	// AgentIdle indicates the agent can accept work.
	AgentIdle AgentState = "idle"
	// AgentBusy indicates the agent is running a command.
	AgentBusy AgentState = "busy"
	// AgentError indicates the agent is unusable.
	AgentError AgentState = "error"
)

// Valid returns true if the state is a known value.
func (s AgentState) Valid() bool {
	switch s {
	case AgentIdle, AgentBusy, AgentError:
		return true
	default:
		return false
	}
}

// AgentSnapshot is a point-in-time view of an agent.
// Snapshots are never cached beyond one scheduling pass.
type AgentSnapshot struct {
	// ID is the unique identifier of the agent.
	ID string `json:"id"`
	// Name is the human-readable agent name.
	Name string `json:"name,omitempty"`
	// State is the agent's liveness state.
	State AgentState `json:"state"`
	// LastActive is when the agent last showed activity.
	LastActive time.Time `json:"last_active"`
}
