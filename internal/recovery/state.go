// Package recovery health-checks agents and drives bounded interrupt and
// restart attempts, terminating agents that never come back.
package recovery

// State is an agent's position in the recovery state machine.
type State string

const (
	StateHealthy    State = "healthy"
	StateDegraded   State = "degraded"
	StateRecovering State = "recovering"
	StateTerminated State = "terminated"
)

// Terminated agents have no outgoing transitions. A recovery cut short by
// cancellation drops back to degraded.
var transitions = map[State]map[State]bool{
	StateHealthy: {
		StateDegraded: true,
	},
	StateDegraded: {
		StateHealthy:    true,
		StateRecovering: true,
	},
	StateRecovering: {
		StateHealthy:    true,
		StateDegraded:   true,
		StateTerminated: true,
	},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}
