// Package orchestrator splits a task into units, assigns them round-robin to
// idle agents, runs each agent's queue in order while agents run in parallel,
// and aggregates the outcome into one task record.
package orchestrator
