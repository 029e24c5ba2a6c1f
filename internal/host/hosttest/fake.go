// Package hosttest provides an in-memory agent host for tests.
package hosttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/fleet/internal/host"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// fakeAgent is the scripted state of one agent.
type fakeAgent struct {
	snap          models.AgentSnapshot
	output        string
	executed      []string
	failExecutes  int
	failReads     int
	unresponsive  bool
	healOnRestart bool
	healOnIntr    bool
	interrupts    int
	restarts      int
	stats         host.ProcessStats
	statsErr      error
}

// FakeHost is a scripted in-memory Host. It is safe for concurrent use.
type FakeHost struct {
	mu       sync.Mutex
	order    []string
	agents   map[string]*fakeAgent
	failList bool

	// OnExecute, when set, runs inside Execute before the command is recorded.
	// Returning an error fails the call. It is called without the lock held.
	OnExecute func(agentID, command string) error
	// OutputFor, when set, produces the output stored after a command runs.
	OutputFor func(agentID, command string) string
}

// Compile-time interface checks.
var (
	_ host.Host        = (*FakeHost)(nil)
	_ host.Interrupter = (*FakeHost)(nil)
	_ host.Restarter   = (*FakeHost)(nil)
	_ host.StatsSource = (*FakeHost)(nil)
)

// New creates a FakeHost with idle agents for each ID, in order.
func New(ids ...string) *FakeHost {
	h := &FakeHost{agents: make(map[string]*fakeAgent)}
	for _, id := range ids {
		h.AddAgent(id, models.AgentIdle)
	}
	return h
}

// AddAgent registers an agent in the given state.
func (h *FakeHost) AddAgent(id string, state models.AgentState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.agents[id]; !ok {
		h.order = append(h.order, id)
	}
	h.agents[id] = &fakeAgent{snap: models.AgentSnapshot{ID: id, Name: id, State: state, LastActive: time.Now()}}
}

// SetState changes the state the host reports for an agent.
func (h *FakeHost) SetState(id string, state models.AgentState) {
	h.with(id, func(a *fakeAgent) { a.snap.State = state })
}

// FailExecutes makes the next n Execute calls on the agent fail.
func (h *FakeHost) FailExecutes(id string, n int) {
	h.with(id, func(a *fakeAgent) { a.failExecutes = n })
}

// FailReads makes the next n ReadOutput calls on the agent fail.
func (h *FakeHost) FailReads(id string, n int) {
	h.with(id, func(a *fakeAgent) { a.failReads = n })
}

// SetUnresponsive makes ReadOutput and Execute fail until cleared or healed.
func (h *FakeHost) SetUnresponsive(id string, unresponsive bool) {
	h.with(id, func(a *fakeAgent) { a.unresponsive = unresponsive })
}

// HealOnInterrupt clears the unresponsive flag when the agent is interrupted.
func (h *FakeHost) HealOnInterrupt(id string, heal bool) {
	h.with(id, func(a *fakeAgent) { a.healOnIntr = heal })
}

// HealOnRestart clears the unresponsive flag when the agent is restarted.
func (h *FakeHost) HealOnRestart(id string, heal bool) {
	h.with(id, func(a *fakeAgent) { a.healOnRestart = heal })
}

// SetStats sets the resource usage reported for an agent.
func (h *FakeHost) SetStats(id string, stats host.ProcessStats) {
	h.with(id, func(a *fakeAgent) { a.stats = stats; a.statsErr = nil })
}

// FailStats makes Stats fail for an agent.
func (h *FakeHost) FailStats(id string, err error) {
	h.with(id, func(a *fakeAgent) { a.statsErr = err })
}

// FailList makes List fail.
func (h *FakeHost) FailList(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failList = fail
}

// Executed returns the commands an agent received, in order.
func (h *FakeHost) Executed(id string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.agents[id]
	if !ok {
		return nil
	}
	return append([]string(nil), a.executed...)
}

// Interrupts returns how many times the agent was interrupted.
func (h *FakeHost) Interrupts(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.agents[id]; ok {
		return a.interrupts
	}
	return 0
}

// Restarts returns how many times the agent was restarted.
func (h *FakeHost) Restarts(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.agents[id]; ok {
		return a.restarts
	}
	return 0
}

func (h *FakeHost) with(id string, fn func(*fakeAgent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.agents[id]; ok {
		fn(a)
	}
}

// List returns the agents in registration order.
func (h *FakeHost) List(ctx context.Context) ([]models.AgentSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failList {
		return nil, host.Unavailable("list", "", errors.New("scripted list failure"))
	}
	out := make([]models.AgentSnapshot, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.agents[id].snap)
	}
	return out, nil
}

// Create registers a new idle agent named after the config.
func (h *FakeHost) Create(ctx context.Context, cfg host.CreateConfig) (models.AgentSnapshot, error) {
	if cfg.Name == "" {
		return models.AgentSnapshot{}, errors.New("agent name is required")
	}
	h.AddAgent(cfg.Name, models.AgentIdle)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agents[cfg.Name].snap, nil
}

// Execute records the command and stores its output.
func (h *FakeHost) Execute(ctx context.Context, agentID, command string) error {
	if hook := h.OnExecute; hook != nil {
		if err := hook(agentID, command); err != nil {
			return host.Unavailable("execute", agentID, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.agents[agentID]
	if !ok {
		return host.Unavailable("execute", agentID, host.ErrAgentNotFound)
	}
	if a.unresponsive {
		return host.Unavailable("execute", agentID, errors.New("agent unresponsive"))
	}
	if a.failExecutes > 0 {
		a.failExecutes--
		return host.Unavailable("execute", agentID, errors.New("scripted execute failure"))
	}
	a.executed = append(a.executed, command)
	a.snap.LastActive = time.Now()
	if h.OutputFor != nil {
		a.output = h.OutputFor(agentID, command)
	} else {
		a.output = fmt.Sprintf("ok: %s", command)
	}
	return nil
}

// ReadOutput returns the output of the last command.
func (h *FakeHost) ReadOutput(ctx context.Context, agentID string, lines int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.agents[agentID]
	if !ok {
		return "", host.Unavailable("read", agentID, host.ErrAgentNotFound)
	}
	if a.unresponsive {
		return "", host.Unavailable("read", agentID, errors.New("agent unresponsive"))
	}
	if a.failReads > 0 {
		a.failReads--
		return "", host.Unavailable("read", agentID, errors.New("scripted read failure"))
	}
	return a.output, nil
}

// Close removes the agent.
func (h *FakeHost) Close(ctx context.Context, agentID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.agents[agentID]; !ok {
		return host.Unavailable("close", agentID, host.ErrAgentNotFound)
	}
	delete(h.agents, agentID)
	for i, id := range h.order {
		if id == agentID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return nil
}

// Interrupt counts the interrupt and optionally heals the agent.
func (h *FakeHost) Interrupt(ctx context.Context, agentID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.agents[agentID]
	if !ok {
		return host.Unavailable("interrupt", agentID, host.ErrAgentNotFound)
	}
	a.interrupts++
	if a.healOnIntr {
		a.unresponsive = false
	}
	return nil
}

// Restart counts the restart and optionally heals the agent.
func (h *FakeHost) Restart(ctx context.Context, agentID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.agents[agentID]
	if !ok {
		return host.Unavailable("restart", agentID, host.ErrAgentNotFound)
	}
	a.restarts++
	if a.healOnRestart {
		a.unresponsive = false
		a.snap.State = models.AgentIdle
	}
	return nil
}

// Stats returns the scripted resource usage.
func (h *FakeHost) Stats(ctx context.Context, agentID string) (host.ProcessStats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.agents[agentID]
	if !ok {
		return host.ProcessStats{}, host.Unavailable("stats", agentID, host.ErrAgentNotFound)
	}
	if a.statsErr != nil {
		return host.ProcessStats{}, a.statsErr
	}
	return a.stats, nil
}
