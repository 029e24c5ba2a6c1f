// Package registry holds the shared view of which agents exist and what they are doing.
package registry

import (
	"context"
	"sync"

	"github.com/ShayCichocki/fleet/internal/host"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// Filter decides whether an available agent may be reserved.
type Filter func(models.AgentSnapshot) bool

// Registry overlays local scheduling state on top of the host's agent list.
// The host is re-queried on every call, so snapshots never outlive one pass.
// It is safe for concurrent use.
type Registry struct {
	host host.Host

	// busy marks agents the orchestrator is currently driving.
	busy map[string]bool
	// owners maps reserved agent IDs to the task holding them.
	owners map[string]string
	// excluded holds agents that recovery gave up on.
	excluded map[string]bool
	// mu protects all maps.
	mu sync.RWMutex
}

// New creates a Registry backed by the given host.
func New(h host.Host) *Registry {
	return &Registry{
		host:     h,
		busy:     make(map[string]bool),
		owners:   make(map[string]string),
		excluded: make(map[string]bool),
	}
}

// Refresh lists agents from the host and applies local state.
// Host-reported errors win over the local busy flag, and excluded agents are dropped.
func (r *Registry) Refresh(ctx context.Context) ([]models.AgentSnapshot, error) {
	snaps, err := r.host.List(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overlay(snaps), nil
}

// Snapshots is Refresh under the name telemetry and recovery consume.
func (r *Registry) Snapshots(ctx context.Context) ([]models.AgentSnapshot, error) {
	return r.Refresh(ctx)
}

func (r *Registry) overlay(snaps []models.AgentSnapshot) []models.AgentSnapshot {
	out := make([]models.AgentSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if r.excluded[s.ID] {
			continue
		}
		if s.State != models.AgentError && r.busy[s.ID] {
			s.State = models.AgentBusy
		}
		out = append(out, s)
	}
	return out
}

// ReserveIdle reserves every available agent for owner, in host list order.
// An agent is available when the host reports it idle, nobody holds it, it is
// not excluded, and filter (if any) accepts it. The selection and reservation
// happen in one critical section, so concurrent callers never receive the
// same agent. A reserved agent stays idle until MarkBusy.
func (r *Registry) ReserveIdle(ctx context.Context, owner string, filter Filter) ([]string, error) {
	snaps, err := r.host.List(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.AgentSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.State != models.AgentIdle {
			continue
		}
		if filter != nil && !filter(s) {
			continue
		}
		candidates = append(candidates, s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, s := range candidates {
		if r.excluded[s.ID] || r.busy[s.ID] {
			continue
		}
		if _, held := r.owners[s.ID]; held {
			continue
		}
		r.owners[s.ID] = owner
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// MarkBusy flags an agent held by owner as running a command. It reports
// false and changes nothing when owner no longer holds the agent.
func (r *Registry) MarkBusy(owner, agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[agentID] != owner {
		return false
	}
	r.busy[agentID] = true
	return true
}

// MarkIdle clears the busy flag of an agent held by owner. The reservation
// is kept. Agents held by someone else are left alone.
func (r *Registry) MarkIdle(owner, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[agentID] != owner {
		return
	}
	delete(r.busy, agentID)
}

// Release frees every agent held by owner and marks them idle.
// It returns the released agent IDs.
func (r *Registry) Release(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []string
	for id, o := range r.owners {
		if o != owner {
			continue
		}
		delete(r.owners, id)
		delete(r.busy, id)
		released = append(released, id)
	}
	return released
}

// ReleaseAgent frees a single agent regardless of owner.
func (r *Registry) ReleaseAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, agentID)
	delete(r.busy, agentID)
}

// Owner returns the owner holding an agent.
func (r *Registry) Owner(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.owners[agentID]
	return o, ok
}

// Exclude removes an agent from scheduling permanently.
func (r *Registry) Exclude(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.excluded[agentID] = true
	delete(r.busy, agentID)
}

// Excluded reports whether an agent was excluded.
func (r *Registry) Excluded(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.excluded[agentID]
}
