package safety

import (
	"fmt"
	"sort"
	"time"

	"github.com/ShayCichocki/fleet/pkg/models"
)

// Approval is a request to run one command on one agent.
// It moves from pending to approved, or is deleted on rejection.
type Approval struct {
	ID         string      `json:"id"`
	AgentID    string      `json:"agent_id"`
	Command    string      `json:"command"`
	Tier       models.Tier `json:"tier"`
	Timestamp  time.Time   `json:"timestamp"`
	Approved   bool        `json:"approved"`
	ApprovedBy string      `json:"approved_by,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// ApprovalEvent names an approval lifecycle step reported to the audit sink.
type ApprovalEvent string

const (
	ApprovalRequested ApprovalEvent = "requested"
	ApprovalGranted   ApprovalEvent = "approved"
	ApprovalRejected  ApprovalEvent = "rejected"
	ApprovalConsumed  ApprovalEvent = "consumed"
)

func (e *Engine) createApproval(agentID, command string, tier models.Tier) Approval {
	a := &Approval{
		ID:        e.newID(),
		AgentID:   agentID,
		Command:   command,
		Tier:      tier,
		Timestamp: e.clock.Now(),
	}

	e.mu.Lock()
	e.approvals[a.ID] = a
	e.mu.Unlock()

	e.logger.WithAgent(agentID).Info("approval requested", "approval_id", a.ID, "command", command)
	e.auditApproval(*a, ApprovalRequested)
	return *a
}

// takeApproval removes an approved approval matching the agent and command.
func (e *Engine) takeApproval(id, agentID, command string) (Approval, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.approvals[id]
	if !ok || !a.Approved || a.AgentID != agentID || a.Command != command {
		return Approval{}, ErrInvalidApproval
	}
	delete(e.approvals, id)
	return *a, nil
}

func (e *Engine) restoreApproval(a Approval) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approvals[a.ID] = &a
}

// ApproveCommand marks a pending approval as approved.
func (e *Engine) ApproveCommand(id, approver string) error {
	e.mu.Lock()
	a, ok := e.approvals[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}
	a.Approved = true
	a.ApprovedBy = approver
	snapshot := *a
	e.mu.Unlock()

	e.logger.WithAgent(snapshot.AgentID).Info("approval granted", "approval_id", id, "approver", approver)
	e.auditApproval(snapshot, ApprovalGranted)
	return nil
}

// RejectCommand deletes a pending approval. The id can never be used again.
func (e *Engine) RejectCommand(id, reason string) error {
	e.mu.Lock()
	a, ok := e.approvals[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}
	delete(e.approvals, id)
	snapshot := *a
	e.mu.Unlock()

	snapshot.Reason = reason
	e.logger.WithAgent(snapshot.AgentID).Info("approval rejected", "approval_id", id, "reason", reason)
	e.auditApproval(snapshot, ApprovalRejected)
	return nil
}

// Approval returns a copy of a stored approval.
func (e *Engine) Approval(id string) (Approval, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.approvals[id]
	if !ok {
		return Approval{}, false
	}
	return *a, true
}

// PendingApprovals returns approvals awaiting a decision, oldest first.
func (e *Engine) PendingApprovals() []Approval {
	e.mu.RLock()
	out := make([]Approval, 0, len(e.approvals))
	for _, a := range e.approvals {
		if !a.Approved {
			out = append(out, *a)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (e *Engine) auditApproval(a Approval, event ApprovalEvent) {
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordApproval(a, event); err != nil {
		e.logger.Warn("failed to audit approval", "approval_id", a.ID, "error", err)
	}
}
