package safety

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSafetyViolation matches every denied command.
	ErrSafetyViolation = errors.New("safety violation")
	// ErrApprovalRequired matches the deferred approval signal.
	ErrApprovalRequired = errors.New("approval required")
	// ErrInvalidApproval is returned for unknown, unapproved, or mismatched approvals.
	ErrInvalidApproval = errors.New("invalid or unapproved approval")
	// ErrApprovalNotFound is returned when approving or rejecting an unknown id.
	ErrApprovalNotFound = errors.New("approval not found")
	// ErrOutputLost matches a command that reached the agent but whose output
	// could not be read back. Resending it would run it twice.
	ErrOutputLost = errors.New("command sent but output lost")
	// ErrUnknownTier is returned when no policy exists for a tier.
	ErrUnknownTier = errors.New("unknown tier")
)

// ViolationType classifies a denied command.
type ViolationType string

const (
	ViolationLengthExceeded   ViolationType = "length_exceeded"
	ViolationBlockedCommand   ViolationType = "blocked_command"
	ViolationDangerousPattern ViolationType = "dangerous_pattern"
)

// Violation is one denied command.
type Violation struct {
	AgentID   string        `json:"agent_id"`
	Command   string        `json:"command"`
	Type      ViolationType `json:"type"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// ViolationError is returned when a command is denied.
type ViolationError struct {
	Violation Violation
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("safety violation (%s): %s", e.Violation.Type, e.Violation.Message)
}

// Is matches ErrSafetyViolation.
func (e *ViolationError) Is(target error) bool {
	return target == ErrSafetyViolation
}

// ApprovalRequiredError carries the id of the pending approval an approver must act on.
type ApprovalRequiredError struct {
	ApprovalID string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("approval required: approval id %s", e.ApprovalID)
}

// Is matches ErrApprovalRequired.
func (e *ApprovalRequiredError) Is(target error) bool {
	return target == ErrApprovalRequired
}
