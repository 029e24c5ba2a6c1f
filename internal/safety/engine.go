package safety

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/fleet/internal/logging"
	"github.com/ShayCichocki/fleet/internal/protect"
	"github.com/ShayCichocki/fleet/internal/ring"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// DefaultViolationCapacity bounds the violation log.
const DefaultViolationCapacity = 1000

// DefaultReadLines is how many output lines are read back after a command.
const DefaultReadLines = 50

// Host is the part of the agent host the engine drives.
type Host interface {
	Execute(ctx context.Context, agentID, command string) error
	ReadOutput(ctx context.Context, agentID string, lines int) (string, error)
}

// CommandRecorder receives command and error counts from the execution path.
type CommandRecorder interface {
	RecordCommand(agentID string)
	RecordError(agentID string)
}

// AuditSink persists violations and approval transitions.
type AuditSink interface {
	RecordViolation(v Violation) error
	RecordApproval(a Approval, event ApprovalEvent) error
}

// Decision is the outcome of a command check.
type Decision struct {
	// Safe is true when the command may run, possibly after approval.
	Safe bool
	// RequiresApproval is true when an approver must clear the command first.
	RequiresApproval bool
	// Violation is set when the command is denied.
	Violation *Violation
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for timestamps and the settle delay.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSettleDelay sets how long to wait between sending a command and reading output.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Engine) { e.settleDelay = d }
}

// WithReadLines sets how many output lines are read back.
func WithReadLines(n int) Option {
	return func(e *Engine) { e.readLines = n }
}

// WithDefaultTier sets the tier used for agents with no binding.
func WithDefaultTier(t models.Tier) Option {
	return func(e *Engine) { e.defaultTier = t }
}

// WithDetector replaces the dangerous pattern detector.
func WithDetector(d *protect.Detector) Option {
	return func(e *Engine) { e.detector = d }
}

// WithRecorder sets the command recorder, usually the telemetry monitor.
func WithRecorder(r CommandRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithAuditSink sets where violations and approvals are persisted.
func WithAuditSink(s AuditSink) Option {
	return func(e *Engine) { e.audit = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithViolationCapacity sets the violation log size.
func WithViolationCapacity(n int) Option {
	return func(e *Engine) { e.violationCap = n }
}

// Engine evaluates and executes agent commands under tiered policies.
// It exclusively owns policies, approvals, and the violation log.
type Engine struct {
	host         Host
	detector     *protect.Detector
	clock        clockwork.Clock
	settleDelay  time.Duration
	readLines    int
	recorder     CommandRecorder
	audit        AuditSink
	logger       *logging.Logger
	newID        func() string
	violationCap int

	// policies holds one policy per tier.
	policies map[models.Tier]Policy
	// defaultTier applies to agents with no binding.
	defaultTier models.Tier
	// agentPolicies holds per-agent copies.
	agentPolicies map[string]Policy
	// approvals maps approval IDs to pending or approved records.
	approvals map[string]*Approval
	// violations is the bounded violation log.
	violations *ring.Buffer[Violation]
	// mu protects policies, defaultTier, agentPolicies, and approvals.
	mu sync.RWMutex
}

// New creates an Engine with the built-in tier policies.
func New(h Host, opts ...Option) *Engine {
	e := &Engine{
		host:          h,
		clock:         clockwork.NewRealClock(),
		readLines:     DefaultReadLines,
		newID:         uuid.NewString,
		violationCap:  DefaultViolationCapacity,
		policies:      DefaultPolicies(),
		defaultTier:   models.TierSupervised,
		agentPolicies: make(map[string]Policy),
		approvals:     make(map[string]*Approval),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.detector == nil {
		e.detector = protect.New()
	}
	e.logger = logging.OrNop(e.logger).WithComponent("safety")
	e.violations = ring.New[Violation](e.violationCap)
	return e
}

// SetDefaultTier changes the tier used for unbound agents.
func (e *Engine) SetDefaultTier(t models.Tier) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.policies[t]; !ok {
		return fmt.Errorf("%w: %v", ErrUnknownTier, t)
	}
	e.defaultTier = t
	return nil
}

// DefaultTier returns the tier used for unbound agents.
func (e *Engine) DefaultTier() models.Tier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaultTier
}

// SetAgentTier binds an agent to a copy of a tier policy.
func (e *Engine) SetAgentTier(agentID string, t models.Tier) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.policies[t]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownTier, t)
	}
	e.agentPolicies[agentID] = p.Clone()
	return nil
}

// SetAgentPolicy binds an agent to a copy of a custom policy.
func (e *Engine) SetAgentPolicy(agentID string, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agentPolicies[agentID] = p.Clone()
	return nil
}

// ClearAgentPolicy returns an agent to the default tier.
func (e *Engine) ClearAgentPolicy(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.agentPolicies, agentID)
}

// PolicyFor returns a copy of the policy applied to an agent.
func (e *Engine) PolicyFor(agentID string) Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policyLocked(agentID).Clone()
}

func (e *Engine) policyLocked(agentID string) Policy {
	if p, ok := e.agentPolicies[agentID]; ok {
		return p
	}
	return e.policies[e.defaultTier]
}

// TierPolicy returns a copy of a tier's policy.
func (e *Engine) TierPolicy(t models.Tier) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[t]
	if !ok {
		return Policy{}, false
	}
	return p.Clone(), true
}

// LoadPolicies replaces tier policies with those in a YAML file.
// Agents already bound keep their existing copies.
func (e *Engine) LoadPolicies(path string) error {
	overrides, err := ReadPolicyFile(path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for t, p := range overrides {
		e.policies[t] = p.Clone()
	}
	e.logger.Info("loaded tier policies", "path", path, "tiers", len(overrides))
	return nil
}

// LoadPatterns adds dangerous patterns from a YAML file.
func (e *Engine) LoadPatterns(path string) error {
	return e.detector.LoadConfig(path)
}

// CheckCommandSafety evaluates a command for an agent. Checks run in a fixed
// order and stop at the first that decides: length, blocked substrings,
// dangerous patterns, allow list, approval requirement. Denials are logged
// as violations.
func (e *Engine) CheckCommandSafety(agentID, command string) Decision {
	e.mu.RLock()
	p := e.policyLocked(agentID)
	e.mu.RUnlock()

	if n := utf8.RuneCountInString(command); n > p.MaxCommandLength {
		return e.deny(agentID, command, ViolationLengthExceeded,
			fmt.Sprintf("command length %d exceeds maximum %d", n, p.MaxCommandLength))
	}

	for _, blocked := range p.BlockedCommands {
		if strings.Contains(command, blocked) {
			return e.deny(agentID, command, ViolationBlockedCommand,
				fmt.Sprintf("command contains blocked pattern %q", blocked))
		}
	}

	if pat, ok := e.detector.Match(command); ok {
		return e.deny(agentID, command, ViolationDangerousPattern,
			fmt.Sprintf("command matches dangerous pattern %s", pat.Name))
	}

	if len(p.AllowedCommands) > 0 {
		if p.Allows(command) {
			return Decision{Safe: true}
		}
		if p.RequireApproval {
			return Decision{Safe: true, RequiresApproval: true}
		}
		return e.deny(agentID, command, ViolationBlockedCommand, "command not in allowed list")
	}

	if p.RequireApproval {
		return Decision{Safe: true, RequiresApproval: true}
	}
	return Decision{Safe: true}
}

func (e *Engine) deny(agentID, command string, typ ViolationType, msg string) Decision {
	v := Violation{
		AgentID:   agentID,
		Command:   command,
		Type:      typ,
		Message:   msg,
		Timestamp: e.clock.Now(),
	}
	e.violations.Push(v)
	e.logger.WithAgent(agentID).Warn("command denied", "type", string(typ), "message", msg)
	if e.audit != nil {
		if err := e.audit.RecordViolation(v); err != nil {
			e.logger.Warn("failed to audit violation", "error", err)
		}
	}
	return Decision{Violation: &v}
}

// ExecuteWithSafety checks a command and, once cleared, runs it on the agent
// and returns the output read back after the settle delay.
//
// A denied command returns *ViolationError and never reaches the host. A
// command needing approval with no approvalID creates a pending approval and
// returns *ApprovalRequiredError carrying its id. A supplied approvalID must
// name an approved approval for the same agent and command, even when the
// command no longer needs one; it is consumed once the command has been sent.
// A failure to read output after the command was sent matches ErrOutputLost.
func (e *Engine) ExecuteWithSafety(ctx context.Context, agentID, command, approvalID string) (string, error) {
	d := e.CheckCommandSafety(agentID, command)
	if !d.Safe {
		return "", &ViolationError{Violation: *d.Violation}
	}

	var consumed *Approval
	switch {
	case approvalID != "":
		a, err := e.takeApproval(approvalID, agentID, command)
		if err != nil {
			return "", err
		}
		consumed = &a
	case d.RequiresApproval:
		p := e.PolicyFor(agentID)
		a := e.createApproval(agentID, command, p.Tier)
		return "", &ApprovalRequiredError{ApprovalID: a.ID}
	}

	if e.recorder != nil {
		e.recorder.RecordCommand(agentID)
	}
	if err := e.host.Execute(ctx, agentID, command); err != nil {
		if consumed != nil {
			e.restoreApproval(*consumed)
		}
		e.recordError(agentID)
		return "", fmt.Errorf("execute on %s: %w", agentID, err)
	}
	if consumed != nil {
		e.auditApproval(*consumed, ApprovalConsumed)
	}

	if e.settleDelay > 0 {
		select {
		case <-e.clock.After(e.settleDelay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrOutputLost, ctx.Err())
		}
	}

	out, err := e.host.ReadOutput(ctx, agentID, e.readLines)
	if err != nil {
		e.recordError(agentID)
		return "", fmt.Errorf("read output from %s: %w: %w", agentID, ErrOutputLost, err)
	}
	return out, nil
}

func (e *Engine) recordError(agentID string) {
	if e.recorder != nil {
		e.recorder.RecordError(agentID)
	}
}

// Violations returns the violation log, oldest first.
func (e *Engine) Violations() []Violation {
	return e.violations.Items()
}
