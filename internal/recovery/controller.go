package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/fleet/internal/host"
	"github.com/ShayCichocki/fleet/internal/logging"
	"github.com/ShayCichocki/fleet/pkg/models"
)

var (
	// ErrAgentTerminated is returned once an agent has exhausted its retries.
	ErrAgentTerminated = errors.New("agent terminated")
	// ErrAlreadyRunning is returned by Start on a running controller.
	ErrAlreadyRunning = errors.New("recovery loop already running")
)

// Config bounds recovery.
type Config struct {
	// MaxRetries is the number of interrupt/restart attempts before termination.
	MaxRetries int
	// GracePeriod is how long an agent gets to settle after an interrupt or restart.
	GracePeriod time.Duration
	// CheckInterval is the cadence of the periodic health loop.
	CheckInterval time.Duration
}

// DefaultConfig returns three attempts with a 2s grace period and 30s checks.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		GracePeriod:   2 * time.Second,
		CheckInterval: 30 * time.Second,
	}
}

// AgentLister supplies the agents the periodic loop checks.
type AgentLister interface {
	Snapshots(ctx context.Context) ([]models.AgentSnapshot, error)
}

// Excluder removes terminated agents from scheduling.
type Excluder interface {
	Exclude(agentID string)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock for grace periods and the check loop.
func WithClock(c clockwork.Clock) Option {
	return func(rc *Controller) { rc.clock = c }
}

// WithProber replaces the default HostProber.
func WithProber(p Prober) Option {
	return func(rc *Controller) { rc.prober = p }
}

// WithExcluder sets who is told about terminated agents.
func WithExcluder(e Excluder) Option {
	return func(rc *Controller) { rc.excluder = e }
}

// WithLister sets the agent source for CheckAll.
func WithLister(l AgentLister) Option {
	return func(rc *Controller) { rc.lister = l }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(rc *Controller) { rc.logger = l }
}

// inflight lets concurrent Recover calls for one agent share a single attempt.
type inflight struct {
	done chan struct{}
	err  error
}

// Controller tracks per-agent recovery state.
type Controller struct {
	host     host.Host
	prober   Prober
	excluder Excluder
	lister   AgentLister
	cfg      Config
	clock    clockwork.Clock
	logger   *logging.Logger

	mu           sync.Mutex
	states       map[string]State
	running      map[string]*inflight
	onTerminated []func(agentID string)

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Controller driving the given host.
func New(h host.Host, cfg Config, opts ...Option) *Controller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	rc := &Controller{
		host:    h,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		states:  make(map[string]State),
		running: make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.prober == nil {
		rc.prober = HostProber{Host: h}
	}
	rc.logger = logging.OrNop(rc.logger).WithComponent("recovery")
	return rc
}

// OnTerminated registers a callback run after an agent is terminated.
func (rc *Controller) OnTerminated(fn func(agentID string)) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.onTerminated = append(rc.onTerminated, fn)
}

// State returns an agent's state. Unknown agents are healthy.
func (rc *Controller) State(agentID string) State {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stateLocked(agentID)
}

func (rc *Controller) stateLocked(agentID string) State {
	if s, ok := rc.states[agentID]; ok {
		return s
	}
	return StateHealthy
}

// Terminated returns the IDs of terminated agents, sorted.
func (rc *Controller) Terminated() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	var out []string
	for id, s := range rc.states {
		if s == StateTerminated {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// transition moves an agent to a new state if the table allows it.
func (rc *Controller) transition(agentID string, to State) bool {
	rc.mu.Lock()
	from := rc.stateLocked(agentID)
	if !CanTransition(from, to) {
		rc.mu.Unlock()
		rc.logger.WithAgent(agentID).Debug("refused recovery transition", "from", string(from), "to", string(to))
		return false
	}
	rc.states[agentID] = to
	rc.mu.Unlock()

	if from != to {
		rc.logger.WithAgent(agentID).Info("recovery state changed", "from", string(from), "to", string(to))
	}
	return true
}

// Check probes an agent once. A failed probe moves a healthy agent to
// degraded; a passing probe heals a degraded one.
func (rc *Controller) Check(ctx context.Context, agentID string) (State, error) {
	switch rc.State(agentID) {
	case StateTerminated:
		return StateTerminated, fmt.Errorf("%w: %s", ErrAgentTerminated, agentID)
	case StateRecovering:
		return StateRecovering, nil
	}

	if err := rc.prober.Probe(ctx, agentID); err != nil {
		rc.transition(agentID, StateDegraded)
		return rc.State(agentID), err
	}
	rc.transition(agentID, StateHealthy)
	return rc.State(agentID), nil
}

// Recover runs up to MaxRetries attempts to bring an agent back. Each attempt
// interrupts the agent, waits the grace period, and probes; if the probe
// still fails the agent is restarted and probed again. Exhausting the
// attempts terminates the agent, excludes it from scheduling, and returns
// ErrAgentTerminated.
func (rc *Controller) Recover(ctx context.Context, agentID string) error {
	rc.mu.Lock()
	if rc.stateLocked(agentID) == StateTerminated {
		rc.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentTerminated, agentID)
	}
	if call, ok := rc.running[agentID]; ok {
		rc.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &inflight{done: make(chan struct{})}
	rc.running[agentID] = call
	rc.mu.Unlock()

	call.err = rc.recover(ctx, agentID)

	rc.mu.Lock()
	delete(rc.running, agentID)
	rc.mu.Unlock()
	close(call.done)
	return call.err
}

func (rc *Controller) recover(ctx context.Context, agentID string) error {
	log := rc.logger.WithAgent(agentID)
	rc.transition(agentID, StateDegraded)
	rc.transition(agentID, StateRecovering)

	for attempt := 1; attempt <= rc.cfg.MaxRetries; attempt++ {
		log.Info("recovery attempt", "attempt", attempt, "max", rc.cfg.MaxRetries)

		if ir, ok := rc.host.(host.Interrupter); ok {
			if err := ir.Interrupt(ctx, agentID); err != nil {
				log.Warn("interrupt failed", "error", err)
			}
		}
		if err := rc.wait(ctx); err != nil {
			rc.transition(agentID, StateDegraded)
			return err
		}
		if rc.prober.Probe(ctx, agentID) == nil {
			rc.transition(agentID, StateHealthy)
			return nil
		}

		if rs, ok := rc.host.(host.Restarter); ok {
			if err := rs.Restart(ctx, agentID); err != nil {
				log.Warn("restart failed", "error", err)
			}
			if err := rc.wait(ctx); err != nil {
				rc.transition(agentID, StateDegraded)
				return err
			}
			if rc.prober.Probe(ctx, agentID) == nil {
				rc.transition(agentID, StateHealthy)
				return nil
			}
		}
	}

	rc.terminate(agentID)
	return fmt.Errorf("%w: %s after %d attempts", ErrAgentTerminated, agentID, rc.cfg.MaxRetries)
}

func (rc *Controller) wait(ctx context.Context) error {
	if rc.cfg.GracePeriod <= 0 {
		return ctx.Err()
	}
	select {
	case <-rc.clock.After(rc.cfg.GracePeriod):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rc *Controller) terminate(agentID string) {
	rc.transition(agentID, StateTerminated)
	rc.logger.WithAgent(agentID).Error("agent terminated after exhausting recovery attempts", "attempts", rc.cfg.MaxRetries)

	if rc.excluder != nil {
		rc.excluder.Exclude(agentID)
	}

	rc.mu.Lock()
	callbacks := append([]func(string){}, rc.onTerminated...)
	rc.mu.Unlock()
	for _, fn := range callbacks {
		fn(agentID)
	}
}

// CheckAll probes every listed agent and recovers the ones that fail.
func (rc *Controller) CheckAll(ctx context.Context) error {
	if rc.lister == nil {
		return errors.New("recovery: no agent lister configured")
	}
	snaps, err := rc.lister.Snapshots(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	for _, s := range snaps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		state, probeErr := rc.Check(ctx, s.ID)
		if state != StateDegraded {
			continue
		}
		rc.logger.WithAgent(s.ID).Warn("health check failed", "error", probeErr)
		if err := rc.Recover(ctx, s.ID); err != nil && !errors.Is(err, ErrAgentTerminated) {
			return err
		}
	}
	return nil
}

// Start runs CheckAll every CheckInterval until ctx is done or Stop is called.
func (rc *Controller) Start(ctx context.Context) error {
	rc.runMu.Lock()
	defer rc.runMu.Unlock()
	if rc.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	rc.cancel = cancel
	rc.done = make(chan struct{})
	ticker := rc.clock.NewTicker(rc.cfg.CheckInterval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if err := rc.CheckAll(ctx); err != nil && ctx.Err() == nil {
					rc.logger.Warn("health sweep failed", "error", err)
				}
			}
		}
	}(rc.done)
	return nil
}

// Stop halts the health loop and waits for it to exit.
func (rc *Controller) Stop() {
	rc.runMu.Lock()
	cancel, done := rc.cancel, rc.done
	rc.cancel, rc.done = nil, nil
	rc.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
