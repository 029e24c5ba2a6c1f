package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/fleet/internal/host"
	"github.com/ShayCichocki/fleet/internal/logging"
	"github.com/ShayCichocki/fleet/internal/ring"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// ErrAlreadyRunning is returned by Start on a running monitor.
var ErrAlreadyRunning = errors.New("monitor already running")

// AgentLister supplies the current agent list each tick.
type AgentLister interface {
	Snapshots(ctx context.Context) ([]models.AgentSnapshot, error)
}

// AuditSink persists alerts.
type AuditSink interface {
	RecordAlert(a Alert) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock driving ticks and timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithAuditSink sets where alerts are persisted.
func WithAuditSink(s AuditSink) Option {
	return func(m *Monitor) { m.audit = s }
}

// counters are the monotonically increasing per-agent command tallies.
type counters struct {
	commands    int64
	errors      int64
	lastCommand time.Time
}

// Monitor samples agents on a fixed cadence. It exclusively owns sample
// history and the alert log; command counters are written only through
// RecordCommand and RecordError.
type Monitor struct {
	lister AgentLister
	stats  host.StatsSource
	cfg    Config
	clock  clockwork.Clock
	logger *logging.Logger
	audit  AuditSink
	newID  func() string

	// mu protects history, absent, system, alerts, and thresholds. absent
	// counts consecutive ticks an agent with history went unlisted.
	mu         sync.RWMutex
	history    map[string]*ring.Buffer[PerformanceSample]
	absent     map[string]int
	system     *ring.Buffer[SystemSample]
	alerts     *ring.Buffer[Alert]
	thresholds Thresholds

	// countMu protects counts and the totals.
	countMu       sync.Mutex
	counts        map[string]*counters
	totalCommands int64
	totalErrors   int64

	// tickMu serializes ticks and protects the previous-tick state.
	tickMu       sync.Mutex
	prevTick     time.Time
	prevCommands int64
	prevErrors   int64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor. stats may be nil, in which case cpu and memory read as zero.
func New(lister AgentLister, stats host.StatsSource, cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.AlertCapacity <= 0 {
		cfg.AlertCapacity = def.AlertCapacity
	}

	m := &Monitor{
		lister:     lister,
		stats:      stats,
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		newID:      uuid.NewString,
		history:    make(map[string]*ring.Buffer[PerformanceSample]),
		absent:     make(map[string]int),
		system:     ring.New[SystemSample](cfg.Retention),
		alerts:     ring.New[Alert](cfg.AlertCapacity),
		thresholds: cfg.Thresholds,
		counts:     make(map[string]*counters),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).WithComponent("telemetry")
	return m
}

// RecordCommand counts a command dispatched to an agent.
func (m *Monitor) RecordCommand(agentID string) {
	now := m.clock.Now()
	m.countMu.Lock()
	defer m.countMu.Unlock()
	c := m.counterLocked(agentID)
	c.commands++
	c.lastCommand = now
	m.totalCommands++
}

// RecordError counts a failed command on an agent.
func (m *Monitor) RecordError(agentID string) {
	m.countMu.Lock()
	defer m.countMu.Unlock()
	m.counterLocked(agentID).errors++
	m.totalErrors++
}

func (m *Monitor) counterLocked(agentID string) *counters {
	c, ok := m.counts[agentID]
	if !ok {
		c = &counters{}
		m.counts[agentID] = c
	}
	return c
}

// Start runs Tick on every interval until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	ticker := m.clock.NewTicker(m.cfg.Interval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if err := m.Tick(ctx); err != nil && ctx.Err() == nil {
					m.logger.Warn("telemetry tick failed", "error", err)
				}
			}
		}
	}(m.done)
	return nil
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick samples every agent once, appends history, and evaluates thresholds.
func (m *Monitor) Tick(ctx context.Context) error {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	snaps, err := m.lister.Snapshots(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	now := m.clock.Now()
	th := m.Thresholds()

	samples := make([]PerformanceSample, 0, len(snaps))
	var alerts []Alert
	for _, s := range snaps {
		sample := m.sampleAgent(ctx, s.ID, now, th)
		samples = append(samples, sample)
		alerts = append(alerts, m.agentAlerts(sample, th)...)
	}

	sys := m.aggregate(snaps, samples, now)
	alerts = append(alerts, m.systemAlerts(sys, th)...)

	m.mu.Lock()
	for _, sample := range samples {
		buf, ok := m.history[sample.AgentID]
		if !ok {
			buf = ring.New[PerformanceSample](m.cfg.Retention)
			m.history[sample.AgentID] = buf
		}
		buf.Push(sample)
		delete(m.absent, sample.AgentID)
	}
	m.pruneAbsentLocked(samples)
	m.system.Push(sys)
	for _, a := range alerts {
		m.alerts.Push(a)
	}
	m.mu.Unlock()

	for _, a := range alerts {
		m.emit(a)
	}
	return nil
}

// pruneAbsentLocked drops the history of agents missing from the list for a
// full retention window of ticks.
func (m *Monitor) pruneAbsentLocked(samples []PerformanceSample) {
	listed := make(map[string]bool, len(samples))
	for _, s := range samples {
		listed[s.AgentID] = true
	}
	for id := range m.history {
		if listed[id] {
			continue
		}
		m.absent[id]++
		if m.absent[id] >= m.cfg.Retention {
			delete(m.history, id)
			delete(m.absent, id)
		}
	}
}

func (m *Monitor) sampleAgent(ctx context.Context, agentID string, now time.Time, th Thresholds) PerformanceSample {
	sample := PerformanceSample{Timestamp: now, AgentID: agentID}

	if m.stats != nil {
		ps, err := m.stats.Stats(ctx, agentID)
		if err != nil {
			m.logger.WithAgent(agentID).Debug("stats unavailable", "error", err)
		} else {
			sample.CPU = ps.CPU
			sample.MemoryMB = ps.MemoryMB
		}
	}

	m.countMu.Lock()
	if c, ok := m.counts[agentID]; ok {
		sample.CommandCount = c.commands
		sample.ErrorCount = c.errors
		if !c.lastCommand.IsZero() {
			sample.ResponseTimeMs = now.Sub(c.lastCommand).Milliseconds()
		}
	}
	m.countMu.Unlock()

	sample.Healthy = under(sample.CPU, th.AgentCPU) && under(sample.MemoryMB, th.AgentMemoryMB)
	return sample
}

// under reports whether v is below limit; a non-positive limit always passes.
func under(v, limit float64) bool {
	return limit <= 0 || v < limit
}

func breached(v, limit float64) bool {
	return limit > 0 && v > limit
}

func (m *Monitor) agentAlerts(s PerformanceSample, th Thresholds) []Alert {
	var out []Alert
	if breached(s.CPU, th.AgentCPU) {
		out = append(out, m.newAlert(s.Timestamp, SeverityHigh, AlertCPU, s.AgentID, s.CPU, th.AgentCPU,
			fmt.Sprintf("agent %s cpu %.1f%% exceeds %.1f%%", s.AgentID, s.CPU, th.AgentCPU)))
	}
	if breached(s.MemoryMB, th.AgentMemoryMB) {
		out = append(out, m.newAlert(s.Timestamp, SeverityHigh, AlertMemory, s.AgentID, s.MemoryMB, th.AgentMemoryMB,
			fmt.Sprintf("agent %s memory %.0fMB exceeds %.0fMB", s.AgentID, s.MemoryMB, th.AgentMemoryMB)))
	}
	limitMs := float64(th.AgentResponseTime.Milliseconds())
	if breached(float64(s.ResponseTimeMs), limitMs) {
		out = append(out, m.newAlert(s.Timestamp, SeverityMedium, AlertResponseTime, s.AgentID, float64(s.ResponseTimeMs), limitMs,
			fmt.Sprintf("agent %s idle for %dms, over %.0fms", s.AgentID, s.ResponseTimeMs, limitMs)))
	}
	return out
}

func (m *Monitor) aggregate(snaps []models.AgentSnapshot, samples []PerformanceSample, now time.Time) SystemSample {
	sys := SystemSample{Timestamp: now, AgentCount: len(samples)}

	var responseSum float64
	for i, s := range samples {
		sys.TotalCPU += s.CPU
		sys.TotalMemory += s.MemoryMB
		if snaps[i].State != models.AgentError {
			sys.ActiveAgents++
			responseSum += float64(s.ResponseTimeMs)
		}
	}
	if sys.ActiveAgents > 0 {
		sys.AvgResponseTimeMs = responseSum / float64(sys.ActiveAgents)
	}

	m.countMu.Lock()
	sys.TotalCommands = m.totalCommands
	sys.TotalErrors = m.totalErrors
	m.countMu.Unlock()

	deltaCmd := sys.TotalCommands - m.prevCommands
	deltaErr := sys.TotalErrors - m.prevErrors

	elapsed := m.cfg.Interval
	if !m.prevTick.IsZero() {
		elapsed = now.Sub(m.prevTick)
	}
	if elapsed > 0 {
		sys.CommandsPerMinute = float64(deltaCmd) / elapsed.Minutes()
	}
	if deltaCmd > 0 {
		sys.ErrorRate = float64(deltaErr) / float64(deltaCmd) * 100
	}

	m.prevTick = now
	m.prevCommands = sys.TotalCommands
	m.prevErrors = sys.TotalErrors
	return sys
}

func (m *Monitor) systemAlerts(sys SystemSample, th Thresholds) []Alert {
	var out []Alert
	if breached(sys.TotalCPU, th.SystemCPU) {
		out = append(out, m.newAlert(sys.Timestamp, SeverityCritical, AlertSystemCPU, "", sys.TotalCPU, th.SystemCPU,
			fmt.Sprintf("total cpu %.1f%% exceeds %.1f%%", sys.TotalCPU, th.SystemCPU)))
	}
	if breached(sys.TotalMemory, th.SystemMemoryMB) {
		out = append(out, m.newAlert(sys.Timestamp, SeverityCritical, AlertSystemMemory, "", sys.TotalMemory, th.SystemMemoryMB,
			fmt.Sprintf("total memory %.0fMB exceeds %.0fMB", sys.TotalMemory, th.SystemMemoryMB)))
	}
	if breached(sys.ErrorRate, th.ErrorRate) {
		out = append(out, m.newAlert(sys.Timestamp, SeverityHigh, AlertErrorRate, "", sys.ErrorRate, th.ErrorRate,
			fmt.Sprintf("error rate %.1f%% exceeds %.1f%%", sys.ErrorRate, th.ErrorRate)))
	}
	return out
}

func (m *Monitor) newAlert(at time.Time, sev Severity, typ AlertType, agentID string, value, threshold float64, msg string) Alert {
	return Alert{
		ID:        m.newID(),
		Timestamp: at,
		Severity:  sev,
		Type:      typ,
		Message:   msg,
		AgentID:   agentID,
		Value:     value,
		Threshold: threshold,
	}
}

func (m *Monitor) emit(a Alert) {
	log := m.logger
	if a.AgentID != "" {
		log = log.WithAgent(a.AgentID)
	}
	args := []any{"type", string(a.Type), "severity", string(a.Severity), "value", a.Value, "threshold", a.Threshold}
	if a.Severity == SeverityCritical {
		log.Error(a.Message, args...)
	} else {
		log.Warn(a.Message, args...)
	}

	if m.audit != nil {
		if err := m.audit.RecordAlert(a); err != nil {
			m.logger.Warn("failed to audit alert", "alert_id", a.ID, "error", err)
		}
	}
}

// Thresholds returns the current thresholds.
func (m *Monitor) Thresholds() Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

// UpdateThresholds replaces the thresholds used from the next tick on.
func (m *Monitor) UpdateThresholds(th Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.thresholds = th
	m.mu.Unlock()
	m.logger.Info("thresholds updated")
	return nil
}
