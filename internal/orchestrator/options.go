package orchestrator

import (
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/fleet/internal/logging"
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	maxParallel int
	unitRetries int
	eventBuffer int
	decomposer  Decomposer
	recoverer   Recoverer
	health      HealthChecker
	audit       AuditSink
	logger      *logging.Logger
	clock       clockwork.Clock
	newID       func() string
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		unitRetries: 1,
		eventBuffer: 256,
		decomposer:  HeuristicDecomposer{},
		clock:       clockwork.NewRealClock(),
		newID:       uuid.NewString,
	}
}

// WithMaxParallel caps how many agents one task may hold. Zero means no cap.
func WithMaxParallel(n int) Option {
	return func(o *orchestratorOptions) { o.maxParallel = n }
}

// WithUnitRetries sets how many times a unit is retried on the same agent
// after a successful recovery.
func WithUnitRetries(n int) Option {
	return func(o *orchestratorOptions) { o.unitRetries = n }
}

// WithEventBuffer sets the event channel buffer size.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) { o.eventBuffer = n }
}

// WithDecomposer sets the strategy Submit uses to split prompts.
func WithDecomposer(d Decomposer) Option {
	return func(o *orchestratorOptions) { o.decomposer = d }
}

// WithRecoverer sets the controller consulted when an agent host call fails.
func WithRecoverer(r Recoverer) Option {
	return func(o *orchestratorOptions) { o.recoverer = r }
}

// WithHealth sets the health signal used to skip unhealthy agents.
func WithHealth(h HealthChecker) Option {
	return func(o *orchestratorOptions) { o.health = h }
}

// WithAuditSink sets where final task outcomes are persisted.
func WithAuditSink(s AuditSink) Option {
	return func(o *orchestratorOptions) { o.audit = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithClock sets the clock used for task timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(o *orchestratorOptions) { o.clock = c }
}

// WithIDGenerator replaces the task ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *orchestratorOptions) { o.newID = fn }
}
