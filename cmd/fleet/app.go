package main

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/fleet/internal/api"
	"github.com/ShayCichocki/fleet/internal/config"
	iexec "github.com/ShayCichocki/fleet/internal/exec"
	"github.com/ShayCichocki/fleet/internal/host"
	"github.com/ShayCichocki/fleet/internal/logging"
	"github.com/ShayCichocki/fleet/internal/orchestrator"
	"github.com/ShayCichocki/fleet/internal/recovery"
	"github.com/ShayCichocki/fleet/internal/registry"
	"github.com/ShayCichocki/fleet/internal/safety"
	"github.com/ShayCichocki/fleet/internal/state"
	"github.com/ShayCichocki/fleet/internal/telemetry"
	"github.com/ShayCichocki/fleet/internal/tui"
)

// app wires the orchestration core together for one CLI invocation.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	host      host.Host
	registry  *registry.Registry
	telemetry *telemetry.Monitor
	safety    *safety.Engine
	recovery  *recovery.Controller
	orch      *orchestrator.Orchestrator
	// audit is nil when the audit store is disabled.
	audit *state.DB
}

// appDeps lets tests replace the host, decomposer, and audit store.
type appDeps struct {
	host       host.Host
	decomposer orchestrator.Decomposer
	audit      *state.DB
	logger     *logging.Logger
}

// newApp builds the components from configuration on a tmux host.
func newApp(cfg *config.Config) (*app, error) {
	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	deps := appDeps{
		host: host.NewTmux(iexec.NewRunner(),
			host.WithSessionPrefix(cfg.Host.SessionPrefix),
			host.WithLogger(logger.WithComponent("host")),
		),
		logger: logger,
	}

	if cfg.Audit.Enabled {
		path := cfg.Audit.Path
		if path == "" {
			path = state.DefaultPath()
		}
		db, err := state.OpenAndMigrate(path)
		if err != nil {
			logger.Close()
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		deps.audit = db
	}

	if cfg.Orchestrator.Decomposer == config.DecomposerPlanner {
		d, err := newPlanner(cfg, logger)
		if err != nil {
			logger.Warn("planner unavailable, using heuristic decomposer", "error", err)
		} else {
			deps.decomposer = d
		}
	}

	a, err := buildApp(cfg, deps)
	if err != nil {
		if deps.audit != nil {
			deps.audit.Close()
		}
		logger.Close()
		return nil, err
	}
	return a, nil
}

// newPlanner creates a model-backed decomposer. It fails with
// config.ErrNoAPIKey when neither Bedrock nor an API key is configured.
func newPlanner(cfg *config.Config, logger *logging.Logger) (orchestrator.Decomposer, error) {
	key, source, err := config.ResolveAPIKey(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("planner credentials resolved", "source", string(source))

	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        key,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, err
	}
	return orchestrator.NewPlannerDecomposer(api.NewRunner(client), nil, logger.WithComponent("planner")), nil
}

// buildApp connects the components around the given dependencies.
func buildApp(cfg *config.Config, deps appDeps) (*app, error) {
	logger := logging.OrNop(deps.logger)
	reg := registry.New(deps.host)
	stats, _ := deps.host.(host.StatsSource)

	telemetryOpts := []telemetry.Option{telemetry.WithLogger(logger)}
	safetyOpts := []safety.Option{
		safety.WithLogger(logger),
		safety.WithDefaultTier(cfg.Tier()),
		safety.WithSettleDelay(cfg.Safety.SettleDelay),
		safety.WithReadLines(cfg.Host.ReadLines),
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMaxParallel(cfg.Orchestrator.MaxParallel),
		orchestrator.WithUnitRetries(cfg.Orchestrator.UnitRetries),
	}
	if deps.decomposer != nil {
		orchOpts = append(orchOpts, orchestrator.WithDecomposer(deps.decomposer))
	}
	if deps.audit != nil {
		telemetryOpts = append(telemetryOpts, telemetry.WithAuditSink(deps.audit))
		safetyOpts = append(safetyOpts, safety.WithAuditSink(deps.audit))
		orchOpts = append(orchOpts, orchestrator.WithAuditSink(deps.audit))
	}

	mon := telemetry.New(reg, stats, cfg.TelemetryMonitorConfig(), telemetryOpts...)
	safetyOpts = append(safetyOpts, safety.WithRecorder(mon))
	eng := safety.New(deps.host, safetyOpts...)

	if cfg.Safety.PolicyFile != "" {
		if err := eng.LoadPolicies(cfg.Safety.PolicyFile); err != nil {
			return nil, fmt.Errorf("load policy file: %w", err)
		}
	}
	if cfg.Safety.PatternFile != "" {
		if err := eng.LoadPatterns(cfg.Safety.PatternFile); err != nil {
			return nil, fmt.Errorf("load pattern file: %w", err)
		}
	}

	rc := recovery.New(deps.host, cfg.RecoveryControllerConfig(),
		recovery.WithLogger(logger),
		recovery.WithExcluder(reg),
		recovery.WithLister(reg),
	)
	orchOpts = append(orchOpts,
		orchestrator.WithRecoverer(rc),
		orchestrator.WithHealth(mon),
	)
	orch := orchestrator.New(reg, eng, orchOpts...)

	return &app{
		cfg:       cfg,
		logger:    logger,
		host:      deps.host,
		registry:  reg,
		telemetry: mon,
		safety:    eng,
		recovery:  rc,
		orch:      orch,
		audit:     deps.audit,
	}, nil
}

// applyConfig pushes a reloaded configuration into the running components.
func (a *app) applyConfig(cfg *config.Config) {
	if err := a.telemetry.UpdateThresholds(cfg.Thresholds()); err != nil {
		a.logger.Warn("rejected reloaded thresholds", "error", err)
	}
	if err := a.safety.SetDefaultTier(cfg.Tier()); err != nil {
		a.logger.Warn("rejected reloaded tier", "error", err)
	}
	a.logger.Info("configuration reloaded", "tier", cfg.Tier().String())
}

// Close stops the loops and releases the audit store and log file.
func (a *app) Close() {
	a.telemetry.Stop()
	a.recovery.Stop()
	a.orch.Close()
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("close audit store", "error", err)
		}
	}
	a.logger.Close()
}

// monitorSource adapts the app to the monitor's Source.
type monitorSource struct {
	app *app
}

var _ tui.Source = monitorSource{}

// Snapshot gathers the current state of every component.
func (s monitorSource) Snapshot(ctx context.Context) (tui.Snapshot, error) {
	a := s.app
	agents, err := a.registry.Snapshots(ctx)
	if err != nil {
		return tui.Snapshot{}, err
	}

	snap := tui.Snapshot{
		TakenAt:     time.Now(),
		Agents:      make([]tui.AgentRow, 0, len(agents)),
		Alerts:      a.telemetry.Alerts(),
		Approvals:   a.safety.PendingApprovals(),
		ActiveTasks: a.orch.ActiveTasks(),
		Suggestions: a.telemetry.OptimizationSuggestions(),
	}
	for _, ag := range agents {
		row := tui.AgentRow{Agent: ag, Recovery: a.recovery.State(ag.ID)}
		if sample, ok := a.telemetry.Latest(ag.ID); ok {
			row.Sample = &sample
		}
		snap.Agents = append(snap.Agents, row)
	}
	if sys, ok := a.telemetry.LatestSystem(); ok {
		snap.System = &sys
	}
	return snap, nil
}

// Approve approves a pending command.
func (s monitorSource) Approve(id string) error {
	return s.app.safety.ApproveCommand(id, tui.Approver)
}

// Reject rejects a pending command.
func (s monitorSource) Reject(id, reason string) error {
	return s.app.safety.RejectCommand(id, reason)
}
