package tui

import (
	"context"
	"time"

	"github.com/ShayCichocki/fleet/internal/recovery"
	"github.com/ShayCichocki/fleet/internal/safety"
	"github.com/ShayCichocki/fleet/internal/telemetry"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// AgentRow is one agent as the monitor shows it.
type AgentRow struct {
	Agent models.AgentSnapshot
	// Sample is the latest telemetry sample, nil before the first tick.
	Sample   *telemetry.PerformanceSample
	Recovery recovery.State
}

// Snapshot is everything one refresh displays.
type Snapshot struct {
	TakenAt     time.Time
	Agents      []AgentRow
	System      *telemetry.SystemSample
	Alerts      []telemetry.Alert
	Approvals   []safety.Approval
	ActiveTasks []*models.Task
	Suggestions []string
}

// Source feeds the monitor and applies approval decisions.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Approve(id string) error
	Reject(id, reason string) error
}
