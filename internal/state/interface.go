package state

import (
	"io"

	"github.com/ShayCichocki/fleet/internal/orchestrator"
	"github.com/ShayCichocki/fleet/internal/safety"
	"github.com/ShayCichocki/fleet/internal/telemetry"
)

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// AuditReader lists recorded audit entries, newest first.
type AuditReader interface {
	ListViolations(limit int) ([]safety.Violation, error)
	ListApprovals(limit int) ([]ApprovalRecord, error)
	ListAlerts(limit int) ([]telemetry.Alert, error)
	ListTasks(limit int) ([]TaskRecord, error)
	GetTask(id string) (*TaskRecord, error)
}

// AuditStore is the full audit trail: every component sink plus the readers.
type AuditStore interface {
	io.Closer
	Migrator
	AuditReader
	safety.AuditSink
	telemetry.AuditSink
	orchestrator.AuditSink
}

// Compile-time verification that DB implements all interfaces.
var (
	_ AuditStore             = (*DB)(nil)
	_ safety.AuditSink       = (*DB)(nil)
	_ telemetry.AuditSink    = (*DB)(nil)
	_ orchestrator.AuditSink = (*DB)(nil)
)
