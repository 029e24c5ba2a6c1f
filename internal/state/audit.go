package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/fleet/internal/safety"
	"github.com/ShayCichocki/fleet/internal/telemetry"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// ApprovalRecord is one approval lifecycle step.
type ApprovalRecord struct {
	Approval   safety.Approval      `json:"approval"`
	Event      safety.ApprovalEvent `json:"event"`
	RecordedAt time.Time            `json:"recorded_at"`
}

// TaskRecord is the final outcome of a task.
type TaskRecord struct {
	Task           *models.Task `json:"task"`
	CompletedUnits int          `json:"completed_units"`
	FailedUnits    int          `json:"failed_units"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Violation operations

// RecordViolation stores a denied command.
func (db *DB) RecordViolation(v safety.Violation) error {
	_, err := db.Exec(`
		INSERT INTO violations (agent_id, command, type, message, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, v.AgentID, v.Command, string(v.Type), v.Message, formatTime(v.Timestamp))
	if err != nil {
		return fmt.Errorf("record violation: %w", err)
	}
	return nil
}

// ListViolations returns the most recent violations, newest first.
// A non-positive limit returns all of them.
func (db *DB) ListViolations(limit int) ([]safety.Violation, error) {
	rows, err := db.Query(`
		SELECT agent_id, command, type, message, occurred_at
		FROM violations ORDER BY seq DESC LIMIT ?
	`, limitClause(limit))
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []safety.Violation
	for rows.Next() {
		var v safety.Violation
		var occurredAt string
		if err := rows.Scan(&v.AgentID, &v.Command, &v.Type, &v.Message, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Timestamp, _ = parseTime(occurredAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// Approval operations

// RecordApproval stores one approval lifecycle step.
func (db *DB) RecordApproval(a safety.Approval, event safety.ApprovalEvent) error {
	_, err := db.Exec(`
		INSERT INTO approvals (approval_id, agent_id, command, tier, event, approved_by, reason, requested_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.AgentID, a.Command, int(a.Tier), string(event),
		nullString(a.ApprovedBy), nullString(a.Reason),
		formatTime(a.Timestamp), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

// ListApprovals returns the most recent approval events, newest first.
func (db *DB) ListApprovals(limit int) ([]ApprovalRecord, error) {
	rows, err := db.Query(`
		SELECT approval_id, agent_id, command, tier, event, approved_by, reason, requested_at, recorded_at
		FROM approvals ORDER BY seq DESC LIMIT ?
	`, limitClause(limit))
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []ApprovalRecord
	for rows.Next() {
		var r ApprovalRecord
		var tier int
		var approvedBy, reason sql.NullString
		var requestedAt, recordedAt string
		if err := rows.Scan(&r.Approval.ID, &r.Approval.AgentID, &r.Approval.Command, &tier,
			&r.Event, &approvedBy, &reason, &requestedAt, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		r.Approval.Tier = models.Tier(tier)
		r.Approval.ApprovedBy = approvedBy.String
		r.Approval.Reason = reason.String
		r.Approval.Approved = r.Event == safety.ApprovalGranted || r.Event == safety.ApprovalConsumed
		r.Approval.Timestamp, _ = parseTime(requestedAt)
		r.RecordedAt, _ = parseTime(recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Alert operations

// RecordAlert stores a telemetry alert.
func (db *DB) RecordAlert(a telemetry.Alert) error {
	_, err := db.Exec(`
		INSERT INTO alerts (id, severity, type, message, agent_id, value, threshold, raised_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Severity), string(a.Type), a.Message, nullString(a.AgentID),
		a.Value, a.Threshold, formatTime(a.Timestamp))
	if err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	return nil
}

// ListAlerts returns the most recent alerts, newest first.
func (db *DB) ListAlerts(limit int) ([]telemetry.Alert, error) {
	rows, err := db.Query(`
		SELECT id, severity, type, message, agent_id, value, threshold, raised_at
		FROM alerts ORDER BY seq DESC LIMIT ?
	`, limitClause(limit))
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Alert
	for rows.Next() {
		var a telemetry.Alert
		var agentID sql.NullString
		var raisedAt string
		if err := rows.Scan(&a.ID, &a.Severity, &a.Type, &a.Message, &agentID,
			&a.Value, &a.Threshold, &raisedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.AgentID = agentID.String
		a.Timestamp, _ = parseTime(raisedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Task operations

// RecordTask stores or replaces the outcome of a task.
func (db *DB) RecordTask(task *models.Task) error {
	if task == nil {
		return nil
	}
	record, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	var completedAt sql.NullString
	if task.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*task.CompletedAt), Valid: true}
	}
	counts := task.Counts()

	_, err = db.Exec(`
		INSERT INTO task_outcomes (id, main_prompt, status, unit_count, completed_units, failed_units, created_at, completed_at, record, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_units = excluded.completed_units,
			failed_units = excluded.failed_units,
			completed_at = excluded.completed_at,
			record = excluded.record,
			updated_at = excluded.updated_at
	`, task.ID, task.MainPrompt, string(task.Status), len(task.Units),
		counts[models.UnitStatusCompleted], counts[models.UnitStatusFailed],
		formatTime(task.CreatedAt), completedAt, string(record), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record task: %w", err)
	}
	return nil
}

// GetTask returns the recorded outcome of a task, or nil if none exists.
func (db *DB) GetTask(id string) (*TaskRecord, error) {
	row := db.QueryRow(`
		SELECT record, completed_units, failed_units, updated_at
		FROM task_outcomes WHERE id = ?
	`, id)
	r, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return r, nil
}

// ListTasks returns the most recently created task outcomes, newest first.
func (db *DB) ListTasks(limit int) ([]TaskRecord, error) {
	rows, err := db.Query(`
		SELECT record, completed_units, failed_units, updated_at
		FROM task_outcomes ORDER BY created_at DESC, id DESC LIMIT ?
	`, limitClause(limit))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		r, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*TaskRecord, error) {
	var record, updatedAt string
	var r TaskRecord
	if err := s.Scan(&record, &r.CompletedUnits, &r.FailedUnits, &updatedAt); err != nil {
		return nil, err
	}
	r.Task = &models.Task{}
	if err := json.Unmarshal([]byte(record), r.Task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	r.UpdatedAt, _ = parseTime(updatedAt)
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
