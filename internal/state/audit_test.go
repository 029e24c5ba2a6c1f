package state

import (
	"testing"
	"time"

	"github.com/ShayCichocki/fleet/internal/safety"
	"github.com/ShayCichocki/fleet/internal/telemetry"
	"github.com/ShayCichocki/fleet/pkg/models"
)

func TestViolations(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, cmd := range []string{"sudo rm x", "curl evil", "rm -rf /"} {
		v := safety.Violation{
			AgentID:   "agent-1",
			Command:   cmd,
			Type:      safety.ViolationBlockedCommand,
			Message:   "blocked",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := db.RecordViolation(v); err != nil {
			t.Fatalf("RecordViolation failed: %v", err)
		}
	}

	all, err := db.ListViolations(0)
	if err != nil {
		t.Fatalf("ListViolations failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Command != "rm -rf /" {
		t.Errorf("newest violation = %q, want rm -rf /", all[0].Command)
	}
	if !all[2].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", all[2].Timestamp, base)
	}
	if all[0].Type != safety.ViolationBlockedCommand {
		t.Errorf("type = %q", all[0].Type)
	}

	limited, err := db.ListViolations(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limited len = %d, want 2", len(limited))
	}
}

func TestApprovals(t *testing.T) {
	db := setupTestDB(t)
	a := safety.Approval{
		ID:        "ap-1",
		AgentID:   "agent-1",
		Command:   "make build",
		Tier:      models.TierSupervised,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := db.RecordApproval(a, safety.ApprovalRequested); err != nil {
		t.Fatalf("RecordApproval failed: %v", err)
	}
	a.Approved = true
	a.ApprovedBy = "ops"
	if err := db.RecordApproval(a, safety.ApprovalGranted); err != nil {
		t.Fatalf("RecordApproval failed: %v", err)
	}

	got, err := db.ListApprovals(10)
	if err != nil {
		t.Fatalf("ListApprovals failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Event != safety.ApprovalGranted || got[0].Approval.ApprovedBy != "ops" || !got[0].Approval.Approved {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].Event != safety.ApprovalRequested || got[1].Approval.Approved {
		t.Errorf("oldest = %+v", got[1])
	}
	if got[1].Approval.Tier != models.TierSupervised || got[1].Approval.Command != "make build" {
		t.Errorf("approval fields lost: %+v", got[1].Approval)
	}
}

func TestAlerts(t *testing.T) {
	db := setupTestDB(t)
	alerts := []telemetry.Alert{
		{ID: "al-1", Severity: telemetry.SeverityHigh, Type: telemetry.AlertCPU, Message: "cpu", AgentID: "agent-1", Value: 95, Threshold: 80},
		{ID: "al-2", Severity: telemetry.SeverityCritical, Type: telemetry.AlertSystemMemory, Message: "memory", Value: 9000, Threshold: 8192},
	}
	for _, a := range alerts {
		a.Timestamp = time.Now()
		if err := db.RecordAlert(a); err != nil {
			t.Fatalf("RecordAlert failed: %v", err)
		}
	}

	got, err := db.ListAlerts(0)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "al-2" || got[0].AgentID != "" || got[0].Severity != telemetry.SeverityCritical {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].AgentID != "agent-1" || got[1].Value != 95 || got[1].Threshold != 80 {
		t.Errorf("oldest = %+v", got[1])
	}
}

func TestTasks(t *testing.T) {
	db := setupTestDB(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	task := &models.Task{
		ID:         "t1",
		MainPrompt: "build",
		Status:     models.TaskStatusInProgress,
		CreatedAt:  created,
		Results:    map[string]string{},
		Units: []*models.Unit{
			{ID: "t1-u0", TaskID: "t1", Prompt: "make", Status: models.UnitStatusInProgress, AssignedAgent: "a"},
			{ID: "t1-u1", TaskID: "t1", Ordinal: 1, Prompt: "make test", Status: models.UnitStatusAssigned, AssignedAgent: "b", DependsOn: []string{"t1-u0"}},
		},
	}
	if err := db.RecordTask(task); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}

	// A second record for the same task replaces the first.
	done := created.Add(time.Minute)
	task.Status = models.TaskStatusFailed
	task.CompletedAt = &done
	task.Units[0].Status = models.UnitStatusCompleted
	task.Units[1].Status = models.UnitStatusFailed
	task.Units[1].Error = "skipped"
	task.Results["t1-u0"] = "ok"
	if err := db.RecordTask(task); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}

	later := &models.Task{ID: "t2", MainPrompt: "ls", Status: models.TaskStatusCompleted, CreatedAt: created.Add(time.Hour)}
	if err := db.RecordTask(later); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordTask(nil); err != nil {
		t.Errorf("RecordTask(nil) = %v", err)
	}

	got, err := db.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetTask returned nil")
	}
	if got.Task.Status != models.TaskStatusFailed || got.CompletedUnits != 1 || got.FailedUnits != 1 {
		t.Errorf("record = %+v", got)
	}
	if got.Task.CompletedAt == nil || !got.Task.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", got.Task.CompletedAt, done)
	}
	if u := got.Task.Unit("t1-u1"); u == nil || u.Error != "skipped" || len(u.DependsOn) != 1 {
		t.Errorf("unit detail lost: %+v", u)
	}
	if got.Task.Results["t1-u0"] != "ok" {
		t.Errorf("results = %v", got.Task.Results)
	}

	missing, err := db.GetTask("nope")
	if err != nil || missing != nil {
		t.Errorf("GetTask(nope) = %v, %v; want nil, nil", missing, err)
	}

	list, err := db.ListTasks(0)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(list) != 2 || list[0].Task.ID != "t2" || list[1].Task.ID != "t1" {
		t.Errorf("ListTasks order wrong: %d entries", len(list))
	}
}

func TestPurge(t *testing.T) {
	db := setupTestDB(t)
	old := time.Now().Add(-48 * time.Hour)

	if err := db.RecordViolation(safety.Violation{AgentID: "a", Command: "x", Type: safety.ViolationBlockedCommand, Timestamp: old}); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordViolation(safety.Violation{AgentID: "a", Command: "y", Type: safety.ViolationBlockedCommand, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordAlert(telemetry.Alert{ID: "al", Severity: telemetry.SeverityHigh, Type: telemetry.AlertCPU, Timestamp: old}); err != nil {
		t.Fatal(err)
	}

	n, err := db.Purge(24 * time.Hour)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d rows, want 2", n)
	}
	left, _ := db.ListViolations(0)
	if len(left) != 1 || left[0].Command != "y" {
		t.Errorf("remaining violations = %+v", left)
	}
}
