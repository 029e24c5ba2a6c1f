package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/fleet/internal/config"
	"github.com/ShayCichocki/fleet/internal/host/hosttest"
	"github.com/ShayCichocki/fleet/internal/logging"
	"github.com/ShayCichocki/fleet/internal/orchestrator"
	"github.com/ShayCichocki/fleet/internal/recovery"
	"github.com/ShayCichocki/fleet/internal/safety"
	"github.com/ShayCichocki/fleet/internal/state"
	"github.com/ShayCichocki/fleet/pkg/models"
)

func testConfig(tier models.Tier) *config.Config {
	cfg := config.Default()
	cfg.Safety.DefaultTier = int(tier)
	cfg.Safety.SettleDelay = 0
	cfg.Recovery.GracePeriod = 0
	cfg.Audit.Enabled = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, ids ...string) (*app, *hosttest.FakeHost, *state.DB) {
	t.Helper()
	h := hosttest.New(ids...)
	db, err := state.OpenAndMigrate(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenAndMigrate() error = %v", err)
	}
	a, err := buildApp(cfg, appDeps{host: h, audit: db})
	if err != nil {
		t.Fatalf("buildApp() error = %v", err)
	}
	t.Cleanup(a.Close)
	return a, h, db
}

func TestBuildApp_RunsTaskAndAudits(t *testing.T) {
	a, h, db := newTestApp(t, testConfig(models.TierAutonomous), "agent-a", "agent-b")

	task, err := a.orch.SubmitTask(context.Background(), "echo both", []string{"echo one", "echo two"})
	if err != nil {
		t.Fatalf("SubmitTask() error = %v", err)
	}
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
	if got := len(h.Executed("agent-a")) + len(h.Executed("agent-b")); got != 2 {
		t.Errorf("executed = %d commands, want 2", got)
	}

	cmds, _ := a.telemetry.Counters("agent-a")
	if cmds != 1 {
		t.Errorf("telemetry commands for agent-a = %d, want 1", cmds)
	}

	rec, err := db.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if rec == nil || rec.CompletedUnits != 2 {
		t.Errorf("audited task = %+v, want 2 completed units", rec)
	}
}

func TestBuildApp_ViolationAudited(t *testing.T) {
	a, _, db := newTestApp(t, testConfig(models.TierAutonomous), "agent-a")

	_, err := a.orch.SubmitTask(context.Background(), "escalate", []string{"sudo rm -rf /tmp/x"})
	var te *orchestrator.TaskError
	if !errors.As(err, &te) {
		t.Fatalf("SubmitTask() error = %v, want *TaskError", err)
	}

	vs, err := db.ListViolations(0)
	if err != nil {
		t.Fatalf("ListViolations() error = %v", err)
	}
	if len(vs) != 1 || vs[0].AgentID != "agent-a" {
		t.Errorf("violations = %+v, want one for agent-a", vs)
	}
}

func TestBuildApp_PolicyFileError(t *testing.T) {
	cfg := testConfig(models.TierSupervised)
	cfg.Safety.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := buildApp(cfg, appDeps{host: hosttest.New("agent-a")}); err == nil {
		t.Error("buildApp() with missing policy file succeeded")
	}
}

func TestMonitorSource(t *testing.T) {
	a, _, _ := newTestApp(t, testConfig(models.TierSupervised), "agent-a", "agent-b")
	src := monitorSource{app: a}
	ctx := context.Background()

	_, err := a.orch.SubmitTask(ctx, "build", []string{"make build"})
	if !errors.Is(err, safety.ErrApprovalRequired) {
		t.Fatalf("SubmitTask() error = %v, want approval required", err)
	}
	if err := a.telemetry.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	snap, err := src.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(snap.Agents))
	}
	for _, row := range snap.Agents {
		if row.Sample == nil {
			t.Errorf("agent %s has no sample after Tick", row.Agent.ID)
		}
		if row.Recovery != recovery.StateHealthy {
			t.Errorf("agent %s recovery = %s, want healthy", row.Agent.ID, row.Recovery)
		}
	}
	if snap.System == nil || snap.System.AgentCount != 2 {
		t.Errorf("system = %+v, want 2 agents", snap.System)
	}
	if len(snap.Approvals) != 1 {
		t.Fatalf("approvals = %d, want 1", len(snap.Approvals))
	}

	id := snap.Approvals[0].ID
	if err := src.Approve(id); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if ap, ok := a.safety.Approval(id); !ok || !ap.Approved {
		t.Errorf("approval %s = %+v, want approved", id, ap)
	}
	if err := src.Reject(id, "changed my mind"); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if err := src.Approve(id); !errors.Is(err, safety.ErrApprovalNotFound) {
		t.Errorf("Approve() after reject error = %v, want ErrApprovalNotFound", err)
	}
}

func TestApplyConfig(t *testing.T) {
	a, _, _ := newTestApp(t, testConfig(models.TierSupervised), "agent-a")

	next := testConfig(models.TierManual)
	next.Telemetry.Agent.CPU = 42
	a.applyConfig(next)

	if got := a.safety.DefaultTier(); got != models.TierManual {
		t.Errorf("DefaultTier() = %v, want manual", got)
	}
	if got := a.telemetry.Thresholds().AgentCPU; got != 42 {
		t.Errorf("AgentCPU threshold = %v, want 42", got)
	}
}

func TestNewPlanner_Credentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("FLEET_TEST_UNSET_KEY", "")

	cfg := testConfig(models.TierSupervised)
	cfg.Orchestrator.Decomposer = config.DecomposerPlanner
	cfg.Anthropic.APIKey = "${FLEET_TEST_UNSET_KEY}"
	if _, err := newPlanner(cfg, logging.NopLogger()); !errors.Is(err, config.ErrNoAPIKey) {
		t.Errorf("newPlanner() without a key error = %v, want ErrNoAPIKey", err)
	}

	t.Setenv("FLEET_TEST_UNSET_KEY", "sk-ant-test-planner-key")
	d, err := newPlanner(cfg, logging.NopLogger())
	if err != nil {
		t.Fatalf("newPlanner() with an expanded key error = %v", err)
	}
	if d == nil {
		t.Error("newPlanner() returned a nil decomposer")
	}
}

func TestPrintTask(t *testing.T) {
	task := &models.Task{
		ID:     "t1",
		Status: models.TaskStatusFailed,
		Units: []*models.Unit{
			{ID: "t1-u0", AssignedAgent: "agent-a", Prompt: "echo hi", Status: models.UnitStatusCompleted, Result: "line1\nline2\n"},
			{ID: "t1-u1", Prompt: "sudo ls", Status: models.UnitStatusFailed, Error: "safety violation"},
		},
	}

	var buf bytes.Buffer
	printTask(&buf, task)
	out := buf.String()
	for _, want := range []string{"Task t1", "t1-u0 [agent-a]", "line2", "t1-u1 [-]", "safety violation", "1 completed, 1 failed of 2 units"} {
		if !strings.Contains(out, want) {
			t.Errorf("printTask output missing %q:\n%s", want, out)
		}
	}
}

func TestDescribeRunError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"no capacity", orchestrator.ErrNoCapacity, "fleet agents create"},
		{"approval", &orchestrator.TaskError{TaskID: "t1", Failed: map[string]error{"t1-u0": &safety.ApprovalRequiredError{ApprovalID: "ap-9"}}}, "ap-9"},
		{"other", errors.New("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeRunError(tt.err)
			if tt.want == "" && got != "" {
				t.Errorf("describeRunError() = %q, want empty", got)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("describeRunError() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestPrintDecision(t *testing.T) {
	cfg := testConfig(models.TierSupervised)
	tests := []struct {
		name    string
		tier    models.Tier
		command string
		allowed bool
		want    string
	}{
		{"allow list", models.TierSupervised, "git status", true, "allowed under tier 2"},
		{"needs approval", models.TierSupervised, "make build", true, "requires approval"},
		{"blocked", models.TierAutonomous, "sudo reboot", false, "denied under tier 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, err := newCheckEngine(cfg, tt.tier)
			if err != nil {
				t.Fatalf("newCheckEngine() error = %v", err)
			}
			var buf bytes.Buffer
			if got := printDecision(&buf, tt.tier, eng.CheckCommandSafety("", tt.command)); got != tt.allowed {
				t.Errorf("printDecision() = %v, want %v", got, tt.allowed)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestOpenAuditPath_Missing(t *testing.T) {
	cfg := testConfig(models.TierSupervised)
	cfg.Audit.Path = filepath.Join(t.TempDir(), "none.db")

	db, err := openAuditPath(cfg)
	if err != nil {
		t.Fatalf("openAuditPath() error = %v", err)
	}
	if db != nil {
		db.Close()
		t.Error("openAuditPath() opened a store that did not exist")
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	if err := writeTable(&buf, []string{"A"}, nil); err != nil {
		t.Fatalf("writeTable() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No records.") {
		t.Errorf("empty table = %q", buf.String())
	}

	buf.Reset()
	long := strings.Repeat("x", 100)
	if err := writeTable(&buf, []string{"Agent", "Command"}, [][]string{{"agent-a", long}}); err != nil {
		t.Fatalf("writeTable() error = %v", err)
	}
	if !strings.Contains(buf.String(), "agent-a") || strings.Contains(buf.String(), long) {
		t.Errorf("table = %q, want agent-a and a truncated command", buf.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "fleet version ") {
		t.Errorf("output = %q", buf.String())
	}
}
