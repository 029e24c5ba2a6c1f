package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/fleet/pkg/models"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Tier() != models.TierSupervised {
		t.Errorf("default tier = %v, want supervised", cfg.Tier())
	}
	if cfg.Telemetry.Interval != 5*time.Second {
		t.Errorf("telemetry interval = %v, want 5s", cfg.Telemetry.Interval)
	}
	if cfg.Telemetry.Retention != 720 || cfg.Telemetry.AlertCapacity != 1000 {
		t.Errorf("retention/capacity = %d/%d, want 720/1000", cfg.Telemetry.Retention, cfg.Telemetry.AlertCapacity)
	}
	if cfg.Recovery.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.Recovery.MaxRetries)
	}
	if cfg.Orchestrator.Decomposer != DecomposerHeuristic {
		t.Errorf("decomposer = %q, want heuristic", cfg.Orchestrator.Decomposer)
	}
	if th := cfg.Thresholds(); th.AgentCPU != 80 || th.ErrorRate != 10 {
		t.Errorf("thresholds = %+v", th)
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("FLEET_TEST_DIR", "/var/log/fleet")
	path := writeConfig(t, t.TempDir(), `
safety:
  default_tier: 3
  settle_delay: 0s
telemetry:
  interval: 10s
  agent:
    cpu: 50
    response_time: 1m
  system:
    error_rate: 25
recovery:
  max_retries: 5
  grace_period: 1s
orchestrator:
  max_parallel: 4
  decomposer: planner
logging:
  level: debug
  dir: ${FLEET_TEST_DIR}
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Tier() != models.TierManual {
		t.Errorf("tier = %v, want manual", cfg.Tier())
	}
	if cfg.Safety.SettleDelay != 0 {
		t.Errorf("settle delay = %v, want 0", cfg.Safety.SettleDelay)
	}
	tc := cfg.TelemetryMonitorConfig()
	if tc.Interval != 10*time.Second || tc.Thresholds.AgentCPU != 50 || tc.Thresholds.AgentResponseTime != time.Minute {
		t.Errorf("telemetry config = %+v", tc)
	}
	if tc.Thresholds.ErrorRate != 25 {
		t.Errorf("error rate = %v, want 25", tc.Thresholds.ErrorRate)
	}
	// Unset keys keep their defaults.
	if tc.Thresholds.AgentMemoryMB != 1024 || tc.Retention != 720 {
		t.Errorf("defaults lost: %+v", tc)
	}
	rc := cfg.RecoveryControllerConfig()
	if rc.MaxRetries != 5 || rc.GracePeriod != time.Second || rc.CheckInterval != 30*time.Second {
		t.Errorf("recovery config = %+v", rc)
	}
	if cfg.Orchestrator.MaxParallel != 4 || cfg.Orchestrator.Decomposer != DecomposerPlanner {
		t.Errorf("orchestrator = %+v", cfg.Orchestrator)
	}
	if cfg.Logging.Dir != "/var/log/fleet" {
		t.Errorf("logging dir = %q, want expanded path", cfg.Logging.Dir)
	}
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	t.Setenv("FLEET_SAFETY_DEFAULT_TIER", "1")
	t.Setenv("FLEET_TELEMETRY_INTERVAL", "2s")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")
	path := writeConfig(t, t.TempDir(), "safety:\n  default_tier: 3\n")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Tier() != models.TierAutonomous {
		t.Errorf("tier = %v, want env override autonomous", cfg.Tier())
	}
	if cfg.Telemetry.Interval != 2*time.Second {
		t.Errorf("interval = %v, want 2s", cfg.Telemetry.Interval)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"tier out of range", "safety:\n  default_tier: 7\n", "default_tier"},
		{"zero interval", "telemetry:\n  interval: 0s\n", "telemetry.interval"},
		{"negative retries", "recovery:\n  max_retries: -1\n", "max_retries"},
		{"unknown decomposer", "orchestrator:\n  decomposer: magic\n", "decomposer"},
		{"negative threshold", "telemetry:\n  agent:\n    cpu: -5\n", "thresholds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := LoadFromPath(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_UserAndProject(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if err := os.MkdirAll(filepath.Join(xdg, "fleet"), 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, filepath.Join(xdg, "fleet"), "safety:\n  default_tier: 1\nrecovery:\n  max_retries: 7\n")

	project := t.TempDir()
	nested := filepath.Join(project, "sub", "dir")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, ProjectFileName), []byte("safety:\n  default_tier: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tier() != models.TierManual {
		t.Errorf("tier = %v, want project override manual", cfg.Tier())
	}
	if cfg.Recovery.MaxRetries != 7 {
		t.Errorf("max retries = %d, want user value 7", cfg.Recovery.MaxRetries)
	}
	if got := GetProjectConfigPath(); filepath.Base(got) != ProjectFileName {
		t.Errorf("project config path = %q", got)
	}
	if got := GetUserConfigPath(); got != filepath.Join(xdg, "fleet", "config.yaml") {
		t.Errorf("user config path = %q", got)
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Safety.DefaultTier = 0
	cfg.Recovery.CheckInterval = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 2 {
		t.Errorf("expected two joined errors, got %v", err)
	}
}

func TestWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "safety:\n  default_tier: 2\n")

	var mu sync.Mutex
	var got []*Config
	changed := make(chan struct{}, 4)
	w, err := NewWatcher(path, func(c *Config) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
		changed <- struct{}{}
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	// An invalid edit is skipped.
	writeConfig(t, dir, "safety:\n  default_tier: 9\n")
	time.Sleep(3 * reloadDebounce)
	writeConfig(t, dir, "safety:\n  default_tier: 3\n")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}

	mu.Lock()
	defer mu.Unlock()
	if last := got[len(got)-1]; last.Tier() != models.TierManual {
		t.Errorf("reloaded tier = %v, want manual", last.Tier())
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "{}\n")
	w, err := NewWatcher(path, nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestConfig_YAMLMasksKey(t *testing.T) {
	cfg := Default()
	cfg.Anthropic.APIKey = "sk-ant-REDACTED"

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}
	s := string(out)
	if strings.Contains(s, "abcdefghijklmnop") {
		t.Error("YAML() leaked the API key")
	}
	for _, want := range []string{"default_tier: 2", "settle_delay: 500ms", "decomposer: heuristic"} {
		if !strings.Contains(s, want) {
			t.Errorf("YAML() missing %q:\n%s", want, s)
		}
	}
	if cfg.Anthropic.APIKey != "sk-ant-REDACTED" {
		t.Error("YAML() modified the receiver")
	}
}
