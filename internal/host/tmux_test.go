package host

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	iexec "github.com/ShayCichocki/fleet/internal/exec"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// scriptedRunner records invocations and answers from a lookup keyed by the
// first arguments of the call.
type scriptedRunner struct {
	calls   [][]string
	outputs map[string]string
	errs    map[string]error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{outputs: map[string]string{}, errs: map[string]error{}}
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	r.calls = append(r.calls, call)
	key := name
	if len(args) > 0 {
		key = name + " " + args[0]
	}
	if err, ok := r.errs[key]; ok {
		return nil, err
	}
	return []byte(r.outputs[key]), nil
}

var _ iexec.CommandRunner = (*scriptedRunner)(nil)

func TestTmux_List(t *testing.T) {
	r := newScriptedRunner()
	r.outputs["tmux list-sessions"] = "fleet-a\t1700000000\t0\nother\t1700000000\t0\nfleet-b\t1700000100\t1\n"
	h := NewTmux(r)

	agents, err := h.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("List() returned %d agents, want 2: %+v", len(agents), agents)
	}
	if agents[0].ID != "fleet-a" || agents[0].Name != "a" || agents[0].State != models.AgentIdle {
		t.Errorf("agents[0] = %+v", agents[0])
	}
	if agents[1].State != models.AgentError {
		t.Errorf("dead pane should map to error state, got %s", agents[1].State)
	}
	if agents[0].LastActive.Unix() != 1700000000 {
		t.Errorf("LastActive = %v", agents[0].LastActive)
	}
}

func TestTmux_ListNoServer(t *testing.T) {
	r := newScriptedRunner()
	r.errs["tmux list-sessions"] = errors.New("no server running on /tmp/tmux-0/default")
	h := NewTmux(r)

	agents, err := h.List(context.Background())
	if err != nil {
		t.Fatalf("List() with no server should not fail, got %v", err)
	}
	if len(agents) != 0 {
		t.Errorf("expected no agents, got %d", len(agents))
	}
}

func TestTmux_ListFailure(t *testing.T) {
	r := newScriptedRunner()
	r.errs["tmux list-sessions"] = errors.New("permission denied")
	h := NewTmux(r)

	_, err := h.List(context.Background())
	if !errors.Is(err, ErrHostUnavailable) {
		t.Errorf("expected ErrHostUnavailable, got %v", err)
	}
}

func TestTmux_Create(t *testing.T) {
	r := newScriptedRunner()
	h := NewTmux(r, WithSessionPrefix("t-"))

	snap, err := h.Create(context.Background(), CreateConfig{Name: "worker", WorkDir: "/tmp"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if snap.ID != "t-worker" || snap.State != models.AgentIdle {
		t.Errorf("snapshot = %+v", snap)
	}

	first := strings.Join(r.calls[0], " ")
	if !strings.Contains(first, "new-session -d -s t-worker") || !strings.Contains(first, "-c /tmp") {
		t.Errorf("unexpected create call: %s", first)
	}
}

func TestTmux_CreateRequiresName(t *testing.T) {
	h := NewTmux(newScriptedRunner())
	if _, err := h.Create(context.Background(), CreateConfig{}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestTmux_ExecuteSendsLiteralThenEnter(t *testing.T) {
	r := newScriptedRunner()
	h := NewTmux(r)

	if err := h.Execute(context.Background(), "fleet-a", "ls -la"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(r.calls) != 2 {
		t.Fatalf("expected 2 tmux calls, got %d", len(r.calls))
	}
	if got := strings.Join(r.calls[0], " "); got != "tmux send-keys -t fleet-a -l ls -la" {
		t.Errorf("first call = %q", got)
	}
	if got := strings.Join(r.calls[1], " "); got != "tmux send-keys -t fleet-a Enter" {
		t.Errorf("second call = %q", got)
	}
}

func TestTmux_ExecuteMissingSession(t *testing.T) {
	r := newScriptedRunner()
	r.errs["tmux send-keys"] = errors.New("can't find session: fleet-x")
	h := NewTmux(r)

	err := h.Execute(context.Background(), "fleet-x", "ls")
	if !errors.Is(err, ErrHostUnavailable) {
		t.Errorf("expected ErrHostUnavailable, got %v", err)
	}
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestTmux_ReadOutput(t *testing.T) {
	r := newScriptedRunner()
	r.outputs["tmux capture-pane"] = "one\ntwo\nthree\n\n\n"
	h := NewTmux(r)

	out, err := h.ReadOutput(context.Background(), "fleet-a", 2)
	if err != nil {
		t.Fatalf("ReadOutput() error = %v", err)
	}
	if out != "two\nthree" {
		t.Errorf("ReadOutput() = %q", out)
	}
}

func TestTmux_Stats(t *testing.T) {
	r := newScriptedRunner()
	r.outputs["tmux list-panes"] = "100\n"
	r.outputs["ps -A"] = strings.Join([]string{
		"  100     1  0.5  2048",
		"  101   100 40.0 102400",
		"  102   101 10.0 51200",
		"  200     1 99.0 999999",
		"garbage line",
	}, "\n")
	h := NewTmux(r)

	stats, err := h.Stats(context.Background(), "fleet-a")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Processes != 3 {
		t.Errorf("Processes = %d, want 3", stats.Processes)
	}
	if math.Abs(stats.CPU-50.5) > 0.001 {
		t.Errorf("CPU = %v, want 50.5", stats.CPU)
	}
	if math.Abs(stats.MemoryMB-152) > 0.001 {
		t.Errorf("MemoryMB = %v, want 152", stats.MemoryMB)
	}
}

func TestTmux_InterruptAndRestart(t *testing.T) {
	r := newScriptedRunner()
	h := NewTmux(r)
	ctx := context.Background()

	if err := h.Interrupt(ctx, "fleet-a"); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	if err := h.Restart(ctx, "fleet-a"); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if got := strings.Join(r.calls[0], " "); got != "tmux send-keys -t fleet-a C-c" {
		t.Errorf("interrupt call = %q", got)
	}
	if got := strings.Join(r.calls[1], " "); got != "tmux respawn-pane -k -t fleet-a" {
		t.Errorf("restart call = %q", got)
	}
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("boom")
	err := Unavailable("execute", "a1", cause)
	if !errors.Is(err, ErrHostUnavailable) {
		t.Error("expected errors.Is(err, ErrHostUnavailable)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be unwrappable")
	}
	if !strings.Contains(err.Error(), "a1") {
		t.Errorf("error message %q should name the agent", err.Error())
	}
	if !errors.Is(Unavailable("list", "", nil), ErrHostUnavailable) {
		t.Error("nil cause should still be a host error")
	}
}
