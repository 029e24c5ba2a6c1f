package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/fleet/internal/host/hosttest"
	"github.com/ShayCichocki/fleet/internal/registry"
	"github.com/ShayCichocki/fleet/pkg/models"
)

func quickConfig(retries int) Config {
	return Config{MaxRetries: retries, CheckInterval: time.Second}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateHealthy, StateDegraded, true},
		{StateHealthy, StateRecovering, false},
		{StateHealthy, StateTerminated, false},
		{StateDegraded, StateRecovering, true},
		{StateDegraded, StateHealthy, true},
		{StateRecovering, StateHealthy, true},
		{StateRecovering, StateTerminated, true},
		{StateTerminated, StateHealthy, false},
		{StateTerminated, StateRecovering, false},
		{StateTerminated, StateTerminated, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestHostProber(t *testing.T) {
	ctx := context.Background()
	h := hosttest.New("ok", "err", "stuck")
	h.SetState("err", models.AgentError)
	h.SetUnresponsive("stuck", true)
	p := HostProber{Host: h}

	if err := p.Probe(ctx, "ok"); err != nil {
		t.Errorf("Probe(ok) = %v", err)
	}
	if err := p.Probe(ctx, "err"); !errors.Is(err, ErrAgentErrorState) {
		t.Errorf("Probe(err) = %v, want ErrAgentErrorState", err)
	}
	if err := p.Probe(ctx, "stuck"); err == nil {
		t.Error("Probe(stuck) = nil, want error")
	}
	if err := p.Probe(ctx, "missing"); err == nil {
		t.Error("Probe(missing) = nil, want error")
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	h := hosttest.New("a1")
	rc := New(h, quickConfig(1))

	if s, err := rc.Check(ctx, "a1"); s != StateHealthy || err != nil {
		t.Fatalf("Check() = %s, %v", s, err)
	}

	h.SetUnresponsive("a1", true)
	if s, err := rc.Check(ctx, "a1"); s != StateDegraded || err == nil {
		t.Fatalf("Check() unresponsive = %s, %v", s, err)
	}

	h.SetUnresponsive("a1", false)
	if s, _ := rc.Check(ctx, "a1"); s != StateHealthy {
		t.Errorf("Check() after heal = %s, want healthy", s)
	}
}

func TestRecover_InterruptHeals(t *testing.T) {
	h := hosttest.New("a1")
	h.SetUnresponsive("a1", true)
	h.HealOnInterrupt("a1", true)
	rc := New(h, quickConfig(3))

	if err := rc.Recover(context.Background(), "a1"); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if rc.State("a1") != StateHealthy {
		t.Errorf("State = %s, want healthy", rc.State("a1"))
	}
	if h.Interrupts("a1") != 1 || h.Restarts("a1") != 0 {
		t.Errorf("interrupts=%d restarts=%d, want 1/0", h.Interrupts("a1"), h.Restarts("a1"))
	}
}

func TestRecover_RestartHeals(t *testing.T) {
	h := hosttest.New("a1")
	h.SetUnresponsive("a1", true)
	h.HealOnRestart("a1", true)
	rc := New(h, quickConfig(3))

	if err := rc.Recover(context.Background(), "a1"); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if h.Interrupts("a1") != 1 || h.Restarts("a1") != 1 {
		t.Errorf("interrupts=%d restarts=%d, want 1/1", h.Interrupts("a1"), h.Restarts("a1"))
	}
}

func TestRecover_ExhaustionTerminates(t *testing.T) {
	ctx := context.Background()
	h := hosttest.New("a1", "a2")
	h.SetUnresponsive("a1", true)
	reg := registry.New(h)

	var (
		mu         sync.Mutex
		terminated []string
	)
	rc := New(h, quickConfig(2), WithExcluder(reg))
	rc.OnTerminated(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		terminated = append(terminated, id)
	})

	err := rc.Recover(ctx, "a1")
	if !errors.Is(err, ErrAgentTerminated) {
		t.Fatalf("Recover() error = %v, want ErrAgentTerminated", err)
	}
	if h.Interrupts("a1") != 2 || h.Restarts("a1") != 2 {
		t.Errorf("interrupts=%d restarts=%d, want 2/2", h.Interrupts("a1"), h.Restarts("a1"))
	}
	if rc.State("a1") != StateTerminated {
		t.Errorf("State = %s, want terminated", rc.State("a1"))
	}
	if !reg.Excluded("a1") {
		t.Error("terminated agent not excluded from registry")
	}
	if got := rc.Terminated(); len(got) != 1 || got[0] != "a1" {
		t.Errorf("Terminated() = %v", got)
	}
	mu.Lock()
	if len(terminated) != 1 {
		t.Errorf("OnTerminated called %d times, want 1", len(terminated))
	}
	mu.Unlock()

	// Terminal: later heals and checks never resurrect it.
	h.SetUnresponsive("a1", false)
	if _, err := rc.Check(ctx, "a1"); !errors.Is(err, ErrAgentTerminated) {
		t.Errorf("Check() on terminated = %v", err)
	}
	if err := rc.Recover(ctx, "a1"); !errors.Is(err, ErrAgentTerminated) {
		t.Errorf("Recover() on terminated = %v", err)
	}
	if h.Interrupts("a1") != 2 {
		t.Error("terminated agent was interrupted again")
	}
}

func TestRecover_GracePeriodUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := hosttest.New("a1")
	h.SetUnresponsive("a1", true)
	h.HealOnInterrupt("a1", true)
	rc := New(h, Config{MaxRetries: 1, GracePeriod: 5 * time.Second}, WithClock(clock))

	done := make(chan error, 1)
	go func() { done <- rc.Recover(context.Background(), "a1") }()

	clock.BlockUntil(1)
	if rc.State("a1") != StateRecovering {
		t.Errorf("State during grace = %s, want recovering", rc.State("a1"))
	}
	clock.Advance(5 * time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Recover() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Recover did not finish after grace period")
	}
}

func TestRecover_Cancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := hosttest.New("a1")
	h.SetUnresponsive("a1", true)
	rc := New(h, Config{MaxRetries: 3, GracePeriod: time.Minute}, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rc.Recover(ctx, "a1") }()
	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Recover() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Recover ignored cancellation")
	}
	if rc.State("a1") != StateDegraded {
		t.Errorf("State after cancel = %s, want degraded", rc.State("a1"))
	}
}

func TestRecover_ConcurrentCallsShareAttempt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := hosttest.New("a1")
	h.SetUnresponsive("a1", true)
	h.HealOnInterrupt("a1", true)
	rc := New(h, Config{MaxRetries: 1, GracePeriod: time.Second}, WithClock(clock))

	errs := make(chan error, 2)
	go func() { errs <- rc.Recover(context.Background(), "a1") }()
	clock.BlockUntil(1)
	go func() { errs <- rc.Recover(context.Background(), "a1") }()

	// Give the second caller time to join the in-flight attempt.
	time.Sleep(20 * time.Millisecond)
	clock.Advance(time.Second)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Errorf("Recover() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Recover callers did not finish")
		}
	}
	if h.Interrupts("a1") != 1 {
		t.Errorf("interrupts = %d, want 1", h.Interrupts("a1"))
	}
}

func TestCheckAll(t *testing.T) {
	h := hosttest.New("a1", "a2", "a3")
	h.SetUnresponsive("a2", true)
	h.HealOnRestart("a2", true)
	h.SetUnresponsive("a3", true)
	reg := registry.New(h)
	rc := New(h, quickConfig(1), WithLister(reg), WithExcluder(reg))

	if err := rc.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll() error = %v", err)
	}

	want := map[string]State{"a1": StateHealthy, "a2": StateHealthy, "a3": StateTerminated}
	for id, s := range want {
		if got := rc.State(id); got != s {
			t.Errorf("State(%s) = %s, want %s", id, got, s)
		}
	}
	snaps, _ := reg.Snapshots(context.Background())
	if len(snaps) != 2 {
		t.Errorf("registry lists %d agents after termination, want 2", len(snaps))
	}
}

func TestCheckAllRequiresLister(t *testing.T) {
	rc := New(hosttest.New(), quickConfig(1))
	if err := rc.CheckAll(context.Background()); err == nil {
		t.Error("CheckAll() without lister = nil, want error")
	}
}

func TestStartStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := hosttest.New("a1")
	h.SetUnresponsive("a1", true)
	reg := registry.New(h)
	rc := New(h, Config{MaxRetries: 0, CheckInterval: time.Second}, WithClock(clock), WithLister(reg), WithExcluder(reg))

	if err := rc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := rc.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v", err)
	}
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for rc.State("a1") != StateTerminated {
		if time.Now().After(deadline) {
			t.Fatalf("State = %s, want terminated", rc.State("a1"))
		}
		time.Sleep(5 * time.Millisecond)
	}
	rc.Stop()
	rc.Stop()
}
