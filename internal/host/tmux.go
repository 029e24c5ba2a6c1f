package host

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	iexec "github.com/ShayCichocki/fleet/internal/exec"
	"github.com/ShayCichocki/fleet/internal/logging"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// DefaultSessionPrefix is prepended to agent names to form tmux session names.
const DefaultSessionPrefix = "fleet-"

// Tmux is a Host that runs every agent in its own detached tmux session.
// The agent ID is the tmux session name.
type Tmux struct {
	runner iexec.CommandRunner
	prefix string
	logger *logging.Logger
}

// TmuxOption configures a Tmux host.
type TmuxOption func(*Tmux)

// WithSessionPrefix sets the session name prefix used to recognise agents.
func WithSessionPrefix(prefix string) TmuxOption {
	return func(t *Tmux) { t.prefix = prefix }
}

// WithLogger sets the logger for host warnings.
func WithLogger(l *logging.Logger) TmuxOption {
	return func(t *Tmux) { t.logger = l }
}

// NewTmux creates a tmux-backed host.
func NewTmux(runner iexec.CommandRunner, opts ...TmuxOption) *Tmux {
	t := &Tmux{
		runner: runner,
		prefix: DefaultSessionPrefix,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.NopLogger()
	}
	return t
}

// Compile-time interface checks.
var (
	_ Host        = (*Tmux)(nil)
	_ Interrupter = (*Tmux)(nil)
	_ Restarter   = (*Tmux)(nil)
	_ StatsSource = (*Tmux)(nil)
)

// List returns every tmux session carrying the configured prefix.
// A missing tmux server means no agents, not a failure.
func (t *Tmux) List(ctx context.Context) ([]models.AgentSnapshot, error) {
	out, err := t.tmux(ctx, "list-sessions", "-F", "#{session_name}\t#{session_activity}\t#{pane_dead}")
	if err != nil {
		if isNoServer(err) {
			return nil, nil
		}
		return nil, Unavailable("list", "", err)
	}
	return parseSessions(string(out), t.prefix), nil
}

// parseSessions converts list-sessions output into snapshots.
func parseSessions(out, prefix string) []models.AgentSnapshot {
	var agents []models.AgentSnapshot
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		name := fields[0]
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		snap := models.AgentSnapshot{
			ID:    name,
			Name:  strings.TrimPrefix(name, prefix),
			State: models.AgentIdle,
		}
		if len(fields) > 1 {
			if secs, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				snap.LastActive = time.Unix(secs, 0)
			}
		}
		if len(fields) > 2 && fields[2] == "1" {
			snap.State = models.AgentError
		}
		agents = append(agents, snap)
	}
	return agents
}

// Create starts a detached session for the agent.
func (t *Tmux) Create(ctx context.Context, cfg CreateConfig) (models.AgentSnapshot, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return models.AgentSnapshot{}, errors.New("agent name is required")
	}
	width, height := cfg.Width, cfg.Height
	if width == 0 {
		width = 200
	}
	if height == 0 {
		height = 50
	}

	id := t.prefix + cfg.Name
	args := []string{"new-session", "-d", "-s", id,
		"-x", strconv.Itoa(width), "-y", strconv.Itoa(height)}
	if cfg.WorkDir != "" {
		args = append(args, "-c", cfg.WorkDir)
	}
	if cfg.Command != "" {
		args = append(args, cfg.Command)
	}
	if _, err := t.tmux(ctx, args...); err != nil {
		return models.AgentSnapshot{}, Unavailable("create", id, err)
	}

	if _, err := t.tmux(ctx, "set-option", "-t", id, "history-limit", "10000"); err != nil {
		t.logger.Warn("failed to set history-limit", "agent_id", id, "error", err)
	}

	return models.AgentSnapshot{
		ID:         id,
		Name:       cfg.Name,
		State:      models.AgentIdle,
		LastActive: time.Now(),
	}, nil
}

// Execute types the command literally into the session and presses Enter.
func (t *Tmux) Execute(ctx context.Context, agentID, command string) error {
	if _, err := t.tmux(ctx, "send-keys", "-t", agentID, "-l", command); err != nil {
		return Unavailable("execute", agentID, wrapMissing(err))
	}
	if _, err := t.tmux(ctx, "send-keys", "-t", agentID, "Enter"); err != nil {
		return Unavailable("execute", agentID, wrapMissing(err))
	}
	return nil
}

// ReadOutput captures the last lines of the session's pane.
func (t *Tmux) ReadOutput(ctx context.Context, agentID string, lines int) (string, error) {
	if lines <= 0 {
		lines = 50
	}
	out, err := t.tmux(ctx, "capture-pane", "-p", "-t", agentID, "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", Unavailable("read", agentID, wrapMissing(err))
	}
	return lastLines(string(out), lines), nil
}

// lastLines trims trailing blank lines and keeps at most n lines.
func lastLines(s string, n int) string {
	all := strings.Split(strings.TrimRight(s, "\n "), "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return strings.Join(all, "\n")
}

// Close kills the agent's session.
func (t *Tmux) Close(ctx context.Context, agentID string) error {
	if _, err := t.tmux(ctx, "kill-session", "-t", agentID); err != nil {
		return Unavailable("close", agentID, wrapMissing(err))
	}
	return nil
}

// Interrupt sends Ctrl+C to the session.
func (t *Tmux) Interrupt(ctx context.Context, agentID string) error {
	if _, err := t.tmux(ctx, "send-keys", "-t", agentID, "C-c"); err != nil {
		return Unavailable("interrupt", agentID, wrapMissing(err))
	}
	return nil
}

// Restart kills the pane's process and respawns the shell in place.
func (t *Tmux) Restart(ctx context.Context, agentID string) error {
	if _, err := t.tmux(ctx, "respawn-pane", "-k", "-t", agentID); err != nil {
		return Unavailable("restart", agentID, wrapMissing(err))
	}
	return nil
}

// Stats sums CPU and memory over the process trees rooted at the session's panes.
func (t *Tmux) Stats(ctx context.Context, agentID string) (ProcessStats, error) {
	out, err := t.tmux(ctx, "list-panes", "-t", agentID, "-F", "#{pane_pid}")
	if err != nil {
		return ProcessStats{}, Unavailable("stats", agentID, wrapMissing(err))
	}
	var roots []int
	for _, field := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(field); err == nil {
			roots = append(roots, pid)
		}
	}

	psOut, err := t.runner.Run(ctx, "ps", "-A", "-o", "pid=,ppid=,%cpu=,rss=")
	if err != nil {
		return ProcessStats{}, Unavailable("stats", agentID, err)
	}
	return sumProcessTree(parseProcessTable(string(psOut)), roots), nil
}

func (t *Tmux) tmux(ctx context.Context, args ...string) ([]byte, error) {
	return t.runner.Run(ctx, "tmux", args...)
}

// isNoServer reports whether tmux failed because no server is running.
func isNoServer(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "error connecting to")
}

// wrapMissing maps tmux "can't find session" failures onto ErrAgentNotFound.
func wrapMissing(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "can't find") || strings.Contains(msg, "session not found") {
		return fmt.Errorf("%w: %v", ErrAgentNotFound, err)
	}
	return err
}
