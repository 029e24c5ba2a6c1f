package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/orchestrator"
	"github.com/ShayCichocki/fleet/internal/safety"
	"github.com/ShayCichocki/fleet/pkg/models"
)

var (
	runUnits   []string
	runTier    string
	runTimeout time.Duration
	runQuiet   bool
)

var runCmd = &cobra.Command{
	Use:   "run [--unit PROMPT]... PROMPT",
	Short: "Run a task across the agent pool",
	Long: `Submit a task and wait for every unit to finish.

Without --unit flags the prompt is split into units by the configured
decomposer. With --unit flags each flag becomes one independent unit and the
positional prompt only names the task.

Examples:
  fleet run "go vet ./..., go test ./..., golangci-lint run"
  fleet run "make build then make test"
  fleet run --unit "go test ./pkg/..." --unit "go test ./internal/..." "tests"
  fleet run --tier 1 "rm -rf build"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runUnits, "unit", nil, "Explicit unit prompt (repeatable)")
	runCmd.Flags().StringVar(&runTier, "tier", "", "Safety tier for this run (1-3 or autonomous, supervised, manual)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Cancel the task after this long (0 = no limit)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print the final summary")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if runTier != "" {
		tier, err := models.ParseTier(runTier)
		if err != nil {
			return err
		}
		if err := a.safety.SetDefaultTier(tier); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range a.orch.Events() {
			if !runQuiet {
				printEvent(out, ev)
			}
		}
	}()

	task, runErr := submit(ctx, a.orch, args[0], runUnits)
	a.orch.Close()
	<-done

	if task != nil {
		printTask(out, task)
	}
	if hint := describeRunError(runErr); hint != "" {
		fmt.Fprintln(out, color.YellowString("hint: "+hint))
	}
	return runErr
}

// submit runs the prompt through the decomposer, or as explicit units when given.
func submit(ctx context.Context, orch *orchestrator.Orchestrator, prompt string, units []string) (*models.Task, error) {
	if len(units) > 0 {
		return orch.SubmitTask(ctx, prompt, units)
	}
	return orch.Submit(ctx, prompt)
}

func printEvent(w io.Writer, ev orchestrator.Event) {
	dim := color.New(color.FgHiBlack)
	switch ev.Type {
	case orchestrator.EventUnitStarted:
		dim.Fprintf(w, "→ %s on %s\n", ev.UnitID, ev.AgentID)
	case orchestrator.EventUnitCompleted:
		dim.Fprintf(w, "✓ %s\n", ev.UnitID)
	case orchestrator.EventUnitFailed:
		dim.Fprintf(w, "✗ %s: %v\n", ev.UnitID, ev.Error)
	}
}

// printTask prints the per-unit outcome of a finished task.
func printTask(w io.Writer, task *models.Task) {
	fmt.Fprintf(w, "\nTask %s %s\n", task.ID, statusLabel(task.Status))
	for _, u := range task.Units {
		agent := u.AssignedAgent
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(w, "  %s [%s] %s %s\n", u.ID, agent, unitLabel(u.Status), u.Prompt)
		switch {
		case u.Status == models.UnitStatusCompleted && strings.TrimSpace(u.Result) != "":
			for _, line := range lastLines(u.Result, 5) {
				fmt.Fprintf(w, "      %s\n", line)
			}
		case u.Error != "":
			fmt.Fprintf(w, "      %s\n", color.RedString(u.Error))
		}
	}

	counts := task.Counts()
	fmt.Fprintf(w, "\n%d completed, %d failed of %d units\n",
		counts[models.UnitStatusCompleted], counts[models.UnitStatusFailed], len(task.Units))
}

// describeRunError adds a hint for errors the user can act on.
func describeRunError(err error) string {
	var approval *safety.ApprovalRequiredError
	switch {
	case errors.Is(err, orchestrator.ErrNoCapacity):
		return "no idle agents; create some with 'fleet agents create'"
	case errors.As(err, &approval):
		return fmt.Sprintf("approval %s required; add the command to the tier allow list or rerun with a lower --tier", approval.ApprovalID)
	}
	return ""
}

func statusLabel(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.GreenString(string(s))
	case models.TaskStatusFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func unitLabel(s models.UnitStatus) string {
	switch s {
	case models.UnitStatusCompleted:
		return color.GreenString("✓")
	case models.UnitStatusFailed:
		return color.RedString("✗")
	default:
		return color.YellowString("…")
	}
}

func lastLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
