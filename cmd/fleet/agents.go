package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/host"
	"github.com/ShayCichocki/fleet/internal/recovery"
)

var (
	agentsCount   int
	agentsName    string
	agentsWorkDir string
	agentsCommand string
	agentsAll     bool
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage the agent pool",
	Long: `List, create, probe, and close agents on the tmux host.

Examples:
  fleet agents list
  fleet agents create --count 4 --workdir ~/src/project
  fleet agents check
  fleet agents close fleet-agent-2
  fleet agents close --all`,
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		snaps, err := a.registry.Snapshots(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(snaps))
		for _, s := range snaps {
			rows = append(rows, []string{s.ID, string(s.State), formatStamp(s.LastActive)})
		}
		return writeTable(cmd.OutOrStdout(), []string{"Agent", "State", "Last active"}, rows)
	}),
}

var agentsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create agents",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		if agentsCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}
		workDir := agentsWorkDir
		if workDir == "" {
			workDir, _ = os.Getwd()
		}

		existing, err := a.host.List(ctx)
		if err != nil {
			return err
		}
		taken := make(map[string]bool, len(existing))
		for _, s := range existing {
			taken[s.Name] = true
		}

		names := make([]string, 0, agentsCount)
		for i := 1; len(names) < agentsCount; i++ {
			name := fmt.Sprintf("%s-%d", agentsName, i)
			if agentsCount == 1 && !taken[agentsName] {
				name = agentsName
			}
			if !taken[name] {
				taken[name] = true
				names = append(names, name)
			}
		}

		p := pool.New().WithErrors().WithContext(ctx)
		out := cmd.OutOrStdout()
		for _, name := range names {
			p.Go(func(ctx context.Context) error {
				snap, err := a.host.Create(ctx, host.CreateConfig{
					Name:    name,
					WorkDir: workDir,
					Command: agentsCommand,
				})
				if err != nil {
					return fmt.Errorf("create %s: %w", name, err)
				}
				fmt.Fprintf(out, "created %s\n", snap.ID)
				return nil
			})
		}
		return p.Wait()
	}),
}

var agentsCloseCmd = &cobra.Command{
	Use:   "close [AGENT_ID]...",
	Short: "Close agents",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		ids := args
		if agentsAll {
			snaps, err := a.host.List(ctx)
			if err != nil {
				return err
			}
			ids = nil
			for _, s := range snaps {
				ids = append(ids, s.ID)
			}
		}
		if len(ids) == 0 {
			return fmt.Errorf("name at least one agent or pass --all")
		}
		for _, id := range ids {
			if err := a.host.Close(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", id)
		}
		return nil
	}),
}

var agentsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every agent and recover the ones that fail",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		if err := a.recovery.CheckAll(ctx); err != nil {
			return err
		}
		snaps, err := a.host.List(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, s := range snaps {
			if st := a.recovery.State(s.ID); st == recovery.StateTerminated {
				printStatus(out, "✗", s.ID+" terminated", color.FgRed)
			} else {
				printStatus(out, "✓", s.ID+" "+string(st), color.FgGreen)
			}
		}
		return nil
	}),
}

func init() {
	agentsCreateCmd.Flags().IntVarP(&agentsCount, "count", "n", 1, "Number of agents to create")
	agentsCreateCmd.Flags().StringVar(&agentsName, "name", "agent", "Agent name (numbered when creating several)")
	agentsCreateCmd.Flags().StringVar(&agentsWorkDir, "workdir", "", "Working directory (default: current directory)")
	agentsCreateCmd.Flags().StringVar(&agentsCommand, "command", "", "Command to start instead of the default shell")
	agentsCloseCmd.Flags().BoolVar(&agentsAll, "all", false, "Close every agent")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsCreateCmd)
	agentsCmd.AddCommand(agentsCloseCmd)
	agentsCmd.AddCommand(agentsCheckCmd)
}

// withApp builds the app for a command that talks to the agent host.
func withApp(fn func(context.Context, *cobra.Command, *app, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()
		return fn(ctx, cmd, a, args)
	}
}
