package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/config"
	"github.com/ShayCichocki/fleet/internal/state"
	"github.com/ShayCichocki/fleet/internal/tui"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the agent pool live",
	Long: `Start the telemetry and recovery loops and open the live monitor.

The monitor shows every agent with its latest resource sample and recovery
state, the system totals, recent alerts, and pending approvals. Edits to the
config file are applied without a restart: alert thresholds and the default
tier are reloaded in place.

Logs go to the configured logging.dir, or next to the audit store when unset,
so they do not draw over the screen.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = filepath.Join(filepath.Dir(state.DefaultPath()), "logs")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.telemetry.Start(ctx); err != nil {
		return fmt.Errorf("start telemetry: %w", err)
	}
	if err := a.recovery.Start(ctx); err != nil {
		return fmt.Errorf("start recovery: %w", err)
	}

	if path := watchedConfigPath(); path != "" {
		w, err := config.NewWatcher(path, a.applyConfig, a.logger)
		if err != nil {
			a.logger.Warn("config watcher disabled", "path", path, "error", err)
		} else {
			defer w.Stop()
		}
	}

	program := tea.NewProgram(tui.New(monitorSource{app: a}, cfg.TUI.RefreshRate),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// watchedConfigPath returns the file whose edits are applied live.
func watchedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := config.GetProjectConfigPath(); p != "" {
		return p
	}
	if _, err := os.Stat(config.GetUserConfigPath()); err == nil {
		return config.GetUserConfigPath()
	}
	return ""
}
