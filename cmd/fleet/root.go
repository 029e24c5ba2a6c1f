package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Orchestrate pooled terminal agents",
	Long: `fleet drives a pool of terminal agents running in tmux sessions.

A submitted prompt is split into units, units are spread across idle healthy
agents, and every command passes a tiered safety policy before it is typed
into an agent. A telemetry loop samples the agents and raises threshold
alerts, and a recovery loop interrupts, restarts, or retires agents that stop
answering.

Agents are tmux sessions whose name starts with the configured prefix
("fleet-" by default). Create some with 'fleet agents create'.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .fleet.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration honoring the global flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}
