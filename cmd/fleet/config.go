package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/config"
	"github.com/ShayCichocki/fleet/internal/state"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `View the effective fleet configuration.

Configuration is read from ~/.config/fleet/config.yaml, merged with the
nearest .fleet.yaml up the directory tree, then overridden by FLEET_*
environment variables (for example FLEET_SAFETY_DEFAULT_TIER=3).`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config and data file locations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(w, "user config:    %s\n", config.GetUserConfigPath())
		fmt.Fprintf(w, "project config: %s\n", project)
		if configPath != "" {
			fmt.Fprintf(w, "--config:       %s\n", configPath)
		}
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(w, "audit store:    %s\n", state.DefaultPath())
			return
		}
		audit := cfg.Audit.Path
		if audit == "" {
			audit = state.DefaultPath()
		}
		fmt.Fprintf(w, "audit store:    %s\n", audit)
		if key, source, _ := config.ResolveAPIKey(cfg); key != "" {
			fmt.Fprintf(w, "api key:        %s (%s)\n", config.MaskAPIKey(key), source)
		} else {
			fmt.Fprintf(w, "api key:        %s\n", source)
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}
