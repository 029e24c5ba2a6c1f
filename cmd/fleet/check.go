package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/config"
	"github.com/ShayCichocki/fleet/internal/safety"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// errCommandDenied makes 'fleet check' exit non-zero for denied commands.
var errCommandDenied = errors.New("command denied")

var checkTier string

var checkCmd = &cobra.Command{
	Use:   "check [--tier N] COMMAND",
	Short: "Show the safety decision for a command",
	Long: `Evaluate a command against a tier policy without running it.

Prints whether the command would run, need approval, or be denied, and why.
Exits non-zero when the command is denied.

Examples:
  fleet check "git status"
  fleet check --tier 3 "make build"
  fleet check --tier autonomous "sudo reboot"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkTier, "tier", "", "Tier to evaluate under (default: configured tier)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tier := cfg.Tier()
	if checkTier != "" {
		if tier, err = models.ParseTier(checkTier); err != nil {
			return err
		}
	}

	eng, err := newCheckEngine(cfg, tier)
	if err != nil {
		return err
	}
	command := strings.Join(args, " ")
	if !printDecision(cmd.OutOrStdout(), tier, eng.CheckCommandSafety("", command)) {
		return errCommandDenied
	}
	return nil
}

// newCheckEngine builds an engine for evaluation only. It has no host and no
// audit sink, so checks never reach an agent or the audit store.
func newCheckEngine(cfg *config.Config, tier models.Tier) (*safety.Engine, error) {
	eng := safety.New(nil, safety.WithDefaultTier(tier))
	if cfg.Safety.PolicyFile != "" {
		if err := eng.LoadPolicies(cfg.Safety.PolicyFile); err != nil {
			return nil, fmt.Errorf("load policy file: %w", err)
		}
	}
	if cfg.Safety.PatternFile != "" {
		if err := eng.LoadPatterns(cfg.Safety.PatternFile); err != nil {
			return nil, fmt.Errorf("load pattern file: %w", err)
		}
	}
	return eng, nil
}

// printDecision prints a colored decision and reports whether the command may run.
func printDecision(w io.Writer, tier models.Tier, d safety.Decision) bool {
	label := fmt.Sprintf("tier %d (%s)", int(tier), tier)
	switch {
	case !d.Safe:
		printStatus(w, "✗", fmt.Sprintf("denied under %s: %s", label, d.Violation.Message), color.FgRed)
		fmt.Fprintf(w, "  violation: %s\n", d.Violation.Type)
		return false
	case d.RequiresApproval:
		printStatus(w, "⚠", fmt.Sprintf("requires approval under %s", label), color.FgYellow)
	default:
		printStatus(w, "✓", fmt.Sprintf("allowed under %s", label), color.FgGreen)
	}
	return true
}

// printStatus prints a status line with a colored symbol.
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}
