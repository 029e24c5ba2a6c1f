package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/config"
	"github.com/ShayCichocki/fleet/internal/state"
	"github.com/ShayCichocki/fleet/internal/telemetry"
)

var (
	auditLimit     int
	auditJSON      bool
	auditOlderThan time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit store",
	Long: `List what the audit store recorded: denied commands, approval decisions,
telemetry alerts, and final task outcomes. Newest records come first.

Examples:
  fleet audit violations --limit 20
  fleet audit tasks --json | jq '.[0].task.units'
  fleet audit purge --older-than 720h`,
}

var auditViolationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "List denied commands",
	Args:  cobra.NoArgs,
	RunE: withAuditStore(func(w io.Writer, db state.AuditReader) error {
		vs, err := db.ListViolations(auditLimit)
		if err != nil {
			return err
		}
		if auditJSON {
			return writeJSON(w, vs)
		}
		rows := make([][]string, 0, len(vs))
		for _, v := range vs {
			rows = append(rows, []string{formatStamp(v.Timestamp), orDash(v.AgentID), string(v.Type), v.Command, v.Message})
		}
		return writeTable(w, []string{"Time", "Agent", "Type", "Command", "Reason"}, rows)
	}),
}

var auditApprovalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List approval decisions",
	Args:  cobra.NoArgs,
	RunE: withAuditStore(func(w io.Writer, db state.AuditReader) error {
		recs, err := db.ListApprovals(auditLimit)
		if err != nil {
			return err
		}
		if auditJSON {
			return writeJSON(w, recs)
		}
		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			who := r.Approval.ApprovedBy
			if r.Approval.Reason != "" {
				who = r.Approval.Reason
			}
			rows = append(rows, []string{formatStamp(r.RecordedAt), r.Approval.ID, string(r.Event), r.Approval.AgentID, r.Approval.Command, orDash(who)})
		}
		return writeTable(w, []string{"Time", "Approval", "Event", "Agent", "Command", "By / reason"}, rows)
	}),
}

var auditAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List telemetry alerts",
	Args:  cobra.NoArgs,
	RunE: withAuditStore(func(w io.Writer, db state.AuditReader) error {
		alerts, err := db.ListAlerts(auditLimit)
		if err != nil {
			return err
		}
		if auditJSON {
			return writeJSON(w, alerts)
		}
		rows := make([][]string, 0, len(alerts))
		for _, a := range alerts {
			rows = append(rows, []string{formatStamp(a.Timestamp), severityCell(a.Severity), string(a.Type), orDash(a.AgentID), a.Message})
		}
		return writeTable(w, []string{"Time", "Severity", "Type", "Agent", "Message"}, rows)
	}),
}

var auditTasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List task outcomes",
	Args:  cobra.NoArgs,
	RunE: withAuditStore(func(w io.Writer, db state.AuditReader) error {
		recs, err := db.ListTasks(auditLimit)
		if err != nil {
			return err
		}
		if auditJSON {
			return writeJSON(w, recs)
		}
		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, []string{
				formatStamp(r.UpdatedAt), r.Task.ID, string(r.Task.Status),
				fmt.Sprintf("%d/%d", r.CompletedUnits, len(r.Task.Units)),
				r.Task.MainPrompt,
			})
		}
		return writeTable(w, []string{"Time", "Task", "Status", "Done", "Prompt"}, rows)
	}),
}

var auditShowCmd = &cobra.Command{
	Use:   "show TASK_ID",
	Short: "Show the recorded outcome of one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAuditStore(func(w io.Writer, db state.AuditReader) error {
			rec, err := db.GetTask(args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("task %s not found", args[0])
			}
			if auditJSON {
				return writeJSON(w, rec)
			}
			printTask(w, rec.Task)
			return nil
		})(cmd, args)
	},
}

var auditPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete audit records older than a cutoff",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditOlderThan <= 0 {
			return errors.New("--older-than must be positive")
		}
		db, err := openAuditStore()
		if err != nil {
			return err
		}
		if db == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit store yet.")
			return nil
		}
		defer db.Close()

		n, err := db.Purge(auditOlderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d records.\n", n)
		return nil
	},
}

func init() {
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 50, "Maximum records to list (0 = all)")
	auditCmd.PersistentFlags().BoolVar(&auditJSON, "json", false, "Output in JSON format")
	auditPurgeCmd.Flags().DurationVar(&auditOlderThan, "older-than", 30*24*time.Hour, "Delete records older than this")

	auditCmd.AddCommand(auditViolationsCmd)
	auditCmd.AddCommand(auditApprovalsCmd)
	auditCmd.AddCommand(auditAlertsCmd)
	auditCmd.AddCommand(auditTasksCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditPurgeCmd)
}

// withAuditStore opens the configured audit store for a listing command.
func withAuditStore(fn func(io.Writer, state.AuditReader) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := openAuditStore()
		if err != nil {
			return err
		}
		if db == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit store yet. Records appear after the first 'fleet run' or 'fleet monitor'.")
			return nil
		}
		defer db.Close()
		return fn(cmd.OutOrStdout(), db)
	}
}

// openAuditStore opens the audit database, or returns nil when it does not exist.
func openAuditStore() (*state.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openAuditPath(cfg)
}

func openAuditPath(cfg *config.Config) (*state.DB, error) {
	path := cfg.Audit.Path
	if path == "" {
		path = state.DefaultPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return state.OpenAndMigrate(path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func writeTable(w io.Writer, headers []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No records.")
		return err
	}
	for _, r := range rows {
		for i := range r {
			r[i] = truncateCell(r[i], 60)
		}
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func severityCell(s telemetry.Severity) string {
	var c lipgloss.Color
	switch s {
	case telemetry.SeverityCritical:
		c = lipgloss.Color("196")
	case telemetry.SeverityHigh:
		c = lipgloss.Color("214")
	case telemetry.SeverityMedium:
		c = lipgloss.Color("220")
	default:
		c = lipgloss.Color("240")
	}
	return lipgloss.NewStyle().Foreground(c).Render(string(s))
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncateCell(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
