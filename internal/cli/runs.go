package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfdeck/tfdeck/internal/history"
)

// RunLister abstracts run storage for testability.
type RunLister interface {
	ListRuns() ([]*history.RunRecord, error)
}

// runsStore is the run lister used by the runs command. It can be
// overridden in tests.
var runsStore RunLister

var runsJSON bool

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Long: `Lists the runs recorded under .tfdeck/runs, newest first: operation,
outcome, change counts, and when each run started.

Example:
  tfdeck runs
  tfdeck runs --json`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print the full run records as JSON")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	store := runsStore
	if store == nil {
		dir, err := workDir()
		if err != nil {
			return err
		}
		store = history.NewStore(dir)
	}

	records, err := store.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if runsJSON {
		doc, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal runs: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(doc))
		return nil
	}

	renderRunsTable(cmd.OutOrStdout(), records)
	return nil
}

func renderRunsTable(out io.Writer, records []*history.RunRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}

	// Calculate column widths
	idWidth := len("RUN")
	opWidth := len("OPERATION")
	outcomeWidth := len("OUTCOME")
	for _, r := range records {
		if len(r.ID) > idWidth {
			idWidth = len(r.ID)
		}
		if len(r.Operation) > opWidth {
			opWidth = len(r.Operation)
		}
		if len(r.Outcome) > outcomeWidth {
			outcomeWidth = len(r.Outcome)
		}
	}

	fmt.Fprintf(out, "%-*s  %-*s  %-*s  %-12s  %s\n", idWidth, "RUN", opWidth, "OPERATION", outcomeWidth, "OUTCOME", "CHANGES", "STARTED")
	fmt.Fprintf(out, "%s  %s  %s  %s  %s\n",
		strings.Repeat("-", idWidth), strings.Repeat("-", opWidth), strings.Repeat("-", outcomeWidth),
		strings.Repeat("-", 12), strings.Repeat("-", 19))

	for _, r := range records {
		fmt.Fprintf(out, "%-*s  %-*s  %-*s  %-12s  %s\n",
			idWidth, r.ID, opWidth, r.Operation, outcomeWidth, r.Outcome,
			formatChanges(r), formatTime(r.StartedAt))
	}
}

func formatChanges(r *history.RunRecord) string {
	return fmt.Sprintf("+%d ~%d -%d", r.Added, r.Changed, r.Removed)
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
