package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfdeck/tfdeck/internal/controller"
	"github.com/tfdeck/tfdeck/internal/dashboard"
	"github.com/tfdeck/tfdeck/internal/engine"
	"github.com/tfdeck/tfdeck/internal/history"
	"github.com/tfdeck/tfdeck/internal/logging"
)

var (
	replayDelay    time.Duration
	replayHeadless bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <run-id>",
	Short: "Replay a recorded run in the dashboard",
	Long: `Replays a recorded run's event stream through the dashboard, paced so
the run is watchable. Nothing is executed and nothing is re-recorded;
the same keys work as during a live run. Use --delay 0 for full speed.

Run ids come from 'tfdeck runs'.

Example:
  tfdeck replay run-20260312T154233-4f3a9c12
  tfdeck replay run-20260312T154233-4f3a9c12 --delay 200ms
  tfdeck replay run-20260312T154233-4f3a9c12 --headless --delay 0`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().DurationVar(&replayDelay, "delay", dashboard.DefaultReplayDelay, "pause between replayed events")
	replayCmd.Flags().BoolVar(&replayHeadless, "headless", false, "replay without the TUI: plain text progress plus a final JSON document")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dir, err := workDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}

	store := history.NewStore(dir)
	record, err := store.GetRun(args[0])
	if err != nil {
		return err
	}

	// Replay never executes the engine; the binary name only labels the
	// header, so take it from the recorded command line.
	if cfg.Engine.Binary == "" {
		cfg.Engine.Binary = "terraform"
		if fields := strings.Fields(record.Command); len(fields) > 0 {
			cfg.Engine.Binary = fields[0]
		}
	}
	// A file change during a replay means nothing.
	cfg.Watch.Enabled = false

	if err := setupLogging(dir, cfg, !replayHeadless); err != nil {
		return err
	}
	log := logging.New().With("command", "replay")

	token := controller.NewToken()
	stop := notifyInterrupt(token)
	defer stop()

	app, err := dashboard.New(dashboard.Options{
		Config:      *cfg,
		Dir:         dir,
		Operation:   engine.Operation(record.Operation),
		AutoApprove: true,
		Headless:    replayHeadless,
		RunID:       record.ID,
		Runner:      dashboard.NewReplayRunner(store, record.ID, replayDelay),
		Token:       token,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	snap, err := app.Run(ctx)
	if err != nil {
		return err
	}
	// A replayed failure is still a successful replay; only printing
	// differs from a live run.
	if replayHeadless {
		return printSnapshot(cmd.OutOrStdout(), snap)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nReplayed run %s: %s\n", snap.RunID, snap.Phase)
	return nil
}
