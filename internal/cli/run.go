package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfdeck/tfdeck/internal/config"
	"github.com/tfdeck/tfdeck/internal/controller"
	"github.com/tfdeck/tfdeck/internal/dashboard"
	"github.com/tfdeck/tfdeck/internal/engine"
	"github.com/tfdeck/tfdeck/internal/history"
	"github.com/tfdeck/tfdeck/internal/logging"
	"github.com/tfdeck/tfdeck/internal/server"
)

var (
	runAutoApprove bool
	runHeadless    bool
	runShare       bool
	runVarFiles    []string
	runTargets     []string
	runParallelism int
)

// sessionRunner is the engine runner used by the run commands. It can be
// overridden in tests.
var sessionRunner engine.Runner

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview changes without applying them",
	Long: `Runs a plan and shows its progress live: which resources will be
created, changed, or destroyed, plus any diagnostics the engine emits.
The run is recorded under .tfdeck/runs.

Example:
  tfdeck plan
  tfdeck plan --target aws_instance.web --var-file prod.tfvars
  tfdeck plan --headless`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOperation(cmd, engine.OpPlan)
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Plan, confirm, and apply changes",
	Long: `Plans first, then waits for confirmation in the dashboard before
applying. With --auto-approve the apply starts immediately, skipping
the confirmation gate.

Example:
  tfdeck apply
  tfdeck apply --auto-approve
  tfdeck apply --headless --auto-approve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOperation(cmd, engine.OpApply)
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Plan, confirm, and destroy managed infrastructure",
	Long: `Plans the destruction first, then waits for confirmation in the
dashboard before destroying. With --auto-approve the destroy starts
immediately.

Example:
  tfdeck destroy
  tfdeck destroy --target aws_instance.web --auto-approve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOperation(cmd, engine.OpDestroy)
	},
}

func init() {
	addRunFlags(planCmd)
	addRunFlags(applyCmd)
	addRunFlags(destroyCmd)
	applyCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "skip the confirmation gate")
	destroyCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "skip the confirmation gate")
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&runHeadless, "headless", false, "run without the TUI: plain text progress plus a final JSON document")
	cmd.Flags().BoolVar(&runShare, "share", false, "serve the session read-only over HTTP while it runs")
	cmd.Flags().StringSliceVar(&runVarFiles, "var-file", nil, "variable file to pass to the engine (repeatable)")
	cmd.Flags().StringSliceVar(&runTargets, "target", nil, "resource address to limit the run to (repeatable)")
	cmd.Flags().IntVar(&runParallelism, "parallelism", 0, "concurrent engine operations (0 uses the engine default)")
}

// mergeRunFlags overlays explicitly set flags onto the file config. Flags
// left at their defaults keep whatever the config says.
func mergeRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("var-file") {
		cfg.Engine.VarFiles = runVarFiles
	}
	if cmd.Flags().Changed("target") {
		cfg.Engine.Targets = runTargets
	}
	if cmd.Flags().Changed("parallelism") {
		cfg.Engine.Parallelism = runParallelism
	}
}

func runOperation(cmd *cobra.Command, op engine.Operation) error {
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
	mergeRunFlags(cmd, cfg)

	binary, err := engine.DetectBinary(cfg.Engine.Binary)
	if err != nil {
		return err
	}
	cfg.Engine.Binary = binary

	if err := setupLogging(dir, cfg, !runHeadless); err != nil {
		return err
	}
	log := logging.New().With("command", string(op))

	token := controller.NewToken()
	stop := notifyInterrupt(token)
	defer stop()

	opts := dashboard.Options{
		Config:      *cfg,
		Dir:         dir,
		Operation:   op,
		AutoApprove: runAutoApprove,
		Headless:    runHeadless,
		Runner:      sessionRunner,
		Store:       history.NewStore(dir),
		Token:       token,
		Logger:      log,
	}

	if runShare || cfg.Server.Enabled {
		srv, err := server.New(cfg.Server, server.Options{Store: opts.Store, Logger: log})
		if err != nil {
			return fmt.Errorf("failed to create share server: %w", err)
		}
		stopSrv, err := startShareServer(ctx, srv)
		if err != nil {
			return err
		}
		defer stopSrv()
		opts.Publisher = srv
		fmt.Printf("Sharing read-only at http://%s\n", srv.ListenAddr())
	}

	app, err := dashboard.New(opts)
	if err != nil {
		return err
	}

	snap, err := app.Run(ctx)
	if err != nil {
		return err
	}
	return reportRun(cmd.OutOrStdout(), snap, runHeadless)
}

// startShareServer starts srv in the background and waits briefly for a
// startup failure such as a busy port. The returned func stops the server
// and waits for it to unwind.
func startShareServer(ctx context.Context, srv *server.Server) (func(), error) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return nil, fmt.Errorf("share server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	return func() {
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to stop share server: %v\n", err)
		}
		<-errCh
	}, nil
}

// reportRun prints the session result: the full snapshot as JSON in
// headless mode, a one-line summary otherwise. A failed run becomes a
// non-nil error so the process exits non-zero.
func reportRun(out io.Writer, snap dashboard.Snapshot, headless bool) error {
	if headless {
		if err := printSnapshot(out, snap); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "\nRun %s: %s", snap.RunID, snap.Phase)
		if snap.Phase == string(dashboard.PhaseDone) && snap.Operation != string(engine.OpPlan) {
			fmt.Fprintf(out, " (+%d ~%d -%d)", snap.Add, snap.Change, snap.Remove)
		}
		if !snap.StartedAt.IsZero() && !snap.FinishedAt.IsZero() {
			fmt.Fprintf(out, " in %s", formatDuration(snap.FinishedAt.Sub(snap.StartedAt)))
		}
		fmt.Fprintln(out)
	}
	if snap.Phase == string(dashboard.PhaseFailed) {
		return fmt.Errorf("%s failed with exit code %d", snap.Operation, snap.ExitCode)
	}
	return nil
}

func printSnapshot(out io.Writer, snap dashboard.Snapshot) error {
	doc, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Fprintln(out, string(doc))
	return nil
}

// notifyInterrupt cancels the session token on the first interrupt so the
// run can tear down cleanly, and force-exits on the second for when the
// engine will not die. The returned func releases the signal handler.
func notifyInterrupt(token *controller.Token) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-done:
			return
		case <-sigCh:
			token.Cancel()
		}
		select {
		case <-done:
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "second interrupt, exiting immediately")
			os.Exit(130)
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
