package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfdeck/tfdeck/internal/auth"
	"github.com/tfdeck/tfdeck/internal/config"
	"github.com/tfdeck/tfdeck/internal/history"
	"github.com/tfdeck/tfdeck/internal/logging"
	"github.com/tfdeck/tfdeck/internal/server"
)

var serveSetPassword bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recorded runs over HTTP",
	Long: `Starts the share server on its own, without an engine run: the runs API
and the status page work against recorded history. Stops on interrupt.

With --set-password, prompts for a new share password and saves its hash
to .tfdeck/config.yaml before serving. An empty password hash leaves the
server open.

Example:
  tfdeck serve
  tfdeck serve --set-password
  tfdeck serve --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveSetPassword, "set-password", false, "prompt for a new share password and save it before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
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

	if serveSetPassword {
		if err := saveServerPassword(dir, cfg); err != nil {
			return err
		}
	}

	if err := setupLogging(dir, cfg, false); err != nil {
		return err
	}
	log := logging.New().With("command", "serve")

	srv, err := server.New(cfg.Server, server.Options{Store: history.NewStore(dir), Logger: log})
	if err != nil {
		return fmt.Errorf("failed to create share server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Give the server a moment to start and check for errors
	select {
	case err := <-errCh:
		return fmt.Errorf("share server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	fmt.Printf("Serving run history at http://%s (interrupt to stop)\n", srv.ListenAddr())

	<-ctx.Done()
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("failed to stop share server: %w", err)
	}
	return <-errCh
}

// saveServerPassword prompts for a new password and persists its hash.
func saveServerPassword(dir string, cfg *config.Config) error {
	password, err := auth.PromptNewPassword()
	if err != nil {
		return fmt.Errorf("password setup failed: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	cfg.Server.PasswordHash = hash
	if err := config.Save(dir, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Println("Password saved to config.")
	return nil
}
