package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfdeck/tfdeck/internal/auth"
	"github.com/tfdeck/tfdeck/internal/controller"
	"github.com/tfdeck/tfdeck/internal/dashboard"
	"github.com/tfdeck/tfdeck/internal/logging"
	"github.com/tfdeck/tfdeck/internal/remote"
)

// attachWait bounds how long attach waits for a shared session to publish
// its first snapshot.
const attachWait = time.Minute

var attachCmd = &cobra.Command{
	Use:   "attach <url>",
	Short: "Watch a shared session from another terminal",
	Long: `Attaches to a tfdeck share server and mirrors its dashboard read-only:
the same views and keys work, but the remote run cannot be confirmed or
cancelled from here. If the server has a password, tfdeck prompts for it.

Example:
  tfdeck attach http://10.0.4.7:8374
  tfdeck attach https://deploys.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	url := args[0]

	dir, err := workDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	if err := setupLogging(dir, cfg, true); err != nil {
		return err
	}
	log := logging.New().With("command", "attach")

	client := remote.NewClient(url, remote.WithLogger(log))

	_, err = client.State(ctx)
	if errors.Is(err, remote.ErrUnauthorized) {
		password, perr := auth.PromptPassword("Password: ")
		if perr != nil {
			return perr
		}
		if err = client.Login(ctx, password); err != nil {
			return err
		}
		_, err = client.State(ctx)
	}
	switch {
	case errors.Is(err, remote.ErrNoSnapshot):
		fmt.Println("Connected. Waiting for the session to publish...")
		if err := awaitFirstSnapshot(ctx, url, client.Token(), log); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("failed to reach %s: %w", url, err)
	}

	token := controller.NewToken()
	stop := notifyInterrupt(token)
	defer stop()

	app, err := dashboard.NewAttach(client, dashboard.Options{
		Config: *cfg,
		Token:  token,
		Logger: log,
	})
	if err != nil {
		return err
	}

	snap, err := app.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nDetached from %s (run %s: %s).\n", url, snap.RunID, snap.Phase)
	return nil
}

// awaitFirstSnapshot blocks until the share server publishes anything. It
// subscribes with a throwaway client so the session client's replay
// position stays at zero and the server's catch-up snapshot still fires
// once the dashboard connects.
func awaitFirstSnapshot(ctx context.Context, url, token string, log *logging.Logger) error {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	probe := remote.NewClient(url, remote.WithToken(token), remote.WithLogger(log))
	events, _ := probe.Subscribe(probeCtx)
	defer func() {
		cancel()
		for range events {
		}
	}()

	_, err := remote.Await(probeCtx, events, attachWait, func(remote.Event) bool { return true })
	if err != nil {
		return fmt.Errorf("no session published within %s: %w", attachWait, err)
	}
	return nil
}
