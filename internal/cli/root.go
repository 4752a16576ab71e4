// Package cli wires the tfdeck command tree. Commands parse flags, merge
// them over the workspace config, and hand off to the dashboard, server,
// and remote packages; none of them own run semantics themselves.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/tfdeck/tfdeck/internal/config"
	"github.com/tfdeck/tfdeck/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	rootChdir    string
	rootLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "tfdeck",
	Short: "Live terminal dashboard for terraform and tofu runs",
	Long: `tfdeck runs terraform or tofu with machine-readable output and turns the
stream into a live dashboard: per-resource progress, diagnostics, outputs,
and the raw log tail. Every run is recorded under .tfdeck/runs for listing
and replay, and a session can be shared read-only over HTTP.`,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("tfdeck version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&rootChdir, "chdir", "C", "", "working directory holding the terraform configuration")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "log verbosity: debug, info, warn, or error (overrides config)")
}

// Execute runs the root command.
func Execute() error {
	defer logging.Close()
	return rootCmd.Execute()
}

// workDir resolves the session working directory from --chdir.
func workDir() (string, error) {
	if rootChdir == "" {
		return ".", nil
	}
	info, err := os.Stat(rootChdir)
	if err != nil {
		return "", fmt.Errorf("--chdir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("--chdir: %s is not a directory", rootChdir)
	}
	return rootChdir, nil
}

// loadConfig reads the working directory's config and applies the global
// flag overrides on top.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if rootLogLevel != "" {
		cfg.Logging.Level = rootLogLevel
	}
	return cfg, nil
}

// setupLogging routes logs to the configured file. Interactive commands
// always log to a file: the TUI owns the terminal, and stderr output
// would corrupt it.
func setupLogging(dir string, cfg *config.Config, interactive bool) error {
	file := cfg.Logging.File
	if file == "" && interactive {
		file = filepath.Join(".tfdeck", "tfdeck.log")
	}
	if file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		return logging.Setup(cfg.Logging.Level, file)
	}
	lvl, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	logging.SetLevel(lvl)
	return nil
}
