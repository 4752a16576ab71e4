//go:build e2e

// cli_harness_test.go provides a test harness for E2E testing of the
// tfdeck CLI.
//
// The CLIHarness builds the tfdeck binary once per test and provides
// methods for executing commands in an isolated workspace, the same way
// a user would run them from a terraform project directory.
package integration

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// CLIHarness manages a tfdeck binary for E2E testing. Commands run in an
// isolated workspace containing a main.tf and a .tfdeck directory, so
// runs, logs, and config never leak between tests.
type CLIHarness struct {
	// BinaryPath is the path to the built tfdeck binary.
	BinaryPath string

	// WorkDir is the working directory commands execute in. It holds the
	// .tfdeck configuration and history structure.
	WorkDir string

	// EnvVars are merged into the test's environment for each command.
	EnvVars map[string]string

	t *testing.T
}

// CLIResult contains the output from a CLI command execution.
type CLIResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Success returns true if the command completed with exit code 0.
func (r *CLIResult) Success() bool {
	return r.ExitCode == 0 && r.Err == nil
}

// NewCLIHarness builds the tfdeck binary to a temp directory and creates
// a fresh workspace with a main.tf and an empty .tfdeck dir.
func NewCLIHarness(t *testing.T) *CLIHarness {
	t.Helper()

	projectRoot := findProjectRootForHarness(t)
	require.NotEmpty(t, projectRoot, "could not find project root (directory containing go.mod)")

	tmpDir := t.TempDir()
	binaryPath := filepath.Join(tmpDir, "tfdeck")

	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/tfdeck")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build tfdeck binary: %s", output)

	return &CLIHarness{
		BinaryPath: binaryPath,
		WorkDir:    newWorkspace(t),
		EnvVars:    make(map[string]string),
		t:          t,
	}
}

// WriteConfig writes .tfdeck/config.yaml in the workspace.
func (h *CLIHarness) WriteConfig(content string) {
	h.t.Helper()
	path := filepath.Join(h.WorkDir, ".tfdeck", "config.yaml")
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
}

// UseEngine points the workspace config at the given engine binary and
// disables the file watcher so runs stay deterministic.
func (h *CLIHarness) UseEngine(binary string) {
	h.t.Helper()
	h.WriteConfig("engine:\n  binary: " + binary + "\nwatch:\n  enabled: false\n")
}

// SetEnv sets an environment variable for subsequent command executions.
func (h *CLIHarness) SetEnv(key, value string) {
	h.EnvVars[key] = value
}

// Run executes a tfdeck command with the default 30 second timeout.
func (h *CLIHarness) Run(args ...string) *CLIResult {
	return h.RunWithTimeout(30*time.Second, args...)
}

// RunWithTimeout executes a tfdeck command with the specified timeout.
// The command runs in the workspace directory with the configured
// environment variables.
func (h *CLIHarness) RunWithTimeout(timeout time.Duration, args ...string) *CLIResult {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return h.RunWithContext(ctx, args...)
}

// RunWithContext executes a tfdeck command with the given context,
// providing full control over cancellation and deadlines.
func (h *CLIHarness) RunWithContext(ctx context.Context, args ...string) *CLIResult {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.BinaryPath, args...)
	cmd.Dir = h.WorkDir
	cmd.Env = h.buildEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &CLIResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		result.Err = err
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}

	return result
}

// buildEnv merges the process environment with the harness overrides.
func (h *CLIHarness) buildEnv() []string {
	env := os.Environ()
	for k, v := range h.EnvVars {
		env = append(env, k+"="+v)
	}
	return env
}

// findProjectRootForHarness walks up from the current directory to the
// directory containing go.mod.
func findProjectRootForHarness(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err, "failed to get working directory")

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// RequireSuccess fails the test if the command result indicates failure.
func (h *CLIHarness) RequireSuccess(result *CLIResult, msg string) {
	h.t.Helper()
	if !result.Success() {
		h.t.Fatalf("%s: exit=%d err=%v\nstdout: %s\nstderr: %s",
			msg, result.ExitCode, result.Err, result.Stdout, result.Stderr)
	}
}

// RequireFailure fails the test if the command result indicates success.
func (h *CLIHarness) RequireFailure(result *CLIResult, msg string) {
	h.t.Helper()
	if result.Success() {
		h.t.Fatalf("%s: command succeeded unexpectedly\nstdout: %s\nstderr: %s",
			msg, result.Stdout, result.Stderr)
	}
}
