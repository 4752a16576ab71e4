package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/tfdeck/tfdeck/internal/logging"
)

// ExitStatus is the outcome of a finished engine run. Code is the process
// exit code, or -1 when the process never ran or was killed. Err carries the
// wait error for non-zero exits.
type ExitStatus struct {
	Code int
	Err  error
}

// Ok reports whether the run exited cleanly.
func (s ExitStatus) Ok() bool {
	return s.Code == 0 && s.Err == nil
}

// Runner starts engine commands. The LocalRunner executes the real binary;
// tests substitute a MockRunner.
type Runner interface {
	Start(ctx context.Context, cmd Command) (*Run, error)
}

// Run is a started engine process. Stdout carries the -json UI stream and
// must be drained before Wait is called; Wait blocks until the process
// exits and the stderr forwarder has finished.
type Run struct {
	stdout io.Reader
	wait   func() ExitStatus
}

// NewRun builds a Run around an arbitrary stdout reader and wait function.
// Used by MockRunner; production code gets Runs from LocalRunner.Start.
func NewRun(stdout io.Reader, wait func() ExitStatus) *Run {
	return &Run{stdout: stdout, wait: wait}
}

// Stdout returns the process stdout stream.
func (r *Run) Stdout() io.Reader {
	return r.stdout
}

// Wait blocks for process exit. Call exactly once, after Stdout is drained.
func (r *Run) Wait() ExitStatus {
	return r.wait()
}

// LocalRunner runs the engine binary as a child process.
type LocalRunner struct {
	// Logger receives forwarded stderr lines and lifecycle messages.
	// Defaults to the package logger if nil.
	Logger *logging.Logger
}

// NewLocalRunner creates a LocalRunner using the package logger.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{Logger: logging.New()}
}

// Start launches the engine process in cmd.Dir. Stderr lines are forwarded
// to the logger as they arrive; stdout is handed to the caller untouched so
// the stream decoder sees exactly what the engine wrote.
func (r *LocalRunner) Start(ctx context.Context, cmd Command) (*Run, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	log := r.Logger
	if log == nil {
		log = logging.New()
	}

	argv := cmd.Argv()
	proc := exec.CommandContext(ctx, argv[0], argv[1:]...)
	proc.Dir = cmd.Dir

	stdout, err := proc.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	log.Debug("engine started", "cmd", cmd.String(), "pid", proc.Process.Pid)

	// Forward stderr to the log so engine warnings survive even though the
	// TUI owns the terminal.
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		buf := make([]byte, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		for scanner.Scan() {
			log.Warn("engine stderr", "line", scanner.Text())
		}
		errCh <- scanner.Err()
	}()

	wait := func() ExitStatus {
		if streamErr := <-errCh; streamErr != nil {
			log.Warn("engine stderr stream failed", "error", streamErr)
		}
		return exitStatus(proc.Wait())
	}

	return &Run{stdout: stdout, wait: wait}, nil
}

// exitStatus converts a Wait error into an ExitStatus with the code
// extracted from ExitError when the process ran to a non-zero exit.
func exitStatus(waitErr error) ExitStatus {
	if waitErr == nil {
		return ExitStatus{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return ExitStatus{Code: exitErr.ExitCode(), Err: waitErr}
	}
	return ExitStatus{Code: -1, Err: waitErr}
}

// MockRunner is a test double for Runner.
type MockRunner struct {
	// StartFunc is called when Start is invoked. If nil, Start returns a
	// Run with empty output and a clean exit.
	StartFunc func(ctx context.Context, cmd Command) (*Run, error)
}

// Start calls the mock function if set.
func (m *MockRunner) Start(ctx context.Context, cmd Command) (*Run, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, cmd)
	}
	return ScriptedRun(nil, ExitStatus{Code: 0}), nil
}

// ScriptedRun builds a Run whose stdout replays the given lines and whose
// Wait returns the given status. For tests.
func ScriptedRun(lines []string, status ExitStatus) *Run {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return NewRun(&buf, func() ExitStatus { return status })
}
