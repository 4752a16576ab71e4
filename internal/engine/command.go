package engine

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Operation is the engine subcommand to run.
type Operation string

const (
	OpPlan    Operation = "plan"
	OpApply   Operation = "apply"
	OpDestroy Operation = "destroy"
)

// Command describes a single engine invocation. Argv assembles the full
// command line; -json is always present so stdout carries the UI stream.
// PlanDestroy turns a plan into a destroy plan, the first stage of a
// confirmed destroy.
type Command struct {
	Binary      string
	Operation   Operation
	Dir         string
	AutoApprove bool
	PlanDestroy bool
	VarFiles    []string
	Targets     []string
	Parallelism int
	NoColor     bool
}

// Argv returns the full argument vector including the binary at index 0.
func (c Command) Argv() []string {
	args := []string{c.Binary, string(c.Operation), "-json"}

	// plan does not accept -auto-approve
	if c.AutoApprove && c.Operation != OpPlan {
		args = append(args, "-auto-approve")
	}
	if c.PlanDestroy && c.Operation == OpPlan {
		args = append(args, "-destroy")
	}
	for _, vf := range c.VarFiles {
		args = append(args, "-var-file="+vf)
	}
	for _, t := range c.Targets {
		args = append(args, "-target="+t)
	}
	if c.Parallelism > 0 {
		args = append(args, "-parallelism="+strconv.Itoa(c.Parallelism))
	}
	if c.NoColor {
		args = append(args, "-no-color")
	}
	return args
}

// String returns the command line for display and logging.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Validate checks the command is runnable.
func (c Command) Validate() error {
	if c.Binary == "" {
		return errors.New("engine binary not set")
	}
	switch c.Operation {
	case OpPlan, OpApply, OpDestroy:
	default:
		return fmt.Errorf("unknown operation: %q", c.Operation)
	}
	return nil
}

// DetectBinary resolves the engine binary. A configured name is looked up
// as-is; otherwise terraform is preferred over tofu.
func DetectBinary(configured string) (string, error) {
	if configured != "" {
		path, err := exec.LookPath(configured)
		if err != nil {
			return "", fmt.Errorf("engine binary %q not found on PATH: %w", configured, err)
		}
		return path, nil
	}
	for _, name := range []string{"terraform", "tofu"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errors.New("neither terraform nor tofu found on PATH")
}
