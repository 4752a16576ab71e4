//go:build e2e

// cli_e2e_test.go drives the built tfdeck binary end to end against a
// fake engine: headless runs, history listing, replay, and the failure
// exit path a CI job would hit.
package integration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfdeck/tfdeck/internal/history"
)

// TestCLI_PlanHeadless runs 'tfdeck plan --headless' against a fake
// engine and checks the progress text, the final snapshot document, and
// the recorded run.
func TestCLI_PlanHeadless(t *testing.T) {
	h := NewCLIHarness(t)
	h.UseEngine(fakeEngine(t, planStream(), 0))

	result := h.Run("plan", "--headless")
	h.RequireSuccess(result, "plan --headless failed")

	// Progress lines stream first, then the snapshot document.
	assert.Contains(t, result.Stdout, "phase: done")
	assert.Contains(t, result.Stdout, "Plan: 1 to add, 0 to change, 0 to destroy.")
	assert.Contains(t, result.Stdout, `"phase": "done"`)
	assert.Contains(t, result.Stdout, `"operation": "plan"`)
	assert.Contains(t, result.Stdout, `"addr": "aws_instance.web"`)

	records, err := history.NewStore(h.WorkDir).ListRuns()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "plan", records[0].Operation)
	assert.Equal(t, history.OutcomeSucceeded, records[0].Outcome)
	assert.Equal(t, 1, records[0].Added)
}

// TestCLI_ApplyHeadless runs an auto-approved apply and checks the
// applied counts and outputs survive to the snapshot.
func TestCLI_ApplyHeadless(t *testing.T) {
	h := NewCLIHarness(t)
	h.UseEngine(fakeEngine(t, applyStream(), 0))

	result := h.Run("apply", "--headless", "--auto-approve")
	h.RequireSuccess(result, "apply --headless --auto-approve failed")

	assert.Contains(t, result.Stdout, `"phase": "done"`)
	assert.Contains(t, result.Stdout, `"operation": "apply"`)
	assert.Contains(t, result.Stdout, "https://web.example.com")

	records, err := history.NewStore(h.WorkDir).ListRuns()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, history.OutcomeSucceeded, records[0].Outcome)
}

// TestCLI_ApplyFailureExitCode verifies a failing engine run fails the
// CLI with a non-zero exit and a diagnosis on stderr.
func TestCLI_ApplyFailureExitCode(t *testing.T) {
	h := NewCLIHarness(t)
	h.UseEngine(fakeEngine(t, []string{versionLine, errorDiagLine}, 1))

	result := h.Run("apply", "--headless", "--auto-approve")
	h.RequireFailure(result, "apply should fail when the engine fails")

	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Stderr, "apply failed with exit code 1")
	// The snapshot still prints, so the failure can be inspected.
	assert.Contains(t, result.Stdout, `"phase": "failed"`)
	assert.Contains(t, result.Stdout, "provider exploded")

	records, err := history.NewStore(h.WorkDir).ListRuns()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, history.OutcomeFailed, records[0].Outcome)
	assert.Equal(t, 1, records[0].ExitCode)
}

// TestCLI_ApplyHeadlessRequiresAutoApprove verifies the confirm gate
// refuses to run where nobody can press y.
func TestCLI_ApplyHeadlessRequiresAutoApprove(t *testing.T) {
	h := NewCLIHarness(t)
	h.UseEngine(fakeEngine(t, applyStream(), 0))

	result := h.Run("apply", "--headless")
	h.RequireFailure(result, "headless apply without --auto-approve should fail")

	assert.Contains(t, result.Stderr, "auto-approve")

	// Nothing ran, nothing recorded.
	records, err := history.NewStore(h.WorkDir).ListRuns()
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestCLI_RunsListing checks both the table and --json forms of
// 'tfdeck runs' after a recorded run.
func TestCLI_RunsListing(t *testing.T) {
	h := NewCLIHarness(t)
	h.UseEngine(fakeEngine(t, planStream(), 0))

	h.RequireSuccess(h.Run("plan", "--headless"), "seed plan failed")

	result := h.Run("runs")
	h.RequireSuccess(result, "runs failed")
	assert.Contains(t, result.Stdout, "RUN")
	assert.Contains(t, result.Stdout, "run-")
	assert.Contains(t, result.Stdout, "succeeded")
	assert.Contains(t, result.Stdout, "+1 ~0 -0")

	result = h.Run("runs", "--json")
	h.RequireSuccess(result, "runs --json failed")

	var records []*history.RunRecord
	require.NoError(t, json.Unmarshal([]byte(result.Stdout), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "plan", records[0].Operation)
	assert.Equal(t, 1, records[0].Added)
}

// TestCLI_RunsEmpty verifies 'tfdeck runs' degrades gracefully in a
// fresh workspace.
func TestCLI_RunsEmpty(t *testing.T) {
	h := NewCLIHarness(t)

	result := h.Run("runs")
	h.RequireSuccess(result, "runs failed in empty workspace")
	assert.Contains(t, result.Stdout, "No runs recorded.")
}

// TestCLI_ReplayHeadless records a run, replays it at full speed, and
// checks the replayed snapshot matches the original outcome.
func TestCLI_ReplayHeadless(t *testing.T) {
	h := NewCLIHarness(t)
	h.UseEngine(fakeEngine(t, applyStream(), 0))

	h.RequireSuccess(h.Run("apply", "--headless", "--auto-approve"), "seed apply failed")

	records, err := history.NewStore(h.WorkDir).ListRuns()
	require.NoError(t, err)
	require.Len(t, records, 1)

	result := h.Run("replay", records[0].ID, "--headless", "--delay", "0")
	h.RequireSuccess(result, "replay --headless failed")

	assert.Contains(t, result.Stdout, `"phase": "done"`)
	assert.Contains(t, result.Stdout, `"operation": "apply"`)
	assert.Contains(t, result.Stdout, `"run_id": "`+records[0].ID+`"`)

	// Replay records nothing new.
	after, err := history.NewStore(h.WorkDir).ListRuns()
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

// TestCLI_ReplayUnknownRun verifies replay of a nonexistent id fails
// with a useful error.
func TestCLI_ReplayUnknownRun(t *testing.T) {
	h := NewCLIHarness(t)

	result := h.Run("replay", "run-20260101T000000-deadbeef", "--headless")
	h.RequireFailure(result, "replay of unknown run should fail")
	assert.Contains(t, result.Stderr, "run-20260101T000000-deadbeef")
}

// TestCLI_VersionFlag verifies the version template.
func TestCLI_VersionFlag(t *testing.T) {
	h := NewCLIHarness(t)

	result := h.Run("--version")
	h.RequireSuccess(result, "--version failed")
	assert.Equal(t, "tfdeck version dev\n", result.Stdout)
}

// TestCLI_HelpListsCommands verifies the command tree is wired.
func TestCLI_HelpListsCommands(t *testing.T) {
	h := NewCLIHarness(t)

	result := h.Run("--help")
	h.RequireSuccess(result, "--help failed")

	for _, cmd := range []string{"plan", "apply", "destroy", "runs", "replay", "serve", "attach"} {
		assert.Contains(t, result.Stdout, cmd)
	}
}
