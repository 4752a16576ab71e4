package dashboard

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfdeck/tfdeck/internal/engine"
	"github.com/tfdeck/tfdeck/internal/history"
	"github.com/tfdeck/tfdeck/internal/testutil"
)

func recordedRun(t *testing.T, store *history.Store, id string, lines []string, outcome string, code int) {
	t.Helper()
	require.NoError(t, store.CreateRun(&history.RunRecord{
		ID:        id,
		Operation: "plan",
		Outcome:   history.OutcomeRunning,
	}))
	if len(lines) > 0 {
		require.NoError(t, store.AppendEvents(id, lines))
	}
	require.NoError(t, store.UpdateRun(id, func(r *history.RunRecord) {
		r.Outcome = outcome
		r.ExitCode = code
	}))
}

func TestReplayRunner_StreamsRecordedLog(t *testing.T) {
	t.Parallel()

	store := history.NewStore(t.TempDir())
	const id = "run-20260310T080000-1a2b3c4d"
	lines := []string{
		versionLine("1.9.4"),
		plannedChangeLine("aws_instance.web", "create"),
		changeSummaryLine("plan", 1, 0, 0),
	}
	recordedRun(t, store, id, lines, history.OutcomeSucceeded, 0)

	ctx, cancel := testutil.ShortOperationContext(t)
	defer cancel()

	run, err := NewReplayRunner(store, id, 0).Start(ctx, engine.Command{})
	require.NoError(t, err)

	out, err := io.ReadAll(run.Stdout())
	require.NoError(t, err)
	got := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	assert.Equal(t, lines, got)
	assert.Equal(t, 0, run.Wait().Code)
}

func TestReplayRunner_FailedRunGetsNonZeroExit(t *testing.T) {
	t.Parallel()

	store := history.NewStore(t.TempDir())
	const id = "run-20260310T081500-5e6f7a8b"
	// a crash can leave a failed outcome with no exit code recorded
	recordedRun(t, store, id, nil, history.OutcomeFailed, 0)

	ctx, cancel := testutil.ShortOperationContext(t)
	defer cancel()

	run, err := NewReplayRunner(store, id, 0).Start(ctx, engine.Command{})
	require.NoError(t, err)

	_, err = io.ReadAll(run.Stdout())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Wait().Code)
}

func TestReplayRunner_CancelStopsPacedReplay(t *testing.T) {
	t.Parallel()

	store := history.NewStore(t.TempDir())
	const id = "run-20260310T083000-9c0d1e2f"
	recordedRun(t, store, id, []string{versionLine("1.9.4")}, history.OutcomeSucceeded, 0)

	ctx, cancel := context.WithCancel(context.Background())
	run, err := NewReplayRunner(store, id, time.Hour).Start(ctx, engine.Command{})
	require.NoError(t, err)
	cancel()

	_, err = io.ReadAll(run.Stdout())
	assert.ErrorIs(t, err, context.Canceled)
	run.Wait()
}

func TestReplayRunner_UnknownRun(t *testing.T) {
	t.Parallel()

	store := history.NewStore(t.TempDir())

	ctx, cancel := testutil.ShortOperationContext(t)
	defer cancel()

	_, err := NewReplayRunner(store, "run-20260310T090000-deadbeef", 0).Start(ctx, engine.Command{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load run")
}
