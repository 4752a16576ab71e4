package dashboard

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tfdeck/tfdeck/internal/engine"
	"github.com/tfdeck/tfdeck/internal/history"
)

// DefaultReplayDelay paces replayed events so a recorded run is watchable
// rather than instantaneous.
const DefaultReplayDelay = 25 * time.Millisecond

// ReplayRunner is an engine.Runner that feeds a recorded run's event log
// back through the dashboard instead of invoking the engine. Wait reports
// the recorded exit code.
type ReplayRunner struct {
	store *history.Store
	id    string
	delay time.Duration
}

// NewReplayRunner creates a runner replaying run id from the store. A
// non-positive delay replays at full speed.
func NewReplayRunner(store *history.Store, id string, delay time.Duration) *ReplayRunner {
	return &ReplayRunner{store: store, id: id, delay: delay}
}

// Start implements engine.Runner. The command is ignored; the stream comes
// from the recorded log.
func (r *ReplayRunner) Start(ctx context.Context, _ engine.Command) (*engine.Run, error) {
	rec, err := r.store.GetRun(r.id)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", r.id, err)
	}
	log, err := r.store.OpenEventLog(r.id)
	if err != nil {
		return nil, fmt.Errorf("open event log for %s: %w", r.id, err)
	}
	if log == nil {
		// Recorded before any events arrived; an empty stream still
		// settles the phase through the exit status.
		log = io.NopCloser(strings.NewReader(""))
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer log.Close()
		defer pw.Close()

		scanner := bufio.NewScanner(log)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if r.delay > 0 {
				select {
				case <-ctx.Done():
					pw.CloseWithError(ctx.Err())
					return
				case <-time.After(r.delay):
				}
			}
			if _, err := io.WriteString(pw, scanner.Text()+"\n"); err != nil {
				return
			}
		}
	}()

	status := engine.ExitStatus{Code: rec.ExitCode}
	if rec.Outcome == history.OutcomeFailed && rec.ExitCode == 0 {
		status.Code = 1
	}
	wait := func() engine.ExitStatus {
		<-done
		return status
	}
	return engine.NewRun(pr, wait), nil
}
