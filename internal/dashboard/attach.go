package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tfdeck/tfdeck/internal/controller"
	"github.com/tfdeck/tfdeck/internal/engine"
	"github.com/tfdeck/tfdeck/internal/logging"
	"github.com/tfdeck/tfdeck/internal/remote"
	"github.com/tfdeck/tfdeck/internal/tui"
)

// Feed delivers a share server's event stream. The remote client implements
// it.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan remote.Event, <-chan error)
}

// NewAttach builds a session that mirrors a remote share server instead of
// driving a local engine run. The views and keys are the ones a local
// session has, minus anything that would steer the run.
func NewAttach(feed Feed, opts Options) (*App, error) {
	if feed == nil {
		return nil, errors.New("attach needs a remote feed")
	}
	if opts.Headless {
		return nil, errors.New("attach is interactive; use the runs API for scripted access")
	}
	log := opts.Logger
	if log == nil {
		log = logging.New()
	}
	return &App{opts: opts, feed: feed, log: log.With("component", "dashboard")}, nil
}

// runAttach is the attached counterpart of Run: same terminal setup and
// controller, with published snapshots taking the place of the engine
// stream. Nothing is recorded locally.
func (a *App) runAttach(ctx context.Context) (Snapshot, error) {
	st := newState("", "", engine.Command{}, "", a.opts.Config.UI.TailLines)
	st.Command = ""
	st.attached = true

	term := tui.NewTerminal(a.input(), a.output())
	if err := term.EnterRaw(); err != nil {
		return Snapshot{}, fmt.Errorf("terminal raw mode: %w", err)
	}
	defer term.ExitRaw()
	term.EnterAltScreen()
	term.HideCursor()
	defer func() {
		term.ShowCursor()
		term.ExitAltScreen()
	}()

	keys, err := tui.NewKeyReader(term.In())
	if err != nil {
		return Snapshot{}, fmt.Errorf("key reader: %w", err)
	}

	ctl := controller.New(st, keys, newKeyHandler(), a.opts.Token, controller.Options{
		Logger: a.log.Base(),
	})
	a.hookScreen(ctl, term, st)

	d := ctl.Dispatch()
	d.Task(attachTask{feed: a.feed, log: a.log})
	d.Task(tickTask{interval: time.Second})

	runErr := ctl.Run(ctx)

	var snap Snapshot
	ctl.View(func(s *State) { snap = s.Snapshot() })
	return snap, runErr
}

// attachTask pumps remote snapshots into the state until the stream or the
// session ends.
type attachTask struct {
	feed Feed
	log  *logging.Logger
}

func (t attachTask) Run(ctx context.Context, d *controller.Dispatch[State]) error {
	events, errs := t.feed.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				// Closes together with the event channel; keep draining
				// that one.
				errs = nil
				continue
			}
			d.Action(feedDownAction{reason: err.Error()})
			return fmt.Errorf("share stream: %w", err)
		case ev, ok := <-events:
			if !ok {
				d.Action(feedDownAction{})
				return nil
			}
			var snap Snapshot
			if err := json.Unmarshal(ev.Data, &snap); err != nil {
				t.log.Warn("undecodable remote snapshot", "seq", ev.Seq, "error", err)
				continue
			}
			d.Action(remoteSnapshotAction{snap: snap})
		}
	}
}

// remoteSnapshotAction replaces the mirrored run state with a published
// snapshot. Local view state survives.
type remoteSnapshotAction struct {
	snap Snapshot
}

func (a remoteSnapshotAction) Apply(st *State, _ *controller.Dispatch[State]) error {
	st.restoreSnapshot(a.snap)
	return nil
}

// feedDownAction marks the stream gone while the remote run was still in
// flight. A later snapshot clears it, should the feed come back.
type feedDownAction struct {
	reason string
}

func (a feedDownAction) Apply(st *State, _ *controller.Dispatch[State]) error {
	if st.Phase.Terminal() {
		return nil
	}
	reason := a.reason
	if reason == "" {
		reason = "stream closed"
	}
	st.addDiagnostic(engine.Diagnostic{
		Severity: engine.SeverityWarning,
		Summary:  "share stream disconnected",
		Detail:   reason,
	})
	st.appendTail("share stream disconnected: " + reason)
	return nil
}
