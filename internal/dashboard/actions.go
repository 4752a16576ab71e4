package dashboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/tfdeck/tfdeck/internal/controller"
	"github.com/tfdeck/tfdeck/internal/engine"
	"github.com/tfdeck/tfdeck/internal/tui"
)

const (
	// scrollMax is an over-large scroll offset; views clamp it against
	// their actual content length.
	scrollMax = 1 << 20

	maxRawTail = 120

	// stallAfter is how long the engine may stay silent before the
	// dashboard flags the run as stalled. Applies keep emitting progress
	// hooks every ten seconds per resource, so a longer quiet spell means
	// the engine is wedged on a provider call or waiting on something
	// external.
	stallAfter = 45 * time.Second
)

// engineEventAction folds one decoded stream record into the state.
type engineEventAction struct {
	event engine.Event
}

func (a engineEventAction) Apply(st *State, _ *controller.Dispatch[State]) error {
	st.applyEvent(a.event)
	return nil
}

// decodeFailureAction records input the stream decoder could not turn into
// an event. The run keeps going; the counter surfaces in the status line.
type decodeFailureAction struct {
	raw string
}

func (a decodeFailureAction) Apply(st *State, _ *controller.Dispatch[State]) error {
	st.DecodeFailures++
	st.appendTail("[undecodable] " + truncateRaw(a.raw))
	return nil
}

func truncateRaw(raw string) string {
	r := []rune(raw)
	if len(r) <= maxRawTail {
		return raw
	}
	return string(r[:maxRawTail]) + "..."
}

// engineExitedAction handles process exit: a clean gated plan parks the
// session at the confirm prompt; anything else is a terminal transition
// with the history flush staged behind it.
type engineExitedAction struct {
	status engine.ExitStatus
	gate   bool
}

func (a engineExitedAction) Apply(st *State, d *controller.Dispatch[State]) error {
	st.ExitCode = a.status.Code
	st.StalledFor = 0

	if a.gate && a.status.Ok() {
		st.Phase = PhaseConfirming
		st.ConfirmPending = true
		st.appendTail("plan complete, waiting for confirmation")
		return nil
	}

	st.FinishedAt = time.Now().UTC()
	st.ConfirmPending = false
	if a.status.Ok() {
		st.Phase = PhaseDone
	} else {
		st.Phase = PhaseFailed
		// A run that died without emitting a diagnostic still needs a
		// visible cause.
		if a.status.Err != nil && st.Errors == 0 {
			st.addDiagnostic(engine.Diagnostic{
				Severity: engine.SeverityError,
				Summary:  fmt.Sprintf("engine exited with code %d", a.status.Code),
				Detail:   a.status.Err.Error(),
			})
		}
	}

	st.stageFlush(d, st.autoQuit)
	return nil
}

// stageFlush queues the history record update, or ends the session directly
// when there is nothing to record.
func (st *State) stageFlush(d *controller.Dispatch[State], quitAfter bool) {
	if st.store != nil {
		d.Task(historyFlushTask{
			store:     st.store,
			runID:     st.RunID,
			record:    recordFromSnapshot(st.Snapshot()),
			quitAfter: quitAfter,
		})
		return
	}
	if quitAfter {
		d.Cancel()
	}
}

// switchViewAction changes the active tab, either to a specific view or to
// the next one in order.
type switchViewAction struct {
	view tui.View
	next bool
}

func (a switchViewAction) Apply(st *State, _ *controller.Dispatch[State]) error {
	if a.next {
		st.View = nextView(st.View)
	} else {
		st.View = a.view
	}
	st.Scroll = 0
	return nil
}

func nextView(v tui.View) tui.View {
	switch v {
	case tui.ViewSummary:
		return tui.ViewResources
	case tui.ViewResources:
		return tui.ViewDiags
	case tui.ViewDiags:
		return tui.ViewTail
	default:
		return tui.ViewSummary
	}
}

// scrollAction moves the viewport. Manual movement in the tail view turns
// follow off so scrollback stays put while output continues; jumping to the
// bottom turns it back on.
type scrollAction struct {
	delta  int
	top    bool
	bottom bool
}

func (a scrollAction) Apply(st *State, _ *controller.Dispatch[State]) error {
	switch {
	case a.top:
		st.Scroll = 0
	case a.bottom:
		st.Scroll = scrollMax
	default:
		st.Scroll += a.delta
		if st.Scroll < 0 {
			st.Scroll = 0
		}
	}
	if st.View == tui.ViewTail {
		st.Follow = a.bottom
	}
	return nil
}

// toggleFollowAction flips tail following.
type toggleFollowAction struct{}

func (a toggleFollowAction) Apply(st *State, _ *controller.Dispatch[State]) error {
	st.Follow = !st.Follow
	return nil
}

// confirmAction resolves the apply gate. Accepting starts the held second
// stage; declining cancels the run. Outside the confirming phase the keys
// mean nothing, and an attached mirror never confirms someone else's run.
type confirmAction struct {
	accept bool
}

func (a confirmAction) Apply(st *State, d *controller.Dispatch[State]) error {
	if st.Phase != PhaseConfirming || st.attached {
		return nil
	}
	st.ConfirmPending = false

	if !a.accept {
		st.Phase = PhaseCancelled
		st.FinishedAt = time.Now().UTC()
		st.appendTail("apply declined")
		st.stageFlush(d, true)
		return nil
	}

	if st.stage2 == nil {
		return errors.New("confirm accepted but no second stage is held")
	}
	st.Phase = PhaseApplying
	st.appendTail("apply confirmed")
	d.Task(st.stage2)
	st.stage2 = nil
	return nil
}

// filterAction drives the filter editor. While editing, text mirrors the
// line editor so the footer can echo it; commit installs the text as the
// active resource filter.
type filterAction struct {
	text    string
	editing bool
	commit  bool
}

func (a filterAction) Apply(st *State, _ *controller.Dispatch[State]) error {
	switch {
	case a.editing:
		st.FilterActive = true
		st.FilterInput = a.text
	case a.commit:
		st.FilterActive = false
		st.FilterInput = ""
		st.Filter = a.text
		st.Scroll = 0
	}
	return nil
}

// workspaceChangedAction marks the displayed plan stale after a *.tf or
// *.tfvars file changed under the workspace.
type workspaceChangedAction struct {
	path string
	op   string
}

func (a workspaceChangedAction) Apply(st *State, _ *controller.Dispatch[State]) error {
	st.Stale = true
	st.appendTail(fmt.Sprintf("workspace changed: %s (%s)", a.path, a.op))
	return nil
}

// tickAction advances the elapsed clocks once a second and watches for a
// silent engine.
type tickAction struct {
	now time.Time
}

func (a tickAction) Apply(st *State, _ *controller.Dispatch[State]) error {
	if !st.Phase.Terminal() && !st.StartedAt.IsZero() {
		st.Elapsed = a.now.Sub(st.StartedAt)
	}
	for _, e := range st.resources {
		if e.status == statusRunning && !e.startedAt.IsZero() {
			e.elapsed = a.now.Sub(e.startedAt)
		}
	}

	// Stall detection only makes sense while a live engine should be
	// talking to us: not on attached mirrors, not at the confirm gate,
	// not after the run ended.
	wasStalled := st.StalledFor > 0
	st.StalledFor = 0
	if !st.attached && !st.Phase.Terminal() && st.Phase != PhaseConfirming && !st.lastEventAt.IsZero() {
		if quiet := a.now.Sub(st.lastEventAt); quiet >= stallAfter {
			st.StalledFor = quiet
			if !wasStalled {
				st.appendTail(fmt.Sprintf("no engine output for %ds", int(quiet.Seconds())))
			}
		}
	}
	return nil
}

// quitAction ends the session. A run still in flight is recorded as
// cancelled; the token stops the engine through its context.
type quitAction struct{}

func (a quitAction) Apply(st *State, d *controller.Dispatch[State]) error {
	if !st.Phase.Terminal() {
		st.Phase = PhaseCancelled
		st.FinishedAt = time.Now().UTC()
	}
	d.Cancel()
	return nil
}
