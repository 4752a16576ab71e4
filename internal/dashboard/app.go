package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tfdeck/tfdeck/internal/config"
	"github.com/tfdeck/tfdeck/internal/controller"
	"github.com/tfdeck/tfdeck/internal/engine"
	"github.com/tfdeck/tfdeck/internal/history"
	"github.com/tfdeck/tfdeck/internal/logging"
	"github.com/tfdeck/tfdeck/internal/tui"
	"github.com/tfdeck/tfdeck/internal/watch"
)

// Publisher receives state snapshots as the run progresses. The share
// server implements it; a nil publisher means the run is not shared.
type Publisher interface {
	Publish(snap Snapshot)
}

// Options configures an App. Config is expected to be fully merged: CLI
// flags override file values before the app sees them, and Engine.Binary
// must already be resolved.
type Options struct {
	Config    config.Config
	Dir       string
	Operation engine.Operation

	AutoApprove bool
	Headless    bool

	// RunID overrides the generated run id; replay sessions pass the
	// recorded one.
	RunID string

	// Runner overrides the local subprocess runner. Replay and tests
	// substitute their own.
	Runner engine.Runner

	// Store records the run. Nil disables recording (replay).
	Store *history.Store

	Token     *controller.Token
	Logger    *logging.Logger
	Publisher Publisher

	// Input and Output default to the process stdin/stdout.
	Input  *os.File
	Output io.Writer
}

// App is one dashboard session: a single engine run (or replay, or attached
// mirror) from start to final snapshot.
type App struct {
	opts   Options
	runner engine.Runner
	feed   Feed
	log    *logging.Logger
}

// New validates the options and builds an App.
func New(opts Options) (*App, error) {
	switch opts.Operation {
	case engine.OpPlan, engine.OpApply, engine.OpDestroy:
	default:
		return nil, fmt.Errorf("unknown operation: %q", opts.Operation)
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Config.Engine.Binary == "" {
		return nil, errors.New("engine binary not configured")
	}
	if opts.Headless && opts.Operation != engine.OpPlan && !opts.AutoApprove {
		return nil, fmt.Errorf("headless %s needs --auto-approve: there is no terminal to confirm on", opts.Operation)
	}

	runner := opts.Runner
	if runner == nil {
		runner = engine.NewLocalRunner()
	}
	log := opts.Logger
	if log == nil {
		log = logging.New()
	}
	return &App{opts: opts, runner: runner, log: log.With("component", "dashboard")}, nil
}

// commands builds the engine invocations for the session. A plan, or an
// apply/destroy with auto-approve, is a single stage. Without auto-approve
// the first stage is a plan (a destroy plan for destroy) and the second is
// the confirmed operation.
func (a *App) commands() (first, second engine.Command, gated bool) {
	eng := a.opts.Config.Engine
	base := engine.Command{
		Binary:      eng.Binary,
		Dir:         a.opts.Dir,
		VarFiles:    eng.VarFiles,
		Targets:     eng.Targets,
		Parallelism: eng.Parallelism,
		NoColor:     eng.NoColor,
	}

	op := a.opts.Operation
	switch {
	case op == engine.OpPlan:
		first = base
		first.Operation = engine.OpPlan
		return first, engine.Command{}, false
	case a.opts.AutoApprove:
		first = base
		first.Operation = op
		first.AutoApprove = true
		return first, engine.Command{}, false
	default:
		first = base
		first.Operation = engine.OpPlan
		first.PlanDestroy = op == engine.OpDestroy
		second = base
		second.Operation = op
		second.AutoApprove = true
		return first, second, true
	}
}

// Run executes the session and returns the final state snapshot. The engine
// runs, history records, and the optional publisher sees every state change
// whether or not a TUI is attached.
func (a *App) Run(ctx context.Context) (Snapshot, error) {
	if a.feed != nil {
		return a.runAttach(ctx)
	}

	first, second, gated := a.commands()

	runID := a.opts.RunID
	if runID == "" {
		runID = history.NewRunID()
	}
	workspace := engine.CurrentWorkspace(a.opts.Dir)

	st := newState(runID, a.opts.Operation, first, workspace, a.opts.Config.UI.TailLines)
	st.store = a.opts.Store
	st.autoQuit = a.opts.Headless
	if gated {
		st.stage2 = runEngineTask{
			runner: a.runner,
			cmd:    second,
			store:  a.opts.Store,
			runID:  runID,
			log:    a.log,
		}
	}

	if a.opts.Store != nil {
		rec := &history.RunRecord{
			ID:        runID,
			Operation: string(a.opts.Operation),
			Command:   first.String(),
			Workspace: workspace,
			StartedAt: st.StartedAt,
			Outcome:   history.OutcomeRunning,
		}
		if err := a.opts.Store.CreateRun(rec); err != nil {
			return Snapshot{}, fmt.Errorf("create run record: %w", err)
		}
	}

	var (
		source controller.EventSource[tui.KeyEvent]
		term   *tui.Terminal
	)
	if a.opts.Headless {
		source = newNullSource()
	} else {
		term = tui.NewTerminal(a.input(), a.output())
		if err := term.EnterRaw(); err != nil {
			return Snapshot{}, fmt.Errorf("terminal raw mode (use --headless on non-terminals): %w", err)
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
		source = keys
	}

	ctl := controller.New(st, source, newKeyHandler(), a.opts.Token, controller.Options{
		Logger: a.log.Base(),
	})
	if a.opts.Headless {
		a.hookHeadless(ctl)
	} else {
		a.hookScreen(ctl, term, st)
	}

	d := ctl.Dispatch()
	d.Task(runEngineTask{
		runner: a.runner,
		cmd:    first,
		store:  a.opts.Store,
		runID:  runID,
		gate:   gated,
		log:    a.log,
	})
	d.Task(tickTask{interval: time.Second})

	if a.opts.Config.Watch.Enabled && !a.opts.Headless {
		watcher, err := watch.New(a.opts.Dir, a.opts.Config.WatchDebounce())
		if err != nil {
			a.log.Warn("workspace watch unavailable", "error", err)
		} else {
			defer watcher.Close()
			d.Task(watchTask{watcher: watcher})
		}
	}

	runErr := ctl.Run(ctx)

	var snap Snapshot
	ctl.View(func(s *State) { snap = s.Snapshot() })

	// A session torn down mid-run never saw a terminal action; settle the
	// outcome here so the record and the returned snapshot agree.
	if !Phase(snap.Phase).Terminal() {
		snap.Phase = string(PhaseCancelled)
		snap.FinishedAt = time.Now().UTC()
	}
	if a.opts.Store != nil {
		if err := a.opts.Store.UpdateRun(runID, recordFromSnapshot(snap)); err != nil {
			a.log.Warn("final run record update failed", "run", runID, "error", err)
		}
	}
	if a.opts.Publisher != nil {
		a.opts.Publisher.Publish(snap)
	}
	return snap, runErr
}

// hookScreen installs the render hook: draw on every applied action, rate
// limited to the configured refresh interval except when the phase moves,
// and ring the notifier on transitions that want the user back.
func (a *App) hookScreen(ctl *controller.Controller[State, tui.KeyEvent], term *tui.Terminal, initial State) {
	styles := tui.NewStyles(tui.ThemeForName(a.opts.Config.UI.Theme))
	screen := tui.NewScreen(styles)
	renderer := tui.NewRenderer(term)
	notifier := tui.NewNotifier(a.output())

	refresh := a.opts.Config.RefreshInterval()
	lastPhase := initial.Phase
	var lastDraw time.Time

	draw := func(s *State) {
		w, h := termSize(term)
		renderer.Draw(screen.Render(s.Frame(), w, h))
	}
	draw(&initial)

	ctl.OnApply(func(s *State) {
		phaseChanged := s.Phase != lastPhase
		if phaseChanged {
			lastPhase = s.Phase
			if reason, ok := notifyReason(s.Phase); ok {
				_ = notifier.NotifyForReason(reason, string(s.Operation), true)
			}
		}
		if !phaseChanged && time.Since(lastDraw) < refresh {
			return
		}
		lastDraw = time.Now()
		draw(s)
		a.publish(s)
	})
}

// hookHeadless prints tail lines and phase transitions as plain text.
func (a *App) hookHeadless(ctl *controller.Controller[State, tui.KeyEvent]) {
	out := a.output()
	var printed int
	var lastPhase Phase

	ctl.OnApply(func(s *State) {
		lines, seq := s.TailAfter(printed)
		printed = seq
		for _, l := range lines {
			fmt.Fprintln(out, l)
		}
		if s.Phase != lastPhase {
			lastPhase = s.Phase
			fmt.Fprintf(out, "phase: %s\n", s.Phase)
		}
		a.publish(s)
	})
}

func (a *App) publish(s *State) {
	if a.opts.Publisher != nil {
		a.opts.Publisher.Publish(s.Snapshot())
	}
}

func (a *App) input() *os.File {
	if a.opts.Input != nil {
		return a.opts.Input
	}
	return os.Stdin
}

func (a *App) output() io.Writer {
	if a.opts.Output != nil {
		return a.opts.Output
	}
	return os.Stdout
}

func termSize(term *tui.Terminal) (int, int) {
	w, h, err := term.Size()
	if err != nil || w <= 0 || h <= 0 {
		return 80, 24
	}
	return w, h
}

// notifyReason maps phase transitions to notifications. Only states that
// want the user's attention ring.
func notifyReason(p Phase) (tui.NotificationReason, bool) {
	switch p {
	case PhaseConfirming:
		return tui.NotifyReasonConfirm, true
	case PhaseDone:
		return tui.NotifyReasonDone, true
	case PhaseFailed:
		return tui.NotifyReasonFailed, true
	case PhaseCancelled:
		return tui.NotifyReasonCancelled, true
	}
	return 0, false
}

// nullSource is the event source for headless runs: no keys ever arrive,
// and Close releases the blocked read.
type nullSource struct {
	done chan struct{}
	once sync.Once
}

func newNullSource() *nullSource {
	return &nullSource{done: make(chan struct{})}
}

func (s *nullSource) ReadEvent() (tui.KeyEvent, error) {
	<-s.done
	return tui.KeyEvent{}, controller.ErrSourceClosed
}

func (s *nullSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
