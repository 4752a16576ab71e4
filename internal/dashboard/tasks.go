package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tfdeck/tfdeck/internal/controller"
	"github.com/tfdeck/tfdeck/internal/engine"
	"github.com/tfdeck/tfdeck/internal/history"
	"github.com/tfdeck/tfdeck/internal/jsonstream"
	"github.com/tfdeck/tfdeck/internal/logging"
	"github.com/tfdeck/tfdeck/internal/watch"
)

// eventFlushBatch is how many raw events accumulate before an append to the
// history log.
const eventFlushBatch = 32

// runEngineTask starts the engine subprocess, pumps its -json stream through
// the decoder into state actions, and records the events to history. The
// exit action is dispatched after the stream is fully drained.
type runEngineTask struct {
	runner engine.Runner
	cmd    engine.Command
	store  *history.Store
	runID  string
	gate   bool
	log    *logging.Logger
}

func (t runEngineTask) Run(ctx context.Context, d *controller.Dispatch[State]) error {
	log := t.log
	if log == nil {
		log = logging.New()
	}

	run, err := t.runner.Start(ctx, t.cmd)
	if err != nil {
		d.Action(engineExitedAction{status: engine.ExitStatus{Code: -1, Err: err}, gate: t.gate})
		return fmt.Errorf("start engine: %w", err)
	}

	dec := jsonstream.New[engine.Event](run.Stdout(), jsonstream.WithLogger(log.Base()))
	decDone := make(chan error, 1)
	go func() { decDone <- dec.Run(ctx) }()

	var batch []string
	flush := func() {
		if t.store == nil || len(batch) == 0 {
			return
		}
		if err := t.store.AppendEvents(t.runID, batch); err != nil {
			log.Warn("failed to append run events", "run", t.runID, "error", err)
		}
		batch = batch[:0]
	}

	for res := range dec.Results() {
		switch res.Kind {
		case jsonstream.KindParsed:
			d.Action(engineEventAction{event: res.Value})
			if raw, err := json.Marshal(res.Value); err == nil {
				batch = append(batch, string(raw))
			}
		case jsonstream.KindIncomplete:
			// a killed process routinely ends mid-line
			if ctx.Err() == nil {
				d.Action(decodeFailureAction{raw: res.Raw})
			}
		default:
			log.Warn("undecodable engine output",
				"kind", res.Kind.String(), "error", res.Err)
			d.Action(decodeFailureAction{raw: res.Raw})
		}
		if len(batch) >= eventFlushBatch {
			flush()
		}
	}
	flush()

	if err := <-decDone; err != nil {
		log.Warn("engine stream read failed", "error", err)
	}

	status := run.Wait()
	log.Info("engine exited", "cmd", t.cmd.String(), "code", status.Code)
	d.Action(engineExitedAction{status: status, gate: t.gate})
	return nil
}

// historyFlushTask writes the terminal run record and, for sessions with no
// one left watching, ends the run once the write has landed.
type historyFlushTask struct {
	store     *history.Store
	runID     string
	record    func(*history.RunRecord)
	quitAfter bool
}

func (t historyFlushTask) Run(_ context.Context, d *controller.Dispatch[State]) error {
	err := t.store.UpdateRun(t.runID, t.record)
	if t.quitAfter {
		d.Action(quitAction{})
	}
	if err != nil {
		return fmt.Errorf("flush run record: %w", err)
	}
	return nil
}

// watchTask forwards settled workspace file changes into the state.
type watchTask struct {
	watcher *watch.Watcher
}

func (t watchTask) Run(ctx context.Context, d *controller.Dispatch[State]) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-t.watcher.Events():
			if !ok {
				return nil
			}
			d.Action(workspaceChangedAction{path: ch.Path, op: ch.Op})
		}
	}
}

// tickTask re-enqueues itself once per interval to drive the elapsed
// clocks. Cancellation breaks the chain.
type tickTask struct {
	interval time.Duration
}

func (t tickTask) Run(ctx context.Context, d *controller.Dispatch[State]) error {
	interval := t.interval
	if interval <= 0 {
		interval = time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case now := <-timer.C:
		d.Action(tickAction{now: now})
		d.Task(tickTask{interval: interval})
	}
	return nil
}
