package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Default channel capacities. Bounded channels give natural backpressure: a
// producer blocks once the consumer falls this far behind.
const (
	DefaultEventBuffer  = 100
	DefaultActionBuffer = 10
	DefaultTaskBuffer   = 10
)

// ErrSourceClosed is returned by EventSource.ReadEvent once the source has
// been closed. The capture loop treats it as end of input.
var ErrSourceClosed = errors.New("event source closed")

var errAlreadyRunning = errors.New("controller already running")

// Handler translates one raw input event into zero or more dispatched
// actions. It runs on the input translation loop and must not block beyond
// the dispatch itself; a returned error is logged and the loop continues.
type Handler[S, E any] interface {
	HandleEvent(ev E, d *Dispatch[S]) error
}

// Action performs one synchronous state transition. Apply runs on the main
// loop with exclusive access to the state and must not block; it may stage
// follow-up actions and tasks through the dispatch, or request cancellation.
// A returned error is logged and the loop continues, leaving whatever the
// failing call already mutated in place.
type Action[S any] interface {
	Apply(st *S, d *Dispatch[S]) error
}

// Task performs asynchronous background work. Run executes on its own
// goroutine concurrently with other tasks and reports results exclusively by
// dispatching actions; it never touches state directly. The context is
// cancelled when the controller shuts down, and tasks that block on external
// work are expected to honor it. A returned error is logged and the task
// loop continues.
type Task[S any] interface {
	Run(ctx context.Context, d *Dispatch[S]) error
}

// EventSource produces raw input events for the capture loop. ReadEvent
// blocks until an event arrives; Close unblocks a pending ReadEvent, which
// then returns ErrSourceClosed. Close must be safe to call more than once.
type EventSource[E any] interface {
	ReadEvent() (E, error)
	Close() error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc[S, E any] func(ev E, d *Dispatch[S]) error

// HandleEvent calls f.
func (f HandlerFunc[S, E]) HandleEvent(ev E, d *Dispatch[S]) error { return f(ev, d) }

// ActionFunc adapts a function to the Action interface.
type ActionFunc[S any] func(st *S, d *Dispatch[S]) error

// Apply calls f.
func (f ActionFunc[S]) Apply(st *S, d *Dispatch[S]) error { return f(st, d) }

// TaskFunc adapts a function to the Task interface.
type TaskFunc[S any] func(ctx context.Context, d *Dispatch[S]) error

// Run calls f.
func (f TaskFunc[S]) Run(ctx context.Context, d *Dispatch[S]) error { return f(ctx, d) }

// Phase is the controller run lifecycle.
type Phase int32

const (
	PhaseConstructed Phase = iota
	PhaseRunning
	PhaseShuttingDown
	PhaseTerminated
)

// String returns the phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseConstructed:
		return "constructed"
	case PhaseRunning:
		return "running"
	case PhaseShuttingDown:
		return "shutting_down"
	case PhaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Options configures a Controller. The zero value is usable.
type Options struct {
	// Logger receives handler/action/task failures and shutdown
	// diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
	// EventBuffer, ActionBuffer and TaskBuffer size the three internal
	// channels. Zero or negative values use the defaults.
	EventBuffer  int
	ActionBuffer int
	TaskBuffer   int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	if o.ActionBuffer <= 0 {
		o.ActionBuffer = DefaultActionBuffer
	}
	if o.TaskBuffer <= 0 {
		o.TaskBuffer = DefaultTaskBuffer
	}
	return o
}

// core carries everything a Dispatch needs, factored out of Controller so
// Dispatch is generic over the state type alone.
type core[S any] struct {
	log   *zap.Logger
	token *Token

	mu    sync.Mutex
	state S

	actions chan Action[S]
	tasks   chan Task[S]

	// stopped closes when the main loop exits; every send into the runtime
	// selects on it so late senders unwind instead of blocking forever.
	stopped chan struct{}

	// producers tracks live action senders; its done channel closing is
	// the "no more actions can arrive" shutdown trigger.
	producers *senderSet

	// staged holds enqueues made during an Apply; only the main loop
	// touches these.
	staged      []Action[S]
	stagedTasks []Task[S]

	afterApply func(*S)
}

// sendTask forwards one task to the execution loop, carrying a producer
// registration on its behalf. During shutdown the task is dropped and the
// registration released.
func (c *core[S]) sendTask(t Task[S]) {
	c.producers.add()
	select {
	case c.tasks <- t:
	case <-c.token.Done():
		c.producers.release()
	case <-c.stopped:
		c.producers.release()
	}
}

// Controller owns the application's concurrency skeleton. Construct with
// New, then call Run exactly once.
type Controller[S, E any] struct {
	core[S]

	source  EventSource[E]
	handler Handler[S, E]
	events  chan E

	phase   atomic.Int32
	running atomic.Bool

	// shared dispatches: direct-send for handlers and tasks, staging for
	// the main loop's Apply calls.
	sendDisp  *Dispatch[S]
	applyDisp *Dispatch[S]
}

// New creates a Controller around an initial state value, an input source,
// and the handler that translates input events. The token is shared: firing
// it from anywhere (an action, a signal handler) shuts the controller down.
// A nil token gets a private one, reachable through the dispatch only.
func New[S, E any](initial S, source EventSource[E], handler Handler[S, E], token *Token, opts Options) *Controller[S, E] {
	o := opts.withDefaults()
	if token == nil {
		token = NewToken()
	}
	c := &Controller[S, E]{
		core: core[S]{
			log:       o.Logger,
			token:     token,
			state:     initial,
			actions:   make(chan Action[S], o.ActionBuffer),
			tasks:     make(chan Task[S], o.TaskBuffer),
			stopped:   make(chan struct{}),
			producers: newSenderSet(),
		},
		source:  source,
		handler: handler,
		events:  make(chan E, o.EventBuffer),
	}
	c.sendDisp = &Dispatch[S]{c: &c.core}
	c.applyDisp = &Dispatch[S]{c: &c.core, staged: true}
	c.phase.Store(int32(PhaseConstructed))
	return c
}

// Phase reports the current lifecycle phase.
func (c *Controller[S, E]) Phase() Phase {
	return Phase(c.phase.Load())
}

// OnApply installs a hook invoked under the state lock after every applied
// action, typically to render the new state. Must be set before Run.
func (c *Controller[S, E]) OnApply(fn func(*S)) {
	c.afterApply = fn
}

// Dispatch returns a direct-send dispatch for producers outside the runtime's
// own loops, such as code seeding initial tasks before input arrives. Sends
// through it block when the bounded channels are full.
func (c *Controller[S, E]) Dispatch() *Dispatch[S] {
	return c.sendDisp
}

// View runs fn with read access to the state, serialized with action
// application through the same lock. fn must not retain the pointer.
func (c *Controller[S, E]) View(fn func(*S)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
}

// Run spawns the four loops and blocks until the controller terminates:
// either the token fires, or the input source ends and all outstanding work
// drains. In both cases every loop and every started task has finished by
// the time Run returns. Cancelling ctx is equivalent to firing the token.
func (c *Controller[S, E]) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	c.phase.Store(int32(PhaseRunning))
	defer c.phase.Store(int32(PhaseTerminated))

	taskCtx, taskCancel := context.WithCancel(ctx)
	defer taskCancel()

	// The translation loop registers as an action producer up front so the
	// senderless signal cannot fire before anything runs.
	c.producers.add()

	g := new(errgroup.Group)
	g.Go(c.captureLoop)
	g.Go(c.translateLoop)
	g.Go(func() error { return c.taskLoop(taskCtx) })
	g.Go(c.mainLoop)
	g.Go(func() error {
		// Shutdown bridge: whatever ends the run, cancel task work and
		// unblock the input source.
		select {
		case <-ctx.Done():
			c.token.Cancel()
		case <-c.token.Done():
		case <-c.stopped:
		}
		taskCancel()
		if err := c.source.Close(); err != nil && !errors.Is(err, ErrSourceClosed) {
			c.log.Debug("event source close failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// captureLoop reads raw events from the source and forwards them unchanged.
// Any read error ends the input stream; only unexpected ones are logged.
func (c *Controller[S, E]) captureLoop() error {
	defer close(c.events)
	for {
		ev, err := c.source.ReadEvent()
		if err != nil {
			if !errors.Is(err, ErrSourceClosed) && !errors.Is(err, io.EOF) {
				c.log.Warn("input read failed", zap.Error(err))
			}
			return nil
		}
		select {
		case c.events <- ev:
		case <-c.stopped:
			return nil
		}
	}
}

// translateLoop invokes the handler for each captured event. It holds the
// initial producer registration; when it returns, only tasks can still
// originate actions.
func (c *Controller[S, E]) translateLoop() error {
	defer c.producers.release()
	for {
		select {
		case <-c.stopped:
			return nil
		case ev, ok := <-c.events:
			if !ok {
				return nil
			}
			if err := c.handler.HandleEvent(ev, c.sendDisp); err != nil {
				c.log.Warn("handler failed",
					zap.String("event_type", fmt.Sprintf("%T", ev)),
					zap.Error(err))
			}
		}
	}
}

// taskLoop starts one goroutine per received task and waits for all of them
// on the way out. After the main loop stops, queued tasks are discarded and
// their producer registrations released so accounting stays balanced.
func (c *Controller[S, E]) taskLoop(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-c.stopped:
			for {
				select {
				case <-c.tasks:
					c.producers.release()
				default:
					return nil
				}
			}
		case t := <-c.tasks:
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer c.producers.release()
				if err := t.Run(ctx, c.sendDisp); err != nil {
					c.log.Warn("task failed",
						zap.String("task_type", fmt.Sprintf("%T", t)),
						zap.Error(err))
				}
			}()
		}
	}
}

// mainLoop is the only reader and writer of state. It applies exactly one
// action at a time, drains actions staged by each apply before taking the
// next from the channel, and exits on the first of: token cancellation
// (immediately, without draining) or the producer count reaching zero (after
// draining what is already buffered).
func (c *Controller[S, E]) mainLoop() error {
	defer func() {
		c.phase.Store(int32(PhaseShuttingDown))
		close(c.stopped)
	}()

	for {
		if !c.drainStaged() {
			return nil
		}
		select {
		case <-c.token.Done():
			return nil
		case a := <-c.actions:
			c.apply(a)
		case <-c.producers.done:
			c.phase.Store(int32(PhaseShuttingDown))
			for {
				if !c.drainStaged() {
					return nil
				}
				select {
				case <-c.token.Done():
					return nil
				case a := <-c.actions:
					c.apply(a)
				default:
					return nil
				}
			}
		}
	}
}

// drainStaged applies actions staged during previous applies, oldest first.
// A chain that stages more actions extends the queue and keeps draining.
// Returns false once cancellation is observed.
func (c *Controller[S, E]) drainStaged() bool {
	for len(c.staged) > 0 {
		if c.token.Cancelled() {
			return false
		}
		a := c.staged[0]
		c.staged = c.staged[1:]
		c.apply(a)
	}
	return !c.token.Cancelled()
}

// apply runs one action under the state lock, fires the render hook, then
// starts any tasks the action staged.
func (c *Controller[S, E]) apply(a Action[S]) {
	c.mu.Lock()
	err := a.Apply(&c.state, c.applyDisp)
	if c.afterApply != nil {
		c.afterApply(&c.state)
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("action failed",
			zap.String("action_type", fmt.Sprintf("%T", a)),
			zap.Error(err))
	}

	if len(c.stagedTasks) > 0 {
		for _, t := range c.stagedTasks {
			c.sendTask(t)
		}
		c.stagedTasks = c.stagedTasks[:0]
	}
}
