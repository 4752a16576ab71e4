package controller

import (
	"sync"
	"sync/atomic"
)

// Dispatch is the sender half of the runtime, handed to every Handler,
// Action, and Task invocation. It enqueues follow-up actions and tasks and
// exposes the shared cancellation token.
//
// A Dispatch passed to Action.Apply stages its enqueues: staged actions are
// applied, in order, before the main loop returns to its channel, and staged
// tasks are started right after the apply returns. This keeps Apply
// non-blocking and means an action chain runs ahead of older queued actions.
// Dispatches handed to Handlers and Tasks send directly and block when the
// bounded channel is full, which is the backpressure path.
type Dispatch[S any] struct {
	c      *core[S]
	staged bool
}

// Action enqueues one state transition.
func (d *Dispatch[S]) Action(a Action[S]) {
	if a == nil {
		return
	}
	if d.staged {
		d.c.staged = append(d.c.staged, a)
		return
	}
	select {
	case d.c.actions <- a:
	case <-d.c.stopped:
		// Main loop is gone; dropping the action is the normal
		// shutdown behavior for a late sender.
	}
}

// Task enqueues one unit of background work.
func (d *Dispatch[S]) Task(t Task[S]) {
	if t == nil {
		return
	}
	if d.staged {
		d.c.stagedTasks = append(d.c.stagedTasks, t)
		return
	}
	d.c.sendTask(t)
}

// Cancel fires the shared cancellation token.
func (d *Dispatch[S]) Cancel() {
	d.c.token.Cancel()
}

// Cancelled reports whether shutdown has been requested.
func (d *Dispatch[S]) Cancelled() bool {
	return d.c.token.Cancelled()
}

// senderSet counts live action producers: the input translation loop plus
// every queued or running task. When the count first reaches zero the done
// channel closes, telling the main loop no further actions can arrive.
//
// Registrations are handed off at dispatch time: whoever enqueues a task
// increments on its behalf before the send, so a chain of tasks can never
// transit zero while work is still pending. The zero crossing latches; a
// racing late registration after the latch is simply part of shutdown.
type senderSet struct {
	n    atomic.Int64
	once sync.Once
	done chan struct{}
}

func newSenderSet() *senderSet {
	return &senderSet{done: make(chan struct{})}
}

func (s *senderSet) add() {
	s.n.Add(1)
}

func (s *senderSet) release() {
	if s.n.Add(-1) == 0 {
		s.once.Do(func() { close(s.done) })
	}
}
