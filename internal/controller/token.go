package controller

import (
	"sync"
	"sync/atomic"
)

// Token is a shared, monotonic cancellation flag: once cancelled it stays
// cancelled. It is safe to share one Token between any number of goroutines;
// whoever owns the controller typically also hands the token to a signal
// handler so an interrupt can request shutdown.
type Token struct {
	once  sync.Once
	fired atomic.Bool
	done  chan struct{}
}

// NewToken creates an active (not cancelled) Token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel moves the token to its cancelled state. Safe to call from any
// goroutine, any number of times.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.fired.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.fired.Load()
}

// Done returns a channel closed when the token is cancelled, for use in
// select statements.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
