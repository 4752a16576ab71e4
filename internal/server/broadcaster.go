package server

import (
	"sync"
)

// subscriberBuffer is the per-client channel capacity. A client that falls
// this far behind is dropped.
const subscriberBuffer = 16

// message is one SSE frame: the encoded stream event plus its sequence
// number for the id line.
type message struct {
	seq     uint64
	payload []byte
}

// Broadcaster fans published stream events out to SSE subscribers. Every
// subscriber gets a buffered channel; a publisher never blocks on a slow
// client, it disconnects it by closing the channel instead. The latest
// event is retained so new subscribers can catch up immediately.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[chan message]struct{}
	lastSeq uint64
	last    []byte
	closed  bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan message]struct{})}
}

// Subscribe registers a new client. The returned cancel func is safe to
// call after the client has already been dropped.
func (b *Broadcaster) Subscribe() (<-chan message, func()) {
	ch := make(chan message, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers the payload to every subscriber and retains it as the
// latest event. A subscriber whose buffer is full is disconnected rather
// than blocking the publisher.
func (b *Broadcaster) Publish(seq uint64, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.lastSeq = seq
	b.last = payload

	for ch := range b.subs {
		select {
		case ch <- message{seq: seq, payload: payload}:
		default:
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Last returns the most recently published event, or (0, nil) when nothing
// has been published yet.
func (b *Broadcaster) Last() (uint64, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq, b.last
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects every subscriber and rejects future publishes. Called
// on server shutdown so SSE handlers unwind before the HTTP server waits
// on them.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
