package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Await consumes events until one satisfies pred, the timeout lapses, or ctx
// ends. Events failing the predicate are discarded, so run Await on its own
// subscription rather than one something else is also reading.
func Await(ctx context.Context, events <-chan Event, timeout time.Duration, pred func(Event) bool) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-timer.C:
			return Event{}, fmt.Errorf("no matching event within %s", timeout)
		case ev, ok := <-events:
			if !ok {
				return Event{}, errors.New("stream ended before a matching event")
			}
			if pred(ev) {
				return ev, nil
			}
		}
	}
}
