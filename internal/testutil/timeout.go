package testutil

import (
	"context"
	"testing"
	"time"
)

// Default timeouts for engine operations.
const (
	// DefaultEngineTimeout is the default timeout for a full engine run
	// (plan or apply against a real or mocked binary).
	DefaultEngineTimeout = 2 * time.Minute

	// DefaultTestBuffer is the buffer time subtracted from test deadline
	// to allow for cleanup operations before the test times out.
	DefaultTestBuffer = 10 * time.Second
)

// ContextWithTestDeadline creates a context that respects the test's deadline.
// It subtracts a buffer from the test deadline to allow time for cleanup.
// If the test has no deadline, it falls back to the provided fallback duration.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    ctx, cancel := testutil.ContextWithTestDeadline(t, 30*time.Second)
//	    defer cancel()
//	    // ... test code using ctx
//	}
func ContextWithTestDeadline(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadlineBuffer(t, fallback, DefaultTestBuffer)
}

// ContextWithTestDeadlineBuffer creates a context that respects the test's deadline
// with a custom buffer. The buffer is subtracted from the test deadline to allow
// time for cleanup operations before the test times out.
//
// If the test has no deadline, it uses the fallback duration.
// If the calculated deadline (test deadline minus buffer) is in the past,
// it uses the fallback instead.
func ContextWithTestDeadlineBuffer(t *testing.T, fallback, buffer time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		adjustedDeadline := deadline.Add(-buffer)
		// Only use adjusted deadline if it's still in the future
		if time.Until(adjustedDeadline) > 0 {
			return context.WithDeadline(context.Background(), adjustedDeadline)
		}
	}

	return context.WithTimeout(context.Background(), fallback)
}

// ContextWithTimeout creates a context with the specified timeout.
// This is a convenience wrapper that logs the timeout for debugging.
func ContextWithTimeout(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	t.Logf("Context timeout: %v", timeout)
	return context.WithTimeout(context.Background(), timeout)
}

// EngineRunContext creates a context with a standard timeout for engine
// invocations. It respects the test deadline if one is set, otherwise uses
// DefaultEngineTimeout.
func EngineRunContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultEngineTimeout)
}

// ShortOperationContext creates a context with a short timeout (30 seconds)
// for quick operations like file reads or channel waits.
// It respects the test deadline if one is set.
func ShortOperationContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, 30*time.Second)
}
