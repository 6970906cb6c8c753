// Package testutil provides shared helpers for package tests: an in-memory
// sink, scriptable executors and a suite base with a temporary state store.
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// DefaultTimeout bounds a test run when the test binary sets no deadline.
const DefaultTimeout = 30 * time.Second

// Logger returns a debug level logger writing to the test output, tagged with
// the test name so concurrent stream logs stay attributable.
func Logger(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t,
		zaptest.Level(zap.DebugLevel),
		zaptest.WrapOptions(zap.AddCaller()),
	).With(zap.String("test", t.Name()))
}

// Context returns a context cancelled when the test ends. It expires at the
// earlier of timeout and the test binary's own deadline.
func Context(t testing.TB, timeout time.Duration) context.Context {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if tt, ok := t.(*testing.T); ok {
		if d, ok := tt.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	t.Cleanup(cancel)
	return ctx
}
