// Package testutil holds helpers shared by tests that wait on goroutines.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	// DefaultTestTimeout bounds waits on background work.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout is for operations expected to complete quickly.
	ShortTestTimeout = 1 * time.Second
)

// Receive returns the next value from ch or fails the test after timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "%s: channel closed", msg)
		return v
	case <-time.After(timeout):
		require.FailNow(t, msg)
	}
	var zero T
	return zero
}

// WaitForChannel waits for a signal or close on ch.
func WaitForChannel(t testing.TB, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.FailNow(t, msg)
	}
}
