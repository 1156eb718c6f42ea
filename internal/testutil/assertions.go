package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pollInterval is how often WaitFor and AssertNever evaluate their condition.
const pollInterval = 5 * time.Millisecond

// WaitFor polls cond until it returns true, failing the test after timeout.
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, timeout, pollInterval, "timed out waiting for: %s", msg)
}

// AssertNever fails the test if cond becomes true within window.
func AssertNever(t testing.TB, window time.Duration, cond func() bool, msg string) {
	t.Helper()
	if !assert.Never(t, cond, window, pollInterval, "unexpected: %s", msg) {
		t.FailNow()
	}
}

// Recorder collects values from concurrent producers, typically the
// handlers under test.
type Recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

// NewRecorder creates an empty Recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{}
}

// Add records v. Its signature lets it be passed directly as a handler.
func (r *Recorder[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// All returns a copy of the recorded values.
func (r *Recorder[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

// WaitForLen waits until at least n values are recorded and returns them.
func (r *Recorder[T]) WaitForLen(t testing.TB, n int, timeout time.Duration) []T {
	t.Helper()
	WaitFor(t, timeout, func() bool { return r.Len() >= n }, "recorder to reach expected length")
	return r.All()
}
