package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextWithTestDeadline_WithFallback(t *testing.T) {
	// Under `go test` a test deadline may be set; the helper must respect
	// either the test deadline or the fallback, whichever ends first.
	fallback := 100 * time.Millisecond
	ctx, cancel := ContextWithTestDeadline(t, fallback)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "context should have deadline")

	remaining := time.Until(deadline)
	assert.Greater(t, remaining.Seconds(), 0.0, "deadline should be in the future")
	assert.LessOrEqual(t, remaining, fallback, "deadline should not exceed fallback")
}

func TestContextWithTestDeadlineBuffer_WithFallback(t *testing.T) {
	fallback := 200 * time.Millisecond
	buffer := 50 * time.Millisecond

	ctx, cancel := ContextWithTestDeadlineBuffer(t, fallback, buffer)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "context should have deadline")
	assert.Greater(t, time.Until(deadline).Seconds(), 0.0, "deadline should be in the future")
}

func TestFeedContext(t *testing.T) {
	ctx, cancel := FeedContext(t)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "context should have deadline")
	assert.LessOrEqual(t, time.Until(deadline), DefaultFeedTimeout)
}

func TestShortContext(t *testing.T) {
	ctx, cancel := ShortContext(t)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "context should have deadline")
	assert.Greater(t, time.Until(deadline).Seconds(), 0.0, "deadline should be in the future")
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := ContextWithTestDeadline(t, time.Minute)

	select {
	case <-ctx.Done():
		t.Fatal("context should not be done before cancel")
	default:
	}

	cancel()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("context should be done after cancel")
	}
}
