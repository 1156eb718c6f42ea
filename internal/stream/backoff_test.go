package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestFixedDelay(t *testing.T) {
	t.Parallel()

	policy := FixedDelay(DefaultReconnectInterval)
	for attempt := 1; attempt <= 10; attempt++ {
		assert.Equal(t, 3*time.Second, policy.Delay(attempt))
	}
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policy   ExponentialBackoff
		attempt  int
		expected time.Duration
	}{
		{"first attempt uses initial", ExponentialBackoff{Initial: time.Second, Max: time.Minute}, 1, time.Second},
		{"doubles by default", ExponentialBackoff{Initial: time.Second, Max: time.Minute}, 3, 4 * time.Second},
		{"custom multiplier", ExponentialBackoff{Initial: time.Second, Multiplier: 3, Max: time.Minute}, 3, 9 * time.Second},
		{"capped at max", ExponentialBackoff{Initial: time.Second, Max: 10 * time.Second}, 10, 10 * time.Second},
		{"zero initial uses default interval", ExponentialBackoff{}, 1, DefaultReconnectInterval},
		{"non-positive attempt treated as first", ExponentialBackoff{Initial: time.Second}, 0, time.Second},
		{"zero max uses default cap", ExponentialBackoff{Initial: time.Second}, 5000, DefaultMaxReconnectInterval},
		{"max below initial uses initial", ExponentialBackoff{Initial: 5 * time.Second, Max: time.Second}, 4, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.policy.Delay(tt.attempt))
		})
	}
}

func TestExponentialBackoffJitter(t *testing.T) {
	t.Parallel()

	b := ExponentialBackoff{Initial: 4 * time.Second, Max: time.Minute, Jitter: 0.5, rand: func() float64 { return 0.5 }}
	assert.Equal(t, 3*time.Second, b.Delay(1))

	b.rand = func() float64 { return 0 }
	assert.Equal(t, 4*time.Second, b.Delay(1))

	b.Jitter = 5
	b.rand = func() float64 { return 0.25 }
	assert.Equal(t, 3*time.Second, b.Delay(1), "jitter is clamped to 1")
}

func TestExponentialBackoffProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := time.Duration(rapid.Int64Range(1, int64(10*time.Second)).Draw(rt, "initial"))
		maxDelay := time.Duration(rapid.Int64Range(int64(initial), int64(time.Hour)).Draw(rt, "max"))
		jitter := rapid.Float64Range(0, 1).Draw(rt, "jitter")
		attempt := rapid.IntRange(1, 200).Draw(rt, "attempt")

		plain := ExponentialBackoff{Initial: initial, Max: maxDelay}
		jittered := ExponentialBackoff{Initial: initial, Max: maxDelay, Jitter: jitter}

		d := plain.Delay(attempt)
		assert.LessOrEqual(rt, d, maxDelay, "delay must not exceed max")
		if attempt > 1 {
			assert.GreaterOrEqual(rt, d, plain.Delay(attempt-1), "delay must be monotonic")
		}

		j := jittered.Delay(attempt)
		assert.LessOrEqual(rt, j, d, "jitter only shortens the delay")
		assert.GreaterOrEqual(rt, j, time.Duration(float64(d)*(1-jitter))-1, "jitter is bounded")
	})
}
