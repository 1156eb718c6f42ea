package stream

import (
	"math"
	"math/rand/v2"
	"time"
)

// Default reconnect delays.
const (
	// DefaultReconnectInterval is the fixed delay between reconnection attempts.
	DefaultReconnectInterval = 3 * time.Second

	// DefaultMaxReconnectInterval caps ExponentialBackoff when Max is zero.
	DefaultMaxReconnectInterval = time.Minute
)

// ReconnectPolicy decides how long to wait before reconnection attempt
// number attempt (starting at 1).
type ReconnectPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedDelay waits the same duration before every attempt.
type FixedDelay time.Duration

// Delay implements ReconnectPolicy.
func (d FixedDelay) Delay(int) time.Duration {
	return time.Duration(d)
}

// ExponentialBackoff grows the delay geometrically up to Max, or up to
// DefaultMaxReconnectInterval when Max is zero. Jitter is the fraction of the
// delay that is randomized: 0 disables it and 1 is full jitter. Use it when
// many clients share one remote server.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64

	// rand returns a value in [0, 1). Nil uses math/rand/v2.
	rand func() float64
}

// Delay implements ReconnectPolicy.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultReconnectInterval
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	if attempt < 1 {
		attempt = 1
	}

	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMaxReconnectInterval
	}
	if maxDelay < initial {
		maxDelay = initial
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if math.IsInf(delay, 0) || delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	if jitter > 0 {
		r := rand.Float64
		if b.rand != nil {
			r = b.rand
		}
		delay -= delay * jitter * r()
	}

	return time.Duration(delay)
}
