package hub

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig bounds how often one client IP may call /notify.
type RateLimitConfig struct {
	MaxRequests int           // requests allowed per window (default: 60)
	Window      time.Duration // sliding window (default: 1 minute)
	BlockAfter  int           // failed authentications before blocking (default: 10)
	BlockTime   time.Duration // first block duration, doubled on every block (default: 5 minutes)
}

// DefaultRateLimitConfig returns the default rate limiting configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 60,
		Window:      time.Minute,
		BlockAfter:  10,
		BlockTime:   5 * time.Minute,
	}
}

// maxBlockTime caps the doubling block duration.
const maxBlockTime = 24 * time.Hour

// rateLimiter is a per-IP sliding window limiter that also blocks IPs which
// keep failing authentication.
type rateLimiter struct {
	mu     sync.Mutex
	config RateLimitConfig
	now    func() time.Time

	requests map[string][]time.Time
	failures map[string]int
	blocked  map[string]time.Time
}

func newRateLimiter(config RateLimitConfig) *rateLimiter {
	def := DefaultRateLimitConfig()
	if config.MaxRequests <= 0 {
		config.MaxRequests = def.MaxRequests
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.BlockAfter <= 0 {
		config.BlockAfter = def.BlockAfter
	}
	if config.BlockTime <= 0 {
		config.BlockTime = def.BlockTime
	}

	return &rateLimiter{
		config:   config,
		now:      time.Now,
		requests: make(map[string][]time.Time),
		failures: make(map[string]int),
		blocked:  make(map[string]time.Time),
	}
}

// limitResult is the outcome of a rate limit check.
type limitResult struct {
	Allowed    bool
	Blocked    bool
	RetryAfter time.Duration
	Reason     string
}

// allow records a request from ip and reports whether it may proceed.
func (rl *rateLimiter) allow(ip string) limitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if res, blocked := rl.blockedLocked(ip, now); blocked {
		return res
	}

	recent := rl.pruneLocked(ip, now)
	if len(recent) >= rl.config.MaxRequests {
		retryAfter := recent[0].Add(rl.config.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return limitResult{RetryAfter: retryAfter, Reason: "rate limit exceeded"}
	}

	rl.requests[ip] = append(recent, now)
	return limitResult{Allowed: true}
}

// check reports whether ip is currently blocked, without counting a request.
func (rl *rateLimiter) check(ip string) limitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if res, blocked := rl.blockedLocked(ip, rl.now()); blocked {
		return res
	}
	return limitResult{Allowed: true}
}

func (rl *rateLimiter) blockedLocked(ip string, now time.Time) (limitResult, bool) {
	until, ok := rl.blocked[ip]
	if !ok {
		return limitResult{}, false
	}
	if !now.Before(until) {
		delete(rl.blocked, ip)
		return limitResult{}, false
	}
	return limitResult{
		Blocked:    true,
		RetryAfter: until.Sub(now),
		Reason:     "too many failed authentications",
	}, true
}

func (rl *rateLimiter) pruneLocked(ip string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.config.Window)
	times := rl.requests[ip]
	i := 0
	for i < len(times) && !times[i].After(windowStart) {
		i++
	}
	recent := times[i:]
	if len(recent) == 0 {
		delete(rl.requests, ip)
		return nil
	}
	rl.requests[ip] = recent
	return recent
}

// recordSuccess clears the failure count of ip.
func (rl *rateLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.failures, ip)
	delete(rl.blocked, ip)
}

// recordFailure counts a failed authentication. Every BlockAfter failures
// block ip for BlockTime, doubling with each block. It returns the block
// duration, or zero when ip was not blocked.
func (rl *rateLimiter) recordFailure(ip string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.failures[ip]++
	n := rl.failures[ip]
	if n < rl.config.BlockAfter {
		return 0
	}

	blocks := (n - rl.config.BlockAfter) / rl.config.BlockAfter
	d := rl.config.BlockTime
	for i := 0; i < blocks && d < maxBlockTime; i++ {
		d *= 2
	}
	if d > maxBlockTime {
		d = maxBlockTime
	}

	rl.blocked[ip] = rl.now().Add(d)
	return d
}

// cleanup drops expired state. The hub calls it periodically.
func (rl *rateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip := range rl.requests {
		rl.pruneLocked(ip, now)
	}
	for ip, until := range rl.blocked {
		if !now.Before(until) {
			delete(rl.blocked, ip)
		}
	}
	for ip := range rl.failures {
		_, blocked := rl.blocked[ip]
		_, active := rl.requests[ip]
		if !blocked && !active {
			delete(rl.failures, ip)
		}
	}
}

// clientIP returns the first X-Forwarded-For entry, X-Real-IP, or the host
// part of the remote address, in that order.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
