// Package server throttles inbound events with a per-connection token
// bucket so a single chatty connection cannot monopolize the registry.
package server

import (
	"sync"
	"time"
)

// rateLimiter is a continuously refilling token bucket. The bucket starts
// full; each allowed event spends one token, and tokens flow back at
// capacity-per-interval, so short bursts pass while a sustained flood is
// capped at the configured rate.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	perSecond  float64
	lastRefill time.Time
}

// newRateLimiter builds a bucket holding capacity tokens that refills over
// interval. Non-positive arguments are clamped to a usable minimum.
func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	perSecond := float64(capacity) / interval.Seconds()
	if perSecond <= 0 {
		perSecond = float64(capacity)
	}

	return &rateLimiter{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		perSecond:  perSecond,
		lastRefill: time.Now(),
	}
}

// allow reports whether one more event fits the budget, spending a token
// when it does.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	if elapsed > 0 {
		rl.tokens += elapsed * rl.perSecond
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}

	if rl.tokens < 1 {
		return false
	}

	rl.tokens--
	return true
}
