package activity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - Token Bucket implementation
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained request rate.
	RequestsPerSecond float64

	// BurstSize is the number of requests allowed back to back.
	BurstSize int

	// WaitTimeout bounds how long Allow blocks for a token.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns defaults sized for one API process.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		WaitTimeout:       2 * time.Second,
	}
}

// RateLimiter is a token bucket shared by all requests of a Client.
type RateLimiter struct {
	mu sync.Mutex

	maxTokens   float64
	refillRate  float64
	tokens      float64
	lastRefill  time.Time
	waitTimeout time.Duration

	// blockedUntil is set when the server answers 429.
	blockedUntil time.Time

	now func() time.Time
}

// NewRateLimiter creates a limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.BurstSize < 1 {
		config.BurstSize = 1
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 1
	}
	return &RateLimiter{
		maxTokens:   float64(config.BurstSize),
		refillRate:  config.RequestsPerSecond,
		tokens:      float64(config.BurstSize),
		lastRefill:  time.Now(),
		waitTimeout: config.WaitTimeout,
		now:         time.Now,
	}
}

// RateLimitError is returned when no token could be obtained in time, or
// when the remote side answered 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Allow blocks until a token is available, ctx is done or the wait would
// exceed WaitTimeout.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	deadline := rl.now().Add(rl.waitTimeout)
	for {
		wait, ok := rl.tryAcquire()
		if ok {
			return nil
		}
		if rl.now().Add(wait).After(deadline) {
			return &RateLimitError{RetryAfter: wait}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire takes a token, or reports how long until one is available.
func (rl *RateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.blockedUntil) {
		return rl.blockedUntil.Sub(now), false
	}

	rl.refill(now)
	if rl.tokens < 1 {
		return time.Duration((1 - rl.tokens) / rl.refillRate * float64(time.Second)), false
	}
	rl.tokens--
	return 0, true
}

// refill must be called with the lock held.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// RecordRateLimitHit empties the bucket and holds every request until
// retryAfter has passed.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = 0
	rl.lastRefill = now
	if until := now.Add(retryAfter); until.After(rl.blockedUntil) {
		rl.blockedUntil = until
	}
}

// Available returns the current token count.
func (rl *RateLimiter) Available() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(rl.now())
	return rl.tokens
}
