// Package ratelimit provides the in-process rate limiters used by the
// chain client, the CLOB client, and the alert channels.
//
// Two shapes are needed:
//   - TokenBucket: smooth continuous-refill limiting for RPC/REST calls
//     (e.g. 25 req/s against the Polygon endpoints).
//   - SlidingWindow: hard per-minute caps for the notification APIs
//     (Discord allows 30/min per webhook, Telegram 20/min per chat).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// SlidingWindow enforces a hard cap on events per rolling window.
// Wait() blocks until the oldest event ages out of the window.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	stamps []time.Time
}

// NewSlidingWindow creates a limiter allowing at most limit events per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		limit:  limit,
		stamps: make([]time.Time, 0, limit),
	}
}

// evictLocked removes stamps older than the window. Must hold mu.
func (sw *SlidingWindow) evictLocked(now time.Time) {
	cutoff := now.Add(-sw.window)
	keep := 0
	for keep < len(sw.stamps) && !sw.stamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		sw.stamps = sw.stamps[keep:]
	}
}

// Wait blocks until the caller may proceed, then records the event.
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		sw.mu.Lock()
		now := time.Now()
		sw.evictLocked(now)

		if len(sw.stamps) < sw.limit {
			sw.stamps = append(sw.stamps, now)
			sw.mu.Unlock()
			return nil
		}

		// Sleep until the oldest stamp leaves the window.
		wait := sw.stamps[0].Add(sw.window).Sub(now)
		sw.mu.Unlock()

		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Count returns the number of events currently inside the window.
func (sw *SlidingWindow) Count() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.evictLocked(time.Now())
	return len(sw.stamps)
}
