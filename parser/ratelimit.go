package parser

import (
	"log"
	"sync"
	"time"
)

// RateLimiter paces outbound network actions. It does not limit concurrency:
// any number of workers may share one limiter, and Hit serializes them so the
// cadence between successive calls never drops below the configured interval.
//
// Example usage:
//
//	limiter := parser.NewRateLimiter(40) // 40 requests per minute
//	for _, entry := range entries {
//	    limiter.Hit("image")
//	    // ... perform rate-limited operation ...
//	}
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	lastHit  time.Time
}

// NewRateLimiter creates a limiter from a requests-per-minute budget. The
// minimum interval between hits is max(1ms, 60000/rpm ms).
func NewRateLimiter(rpm int) *RateLimiter {
	interval := time.Millisecond
	if rpm > 0 {
		if d := time.Minute / time.Duration(rpm); d > interval {
			interval = d
		}
	}
	return &RateLimiter{interval: interval}
}

// NewRateLimiterInterval creates a limiter with an explicit minimum interval.
func NewRateLimiterInterval(interval time.Duration) *RateLimiter {
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return &RateLimiter{interval: interval}
}

// Hit blocks the caller until at least the configured interval has elapsed
// since the previous Hit returned, then records the new timestamp. It never
// fails, only delays. The label is used for trace logging.
func (rl *RateLimiter) Hit(label string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.lastHit.IsZero() {
		if wait := rl.interval - time.Since(rl.lastHit); wait > 0 {
			log.Printf("[RateLimiter] %s: waiting %v", label, wait.Round(time.Millisecond))
			time.Sleep(wait)
		}
	}
	rl.lastHit = time.Now()
}

// Interval returns the configured minimum interval between hits.
func (rl *RateLimiter) Interval() time.Duration {
	return rl.interval
}
