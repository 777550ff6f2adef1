package frag

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"firestige.xyz/lowpan/internal/core"
)

// RateLimiter caps the fragments accepted per link source to prevent a
// single neighbour from flooding the reassembly cache. Each source gets a
// token bucket; buckets of sources idle for a whole window are dropped
// when the window rotates.
type RateLimiter struct {
	mu          sync.Mutex
	current     map[string]*rate.Limiter // link source → bucket
	windowStart time.Time
	windowSize  time.Duration
	limit       rate.Limit
	burst       int

	rejected atomic.Int64
}

// RateLimiterConfig configures per-source fragment rate limiting.
type RateLimiterConfig struct {
	MaxFragsPerSource int           // fragments per source per window (0 = disabled)
	Window            time.Duration // default 10s
}

// NewRateLimiter creates a rate limiter. Returns nil if disabled.
func NewRateLimiter(cfg RateLimiterConfig, now time.Time) *RateLimiter {
	if cfg.MaxFragsPerSource <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &RateLimiter{
		current:     make(map[string]*rate.Limiter),
		windowStart: now,
		windowSize:  cfg.Window,
		limit:       rate.Limit(float64(cfg.MaxFragsPerSource) / cfg.Window.Seconds()),
		burst:       cfg.MaxFragsPerSource,
	}
}

// Allow reports whether a fragment from src may enter the cache at now.
func (l *RateLimiter) Allow(src core.LinkAddress, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.windowStart) >= l.windowSize {
		for k, lim := range l.current {
			// a full bucket means the source was idle
			if lim.TokensAt(now) >= float64(l.burst) {
				delete(l.current, k)
			}
		}
		l.windowStart = now
	}

	key := string(src)
	lim, ok := l.current[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.current[key] = lim
	}
	if !lim.AllowN(now, 1) {
		l.rejected.Add(1)
		return false
	}
	return true
}

// Rejected returns the total number of rejected fragments.
func (l *RateLimiter) Rejected() int64 {
	return l.rejected.Load()
}

// ActiveSources returns the number of tracked link sources.
func (l *RateLimiter) ActiveSources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.current)
}
