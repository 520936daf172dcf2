package internal

import (
	"sync"
	"time"
)

// bucket is one counting window: a count and the instant the window opened.
type bucket struct {
	count       int
	windowStart time.Time
}

// RateLimiter throttles repeated actions per key using a window-reset counter:
// once the window elapses the next request starts a fresh window, so a burst of
// up to limit requests can land right after a boundary. Coarse, but this is
// abuse mitigation rather than quota accounting.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
	}
}

// Allow records one request against key and reports whether it is within the
// limit for the current window.
func (r *RateLimiter) Allow(key string) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		r.buckets[key] = &bucket{count: 1, windowStart: now}
		return true
	}
	if now.Sub(b.windowStart) > r.window {
		b.count = 1
		b.windowStart = now
		return true
	}
	b.count++
	return b.count <= r.limit
}

// Evict drops buckets whose window opened more than two windows ago. Called
// from the periodic sweep so idle keys do not accumulate forever.
func (r *RateLimiter) Evict() int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for key, b := range r.buckets {
		if now.Sub(b.windowStart) > 2*r.window {
			delete(r.buckets, key)
			evicted++
		}
	}
	return evicted
}
