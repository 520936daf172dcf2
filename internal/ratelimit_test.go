package internal

import (
	"testing"
	"time"
)

func TestRateLimiterBoundary(t *testing.T) {
	limiter := NewRateLimiter(3, time.Hour)
	for i := 0; i < 3; i++ {
		if !limiter.Allow("key") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("key") {
		t.Fatalf("request over the limit should be denied")
	}
	// other keys are unaffected
	if !limiter.Allow("other") {
		t.Fatalf("fresh key should be allowed")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	limiter := NewRateLimiter(2, 50*time.Millisecond)
	if !limiter.Allow("key") || !limiter.Allow("key") {
		t.Fatalf("first window should admit the full limit")
	}
	if limiter.Allow("key") {
		t.Fatalf("third request inside the window should be denied")
	}
	time.Sleep(70 * time.Millisecond)
	// the elapsed window resets the counter and admits a fresh burst
	if !limiter.Allow("key") || !limiter.Allow("key") {
		t.Fatalf("new window should admit the full limit again")
	}
	if limiter.Allow("key") {
		t.Fatalf("limit should apply within the new window too")
	}
}

func TestRateLimiterEvict(t *testing.T) {
	limiter := NewRateLimiter(5, 10*time.Millisecond)
	limiter.Allow("stale")
	time.Sleep(30 * time.Millisecond)
	limiter.Allow("fresh")
	if evicted := limiter.Evict(); evicted != 1 {
		t.Fatalf("expected 1 evicted bucket, got %d", evicted)
	}
	limiter.mu.Lock()
	_, staleKept := limiter.buckets["stale"]
	_, freshKept := limiter.buckets["fresh"]
	limiter.mu.Unlock()
	if staleKept || !freshKept {
		t.Fatalf("eviction kept the wrong buckets: stale=%v fresh=%v", staleKept, freshKept)
	}
}
