package api

import (
	"testing"
	"time"

	"github.com/saveenergy/pagevitals/internal/config"
)

func TestRateLimiterCleanupRemovesStaleEntries(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GlobalRateLimit = 1000
	cfg.RateLimitPerIP = 1000

	rl := NewRateLimiter(cfg)
	rl.SetCleanupPolicy(10*time.Millisecond, 20*time.Millisecond)

	ip := "127.0.0.1"
	if !rl.Allow(ip) {
		t.Fatalf("expected allow on first request")
	}

	rl.ipMu.Lock()
	rl.ipLimits[ip].lastSeen = time.Now().Add(-time.Minute)
	rl.lastCleanup = time.Now().Add(-time.Minute)
	rl.ipMu.Unlock()

	rl.Allow("127.0.0.2")

	rl.ipMu.Lock()
	_, exists := rl.ipLimits[ip]
	rl.ipMu.Unlock()
	if exists {
		t.Fatalf("expected stale ip limit to be cleaned up")
	}
}

func TestRateLimiterPerIPRefill(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GlobalRateLimit = 1000
	cfg.RateLimitPerIP = 60

	now := time.Now()
	rl := NewRateLimiter(cfg)
	rl.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		if !rl.Allow("203.0.113.1") {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if rl.Allow("203.0.113.1") {
		t.Fatalf("expected deny after burst")
	}
	if !rl.Allow("203.0.113.2") {
		t.Fatalf("expected other ip to be allowed")
	}

	now = now.Add(2 * time.Second)
	if !rl.Allow("203.0.113.1") {
		t.Fatalf("expected allow after refill")
	}
}
