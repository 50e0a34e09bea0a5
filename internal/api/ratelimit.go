package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/saveenergy/pagevitals/internal/config"
)

// RateLimiter applies a global and a per-client token bucket. Limits are
// configured in requests per minute with a burst of one minute's worth.
type RateLimiter struct {
	perIP            int
	global           *rate.Limiter
	ipLimits         map[string]*ipLimit
	ipMu             sync.Mutex
	lastCleanup      time.Time
	cleanupInterval  time.Duration
	ipLimitTTL       time.Duration
	clientIPResolver *ClientIPResolver
	now              func() time.Time
}

type ipLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	return &RateLimiter{
		perIP:            cfg.RateLimitPerIP,
		global:           perMinute(cfg.GlobalRateLimit),
		ipLimits:         make(map[string]*ipLimit),
		lastCleanup:      time.Now(),
		cleanupInterval:  5 * time.Minute,
		ipLimitTTL:       10 * time.Minute,
		clientIPResolver: NewClientIPResolver(cfg),
		now:              time.Now,
	}
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
}

func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()
	limiter := rl.ipLimiter(ip, now)
	if !limiter.AllowN(now, 1) {
		return false
	}
	return rl.global.AllowN(now, 1)
}

func (rl *RateLimiter) ClientIP(r *http.Request) string {
	if rl.clientIPResolver != nil {
		return rl.clientIPResolver.FromRequest(r)
	}
	return ipString(parseRemoteIP(r.RemoteAddr))
}

// SetCleanupPolicy overrides cleanup interval and TTL (mainly for tests).
func (rl *RateLimiter) SetCleanupPolicy(cleanupInterval, ipLimitTTL time.Duration) {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()
	rl.cleanupInterval = cleanupInterval
	rl.ipLimitTTL = ipLimitTTL
	rl.lastCleanup = rl.now()
}

func (rl *RateLimiter) ipLimiter(ip string, now time.Time) *rate.Limiter {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()

	if rl.cleanupInterval > 0 && rl.ipLimitTTL > 0 && now.Sub(rl.lastCleanup) >= rl.cleanupInterval {
		for key, limit := range rl.ipLimits {
			if now.Sub(limit.lastSeen) >= rl.ipLimitTTL {
				delete(rl.ipLimits, key)
			}
		}
		rl.lastCleanup = now
	}

	limit, ok := rl.ipLimits[ip]
	if !ok {
		limit = &ipLimit{limiter: perMinute(rl.perIP)}
		rl.ipLimits[ip] = limit
	}
	limit.lastSeen = now
	return limit.limiter
}

// skipRateLimitPaths are endpoints that should not be rate limited.
var skipRateLimitPaths = map[string]bool{
	"/health":         true,
	"/api/v1/version": true,
}

func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return applyRateLimit(limiter, next.ServeHTTP)
	}
}

// applyRateLimit wraps a handler with rate limit checking.
func applyRateLimit(limiter *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if skipRateLimitPaths[r.URL.Path] {
			next(w, r)
			return
		}
		ip := limiter.ClientIP(r)
		if !limiter.Allow(ip) {
			w.Header().Set("Retry-After", "60")
			respondJSON(w, map[string]string{"error": "rate limit exceeded"}, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
