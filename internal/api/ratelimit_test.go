package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saveenergy/pagevitals/internal/api"
	"github.com/saveenergy/pagevitals/internal/config"
)

func TestRateLimiterGlobalLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GlobalRateLimit = 2
	cfg.RateLimitPerIP = 100
	rl := api.NewRateLimiter(cfg)

	assert.True(t, rl.Allow("192.0.2.1"))
	assert.True(t, rl.Allow("192.0.2.2"))
	assert.False(t, rl.Allow("192.0.2.3"))
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GlobalRateLimit = 100
	cfg.RateLimitPerIP = 1
	rl := api.NewRateLimiter(cfg)

	h := api.RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/performance", nil)
	req.RemoteAddr = "192.0.2.10:5000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	health := httptest.NewRequest(http.MethodGet, "/health", nil)
	health.RemoteAddr = req.RemoteAddr
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, health)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
