package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()

	assert.True(t, rl.Allow("192.168.1.100"))
	assert.True(t, rl.Allow("192.168.1.100"))
	assert.False(t, rl.Allow("192.168.1.100"), "burst exceeded")
	assert.True(t, rl.Allow("192.168.1.101"), "other clients keep their own bucket")
}

func TestRateLimiter_Middleware(t *testing.T) {
	// given
	rl := NewRateLimiter(0.001, 1)
	defer rl.Stop()
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// when
	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	// then
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestRateLimiter_ForgetIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()
	rl.Allow("10.0.0.1")
	rl.limiters["10.0.0.1"].lastSeen = rl.limiters["10.0.0.1"].lastSeen.Add(-3 * limiterCleanupInterval)

	rl.forgetIdle()

	assert.Empty(t, rl.limiters)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", clientIP(req))

	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", clientIP(req))
}
