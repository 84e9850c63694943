package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowConsumesBurstThenDenies(t *testing.T) {
	rl := NewRateLimiter(0.001, 3) // effectively no refill within the test

	require.True(t, rl.Allow("1.2.3.4"))
	require.True(t, rl.Allow("1.2.3.4"))
	require.True(t, rl.Allow("1.2.3.4"))
	require.False(t, rl.Allow("1.2.3.4"))

	// Other IPs have their own bucket.
	require.True(t, rl.Allow("5.6.7.8"))
}

func TestAllowRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(50, 1) // one token every 20ms

	require.True(t, rl.Allow("9.9.9.9"))
	require.False(t, rl.Allow("9.9.9.9"))

	time.Sleep(50 * time.Millisecond)
	require.True(t, rl.Allow("9.9.9.9"))
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	handler := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/api/execute", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	handler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMiddlewarePrefersForwardedFor(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	handler := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Same socket address, different forwarded clients: separate buckets.
	for _, client := range []string{"a", "b"} {
		req := httptest.NewRequest("POST", "/api/execute", nil)
		req.RemoteAddr = "127.0.0.1:1"
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		handler(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
