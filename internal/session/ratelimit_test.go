package session

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptLimiterWindow(t *testing.T) {
	t.Parallel()
	limiter := NewAttemptLimiter(3, time.Minute)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.allow("1.2.3.4", now)
		assert.True(t, allowed)
	}

	allowed, retryAfter := limiter.allow("1.2.3.4", now)
	assert.False(t, allowed)
	assert.GreaterOrEqual(t, retryAfter, time.Second)

	// Other clients are unaffected.
	allowed, _ = limiter.allow("5.6.7.8", now)
	assert.True(t, allowed)

	// Once the oldest hit leaves the window the client is allowed again.
	allowed, _ = limiter.allow("1.2.3.4", now.Add(time.Minute+time.Second))
	assert.True(t, allowed)
}

func TestAttemptLimiterMiddleware(t *testing.T) {
	t.Parallel()
	limiter := NewAttemptLimiter(2, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("9.9.9.9").Code)
	assert.Equal(t, http.StatusOK, send("9.9.9.9").Code)

	rec := send("9.9.9.9")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)

	// A different forwarded IP gets its own window.
	assert.Equal(t, http.StatusOK, send("8.8.8.8").Code)
}

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}
