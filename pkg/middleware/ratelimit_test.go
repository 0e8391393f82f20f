package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/openlot/pkg/observability"
)

func setupRateLimit(t *testing.T) (*RateLimit, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewRateLimit(client, logger), mr
}

func TestRateLimitAllowsUnderLimit(t *testing.T) {
	rl, _ := setupRateLimit(t)
	handler := rl.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	req.RemoteAddr = "203.0.113.7:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitBlocksOverLimit(t *testing.T) {
	rl, _ := setupRateLimit(t)
	handler := rl.Handler(okHandler())

	var last *httptest.ResponseRecorder
	for i := 0; i < 61; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
		req.RemoteAddr = "203.0.113.8:1234"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestRateLimitKeysByClientIP(t *testing.T) {
	rl, _ := setupRateLimit(t)
	handler := rl.Handler(okHandler())

	for i := 0; i < 61; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	// A different client still has full quota
	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	req.RemoteAddr = "203.0.113.10:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitFailsOpenWhenRedisDown(t *testing.T) {
	rl, mr := setupRateLimit(t)
	handler := rl.Handler(okHandler())
	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	req.RemoteAddr = "203.0.113.11:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
