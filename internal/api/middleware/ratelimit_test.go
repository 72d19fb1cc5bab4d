package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// failingStore simulates a down rate-limit backend.
type failingStore struct{ healthy bool }

func (f *failingStore) Increment(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, errors.New("store down")
}

func (f *failingStore) IsHealthy() bool { return f.healthy }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitEnforced(t *testing.T) {
	store := NewMemoryRateLimitStore()
	limit := Limit{Requests: 2, Window: time.Minute}
	mw := RateLimit(store, limit, DefaultRateLimitConfig(), slog.Default())
	handler := mw(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitKeyedByClientIP(t *testing.T) {
	store := NewMemoryRateLimitStore()
	limit := Limit{Requests: 1, Window: time.Minute}
	mw := RateLimit(store, limit, DefaultRateLimitConfig(), slog.Default())
	handler := mw(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A different client is not affected by the first client's quota.
	second := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", nil)
	second.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitGracefulDegradation(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.GracefulDegradation = true
	mw := RateLimit(&failingStore{healthy: false}, Limit{Requests: 1, Window: time.Minute}, cfg, slog.Default())
	handler := mw(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scrape/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "unhealthy store lets traffic through when degradation is allowed")
}

func TestRateLimitStrictModeRejectsOnStoreFailure(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.GracefulDegradation = false
	mw := RateLimit(&failingStore{healthy: false}, Limit{Requests: 1, Window: time.Minute}, cfg, slog.Default())
	handler := mw(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scrape/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMemoryStoreWindowExpiry(t *testing.T) {
	store := NewMemoryRateLimitStore()
	ctx := context.Background()

	n, err := store.Increment(ctx, "k", 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, _ = store.Increment(ctx, "k", 10*time.Millisecond)
	assert.Equal(t, int64(2), n)

	time.Sleep(20 * time.Millisecond)

	n, _ = store.Increment(ctx, "k", 10*time.Millisecond)
	assert.Equal(t, int64(1), n, "expired window resets the counter")
}
