package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Limit defines rate limit parameters.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	Scrape  Limit // scrape triggers are expensive; keep this tight
	Upload  Limit
	Default Limit
	// Continue without rate limiting if the store is unavailable.
	GracefulDegradation bool
}

// DefaultRateLimitConfig returns default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Scrape:              Limit{Requests: 5, Window: 1 * time.Hour},
		Upload:              Limit{Requests: 30, Window: 1 * time.Minute},
		Default:             Limit{Requests: 100, Window: 1 * time.Minute},
		GracefulDegradation: true,
	}
}

// RateLimitStore defines the interface for rate limit storage.
type RateLimitStore interface {
	// Increment increments the counter for a key and returns the new count.
	// If the key doesn't exist, it creates it with expiration.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// IsHealthy returns whether the store is operational.
	IsHealthy() bool
}

// MemoryRateLimitStore implements RateLimitStore in memory, suitable for
// single-instance deployments.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryRateLimitStore creates a new in-memory rate limit store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	store := &MemoryRateLimitStore{
		entries: make(map[string]*rateLimitEntry),
	}
	go store.cleanup()
	return store
}

// Increment increments the counter for a key.
func (s *MemoryRateLimitStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		s.entries[key] = &rateLimitEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}
	entry.count++
	return entry.count, nil
}

// IsHealthy always reports true for the in-memory store.
func (s *MemoryRateLimitStore) IsHealthy() bool {
	return true
}

func (s *MemoryRateLimitStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		s.mu.Lock()
		for key, entry := range s.entries {
			if now.After(entry.expiresAt) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

// RateLimit returns a middleware enforcing the given limit keyed by client IP
// and route pattern.
func RateLimit(store RateLimitStore, limit Limit, cfg RateLimitConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.IsHealthy() {
				if cfg.GracefulDegradation {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limit store unavailable", http.StatusServiceUnavailable)
				return
			}

			key := fmt.Sprintf("ratelimit:%s:%s", clientIP(r), r.URL.Path)
			count, err := store.Increment(r.Context(), key, limit.Window)
			if err != nil {
				if cfg.GracefulDegradation {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limit check failed", http.StatusServiceUnavailable)
				return
			}

			remaining := int64(limit.Requests) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

			if count > int64(limit.Requests) {
				logger.Warn("rate limit exceeded", "key", key, "count", count)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
