// internal/utils/rate_limiter.go
package utils

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter wraps the golang.org/x/time/rate limiter
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter with the given rate (requests per second).
// A non-positive rate yields an unlimited limiter.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Wait blocks until the rate limiter allows the next request
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Allow reports whether an event may happen now
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// HostLimiters hands out one limiter per key (site id), created lazily.
type HostLimiters struct {
	mu       sync.Mutex
	rps      float64
	burst    int
	limiters map[string]*RateLimiter
}

// NewHostLimiters creates a keyed limiter set sharing one rate
func NewHostLimiters(requestsPerSecond float64, burst int) *HostLimiters {
	return &HostLimiters{
		rps:      requestsPerSecond,
		burst:    burst,
		limiters: make(map[string]*RateLimiter),
	}
}

// SetRate overrides the rate for key. A non-positive rate keeps the default.
func (h *HostLimiters) SetRate(key string, requestsPerSecond float64) {
	if requestsPerSecond <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limiters[key] = NewRateLimiter(requestsPerSecond, h.burst)
}

// Wait blocks on the limiter for key
func (h *HostLimiters) Wait(ctx context.Context, key string) error {
	h.mu.Lock()
	rl, ok := h.limiters[key]
	if !ok {
		rl = NewRateLimiter(h.rps, h.burst)
		h.limiters[key] = rl
	}
	h.mu.Unlock()
	return rl.Wait(ctx)
}
