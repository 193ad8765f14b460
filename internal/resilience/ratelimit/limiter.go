// Package ratelimit throttles outbound calls to embedding and classification
// providers with a token bucket.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter implements token bucket rate limiting for provider requests.
// A nil *Limiter or one created with a non-positive rate never blocks.
type Limiter struct {
	rate    rate.Limit
	burst   int
	limiter *rate.Limiter
}

// New creates a Limiter with the specified rate and burst capacity.
//
// Parameters:
//   - requestsPerSecond: Maximum sustained request rate (e.g., 2.0 for 2 requests per second).
//     Zero or negative disables limiting.
//   - burst: Maximum number of requests that can be made in a burst (minimum 1)
//
// Example:
//
//	limiter := ratelimit.New(5, 10) // 5 req/s with burst of 10
func New(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		return &Limiter{rate: rate.Inf}
	}
	if burst < 1 {
		burst = 1
	}
	r := rate.Limit(requestsPerSecond)
	return &Limiter{
		rate:    r,
		burst:   burst,
		limiter: rate.NewLimiter(r, burst),
	}
}

// Wait blocks until a token is available or the context is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return ctx.Err()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Limit returns the configured rate in requests per second.
func (l *Limiter) Limit() float64 {
	if l == nil {
		return float64(rate.Inf)
	}
	return float64(l.rate)
}

// Burst returns the configured burst size.
func (l *Limiter) Burst() int {
	if l == nil {
		return 0
	}
	return l.burst
}
