// Package ratelimit paces probe dispatch.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter caps the aggregate request rate across all workers.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter. A non-positive rate means unlimited.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Pacer delays each request of one worker by a fixed interval. N workers with
// the same delay reach an aggregate of N/delay requests per second.
type Pacer struct {
	delay time.Duration
}

// NewPacer creates a pacer. A non-positive delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{delay: delay}
}

// Wait sleeps for the delay, returning early with ctx's error when ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
