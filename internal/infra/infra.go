// Package infra provides shared infrastructure for the ingestion pipeline:
// rate limiting and retry backoff.
package infra

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token-bucket rate limiter shared by all source adapters.
// It caps total outbound feed calls per refill interval.
type Limiter struct {
	mu         sync.Mutex
	tokens     int
	burst      int
	interval   time.Duration
	lastRefill time.Time
}

// NewLimiter creates a limiter that allows burst calls per interval.
func NewLimiter(burst int, interval time.Duration) *Limiter {
	return &Limiter{
		tokens:     burst,
		burst:      burst,
		interval:   interval,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens > 0 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
			// Check again after a short sleep.
		}
	}
}

// refill adds tokens for elapsed intervals. Must be called with mu held.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed < l.interval {
		return
	}
	periods := int(elapsed / l.interval)
	l.tokens += periods * l.burst
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(periods) * l.interval)
}

// Backoff returns the delay before retry attempt n (0-based): the base
// delay doubling each attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Sleep waits for d or until the context is cancelled, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
