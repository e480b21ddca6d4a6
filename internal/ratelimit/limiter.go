// Package ratelimit throttles portal requests per client address.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/giok57/lazoooSplash/internal/clock"
)

// Limiter manages fixed-window token buckets for multiple keys.
type Limiter struct {
	limit    int
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

// NewLimiter allows limit requests per key in each interval.
// A nil clock uses the system time.
func NewLimiter(limit int, interval time.Duration, c clock.Clock) *Limiter {
	return &Limiter{
		limit:    limit,
		interval: interval,
		clock:    clock.Or(c),
		buckets:  make(map[string]*bucket),
	}
}

// Allow takes one token for key.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN takes n tokens for key, or none if fewer remain.
func (l *Limiter) AllowN(key string, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.lastFill) >= l.interval {
		b = &bucket{tokens: l.limit, lastFill: now}
		l.buckets[key] = b
	}

	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// CleanupExpired drops buckets whose window closed more than maxAge ago.
func (l *Limiter) CleanupExpired(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > maxAge {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// RunCleanup calls CleanupExpired every interval until ctx is cancelled.
func (l *Limiter) RunCleanup(ctx context.Context, every, maxAge time.Duration) {
	for clock.Sleep(ctx, every) {
		l.CleanupExpired(maxAge)
	}
}
