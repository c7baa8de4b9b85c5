// Package ratelimit provides a token-bucket limiter that sheds or delays
// load rather than queueing it unboundedly. It backs the HTTP rate-limit
// middleware (httpmw.RateLimit); EventBus and MatchingQueue use
// golang.org/x/time/rate directly rather than this package.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the token bucket's refill rate and burst size.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a permissive limiter suitable as a starting point.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 100, Burst: 200}
}

// Limiter wraps golang.org/x/time/rate with a reset hook used by tests and
// by components that must rebuild the bucket after a configuration reload.
type Limiter struct {
	mu     sync.RWMutex
	inner  *rate.Limiter
	config Config
}

// New creates a Limiter, filling in sensible defaults for zero-valued fields.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{inner: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst), config: cfg}
}

// Allow reports whether a single event may proceed now, consuming a token if so.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.Allow()
}

// Wait blocks until a token is available or ctx is done, returning ctx.Err() on cancellation.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	inner := l.inner
	l.mu.RUnlock()
	return inner.Wait(ctx)
}

// WaitUpTo blocks for at most d for a token; returns false if the deadline passed first.
func (l *Limiter) WaitUpTo(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.Wait(ctx) == nil
}

// Reset rebuilds the underlying bucket from the original configuration.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
}
