package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
)

// RateLimiter admits or rejects one call for an identifier. A rejection is a *domain.RateLimitedError;
// any other error means the limiter itself failed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}

// RateLimitConfig is the fixed-window quota shared by the limiter implementations.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// DefaultRateLimitConfig allows 10 calls per identifier per minute.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Limit: 10, Window: time.Minute}
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	defaults := DefaultRateLimitConfig()
	if c.Limit <= 0 {
		c.Limit = defaults.Limit
	}
	if c.Window <= 0 {
		c.Window = defaults.Window
	}
	return c
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is a process-local fixed-window limiter keyed by identifier.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	cfg      RateLimitConfig
	counters map[string]*windowCounter
	now      func() time.Time
}

// NewMemoryRateLimiter builds a limiter; now may be nil to use the wall clock.
func NewMemoryRateLimiter(cfg RateLimitConfig, now func() time.Time) *MemoryRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryRateLimiter{
		cfg:      cfg.withDefaults(),
		counters: make(map[string]*windowCounter),
		now:      now,
	}
}

func (l *MemoryRateLimiter) Allow(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &windowCounter{resetAt: now.Add(l.cfg.Window)}
		l.counters[key] = c
	}
	if c.count >= l.cfg.Limit {
		return &domain.RateLimitedError{Key: key, Limit: l.cfg.Limit, RetryAfter: c.resetAt.Sub(now)}
	}
	c.count++
	return nil
}

// Cleanup drops counters whose window has elapsed.
func (l *MemoryRateLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for key, c := range l.counters {
		if !now.Before(c.resetAt) {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (l *MemoryRateLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
