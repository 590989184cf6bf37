package resilience

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/peer-network-service/internal/domain"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter implements the fixed-window limiter in Redis so every instance shares the quota.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	scope  string
	cfg    RateLimitConfig
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix, scope string, cfg RateLimitConfig) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "transfa:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		scope:  strings.TrimSpace(scope),
		cfg:    cfg.withDefaults(),
	}
}

func (r *RedisRateLimiter) key(subject string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, r.scope, subject)
}

func (r *RedisRateLimiter) Allow(ctx context.Context, subject string) error {
	subject = strings.TrimSpace(subject)
	if r == nil || r.client == nil || subject == "" {
		return nil
	}

	windowMs := r.cfg.Window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	rawResult, err := fixedWindowScript.Run(ctx, r.client, []string{r.key(subject)}, windowMs).Result()
	if err != nil {
		return err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	if currentCount > int64(r.cfg.Limit) {
		return &domain.RateLimitedError{
			Key:        subject,
			Limit:      r.cfg.Limit,
			RetryAfter: time.Duration(ttlMs) * time.Millisecond,
		}
	}
	return nil
}
