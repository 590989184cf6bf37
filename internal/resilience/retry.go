package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/transfa/peer-network-service/internal/domain"
)

// RetryConfig bounds the constant-delay retry of transient failures.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryConfig makes up to 3 attempts 500ms apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Delay: 500 * time.Millisecond}
}

func (c RetryConfig) withDefaults() RetryConfig {
	defaults := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.Delay < 0 {
		c.Delay = defaults.Delay
	}
	return c
}

// Retry runs op until it succeeds, returns a non-retryable error, or exhausts MaxAttempts.
// Only *domain.ExecutionError is retried. The attempt count is returned alongside the last error.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context, attempt int) error) (int, error) {
	cfg = cfg.withDefaults()
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Delay), uint64(cfg.MaxAttempts-1)),
		ctx,
	)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx, attempts)
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	return attempts, err
}
