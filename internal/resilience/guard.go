package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
)

// GuardConfig configures the retry loop and per-attempt timeout of a Guard.
type GuardConfig struct {
	Retry          RetryConfig
	AttemptTimeout time.Duration
}

// DefaultGuardConfig returns the production defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{Retry: DefaultRetryConfig(), AttemptTimeout: 10 * time.Second}
}

// Guard composes the rate limiter, the circuit breaker and the retry policy around one call.
type Guard struct {
	limiter RateLimiter
	breaker *Breaker
	cfg     GuardConfig
	logger  *slog.Logger
}

// NewGuard builds a Guard. limiter may be nil to disable rate limiting.
func NewGuard(limiter RateLimiter, breaker *Breaker, cfg GuardConfig, logger *slog.Logger) *Guard {
	if breaker == nil {
		breaker = NewBreaker(DefaultBreakerConfig())
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultGuardConfig().AttemptTimeout
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{limiter: limiter, breaker: breaker, cfg: cfg, logger: logger}
}

// Breaker exposes the underlying breaker for status reporting.
func (g *Guard) Breaker() *Breaker {
	return g.breaker
}

// Execute runs fn for operation on behalf of key and reports how many times fn was invoked.
// The rate limit is checked once, the breaker before every attempt, and fn runs under the attempt
// timeout. Transient failures are retried; an exhausted retry returns *domain.ExecutionError and a
// circuit that opens mid-loop returns *domain.CircuitOpenError.
func (g *Guard) Execute(ctx context.Context, operation, key string, fn func(ctx context.Context) error) (int, error) {
	if g.limiter != nil {
		if err := g.limiter.Allow(ctx, key); err != nil {
			var limited *domain.RateLimitedError
			if errors.As(err, &limited) {
				return 0, err
			}
			g.logger.Warn("rate limiter unavailable, allowing call", "operation", operation, "key", key, "error", err)
		}
	}

	calls := 0
	_, err := Retry(ctx, g.cfg.Retry, func(ctx context.Context, attempt int) error {
		if err := g.breaker.Allow(operation); err != nil {
			return err
		}
		calls++

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		err := fn(attemptCtx)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		switch {
		case err == nil:
			g.breaker.RecordSuccess(operation)
			return nil
		case timedOut:
			g.breaker.RecordFailure(operation)
			return &domain.ExecutionError{Operation: operation, Attempts: attempt, Err: fmt.Errorf("attempt timed out after %s: %w", g.cfg.AttemptTimeout, err)}
		case domain.IsRetryable(err):
			g.breaker.RecordFailure(operation)
			g.logger.Warn("guarded call failed", "operation", operation, "attempt", attempt, "error", err)
			return err
		case ctx.Err() != nil:
			g.breaker.Release(operation)
			return err
		default:
			// The dependency answered; a business refusal does not count against the circuit.
			g.breaker.RecordSuccess(operation)
			return err
		}
	})
	if err == nil {
		return calls, nil
	}

	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return calls, &domain.ExecutionError{Operation: operation, Attempts: calls, Err: execErr.Err}
	}
	return calls, err
}
