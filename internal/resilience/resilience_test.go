package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func transient() error {
	return &domain.ExecutionError{Operation: "transfer", Err: errors.New("connection reset")}
}

func TestBreaker_OpensAtThresholdAndProbesAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := NewBreaker(BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second},
		WithBreakerClock(clock.Now),
		WithStateChangeHook(func(op string, from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	for i := 0; i < 4; i++ {
		b.RecordFailure("transfer")
	}
	if b.State("transfer") != StateClosed {
		t.Fatalf("expected closed below threshold")
	}
	b.RecordFailure("transfer")
	if b.State("transfer") != StateOpen {
		t.Fatalf("expected open at threshold")
	}

	err := b.Allow("transfer")
	var openErr *domain.CircuitOpenError
	if !errors.As(err, &openErr) || openErr.RetryAfter != 30*time.Second {
		t.Fatalf("expected CircuitOpenError with full cooldown, got %v", err)
	}

	clock.Advance(30 * time.Second)
	if err := b.Allow("transfer"); err != nil {
		t.Fatalf("expected probe after cooldown, got %v", err)
	}
	if b.State("transfer") != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State("transfer"))
	}
	if err := b.Allow("transfer"); !errors.As(err, &openErr) {
		t.Fatalf("expected a single probe in flight, got %v", err)
	}

	b.RecordSuccess("transfer")
	if b.State("transfer") != StateClosed {
		t.Fatalf("expected closed after successful probe")
	}

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("unexpected transitions %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("unexpected transitions %v", transitions)
		}
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second}, WithBreakerClock(clock.Now))

	b.RecordFailure("op")
	clock.Advance(time.Second)
	if err := b.Allow("op"); err != nil {
		t.Fatalf("expected probe, got %v", err)
	}
	b.RecordFailure("op")
	if b.State("op") != StateOpen {
		t.Fatalf("expected re-open after failed probe")
	}
	if err := b.Allow("op"); err == nil {
		t.Fatalf("expected fresh cooldown after failed probe")
	}
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	b.RecordFailure("op")
	b.RecordFailure("op")
	b.RecordSuccess("op")
	b.RecordFailure("op")
	b.RecordFailure("op")
	if b.State("op") != StateClosed {
		t.Fatalf("non-consecutive failures must not open the circuit")
	}
	if b.State("other") != StateClosed {
		t.Fatalf("circuits must be independent per operation")
	}
}

func TestMemoryRateLimiter_FixedWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryRateLimiter(RateLimitConfig{Limit: 10, Window: time.Minute}, clock.Now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := l.Allow(ctx, "alice"); err != nil {
			t.Fatalf("call %d rejected: %v", i+1, err)
		}
	}
	err := l.Allow(ctx, "alice")
	var limited *domain.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError on 11th call, got %v", err)
	}
	if limited.RetryAfter != time.Minute {
		t.Fatalf("expected retry after a full window, got %s", limited.RetryAfter)
	}
	if err := l.Allow(ctx, "bob"); err != nil {
		t.Fatalf("keys must be limited independently: %v", err)
	}

	clock.Advance(time.Minute)
	if err := l.Allow(ctx, "alice"); err != nil {
		t.Fatalf("expected new window to admit, got %v", err)
	}
	clock.Advance(2 * time.Minute)
	if removed := l.Cleanup(); removed != 2 {
		t.Fatalf("expected both expired counters removed, got %d", removed)
	}
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, Delay: 0}, func(ctx context.Context, attempt int) error {
		calls++
		return domain.NewValidationError("amount", "must be positive")
	})
	if calls != 1 || attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected the permanent error back, got %v", err)
	}
}

func TestRetry_ExhaustsTransientFailures(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, func(ctx context.Context, attempt int) error {
		calls++
		if attempt != calls {
			t.Fatalf("attempt numbering out of sync")
		}
		return transient()
	})
	if calls != 3 || attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("expected the last transient error, got %v", err)
	}
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		if calls == 1 {
			return transient()
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second attempt, got calls=%d err=%v", calls, err)
	}
}

func TestGuard_OpensCircuitAfterConsecutiveExecutionErrors(t *testing.T) {
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 5, Cooldown: time.Minute})
	guard := NewGuard(nil, breaker, GuardConfig{Retry: RetryConfig{MaxAttempts: 1}, AttemptTimeout: time.Second}, testLogger())
	ctx := context.Background()

	networkCalls := 0
	failing := func(ctx context.Context) error {
		networkCalls++
		return transient()
	}
	for i := 0; i < 5; i++ {
		_, err := guard.Execute(ctx, "transfer", "alice", failing)
		if !domain.IsRetryable(err) {
			t.Fatalf("call %d: expected ExecutionError, got %v", i+1, err)
		}
	}

	attempts, err := guard.Execute(ctx, "transfer", "alice", failing)
	var openErr *domain.CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if networkCalls != 5 || attempts != 0 {
		t.Fatalf("open circuit must not attempt the call: calls=%d attempts=%d", networkCalls, attempts)
	}
}

func TestGuard_CircuitOpeningMidRetryAborts(t *testing.T) {
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	guard := NewGuard(nil, breaker, GuardConfig{Retry: RetryConfig{MaxAttempts: 3, Delay: 0}, AttemptTimeout: time.Second}, testLogger())

	calls := 0
	attempts, err := guard.Execute(context.Background(), "transfer", "alice", func(ctx context.Context) error {
		calls++
		return transient()
	})
	var openErr *domain.CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if calls != 2 || attempts != 2 {
		t.Fatalf("expected 2 attempts before the circuit opened, got %d", calls)
	}
}

func TestGuard_RateLimitedCallNeverReachesDependency(t *testing.T) {
	limiter := NewMemoryRateLimiter(RateLimitConfig{Limit: 1, Window: time.Minute}, nil)
	guard := NewGuard(limiter, nil, GuardConfig{}, testLogger())
	ctx := context.Background()

	calls := 0
	ok := func(ctx context.Context) error {
		calls++
		return nil
	}
	if _, err := guard.Execute(ctx, "transfer", "alice", ok); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	attempts, err := guard.Execute(ctx, "transfer", "alice", ok)
	var limited *domain.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if calls != 1 || attempts != 0 {
		t.Fatalf("rate-limited call reached the dependency")
	}
	if guard.Breaker().State("transfer") != StateClosed {
		t.Fatalf("rate limiting must not touch the breaker")
	}
}

func TestGuard_AttemptTimeoutIsTransient(t *testing.T) {
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 10, Cooldown: time.Minute})
	guard := NewGuard(nil, breaker, GuardConfig{Retry: RetryConfig{MaxAttempts: 2, Delay: 0}, AttemptTimeout: 10 * time.Millisecond}, testLogger())

	attempts, err := guard.Execute(context.Background(), "transfer", "alice", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if attempts != 2 || execErr.Attempts != 2 {
		t.Fatalf("expected timeouts to be retried, got attempts=%d", attempts)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the deadline to be wrapped, got %v", err)
	}
}

func TestGuard_BusinessRefusalIsNotRetried(t *testing.T) {
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	guard := NewGuard(nil, breaker, GuardConfig{Retry: RetryConfig{MaxAttempts: 3}}, testLogger())

	calls := 0
	_, err := guard.Execute(context.Background(), "transfer", "alice", func(ctx context.Context) error {
		calls++
		return domain.ErrTransferDeclined
	})
	if !errors.Is(err, domain.ErrTransferDeclined) || calls != 1 {
		t.Fatalf("expected one attempt returning the refusal, got calls=%d err=%v", calls, err)
	}
	if breaker.State("transfer") != StateClosed {
		t.Fatalf("a refusal must not open the circuit")
	}
}
