// Package resilience guards calls to external dependencies with a per-key rate limiter, a
// per-operation circuit breaker and a bounded constant-delay retry.
package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
)

// BreakerState is the state of one operation's circuit.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig configures every circuit the breaker manages.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// StateChangeFunc observes circuit transitions.
type StateChangeFunc func(operation string, from, to BreakerState)

type circuit struct {
	state         BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// Breaker keeps one circuit per operation name. All transitions happen under a single mutex;
// Allow must be called before every attempt.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	circuits map[string]*circuit
	now      func() time.Time
	onChange StateChangeFunc
}

// BreakerOption customizes a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock replaces the time source.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithStateChangeHook registers a transition observer. It runs with the breaker lock held and must not block.
func WithStateChangeHook(fn StateChangeFunc) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	defaults := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}
	b := &Breaker{
		cfg:      cfg,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) circuitFor(operation string) *circuit {
	c, ok := b.circuits[operation]
	if !ok {
		c = &circuit{}
		b.circuits[operation] = c
	}
	return c
}

func (b *Breaker) transition(operation string, c *circuit, to BreakerState) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if b.onChange != nil {
		b.onChange(operation, from, to)
	}
}

// Allow reports whether an attempt may proceed. An open circuit past its cooldown moves to
// half-open and admits exactly one probe.
func (b *Breaker) Allow(operation string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(operation)
	switch c.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := b.now().Sub(c.openedAt)
		if elapsed < b.cfg.Cooldown {
			return &domain.CircuitOpenError{Operation: operation, RetryAfter: b.cfg.Cooldown - elapsed}
		}
		b.transition(operation, c, StateHalfOpen)
		c.probeInFlight = true
		return nil
	default:
		if c.probeInFlight {
			return &domain.CircuitOpenError{Operation: operation, RetryAfter: b.cfg.Cooldown}
		}
		c.probeInFlight = true
		return nil
	}
}

// RecordSuccess closes a half-open circuit and clears the failure counter.
func (b *Breaker) RecordSuccess(operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(operation)
	switch c.state {
	case StateClosed:
		c.failures = 0
	case StateHalfOpen:
		c.failures = 0
		c.probeInFlight = false
		b.transition(operation, c, StateClosed)
	}
}

// RecordFailure counts a failure; the threshold opens the circuit and a failed probe re-opens it.
func (b *Breaker) RecordFailure(operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(operation)
	switch c.state {
	case StateClosed:
		c.failures++
		if c.failures >= b.cfg.FailureThreshold {
			c.openedAt = b.now()
			b.transition(operation, c, StateOpen)
		}
	case StateHalfOpen:
		c.failures++
		c.probeInFlight = false
		c.openedAt = b.now()
		b.transition(operation, c, StateOpen)
	}
}

// Release frees a half-open probe slot whose attempt ended without a verdict (caller cancellation).
func (b *Breaker) Release(operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[operation]; ok {
		c.probeInFlight = false
	}
}

// State returns the current state of an operation's circuit.
func (b *Breaker) State(operation string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[operation]; ok {
		return c.state
	}
	return StateClosed
}

// CircuitStatus is a point-in-time view of one circuit.
type CircuitStatus struct {
	Operation string `json:"operation"`
	State     string `json:"state"`
	Failures  int    `json:"consecutive_failures"`
}

// Snapshot lists every known circuit, sorted by operation.
func (b *Breaker) Snapshot() []CircuitStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CircuitStatus, 0, len(b.circuits))
	for op, c := range b.circuits {
		out = append(out, CircuitStatus{Operation: op, State: c.state.String(), Failures: c.failures})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}
