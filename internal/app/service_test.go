package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
	"github.com/transfa/peer-network-service/internal/resilience"
	"github.com/transfa/peer-network-service/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type profileStub struct {
	mu       sync.Mutex
	profiles map[string]domain.CustomerProfile
	calls    int
}

func newProfileStub(profiles ...domain.CustomerProfile) *profileStub {
	s := &profileStub{profiles: map[string]domain.CustomerProfile{}}
	for _, p := range profiles {
		s.profiles[p.CustomerID] = p
	}
	return s
}

func (s *profileStub) set(p domain.CustomerProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.CustomerID] = p
}

func (s *profileStub) GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	p, ok := s.profiles[customerID]
	if !ok {
		return nil, domain.NewNotFound("customer", customerID, domain.ErrCustomerNotFound)
	}
	return &p, nil
}

func (s *profileStub) ListProfiles(ctx context.Context) ([]domain.CustomerProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CustomerProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

type validatorStub struct {
	level string
	err   error
	calls atomic.Int32
}

func (s *validatorStub) Validate(ctx context.Context, customerID, method, address string, amount int64, purpose string) (*domain.ValidationResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	level := s.level
	if level == "" {
		level = domain.RiskLevelLow
	}
	return &domain.ValidationResult{ValidationScore: 90, RiskLevel: level}, nil
}

type executorStub struct {
	calls atomic.Int32
	fn    func(call int, req domain.TransferRequest) (*domain.ExecutionResult, error)
}

func (s *executorStub) Execute(ctx context.Context, req domain.TransferRequest) (*domain.ExecutionResult, error) {
	call := int(s.calls.Add(1))
	if s.fn != nil {
		return s.fn(call, req)
	}
	return &domain.ExecutionResult{Success: true, Reference: "ref-" + req.TransactionID.String()}, nil
}

type publisherStub struct {
	mu   sync.Mutex
	keys []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type observerStub struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
}

func (o *observerStub) ObserveOutcome(ctx context.Context, outcome domain.Outcome) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
	return nil
}

type fixture struct {
	rels      *store.MemoryRelationshipStore
	groups    *store.MemoryGroupStore
	ledger    *store.MemoryLedger
	profiles  *profileStub
	validator *validatorStub
	executor  *executorStub
	publisher *publisherStub
	observer  *observerStub
	registry  *GroupRegistry
	service   *Service
}

type fixtureOptions struct {
	allocation AllocationConfig
	rateLimit  int
	geo        GeoChecker
	locker     Locker
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	logger := discardLogger()
	f := &fixture{
		rels:      store.NewMemoryRelationshipStore(),
		groups:    store.NewMemoryGroupStore(),
		ledger:    store.NewMemoryLedger(),
		profiles:  newProfileStub(),
		validator: &validatorStub{},
		executor:  &executorStub{},
		publisher: &publisherStub{},
		observer:  &observerStub{},
	}
	f.registry = NewGroupRegistry(f.groups, f.rels, f.profiles, f.publisher, nil, logger)
	f.service = f.newService(opts)
	return f
}

// newService builds another service instance over the fixture's stores and stubs.
func (f *fixture) newService(opts fixtureOptions) *Service {
	logger := discardLogger()
	if opts.rateLimit == 0 {
		opts.rateLimit = 1000
	}
	limiter := resilience.NewMemoryRateLimiter(resilience.RateLimitConfig{Limit: opts.rateLimit, Window: time.Minute}, nil)
	guard := resilience.NewGuard(limiter, resilience.NewBreaker(resilience.DefaultBreakerConfig()), resilience.GuardConfig{
		Retry:          resilience.RetryConfig{MaxAttempts: 3, Delay: 0},
		AttemptTimeout: time.Second,
	}, logger)
	return NewService(Dependencies{
		Relationships: f.rels,
		Ledger:        f.ledger,
		Groups:        f.registry,
		Matcher:       NewMatcher(f.rels, f.groups, MatchConfig{}, nil, logger),
		Risk:          NewRiskAssessor(f.ledger, f.validator, opts.geo, RiskConfig{}, nil, logger),
		Guard:         guard,
		Executor:      f.executor,
		Publisher:     f.publisher,
		Observers:     []OutcomeObserver{f.observer},
		Allocation:    opts.allocation,
		Locker:        opts.locker,
		Logger:        logger,
	})
}

func transfer(requester, peer string, amount int64) domain.TransferRequest {
	return domain.TransferRequest{
		RequesterID:   requester,
		PeerID:        peer,
		Amount:        amount,
		PaymentMethod: "bank_transfer",
		Details:       domain.TransferDetails{RecipientAddress: "0123456789", Country: "NG"},
	}
}

func TestProcessTransaction_RejectsDailyCapBeforeRiskAndExecution(t *testing.T) {
	f := newFixture(t, fixtureOptions{allocation: AllocationConfig{DailyLimit: 1000}})

	tx, err := f.service.ProcessTransaction(context.Background(), transfer("alice", "bob", 1200))
	if tx != nil {
		t.Fatalf("expected no transaction, got %+v", tx)
	}
	var limit *domain.LimitExceededError
	if !errors.As(err, &limit) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	if limit.Scope != domain.LimitScopeDaily || limit.Limit != 1000 || limit.Requested != 1200 {
		t.Fatalf("unexpected limit error: %+v", limit)
	}
	if got := f.validator.calls.Load(); got != 0 {
		t.Fatalf("expected no validator calls, got %d", got)
	}
	if got := f.executor.calls.Load(); got != 0 {
		t.Fatalf("expected no executor calls, got %d", got)
	}
	history, _ := f.ledger.ListByCustomer(context.Background(), "alice", 10)
	if len(history) != 0 {
		t.Fatalf("expected nothing persisted, got %d transactions", len(history))
	}
	if _, err := f.rels.Get(context.Background(), "alice", "bob"); !domain.IsNotFound(err) {
		t.Fatalf("expected no relationship to be created, got %v", err)
	}
}

func TestProcessTransaction_CompletesThroughSharedGroup(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.profiles.set(domain.CustomerProfile{CustomerID: "alice", TrustScore: 90})
	f.profiles.set(domain.CustomerProfile{CustomerID: "bob", TrustScore: 85})

	group, err := f.registry.CreateGroup(ctx, CreateGroupInput{CreatorID: "alice", Name: "Family", Type: "trust_circle", Members: []string{"bob"}})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	rel, err := f.rels.Get(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("expected seeded relationship: %v", err)
	}
	if rel.TrustScore != 75 {
		t.Fatalf("expected neutral trust 75, got %v", rel.TrustScore)
	}

	req := transfer("alice", "bob", 5000)
	req.GroupID = group.ID
	tx, err := f.service.ProcessTransaction(ctx, req)
	if err != nil {
		t.Fatalf("process transaction: %v", err)
	}
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if tx.Attempts != 1 || tx.ExecutorReference == nil {
		t.Fatalf("expected one attempt with a reference, got attempts=%d ref=%v", tx.Attempts, tx.ExecutorReference)
	}

	rel, _ = f.rels.Get(ctx, "alice", "bob")
	if rel.TotalTransactions != 1 || rel.SuccessfulTransactions != 1 {
		t.Fatalf("expected relationship totals of 1, got %+v", rel)
	}
	if rel.TrustScore != 77 {
		t.Fatalf("expected trust 77, got %v", rel.TrustScore)
	}
	if !rel.CommonPaymentMethods.Contains("bank_transfer") {
		t.Fatalf("expected payment method recorded, got %v", rel.CommonPaymentMethods.List())
	}

	updated, _ := f.registry.Get(ctx, group.ID)
	if updated.Stats.TotalTransactions != 1 || updated.Stats.SuccessRate != 1 {
		t.Fatalf("expected group totals of 1, got %+v", updated.Stats)
	}

	stored, err := f.service.GetTransaction(ctx, tx.ID)
	if err != nil || stored.Status != domain.StatusCompleted {
		t.Fatalf("expected persisted completed transaction, got %+v err=%v", stored, err)
	}
	if len(f.observer.outcomes) != 1 || !f.observer.outcomes[0].Success || f.observer.outcomes[0].TrustScore != 77 {
		t.Fatalf("unexpected observed outcomes: %+v", f.observer.outcomes)
	}
	if len(f.observer.outcomes[0].GroupIDs) != 1 || f.observer.outcomes[0].GroupIDs[0] != group.ID {
		t.Fatalf("expected outcome to name the shared group, got %v", f.observer.outcomes[0].GroupIDs)
	}
	keys := f.publisher.published()
	if keys[len(keys)-1] != domain.EventTransferCompleted {
		t.Fatalf("expected completed event last, got %v", keys)
	}
}

func TestProcessTransaction_BlockedLeavesTrustUntouched(t *testing.T) {
	f := newFixture(t, fixtureOptions{geo: NewCountryGeoChecker([]string{"KP"})})
	req := transfer("alice", "bob", 5000)
	req.Details.Country = "kp"
	req.Details.RecipientAddress = "scam-wallet-01"

	tx, err := f.service.ProcessTransaction(context.Background(), req)
	var blocked *domain.RiskBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected RiskBlockedError, got %v", err)
	}
	if tx == nil || tx.Status != domain.StatusBlocked {
		t.Fatalf("expected blocked transaction, got %+v", tx)
	}
	if blocked.Score != 85 {
		t.Fatalf("expected score 85, got %v", blocked.Score)
	}
	if got := f.executor.calls.Load(); got != 0 {
		t.Fatalf("expected executor not to be called, got %d", got)
	}
	rel, err := f.rels.Get(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("expected relationship: %v", err)
	}
	if rel.TotalTransactions != 0 || rel.TrustScore != 75 {
		t.Fatalf("expected untouched relationship, got %+v", rel)
	}

	used, _ := f.ledger.SumAmounts(context.Background(), "alice", time.Now().Add(-time.Hour))
	if used != 0 {
		t.Fatalf("blocked transfers must not reserve allocation, got %d", used)
	}
}

func TestProcessTransaction_DeclineCountsAgainstTrustWithoutRetry(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.executor.fn = func(call int, req domain.TransferRequest) (*domain.ExecutionResult, error) {
		return nil, fmt.Errorf("%w: insufficient funds", domain.ErrTransferDeclined)
	}

	tx, err := f.service.ProcessTransaction(context.Background(), transfer("alice", "bob", 5000))
	if !errors.Is(err, domain.ErrTransferDeclined) {
		t.Fatalf("expected decline, got %v", err)
	}
	if tx.Status != domain.StatusFailed || tx.FailureReason == nil {
		t.Fatalf("expected failed transaction with reason, got %+v", tx)
	}
	if got := f.executor.calls.Load(); got != 1 {
		t.Fatalf("expected a single executor call, got %d", got)
	}
	rel, _ := f.rels.Get(context.Background(), "alice", "bob")
	if rel.TrustScore != 70 || rel.TotalTransactions != 1 {
		t.Fatalf("expected trust 70 after failure, got %+v", rel)
	}
}

func TestProcessTransaction_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.executor.fn = func(call int, req domain.TransferRequest) (*domain.ExecutionResult, error) {
		if call < 3 {
			return nil, &domain.ExecutionError{Operation: ExecuteOperation, Err: errors.New("upstream 503")}
		}
		return &domain.ExecutionResult{Success: true, Reference: "ok"}, nil
	}

	tx, err := f.service.ProcessTransaction(context.Background(), transfer("alice", "bob", 5000))
	if err != nil {
		t.Fatalf("process transaction: %v", err)
	}
	if tx.Status != domain.StatusCompleted || tx.Attempts != 3 {
		t.Fatalf("expected completion after 3 attempts, got status=%s attempts=%d", tx.Status, tx.Attempts)
	}
}

func TestProcessTransaction_RateLimitedDoesNotAffectTrust(t *testing.T) {
	f := newFixture(t, fixtureOptions{rateLimit: 1})
	ctx := context.Background()

	if _, err := f.service.ProcessTransaction(ctx, transfer("alice", "bob", 5000)); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	tx, err := f.service.ProcessTransaction(ctx, transfer("alice", "carol", 5000))
	var limited *domain.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if tx.Status != domain.StatusFailed || tx.Attempts != 0 {
		t.Fatalf("expected failed transaction without attempts, got %+v", tx)
	}
	rel, _ := f.rels.Get(ctx, "alice", "carol")
	if rel.TotalTransactions != 0 || rel.TrustScore != 75 {
		t.Fatalf("rate-limited transfer must not change trust, got %+v", rel)
	}
}

func TestProcessTransaction_GroupRules(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.profiles.set(domain.CustomerProfile{CustomerID: "alice", TrustScore: 90})
	f.profiles.set(domain.CustomerProfile{CustomerID: "bob", TrustScore: 85})
	f.profiles.set(domain.CustomerProfile{CustomerID: "carol", TrustScore: 85})
	methods := []string{"bank_transfer"}
	group, err := f.registry.CreateGroup(ctx, CreateGroupInput{
		CreatorID: "alice",
		Name:      "Circle",
		Type:      "trust_circle",
		Members:   []string{"bob"},
		Overrides: &domain.RuleOverrides{AllowedPaymentMethods: &methods},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	t.Run("non member", func(t *testing.T) {
		req := transfer("alice", "carol", 5000)
		req.GroupID = group.ID
		_, err := f.service.ProcessTransaction(ctx, req)
		var validation *domain.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := transfer("alice", "bob", 5000)
		req.GroupID = group.ID
		req.PaymentMethod = "card"
		_, err := f.service.ProcessTransaction(ctx, req)
		var validation *domain.ValidationError
		if !errors.As(err, &validation) || validation.Field != "payment_method" {
			t.Fatalf("expected payment_method ValidationError, got %v", err)
		}
	})

	t.Run("above max transaction amount", func(t *testing.T) {
		req := transfer("alice", "bob", 600_000)
		req.GroupID = group.ID
		_, err := f.service.ProcessTransaction(ctx, req)
		var limit *domain.LimitExceededError
		if !errors.As(err, &limit) || limit.Scope != domain.LimitScopeTransactionMax {
			t.Fatalf("expected transaction_max limit, got %v", err)
		}
	})

	t.Run("above auto approval threshold", func(t *testing.T) {
		req := transfer("alice", "bob", 60_000)
		req.GroupID = group.ID
		tx, err := f.service.ProcessTransaction(ctx, req)
		if err != nil {
			t.Fatalf("process transaction: %v", err)
		}
		if tx.Status != domain.StatusPendingReview {
			t.Fatalf("expected pending review, got %s", tx.Status)
		}
	})
}

func TestProcessTransaction_ConcurrentTransfersRespectDailyCap(t *testing.T) {
	f := newFixture(t, fixtureOptions{allocation: AllocationConfig{DailyLimit: 10_000}})

	var wg sync.WaitGroup
	var completed, limited atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.ProcessTransaction(context.Background(), transfer("alice", fmt.Sprintf("peer-%02d", i), 1000))
			var limit *domain.LimitExceededError
			switch {
			case err == nil:
				completed.Add(1)
			case errors.As(err, &limit):
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if completed.Load() != 10 || limited.Load() != 10 {
		t.Fatalf("expected 10 completed and 10 limited, got %d and %d", completed.Load(), limited.Load())
	}
	used, _ := f.ledger.SumAmounts(context.Background(), "alice", time.Now().Add(-time.Hour))
	if used != 10_000 {
		t.Fatalf("expected 10000 allocated, got %d", used)
	}
}

type countingLocker struct {
	inner *keyLocks
	calls atomic.Int32
}

func (c *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	c.calls.Add(1)
	return c.inner.Lock(ctx, key)
}

func TestProcessTransaction_SharedLockerHoldsDailyCapAcrossInstances(t *testing.T) {
	shared := &countingLocker{inner: newKeyLocks()}
	opts := fixtureOptions{allocation: AllocationConfig{DailyLimit: 10_000}, locker: shared}
	f := newFixture(t, opts)
	instances := []*Service{f.service, f.newService(opts)}

	var wg sync.WaitGroup
	var completed, limited atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc := instances[i%len(instances)]
			_, err := svc.ProcessTransaction(context.Background(), transfer("alice", fmt.Sprintf("peer-%02d", i), 1000))
			var limit *domain.LimitExceededError
			switch {
			case err == nil:
				completed.Add(1)
			case errors.As(err, &limit):
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if completed.Load() != 10 || limited.Load() != 10 {
		t.Fatalf("expected 10 completed and 10 limited, got %d and %d", completed.Load(), limited.Load())
	}
	if shared.calls.Load() == 0 {
		t.Fatal("expected the shared locker to be used")
	}
	used, _ := f.ledger.SumAmounts(context.Background(), "alice", time.Now().Add(-time.Hour))
	if used != 10_000 {
		t.Fatalf("expected 10000 allocated, got %d", used)
	}
}

func TestLockAll_SkipsDuplicatesAndReleasesInReverse(t *testing.T) {
	locks := newKeyLocks()
	unlock, err := lockAll(context.Background(), locks, "group:g1", "customer:alice", "group:g1", "")
	if err != nil {
		t.Fatalf("lockAll: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "customer:alice"); err == nil {
		t.Fatal("expected customer key to be held")
	}
	unlock()
	again, err := locks.Lock(context.Background(), "group:g1")
	if err != nil {
		t.Fatalf("expected group key to be free after unlock: %v", err)
	}
	again()
}

func TestReviewFlow_ApproveAndCancel(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.validator.level = domain.RiskLevelMedium
	ctx := context.Background()

	pending, err := f.service.ProcessTransaction(ctx, transfer("alice", "bob", 950_000))
	if err != nil {
		t.Fatalf("process transaction: %v", err)
	}
	if pending.Status != domain.StatusPendingReview || pending.Risk.Score != 60 {
		t.Fatalf("expected pending review at score 60, got %s %v", pending.Status, pending.Risk)
	}
	if got := f.executor.calls.Load(); got != 0 {
		t.Fatalf("pending transfers must not execute, got %d calls", got)
	}

	queue, _ := f.service.ListPendingReviews(ctx, 10)
	if len(queue) != 1 || queue[0].ID != pending.ID {
		t.Fatalf("expected the transfer in the review queue, got %v", queue)
	}

	approved, err := f.service.ApproveReview(ctx, pending.ID, "reviewer-1")
	if err != nil {
		t.Fatalf("approve review: %v", err)
	}
	if approved.Status != domain.StatusCompleted || approved.ReviewerID == nil || *approved.ReviewerID != "reviewer-1" {
		t.Fatalf("expected completed transfer with reviewer, got %+v", approved)
	}
	if _, err := f.service.ApproveReview(ctx, pending.ID, "reviewer-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on second approval, got %v", err)
	}

	second, err := f.service.ProcessTransaction(ctx, transfer("alice", "carol", 950_000))
	if err != nil {
		t.Fatalf("process transaction: %v", err)
	}
	cancelled, err := f.service.CancelReview(ctx, second.ID, "reviewer-2", "")
	if err != nil {
		t.Fatalf("cancel review: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled || cancelled.FailureReason == nil {
		t.Fatalf("expected cancelled transfer with reason, got %+v", cancelled)
	}
	keys := f.publisher.published()
	if last := keys[len(keys)-1]; last != domain.EventTransferCancelled {
		t.Fatalf("expected %s after cancellation, got %s", domain.EventTransferCancelled, last)
	}
	if _, err := f.service.ApproveReview(ctx, second.ID, "reviewer-2"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition after cancel, got %v", err)
	}
	rel, _ := f.rels.Get(ctx, "alice", "carol")
	if rel.TotalTransactions != 0 {
		t.Fatalf("cancelled review must not affect trust, got %+v", rel)
	}
}

func TestHandleReviewDecision_RequiresTransactionID(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.service.HandleReviewDecision(context.Background(), domain.ReviewDecision{Approve: true, ReviewerID: "r"})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDashboard_SummarizesNetwork(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	if _, err := f.service.ProcessTransaction(ctx, transfer("alice", "bob", 5000)); err != nil {
		t.Fatalf("transfer to bob: %v", err)
	}
	f.executor.fn = func(call int, req domain.TransferRequest) (*domain.ExecutionResult, error) {
		return nil, domain.ErrTransferDeclined
	}
	if _, err := f.service.ProcessTransaction(ctx, transfer("alice", "carol", 5000)); err == nil {
		t.Fatal("expected declined transfer to carol")
	}

	board, err := f.service.Dashboard(ctx, "alice")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if board.NetworkStats.RelationshipCount != 2 || board.NetworkStats.TotalTransactions != 2 {
		t.Fatalf("unexpected stats: %+v", board.NetworkStats)
	}
	if board.NetworkStats.StrongestPeer != "bob" || board.NetworkStats.SuccessRate != 0.5 {
		t.Fatalf("unexpected stats: %+v", board.NetworkStats)
	}
	if board.Relationships[0].TrustScore < board.Relationships[1].TrustScore {
		t.Fatal("expected relationships sorted by trust")
	}
	if len(board.Recommendations) == 0 || board.Recommendations[0].CandidateID != "bob" {
		t.Fatalf("expected bob recommended first, got %+v", board.Recommendations)
	}
}
