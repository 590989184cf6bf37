/**
 * @description
 * This file contains the transfer orchestrator of the peer-network-service. The `Service` struct
 * drives one transfer through its state machine, coordinating the relationship store, the group
 * registry, the risk assessor, the resilience guard around the transfer executor and the message
 * broker.
 *
 * Key features:
 * - At most one in-flight transfer per unordered customer pair.
 * - Allocation caps are checked and reserved under a per-customer (and per-group) lock.
 * - Every trust-affecting outcome is applied to the relationship and to every shared group.
 * - Publishes peer.transfer.* events to RabbitMQ for downstream consumers.
 *
 * @dependencies
 * - github.com/google/uuid: Transaction identifiers.
 * - internal/resilience: Rate limiting, circuit breaking and retries around the executor.
 * - internal/store: Relationship and ledger persistence.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/transfa/peer-network-service/internal/domain"
	"github.com/transfa/peer-network-service/internal/resilience"
	"github.com/transfa/peer-network-service/internal/store"
	"github.com/transfa/peer-network-service/pkg/rabbitmq"
)

// ExecuteOperation names the guarded executor call for the circuit breaker.
const ExecuteOperation = "transfer_executor.execute"

// AllocationConfig holds per-customer caps in minor units. Zero disables a cap.
type AllocationConfig struct {
	DailyLimit   int64
	MonthlyLimit int64
}

func DefaultAllocationConfig() AllocationConfig {
	return AllocationConfig{DailyLimit: 2_000_000, MonthlyLimit: 20_000_000}
}

// Dependencies bundles everything the orchestrator needs. Publisher, Observers, Metrics and Locker are optional.
type Dependencies struct {
	Relationships store.RelationshipStore
	Ledger        store.TransactionLedger
	Groups        *GroupRegistry
	Matcher       *Matcher
	Risk          *RiskAssessor
	Guard         *resilience.Guard
	Executor      TransferExecutor
	Publisher     rabbitmq.Publisher
	Observers     []OutcomeObserver
	Metrics       Recorder
	Allocation    AllocationConfig
	// Locker is shared by every instance on the same stores. Nil keeps locking in-process.
	Locker        Locker
	Logger        *slog.Logger
}

// Service provides the peer transfer use cases.
type Service struct {
	rels      store.RelationshipStore
	ledger    store.TransactionLedger
	groups    *GroupRegistry
	matcher   *Matcher
	risk      *RiskAssessor
	guard     *resilience.Guard
	executor  TransferExecutor
	publisher rabbitmq.Publisher
	exchange  string
	observers []OutcomeObserver
	metrics   Recorder
	limits    AllocationConfig
	locks     Locker
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new orchestrator instance.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}
	var locks Locker = newKeyLocks()
	if deps.Locker != nil {
		locks = layeredLocks{local: newKeyLocks(), shared: deps.Locker}
	}
	return &Service{
		rels:      deps.Relationships,
		ledger:    deps.Ledger,
		groups:    deps.Groups,
		matcher:   deps.Matcher,
		risk:      deps.Risk,
		guard:     deps.Guard,
		executor:  deps.Executor,
		publisher: publisher,
		exchange:  rabbitmq.DefaultExchange,
		observers: deps.Observers,
		metrics:   metrics,
		limits:    deps.Allocation,
		locks:     locks,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Groups exposes the group registry.
func (s *Service) Groups() *GroupRegistry { return s.groups }

// Matcher exposes the match scoring engine.
func (s *Service) Matcher() *Matcher { return s.matcher }

// CircuitStatus reports the executor circuit breakers.
func (s *Service) CircuitStatus() []resilience.CircuitStatus {
	return s.guard.Breaker().Snapshot()
}

// ProcessTransaction runs one transfer: validate, check allocation, match, assess risk and, when
// approved, execute through the resilience guard. A pending-review transfer is returned without
// error; a blocked one is returned together with a RiskBlockedError.
func (s *Service) ProcessTransaction(ctx context.Context, req domain.TransferRequest) (*domain.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.TransactionID == uuid.Nil {
		req.TransactionID = uuid.New()
	}
	key, err := domain.NewPairKey(req.RequesterID, req.PeerID)
	if err != nil {
		return nil, err
	}

	unlockPair, err := s.locks.Lock(ctx, "pair:"+key.String())
	if err != nil {
		return nil, err
	}
	defer unlockPair()

	group, err := s.resolveGroup(ctx, req)
	if err != nil {
		return nil, err
	}

	allocKeys := []string{"customer:" + req.RequesterID}
	if group != nil {
		allocKeys = append(allocKeys, "group:"+group.ID)
	}
	unlockAlloc, err := lockAll(ctx, s.locks, allocKeys...)
	if err != nil {
		return nil, err
	}
	released := false
	release := func() {
		if !released {
			released = true
			unlockAlloc()
		}
	}
	defer release()

	tx := domain.NewTransaction(req, s.now())
	if err := s.checkAllocation(ctx, tx, group); err != nil {
		s.logger.Info("transfer rejected by allocation limits", "transaction_id", tx.ID, "requester_id", tx.RequesterID, "error", err)
		return nil, err
	}

	if _, created, err := s.rels.EnsureRelationship(ctx, req.RequesterID, req.PeerID); err != nil {
		return nil, fmt.Errorf("failed to ensure relationship: %w", err)
	} else if created {
		s.logger.Debug("relationship created lazily", "pair", key.String())
	}
	if err := tx.Transition(domain.StatusMatched, s.now()); err != nil {
		return nil, err
	}

	assessment, err := s.risk.Assess(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("risk assessment failed: %w", err)
	}
	if group != nil && assessment.Decision == domain.RiskAutoApproved &&
		group.Rules.AutoApprovalThreshold > 0 && tx.Amount > group.Rules.AutoApprovalThreshold {
		assessment.Decision = domain.RiskPendingReview
		assessment.Reasons = append(assessment.Reasons, "amount above group auto-approval threshold")
	}
	tx.Risk = assessment
	if err := tx.Transition(domain.StatusRiskChecked, s.now()); err != nil {
		return nil, err
	}
	if err := tx.Transition(assessment.Decision.Status(), s.now()); err != nil {
		return nil, err
	}

	if err := s.ledger.Save(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}
	release()

	switch assessment.Decision {
	case domain.RiskBlocked:
		s.logger.Warn("transfer blocked by risk assessment", "transaction_id", tx.ID, "score", assessment.Score, "reasons", assessment.Reasons)
		s.finish(ctx, domain.EventTransferBlocked, tx)
		return tx, &domain.RiskBlockedError{TransactionID: tx.ID.String(), Score: assessment.Score, Reasons: assessment.Reasons}
	case domain.RiskPendingReview:
		s.logger.Info("transfer routed to manual review", "transaction_id", tx.ID, "score", assessment.Score)
		s.finish(ctx, domain.EventTransferReviewRequired, tx)
		return tx, nil
	default:
		return s.execute(ctx, tx, domain.StatusAutoApproved)
	}
}

// resolveGroup loads the optional group of the request and applies its membership and amount rules.
func (s *Service) resolveGroup(ctx context.Context, req domain.TransferRequest) (*domain.PeerGroup, error) {
	if req.GroupID == "" {
		return nil, nil
	}
	group, err := s.groups.Get(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(req.RequesterID) || !group.HasMember(req.PeerID) {
		return nil, domain.NewValidationError("group_id", "both parties must be members of the group")
	}
	if !group.Rules.AllowsPaymentMethod(req.PaymentMethod) {
		return nil, domain.NewValidationError("payment_method", "is not accepted by the group")
	}
	if group.Rules.MinTransactionAmount > 0 && req.Amount < group.Rules.MinTransactionAmount {
		return nil, &domain.LimitExceededError{Scope: domain.LimitScopeTransactionMin, SubjectID: group.ID, Limit: group.Rules.MinTransactionAmount, Requested: req.Amount}
	}
	if group.Rules.MaxTransactionAmount > 0 && req.Amount > group.Rules.MaxTransactionAmount {
		return nil, &domain.LimitExceededError{Scope: domain.LimitScopeTransactionMax, SubjectID: group.ID, Limit: group.Rules.MaxTransactionAmount, Requested: req.Amount}
	}
	return group, nil
}

func (s *Service) checkAllocation(ctx context.Context, tx *domain.Transaction, group *domain.PeerGroup) error {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	if s.limits.DailyLimit > 0 {
		used, err := s.ledger.SumAmounts(ctx, tx.RequesterID, dayStart)
		if err != nil {
			return fmt.Errorf("failed to sum daily allocation: %w", err)
		}
		if used+tx.Amount > s.limits.DailyLimit {
			return &domain.LimitExceededError{Scope: domain.LimitScopeDaily, SubjectID: tx.RequesterID, Limit: s.limits.DailyLimit, Current: used, Requested: tx.Amount}
		}
	}
	if s.limits.MonthlyLimit > 0 {
		used, err := s.ledger.SumAmounts(ctx, tx.RequesterID, monthStart)
		if err != nil {
			return fmt.Errorf("failed to sum monthly allocation: %w", err)
		}
		if used+tx.Amount > s.limits.MonthlyLimit {
			return &domain.LimitExceededError{Scope: domain.LimitScopeMonthly, SubjectID: tx.RequesterID, Limit: s.limits.MonthlyLimit, Current: used, Requested: tx.Amount}
		}
	}
	if group != nil && group.Rules.DailyLimit > 0 {
		used, err := s.ledger.SumGroupAmounts(ctx, group.ID, dayStart)
		if err != nil {
			return fmt.Errorf("failed to sum group allocation: %w", err)
		}
		if used+tx.Amount > group.Rules.DailyLimit {
			return &domain.LimitExceededError{Scope: domain.LimitScopeGroupDaily, SubjectID: group.ID, Limit: group.Rules.DailyLimit, Current: used, Requested: tx.Amount}
		}
	}
	return nil
}

// execute moves an approved transaction from `from` through executing to a terminal state. The
// caller must hold the pair lock.
func (s *Service) execute(ctx context.Context, tx *domain.Transaction, from domain.TransferStatus) (*domain.Transaction, error) {
	if err := tx.Transition(domain.StatusExecuting, s.now()); err != nil {
		return nil, err
	}
	if err := s.ledger.Update(ctx, tx, from); err != nil {
		return nil, fmt.Errorf("failed to mark transaction executing: %w", err)
	}

	var result *domain.ExecutionResult
	calls, execErr := s.guard.Execute(ctx, ExecuteOperation, tx.RequesterID, func(ctx context.Context) error {
		res, err := s.executor.Execute(ctx, tx.Request())
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	tx.Attempts = calls

	// The executor may have moved money; persist the outcome even if the caller went away.
	persistCtx := context.WithoutCancel(ctx)

	if execErr == nil {
		if result != nil && result.Reference != "" {
			ref := result.Reference
			tx.ExecutorReference = &ref
		}
		if err := tx.Transition(domain.StatusCompleted, s.now()); err != nil {
			return tx, err
		}
		updateErr := s.ledger.Update(persistCtx, tx, domain.StatusExecuting)
		if updateErr != nil {
			s.logger.Error("failed to persist completed transfer", "transaction_id", tx.ID, "error", updateErr)
		}
		s.recordOutcome(persistCtx, tx, true)
		s.finish(persistCtx, domain.EventTransferCompleted, tx)
		s.logger.Info("transfer completed", "transaction_id", tx.ID, "attempts", calls)
		if updateErr != nil {
			return tx, fmt.Errorf("failed to persist completed transfer: %w", updateErr)
		}
		return tx, nil
	}

	if err := tx.Fail(execErr.Error(), s.now()); err != nil {
		return tx, err
	}
	if err := s.ledger.Update(persistCtx, tx, domain.StatusExecuting); err != nil {
		s.logger.Error("failed to persist failed transfer", "transaction_id", tx.ID, "error", err)
	}
	if affectsTrust(execErr, calls) {
		s.recordOutcome(persistCtx, tx, false)
	}
	s.finish(persistCtx, domain.EventTransferFailed, tx)
	s.logger.Warn("transfer failed", "transaction_id", tx.ID, "attempts", calls, "error", execErr)
	return tx, execErr
}

// affectsTrust reports whether a failed execution counts against the pair. Rate-limited and
// caller-cancelled transfers never reached the executor; an open circuit does count.
func affectsTrust(err error, calls int) bool {
	var open *domain.CircuitOpenError
	if errors.As(err, &open) {
		return true
	}
	return calls > 0
}

func (s *Service) recordOutcome(ctx context.Context, tx *domain.Transaction, success bool) {
	rel, err := s.rels.RecordOutcome(ctx, tx.RequesterID, tx.PeerID, tx.Amount, tx.PaymentMethod, success)
	if err != nil {
		s.logger.Error("failed to record relationship outcome", "transaction_id", tx.ID, "error", err)
	}

	shared, err := s.groups.SharedGroups(ctx, tx.RequesterID, tx.PeerID)
	if err != nil {
		s.logger.Error("failed to load shared groups", "transaction_id", tx.ID, "error", err)
	}
	groupIDs := make([]string, 0, len(shared))
	for _, g := range shared {
		if _, err := s.groups.RecordOutcome(ctx, g.ID, tx.Amount, success); err != nil {
			s.logger.Error("failed to record group outcome", "transaction_id", tx.ID, "group_id", g.ID, "error", err)
			continue
		}
		groupIDs = append(groupIDs, g.ID)
	}

	outcome := domain.Outcome{
		TransactionID: tx.ID,
		RequesterID:   tx.RequesterID,
		PeerID:        tx.PeerID,
		GroupIDs:      groupIDs,
		Amount:        tx.Amount,
		PaymentMethod: tx.PaymentMethod,
		Success:       success,
		At:            s.now(),
	}
	if rel != nil {
		outcome.TrustScore = rel.TrustScore
	}
	for _, obs := range s.observers {
		if err := obs.ObserveOutcome(ctx, outcome); err != nil {
			s.logger.Warn("outcome observer failed", "transaction_id", tx.ID, "error", err)
		}
	}
}

func (s *Service) finish(ctx context.Context, routingKey string, tx *domain.Transaction) {
	s.metrics.TransferFinished(tx.Status)
	event := domain.NewTransferEvent(tx, s.now())
	if err := s.publisher.Publish(ctx, s.exchange, routingKey, event); err != nil {
		s.logger.Warn("failed to publish transfer event", "transaction_id", tx.ID, "routing_key", routingKey, "error", err)
	}
}

// ArchiveRelationship retires a pair from matching. The record and its history are kept.
func (s *Service) ArchiveRelationship(ctx context.Context, a, b string) (*domain.PeerRelationship, error) {
	key, err := domain.NewPairKey(a, b)
	if err != nil {
		return nil, err
	}
	unlock, err := s.locks.Lock(ctx, "pair:"+key.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.rels.Archive(ctx, key.A, key.B); err != nil {
		return nil, err
	}
	rel, err := s.rels.Get(ctx, key.A, key.B)
	if err != nil {
		return nil, err
	}
	s.logger.Info("relationship archived", "pair", key.String())
	return rel, nil
}

// GetTransaction returns one audit record.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.ledger.Get(ctx, id)
}

// ListTransactions returns a customer's most recent transfers on either side.
func (s *Service) ListTransactions(ctx context.Context, customerID string, limit int) ([]*domain.Transaction, error) {
	return s.ledger.ListByCustomer(ctx, customerID, limit)
}

// FindMatches delegates to the match scoring engine.
func (s *Service) FindMatches(ctx context.Context, req MatchRequest) (*MatchResult, error) {
	return s.matcher.FindMatches(ctx, req)
}

// CreateGroup delegates to the group registry.
func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (*domain.PeerGroup, error) {
	return s.groups.CreateGroup(ctx, in)
}
