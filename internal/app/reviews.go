package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/transfa/peer-network-service/internal/domain"
)

// lockTransaction loads a transaction, takes its pair lock and reloads it so the caller sees the
// state no concurrent cycle can change.
func (s *Service) lockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, func(), error) {
	tx, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	key, err := domain.NewPairKey(tx.RequesterID, tx.PeerID)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := s.locks.Lock(ctx, "pair:"+key.String())
	if err != nil {
		return nil, nil, err
	}
	tx, err = s.ledger.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return tx, unlock, nil
}

// ApproveReview executes a transfer that was routed to manual review.
func (s *Service) ApproveReview(ctx context.Context, id uuid.UUID, reviewerID string) (*domain.Transaction, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return nil, domain.NewValidationError("reviewer_id", "is required")
	}
	tx, unlock, err := s.lockTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if tx.Status != domain.StatusPendingReview {
		return tx, fmt.Errorf("%w: transaction %s is %s, not pending review", domain.ErrInvalidTransition, tx.ID, tx.Status)
	}
	tx.ReviewerID = &reviewerID
	s.logger.Info("manual review approved", "transaction_id", tx.ID, "reviewer_id", reviewerID)
	return s.execute(ctx, tx, domain.StatusPendingReview)
}

// CancelReview cancels a transfer that is still waiting for manual review. Transfers already
// executing or finished cannot be cancelled.
func (s *Service) CancelReview(ctx context.Context, id uuid.UUID, reviewerID, reason string) (*domain.Transaction, error) {
	tx, unlock, err := s.lockTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := tx.Transition(domain.StatusCancelled, s.now()); err != nil {
		return tx, err
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "cancelled during manual review"
	}
	tx.FailureReason = &reason
	if reviewerID = strings.TrimSpace(reviewerID); reviewerID != "" {
		tx.ReviewerID = &reviewerID
	}
	if err := s.ledger.Update(ctx, tx, domain.StatusPendingReview); err != nil {
		return nil, fmt.Errorf("failed to cancel transaction: %w", err)
	}
	s.finish(ctx, domain.EventTransferCancelled, tx)
	s.logger.Info("manual review cancelled", "transaction_id", tx.ID, "reason", reason)
	return tx, nil
}

// ListPendingReviews returns the oldest transfers waiting for a reviewer.
func (s *Service) ListPendingReviews(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	return s.ledger.ListPendingReview(ctx, limit)
}

// HandleReviewDecision applies a decision delivered by the review queue.
func (s *Service) HandleReviewDecision(ctx context.Context, decision domain.ReviewDecision) (*domain.Transaction, error) {
	if decision.TransactionID == uuid.Nil {
		return nil, domain.NewValidationError("transaction_id", "is required")
	}
	if decision.Approve {
		return s.ApproveReview(ctx, decision.TransactionID, decision.ReviewerID)
	}
	return s.CancelReview(ctx, decision.TransactionID, decision.ReviewerID, decision.Reason)
}
