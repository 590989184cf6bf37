package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
)

// ReviewRoutingKey is the routing key reviewers publish decisions on.
const ReviewRoutingKey = "peer.review.decided"

// ReviewDecider resolves pending manual reviews.
type ReviewDecider interface {
	HandleReviewDecision(ctx context.Context, decision domain.ReviewDecision) (*domain.Transaction, error)
}

// ReviewDecisionConsumer applies review decisions delivered over RabbitMQ.
type ReviewDecisionConsumer struct {
	decider ReviewDecider
	timeout time.Duration
	logger  *slog.Logger
}

func NewReviewDecisionConsumer(decider ReviewDecider, logger *slog.Logger) *ReviewDecisionConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewDecisionConsumer{decider: decider, timeout: 60 * time.Second, logger: logger}
}

// HandleMessage returns false only when the delivery should be re-queued.
func (c *ReviewDecisionConsumer) HandleMessage(body []byte) bool {
	var decision domain.ReviewDecision
	if err := json.Unmarshal(body, &decision); err != nil {
		c.logger.Error("review-consumer: failed to unmarshal payload", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	tx, err := c.decider.HandleReviewDecision(ctx, decision)
	if err == nil {
		c.logger.Info("review-consumer: decision applied", "transaction_id", decision.TransactionID, "status", tx.Status)
		return true
	}
	if settled(err) {
		c.logger.Warn("review-consumer: decision settled with error; acknowledging", "transaction_id", decision.TransactionID, "error", err)
		return true
	}
	c.logger.Error("review-consumer: processing error", "transaction_id", decision.TransactionID, "error", err)
	return false
}

// settled reports whether err is a final answer that a redelivery would not change.
func settled(err error) bool {
	var (
		validation *domain.ValidationError
		execErr    *domain.ExecutionError
		open       *domain.CircuitOpenError
		limited    *domain.RateLimitedError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrTransferDeclined),
		domain.IsNotFound(err),
		errors.As(err, &validation),
		errors.As(err, &execErr),
		errors.As(err, &open),
		errors.As(err, &limited):
		return true
	default:
		return false
	}
}
