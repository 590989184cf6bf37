package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the events exchange.
const (
	EventTransferCompleted      = "peer.transfer.completed"
	EventTransferFailed         = "peer.transfer.failed"
	EventTransferBlocked        = "peer.transfer.blocked"
	EventTransferReviewRequired = "peer.transfer.review_required"
	EventTransferCancelled      = "peer.transfer.cancelled"
	EventGroupCreated           = "peer.group.created"
)

// TransferEvent is the payload of every peer.transfer.* message.
type TransferEvent struct {
	EventID       uuid.UUID      `json:"event_id"`
	TransactionID uuid.UUID      `json:"transaction_id"`
	RequesterID   string         `json:"requester_id"`
	PeerID        string         `json:"peer_id"`
	GroupID       string         `json:"group_id,omitempty"`
	Amount        int64          `json:"amount"`
	PaymentMethod string         `json:"payment_method"`
	Status        TransferStatus `json:"status"`
	RiskScore     float64        `json:"risk_score"`
	Reason        string         `json:"reason,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// NewTransferEvent snapshots a transaction into an event payload.
func NewTransferEvent(tx *Transaction, at time.Time) TransferEvent {
	ev := TransferEvent{
		EventID:       uuid.New(),
		TransactionID: tx.ID,
		RequesterID:   tx.RequesterID,
		PeerID:        tx.PeerID,
		GroupID:       tx.GroupID,
		Amount:        tx.Amount,
		PaymentMethod: tx.PaymentMethod,
		Status:        tx.Status,
		OccurredAt:    at,
	}
	if tx.Risk != nil {
		ev.RiskScore = tx.Risk.Score
	}
	if tx.FailureReason != nil {
		ev.Reason = *tx.FailureReason
	}
	return ev
}

// GroupCreatedEvent is the payload of peer.group.created.
type GroupCreatedEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	GroupID    string    `json:"group_id"`
	Name       string    `json:"name"`
	Type       GroupType `json:"type"`
	CreatorID  string    `json:"creator_id"`
	Members    []string  `json:"members"`
	Automatic  bool      `json:"automatic"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReviewDecision is consumed from the review queue and resolves a pending transfer.
type ReviewDecision struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Approve       bool      `json:"approve"`
	ReviewerID    string    `json:"reviewer_id"`
	Reason        string    `json:"reason,omitempty"`
}

// Outcome is the trust-affecting result of a transfer, handed to outcome observers.
type Outcome struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	RequesterID   string    `json:"requester_id"`
	PeerID        string    `json:"peer_id"`
	GroupIDs      []string  `json:"group_ids"`
	Amount        int64     `json:"amount"`
	PaymentMethod string    `json:"payment_method"`
	Success       bool      `json:"success"`
	TrustScore    float64   `json:"trust_score"`
	At            time.Time `json:"at"`
}
