/**
 * @description
 * Transfer models for the peer-network-service: the ephemeral TransferRequest, the persisted
 * Transaction audit record and the state machine that governs it.
 *
 * @notes
 * - Amounts are `int64` minor units (kobo), matching the rest of the platform.
 * - TransferDetails is a closed struct; there is no free-form metadata bag.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransferStatus is the lifecycle state of a transaction.
type TransferStatus string

const (
	StatusCreated       TransferStatus = "created"
	StatusMatched       TransferStatus = "matched"
	StatusRiskChecked   TransferStatus = "risk_checked"
	StatusAutoApproved  TransferStatus = "auto_approved"
	StatusPendingReview TransferStatus = "pending_manual_review"
	StatusBlocked       TransferStatus = "blocked"
	StatusExecuting     TransferStatus = "executing"
	StatusCompleted     TransferStatus = "completed"
	StatusFailed        TransferStatus = "failed"
	StatusCancelled     TransferStatus = "cancelled"
)

var allowedTransitions = map[TransferStatus][]TransferStatus{
	StatusCreated:       {StatusMatched, StatusFailed},
	StatusMatched:       {StatusRiskChecked, StatusFailed},
	StatusRiskChecked:   {StatusAutoApproved, StatusPendingReview, StatusBlocked},
	StatusAutoApproved:  {StatusExecuting},
	StatusPendingReview: {StatusExecuting, StatusCancelled},
	StatusExecuting:     {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s TransferStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// ReservesAllocation reports whether a transaction in this state counts against allocation caps.
func (s TransferStatus) ReservesAllocation() bool {
	switch s {
	case StatusBlocked, StatusFailed, StatusCancelled:
		return false
	default:
		return true
	}
}

// ReservingStatuses lists every status that counts against allocation caps.
func ReservingStatuses() []TransferStatus {
	return []TransferStatus{StatusCreated, StatusMatched, StatusRiskChecked, StatusAutoApproved, StatusPendingReview, StatusExecuting, StatusCompleted}
}

// TransferDetails are the payment details supplied with a transfer.
type TransferDetails struct {
	SenderAddress    string `json:"sender_address,omitempty"`
	RecipientAddress string `json:"recipient_address,omitempty"`
	Country          string `json:"country,omitempty"`
	Reference        string `json:"reference,omitempty"`
	Narration        string `json:"narration,omitempty"`
}

// TransferRequest is one match-and-execute cycle's input.
type TransferRequest struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	RequesterID   string          `json:"requester_id"`
	PeerID        string          `json:"peer_id"`
	GroupID       string          `json:"group_id,omitempty"`
	Amount        int64           `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	Details       TransferDetails `json:"details"`
}

// Validate checks the request shape. It does not consult any store.
func (r *TransferRequest) Validate() error {
	r.RequesterID = strings.TrimSpace(r.RequesterID)
	r.PeerID = strings.TrimSpace(r.PeerID)
	r.GroupID = strings.TrimSpace(r.GroupID)
	r.PaymentMethod = NormalizePaymentMethod(r.PaymentMethod)
	if r.RequesterID == "" {
		return NewValidationError("requester_id", "is required")
	}
	if r.PeerID == "" {
		return NewValidationError("peer_id", "is required")
	}
	if r.RequesterID == r.PeerID {
		return NewValidationError("peer_id", "must differ from requester")
	}
	if r.Amount <= 0 {
		return NewValidationError("amount", "must be positive")
	}
	if r.PaymentMethod == "" {
		return NewValidationError("payment_method", "is required")
	}
	return nil
}

// Transaction is the audit record of a transfer.
type Transaction struct {
	ID                uuid.UUID       `json:"id"`
	RequesterID       string          `json:"requester_id"`
	PeerID            string          `json:"peer_id"`
	GroupID           string          `json:"group_id,omitempty"`
	Amount            int64           `json:"amount"`
	PaymentMethod     string          `json:"payment_method"`
	Details           TransferDetails `json:"details"`
	Status            TransferStatus  `json:"status"`
	Risk              *RiskAssessment `json:"risk,omitempty"`
	Attempts          int             `json:"attempts"`
	ExecutorReference *string         `json:"executor_reference,omitempty"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	ReviewerID        *string         `json:"reviewer_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// NewTransaction builds the created-state record for a validated request.
func NewTransaction(req TransferRequest, now time.Time) *Transaction {
	id := req.TransactionID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Transaction{
		ID:            id,
		RequesterID:   req.RequesterID,
		PeerID:        req.PeerID,
		GroupID:       req.GroupID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Details:       req.Details,
		Status:        StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Request rebuilds the executor request for a persisted transaction.
func (t *Transaction) Request() TransferRequest {
	return TransferRequest{
		TransactionID: t.ID,
		RequesterID:   t.RequesterID,
		PeerID:        t.PeerID,
		GroupID:       t.GroupID,
		Amount:        t.Amount,
		PaymentMethod: t.PaymentMethod,
		Details:       t.Details,
	}
}

// Transition moves the transaction to next, rejecting illegal edges.
func (t *Transaction) Transition(next TransferStatus, at time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = at
	if next.IsTerminal() {
		stamp := at
		t.CompletedAt = &stamp
	}
	return nil
}

// Fail moves the transaction to failed with a reason.
func (t *Transaction) Fail(reason string, at time.Time) error {
	if err := t.Transition(StatusFailed, at); err != nil {
		return err
	}
	t.FailureReason = &reason
	return nil
}

// Clone returns a copy safe to hand out of a ledger.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	out := *t
	if t.Risk != nil {
		risk := *t.Risk
		risk.Reasons = append([]string(nil), t.Risk.Reasons...)
		out.Risk = &risk
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		out.CompletedAt = &c
	}
	return &out
}

// ExecutionResult is the transfer executor's answer for one attempt.
type ExecutionResult struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message,omitempty"`
}
