package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTransferRequest_Validate(t *testing.T) {
	cases := []struct {
		name  string
		req   TransferRequest
		field string
	}{
		{"missing requester", TransferRequest{PeerID: "b", Amount: 1, PaymentMethod: "card"}, "requester_id"},
		{"self transfer", TransferRequest{RequesterID: "a", PeerID: "a", Amount: 1, PaymentMethod: "card"}, "peer_id"},
		{"zero amount", TransferRequest{RequesterID: "a", PeerID: "b", PaymentMethod: "card"}, "amount"},
		{"missing method", TransferRequest{RequesterID: "a", PeerID: "b", Amount: 5}, "payment_method"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			var vErr *ValidationError
			if !errors.As(err, &vErr) || vErr.Field != tc.field {
				t.Fatalf("expected ValidationError on %s, got %v", tc.field, err)
			}
		})
	}

	ok := TransferRequest{RequesterID: " a ", PeerID: "b", Amount: 5, PaymentMethod: " Card "}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok.RequesterID != "a" || ok.PaymentMethod != "card" {
		t.Fatalf("expected normalized request, got %+v", ok)
	}
}

func TestTransaction_Transitions(t *testing.T) {
	now := time.Now()
	tx := NewTransaction(TransferRequest{RequesterID: "a", PeerID: "b", Amount: 10, PaymentMethod: "card"}, now)
	if tx.Status != StatusCreated {
		t.Fatalf("expected created, got %s", tx.Status)
	}

	for _, next := range []TransferStatus{StatusMatched, StatusRiskChecked, StatusPendingReview, StatusCancelled} {
		if err := tx.Transition(next, now); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}
	if tx.CompletedAt == nil {
		t.Fatalf("expected terminal stamp after cancellation")
	}
	if err := tx.Transition(StatusExecuting, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransaction_ExecutingCannotBeCancelled(t *testing.T) {
	if StatusExecuting.CanTransitionTo(StatusCancelled) {
		t.Fatalf("executing transfers must not be cancellable")
	}
	if StatusCompleted.CanTransitionTo(StatusCancelled) {
		t.Fatalf("completed transfers must not be cancellable")
	}
}

func TestTransferStatus_ReservesAllocation(t *testing.T) {
	for _, s := range ReservingStatuses() {
		if !s.ReservesAllocation() {
			t.Fatalf("%s should reserve allocation", s)
		}
	}
	for _, s := range []TransferStatus{StatusFailed, StatusBlocked, StatusCancelled} {
		if s.ReservesAllocation() {
			t.Fatalf("%s should not reserve allocation", s)
		}
	}
}

func TestRiskDecision_Status(t *testing.T) {
	if RiskBlocked.Status() != StatusBlocked || RiskPendingReview.Status() != StatusPendingReview || RiskAutoApproved.Status() != StatusAutoApproved {
		t.Fatalf("unexpected decision mapping")
	}
}
