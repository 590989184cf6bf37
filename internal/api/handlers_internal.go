package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/transfa/peer-network-service/internal/domain"
)

type archiveRelationshipRequest struct {
	CustomerA string `json:"customer_a"`
	CustomerB string `json:"customer_b"`
}

type reviewDecisionRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Reason     string `json:"reason,omitempty"`
}

func parseTransactionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		return uuid.Nil, domain.NewValidationError("transaction_id", "must be a UUID")
	}
	return id, nil
}

// ListPendingReviewsHandler lists transfers waiting for a reviewer, oldest first.
func (h *Handlers) ListPendingReviewsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitParam(r)
	if err != nil {
		h.writeServiceError(w, r, "list_reviews", err)
		return
	}
	pending, err := h.service.ListPendingReviews(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, "list_reviews", err)
		return
	}
	if pending == nil {
		pending = []*domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": pending})
}

// ApproveReviewHandler executes a pending transfer.
func (h *Handlers) ApproveReviewHandler(w http.ResponseWriter, r *http.Request) {
	h.decideReview(w, r, true)
}

// CancelReviewHandler cancels a pending transfer.
func (h *Handlers) CancelReviewHandler(w http.ResponseWriter, r *http.Request) {
	h.decideReview(w, r, false)
}

func (h *Handlers) decideReview(w http.ResponseWriter, r *http.Request, approve bool) {
	endpoint := "cancel_review"
	if approve {
		endpoint = "approve_review"
	}
	id, err := parseTransactionID(r)
	if err != nil {
		h.writeServiceError(w, r, endpoint, err)
		return
	}
	var req reviewDecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeServiceError(w, r, endpoint, err)
		return
	}

	tx, err := h.service.HandleReviewDecision(r.Context(), domain.ReviewDecision{
		TransactionID: id,
		Approve:       approve,
		ReviewerID:    req.ReviewerID,
		Reason:        req.Reason,
	})
	if err != nil {
		if tx != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			writeJSON(w, statusFor(err), transferResponse{Transaction: tx, Error: err.Error()})
			return
		}
		h.writeServiceError(w, r, endpoint, err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{Transaction: tx})
}

// AutoFormGroupsHandler runs one auto-grouping pass on demand.
func (h *Handlers) AutoFormGroupsHandler(w http.ResponseWriter, r *http.Request) {
	if h.former == nil {
		writeError(w, http.StatusServiceUnavailable, "Auto-grouping is not enabled")
		return
	}
	report, err := h.former.AutoFormGroups(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "auto_form_groups", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ArchiveRelationshipHandler retires a pair from matching without deleting its history.
func (h *Handlers) ArchiveRelationshipHandler(w http.ResponseWriter, r *http.Request) {
	var req archiveRelationshipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeServiceError(w, r, "archive_relationship", err)
		return
	}
	rel, err := h.service.ArchiveRelationship(r.Context(), req.CustomerA, req.CustomerB)
	if err != nil {
		h.writeServiceError(w, r, "archive_relationship", err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// CircuitStatusHandler reports the executor circuit breakers.
func (h *Handlers) CircuitStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"circuits": h.service.CircuitStatus()})
}

// NetworkTiesHandler returns the caller's strongest ties from the trust graph.
func (h *Handlers) NetworkTiesHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	if h.ties == nil {
		writeError(w, http.StatusServiceUnavailable, "Trust graph is not configured")
		return
	}
	minTrust := 0.0
	if raw := strings.TrimSpace(r.URL.Query().Get("min_trust")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 100 {
			h.writeServiceError(w, r, "network_ties", domain.NewValidationError("min_trust", "must be within [0,100]"))
			return
		}
		minTrust = v
	}
	limit, err := parseCountParam(r, "limit", 20)
	if err != nil {
		h.writeServiceError(w, r, "network_ties", err)
		return
	}

	ties, err := h.ties.Ties(r.Context(), customerID, minTrust, limit)
	if err != nil {
		h.writeServiceError(w, r, "network_ties", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ties": ties})
}
