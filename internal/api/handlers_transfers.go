package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/peer-network-service/internal/app"
	"github.com/transfa/peer-network-service/internal/domain"
)

// transferRequest takes the amount in naira; it accepts a JSON number or string.
type transferRequest struct {
	TransactionID string                 `json:"transaction_id,omitempty"`
	PeerID        string                 `json:"peer_id"`
	GroupID       string                 `json:"group_id,omitempty"`
	Amount        decimal.Decimal        `json:"amount"`
	PaymentMethod string                 `json:"payment_method"`
	Details       domain.TransferDetails `json:"details"`
}

type transferResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
	Error       string              `json:"error,omitempty"`
}

// ProcessTransferHandler runs a transfer from the caller to a peer.
func (h *Handlers) ProcessTransferHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	var body transferRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeServiceError(w, r, "process_transfer", err)
		return
	}
	amount, err := toKobo("amount", body.Amount)
	if err != nil {
		h.writeServiceError(w, r, "process_transfer", err)
		return
	}
	req := domain.TransferRequest{
		RequesterID:   customerID,
		PeerID:        body.PeerID,
		GroupID:       body.GroupID,
		Amount:        amount,
		PaymentMethod: body.PaymentMethod,
		Details:       body.Details,
	}
	if raw := strings.TrimSpace(body.TransactionID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeServiceError(w, r, "process_transfer", domain.NewValidationError("transaction_id", "must be a UUID"))
			return
		}
		req.TransactionID = id
	}

	tx, err := h.service.ProcessTransaction(r.Context(), req)
	switch {
	case err != nil && tx != nil:
		// The transfer was recorded but did not complete: blocked, declined or failed.
		h.logger.Info("transfer not completed", "transaction_id", tx.ID, "status", tx.Status, "error", err)
		writeJSON(w, statusFor(err), transferResponse{Transaction: tx, Error: err.Error()})
	case err != nil:
		h.writeServiceError(w, r, "process_transfer", err)
	case tx.Status == domain.StatusPendingReview:
		writeJSON(w, http.StatusAccepted, transferResponse{Transaction: tx})
	default:
		writeJSON(w, http.StatusCreated, transferResponse{Transaction: tx})
	}
}

// GetTransferHandler returns one of the caller's transfers.
func (h *Handlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	raw := chi.URLParam(r, "transactionID")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeServiceError(w, r, "get_transfer", domain.NewValidationError("transaction_id", "must be a UUID"))
		return
	}
	tx, err := h.service.GetTransaction(r.Context(), id)
	if err == nil && tx.RequesterID != customerID && tx.PeerID != customerID {
		err = domain.NewNotFound("transaction", raw, domain.ErrTransactionNotFound)
	}
	if err != nil {
		h.writeServiceError(w, r, "get_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListTransfersHandler lists the caller's most recent transfers.
func (h *Handlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	limit, err := parseLimitParam(r)
	if err != nil {
		h.writeServiceError(w, r, "list_transfers", err)
		return
	}
	txs, err := h.service.ListTransactions(r.Context(), customerID, limit)
	if err != nil {
		h.writeServiceError(w, r, "list_transfers", err)
		return
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

// FindMatchesHandler ranks peers and groups for the caller.
func (h *Handlers) FindMatchesHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	matchType, err := app.ParseMatchType(query.Get("type"))
	if err != nil {
		h.writeServiceError(w, r, "find_matches", err)
		return
	}
	amount, err := parseAmountParam(r, "amount")
	if err != nil {
		h.writeServiceError(w, r, "find_matches", err)
		return
	}
	maxResults, err := parseCountParam(r, "max_results", 0)
	if err != nil {
		h.writeServiceError(w, r, "find_matches", err)
		return
	}

	result, err := h.service.FindMatches(r.Context(), app.MatchRequest{
		RequesterID:   customerID,
		Type:          matchType,
		Amount:        amount,
		PaymentMethod: query.Get("payment_method"),
		MaxResults:    maxResults,
	})
	if err != nil {
		h.writeServiceError(w, r, "find_matches", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DashboardHandler returns the caller's network overview.
func (h *Handlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	dashboard, err := h.service.Dashboard(r.Context(), customerID)
	if err != nil {
		h.writeServiceError(w, r, "dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}
