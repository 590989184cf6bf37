/**
 * @description
 * This file contains the shared pieces of the peer-network-service HTTP handlers: the handler
 * set, JSON helpers, amount parsing and the mapping from domain errors to status codes.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Parses major-unit amounts into kobo without float rounding.
 * - internal/app, internal/domain: Use cases and the error taxonomy.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/transfa/peer-network-service/internal/app"
	"github.com/transfa/peer-network-service/internal/domain"
	"github.com/transfa/peer-network-service/internal/graph"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// TieReader reads a customer's strongest ties from the trust graph.
type TieReader interface {
	Ties(ctx context.Context, customerID string, minTrust float64, limit int) ([]graph.Tie, error)
}

// Handlers holds the application services the HTTP handlers use.
type Handlers struct {
	service *app.Service
	former  app.GroupFormer
	ties    TieReader
	logger  *slog.Logger
}

// NewHandlers creates the handler set. former and ties may be nil; their routes then answer 503.
func NewHandlers(service *app.Service, former app.GroupFormer, ties TieReader, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, former: former, ties: ties, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.NewValidationError("body", fmt.Sprintf("is invalid: %v", err))
	}
	return nil
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	var (
		validation  *domain.ValidationError
		trust       *domain.InsufficientTrustError
		vip         *domain.VipRequiredError
		membership  *domain.MembershipError
		limit       *domain.LimitExceededError
		blocked     *domain.RiskBlockedError
		rateLimited *domain.RateLimitedError
		circuit     *domain.CircuitOpenError
		execution   *domain.ExecutionError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &membership), errors.As(err, &trust), errors.As(err, &vip), errors.As(err, &blocked):
		return http.StatusForbidden
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &limit):
		return http.StatusUnprocessableEntity
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &circuit):
		return http.StatusServiceUnavailable
	case errors.As(err, &execution), errors.Is(err, domain.ErrTransferDeclined):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes the mapped status for err. Server-side failures are logged and
// reported without internal detail.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := statusFor(err)
	var rateLimited *domain.RateLimitedError
	var circuit *domain.CircuitOpenError
	switch {
	case errors.As(err, &rateLimited):
		setRetryAfter(w, rateLimited.RetryAfter.Seconds())
	case errors.As(err, &circuit):
		setRetryAfter(w, circuit.RetryAfter.Seconds())
	}

	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		h.logger.Error("request failed", "endpoint", endpoint, "path", r.URL.Path, "error", err)
		writeError(w, status, "Internal server error")
		return
	}
	h.logger.Info("request rejected", "endpoint", endpoint, "status", status, "error", err)
	writeError(w, status, err.Error())
}

func setRetryAfter(w http.ResponseWriter, seconds float64) {
	if seconds <= 0 {
		return
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(seconds))))
}

// toKobo converts a major-unit amount to minor units. More than two decimal places is rejected.
func toKobo(field string, amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, domain.NewValidationError(field, "must have at most two decimal places")
	}
	if minor.Sign() <= 0 {
		return 0, domain.NewValidationError(field, "must be positive")
	}
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, domain.NewValidationError(field, "is too large")
	}
	return minor.IntPart(), nil
}

// parseAmountParam reads an optional major-unit amount from the query string.
func parseAmountParam(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, domain.NewValidationError(name, "must be a decimal amount")
	}
	return toKobo(name, amount)
}

func parseLimitParam(r *http.Request) (int, error) {
	return parseCountParam(r, "limit", defaultListLimit)
}

// parseCountParam reads an optional positive integer, capped at maxListLimit.
func parseCountParam(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, domain.NewValidationError(name, "must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

func (h *Handlers) customerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	customerID, ok := GetCustomerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get customer ID from context")
		return "", false
	}
	return customerID, true
}
