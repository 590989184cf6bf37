/**
 * @description
 * Error taxonomy shared by the stores, the resilience layer and the transfer orchestrator.
 * Callers match on these with errors.As / errors.Is; the API layer maps them to status codes.
 *
 * @notes
 * - ValidationError, LimitExceededError and RiskBlockedError are returned synchronously and
 *   are never retried.
 * - ExecutionError is the only retryable class.
 */

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRelationshipNotFound = errors.New("relationship not found")
	ErrGroupNotFound        = errors.New("group not found")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrInvalidTransition    = errors.New("invalid transaction state transition")
	ErrTransferDeclined     = errors.New("transfer declined by executor")
)

// ValidationError reports a malformed request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidationError is a shorthand used by request validators.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError wraps one of the not-found sentinels with the missing identifier.
type NotFoundError struct {
	Kind string
	ID   string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// NewNotFound builds a NotFoundError for the given sentinel.
func NewNotFound(kind, id string, sentinel error) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id, Err: sentinel}
}

// InsufficientTrustError is returned when a customer's profile trust score is below a rule threshold.
type InsufficientTrustError struct {
	CustomerID string
	Score      float64
	Required   float64
}

func (e *InsufficientTrustError) Error() string {
	return fmt.Sprintf("customer %s trust score %.0f is below required %.0f", e.CustomerID, e.Score, e.Required)
}

// VipRequiredError is returned when a vip-only group admits a non-vip customer.
type VipRequiredError struct {
	CustomerID string
	GroupType  GroupType
}

func (e *VipRequiredError) Error() string {
	return fmt.Sprintf("customer %s must hold a vip tier to join a %s group", e.CustomerID, e.GroupType)
}

// MembershipError aggregates per-member admission failures so a rejected group creation reports
// every violator at once.
type MembershipError struct {
	Violations []error
}

func (e *MembershipError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Error())
	}
	return "membership rejected: " + strings.Join(parts, "; ")
}

// Unwrap exposes every violation to errors.As.
func (e *MembershipError) Unwrap() []error { return e.Violations }

// Limit scopes reported by LimitExceededError.
const (
	LimitScopeDaily          = "customer_daily"
	LimitScopeMonthly        = "customer_monthly"
	LimitScopeGroupDaily     = "group_daily"
	LimitScopeTransactionMin = "transaction_min"
	LimitScopeTransactionMax = "transaction_max"
	LimitScopeGroupMembers   = "group_members"
)

// LimitExceededError is returned when an allocation ceiling would be crossed.
type LimitExceededError struct {
	Scope     string
	SubjectID string
	Limit     int64
	Current   int64
	Requested int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded for %s: limit=%d current=%d requested=%d", e.Scope, e.SubjectID, e.Limit, e.Current, e.Requested)
}

// RiskBlockedError is returned when the risk assessor refuses automatic execution.
type RiskBlockedError struct {
	TransactionID string
	Score         float64
	Reasons       []string
}

func (e *RiskBlockedError) Error() string {
	return fmt.Sprintf("transaction %s blocked by risk assessment (score %.0f): %s", e.TransactionID, e.Score, strings.Join(e.Reasons, ", "))
}

// RateLimitedError is returned when an identifier exhausts its window quota.
type RateLimitedError struct {
	Key        string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit of %d per window exceeded for %s; retry after %s", e.Limit, e.Key, e.RetryAfter)
}

// CircuitOpenError is returned without attempting the call while a breaker is open.
type CircuitOpenError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s; retry after %s", e.Operation, e.RetryAfter)
}

// ExecutionError is a transient executor failure (network, timeout, 5xx).
type ExecutionError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsRetryable reports whether err belongs to the transient execution class.
func IsRetryable(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr)
}

// IsNotFound reports whether err is any not-found condition.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	return errors.Is(err, ErrRelationshipNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
