/**
 * @description
 * Narrow interfaces for the collaborators the peer network core calls out to. The pkg/ clients
 * implement them in production; tests use hand-written stubs.
 */
package app

import (
	"context"

	"github.com/transfa/peer-network-service/internal/domain"
)

// ProfileProvider resolves customer profiles for admission checks and auto-grouping.
type ProfileProvider interface {
	GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error)
	ListProfiles(ctx context.Context) ([]domain.CustomerProfile, error)
}

// PaymentValidator scores a payment method and address. Its answer is a risk signal only.
type PaymentValidator interface {
	Validate(ctx context.Context, customerID, method, address string, amount int64, purpose string) (*domain.ValidationResult, error)
}

// TransferExecutor moves the money.
type TransferExecutor interface {
	Execute(ctx context.Context, req domain.TransferRequest) (*domain.ExecutionResult, error)
}

// GeoChecker decides whether a transfer's geography is acceptable. A false result adds risk.
type GeoChecker interface {
	Allowed(ctx context.Context, req domain.TransferRequest) (bool, string)
}

// OutcomeObserver is notified after a transfer outcome has been applied to the stores.
type OutcomeObserver interface {
	ObserveOutcome(ctx context.Context, outcome domain.Outcome) error
}

// Recorder receives operational measurements.
type Recorder interface {
	TransferFinished(status domain.TransferStatus)
	RiskAssessed(decision domain.RiskDecision, score float64)
	GroupCreated(groupType domain.GroupType, automatic bool)
	MatchesFound(peers, groups int)
}

type permissiveGeo struct{}

func (permissiveGeo) Allowed(ctx context.Context, req domain.TransferRequest) (bool, string) {
	return true, ""
}

type noopRecorder struct{}

func (noopRecorder) TransferFinished(domain.TransferStatus)    {}
func (noopRecorder) RiskAssessed(domain.RiskDecision, float64) {}
func (noopRecorder) GroupCreated(domain.GroupType, bool)       {}
func (noopRecorder) MatchesFound(int, int)                     {}
