/**
 * @description
 * This file defines the storage contracts of the peer-network-service. The orchestrator, the group
 * registry and the matching engine only ever see these interfaces, so the in-memory stores (tests,
 * local runs) and the PostgreSQL stores are interchangeable.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: Transaction identifiers.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/peer-network-service/internal/domain"
)

// RelationshipStore holds one trust record per unordered customer pair.
type RelationshipStore interface {
	// Get returns the relationship regardless of argument order, or a NotFoundError.
	Get(ctx context.Context, a, b string) (*domain.PeerRelationship, error)
	Upsert(ctx context.Context, rel *domain.PeerRelationship) error
	// EnsureRelationship creates a neutral relationship if none exists. The bool reports creation.
	EnsureRelationship(ctx context.Context, a, b string) (*domain.PeerRelationship, bool, error)
	// Seed creates neutral relationships for the absent keys and reports how many were created.
	Seed(ctx context.Context, keys []domain.PairKey) (int, error)
	// RecordOutcome applies a transfer outcome atomically, creating the relationship lazily.
	RecordOutcome(ctx context.Context, a, b string, amount int64, method string, success bool) (*domain.PeerRelationship, error)
	ListForCustomer(ctx context.Context, customerID string) ([]*domain.PeerRelationship, error)
	// CustomersByPaymentMethod returns customers whose relationships recorded method, most recent first.
	CustomersByPaymentMethod(ctx context.Context, method string, exclude string, limit int) ([]string, error)
	Archive(ctx context.Context, a, b string) error
}

// GroupStore holds peer groups and their membership.
type GroupStore interface {
	Create(ctx context.Context, group *domain.PeerGroup) error
	Get(ctx context.Context, groupID string) (*domain.PeerGroup, error)
	FindByName(ctx context.Context, name string) (*domain.PeerGroup, error)
	ListByMember(ctx context.Context, customerID string) ([]*domain.PeerGroup, error)
	// AddMembers admits new members while keeping the group within maxMembers. Existing members are ignored.
	AddMembers(ctx context.Context, groupID string, members []string, maxMembers int) (*domain.PeerGroup, []string, error)
	RecordOutcome(ctx context.Context, groupID string, amount int64, success bool) (*domain.PeerGroup, error)
}

// TransactionLedger is the audit trail of transfers and the source of allocation totals.
type TransactionLedger interface {
	Save(ctx context.Context, tx *domain.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// Update persists tx only if the stored status is still from.
	Update(ctx context.Context, tx *domain.Transaction, from domain.TransferStatus) error
	// SumAmounts totals the requester's allocation-reserving transfers created since the given time.
	SumAmounts(ctx context.Context, customerID string, since time.Time) (int64, error)
	SumGroupAmounts(ctx context.Context, groupID string, since time.Time) (int64, error)
	// CountSince counts every transfer the customer initiated since the given time.
	CountSince(ctx context.Context, customerID string, since time.Time) (int, error)
	// CompletedCounts returns per-customer counts of completed transfers on either side since the given time.
	CompletedCounts(ctx context.Context, since time.Time) (map[string]int, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*domain.Transaction, error)
	ListPendingReview(ctx context.Context, limit int) ([]*domain.Transaction, error)
}
