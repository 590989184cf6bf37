package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/peer-network-service/internal/domain"
)

const relationshipColumns = `customer_a, customer_b, trust_score, total_transactions, successful_transactions,
	total_volume, average_amount, response_time_minutes, reliability_score, common_payment_methods,
	last_transaction_at, archived, created_at, updated_at`

// PostgresRelationshipStore implements RelationshipStore on the peer_relationships table.
type PostgresRelationshipStore struct {
	db *pgxpool.Pool
}

func scanRelationship(row pgx.Row) (*domain.PeerRelationship, error) {
	var rel domain.PeerRelationship
	var methods []string
	err := row.Scan(
		&rel.CustomerA,
		&rel.CustomerB,
		&rel.TrustScore,
		&rel.TotalTransactions,
		&rel.SuccessfulTransactions,
		&rel.TotalVolume,
		&rel.AverageAmount,
		&rel.ResponseTimeMinutes,
		&rel.ReliabilityScore,
		&methods,
		&rel.LastTransactionAt,
		&rel.Archived,
		&rel.CreatedAt,
		&rel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rel.CommonPaymentMethods = domain.NewPaymentMethods(methods...)
	return &rel, nil
}

// Get retrieves the relationship for the unordered pair.
func (s *PostgresRelationshipStore) Get(ctx context.Context, a, b string) (*domain.PeerRelationship, error) {
	key, err := domain.NewPairKey(a, b)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + relationshipColumns + ` FROM peer_relationships WHERE customer_a = $1 AND customer_b = $2`
	rel, err := scanRelationship(s.db.QueryRow(ctx, query, key.A, key.B))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewNotFound("relationship", key.String(), domain.ErrRelationshipNotFound)
		}
		return nil, err
	}
	return rel, nil
}

// Upsert writes the full relationship record.
func (s *PostgresRelationshipStore) Upsert(ctx context.Context, rel *domain.PeerRelationship) error {
	key, err := domain.NewPairKey(rel.CustomerA, rel.CustomerB)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO peer_relationships (` + relationshipColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (customer_a, customer_b) DO UPDATE SET
			trust_score = EXCLUDED.trust_score,
			total_transactions = EXCLUDED.total_transactions,
			successful_transactions = EXCLUDED.successful_transactions,
			total_volume = EXCLUDED.total_volume,
			average_amount = EXCLUDED.average_amount,
			response_time_minutes = EXCLUDED.response_time_minutes,
			reliability_score = EXCLUDED.reliability_score,
			common_payment_methods = EXCLUDED.common_payment_methods,
			last_transaction_at = EXCLUDED.last_transaction_at,
			archived = EXCLUDED.archived,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.Exec(ctx, query,
		key.A,
		key.B,
		domain.ClampScore(rel.TrustScore),
		rel.TotalTransactions,
		rel.SuccessfulTransactions,
		rel.TotalVolume,
		rel.AverageAmount,
		rel.ResponseTimeMinutes,
		domain.ClampScore(rel.ReliabilityScore),
		rel.CommonPaymentMethods.List(),
		rel.LastTransactionAt,
		rel.Archived,
		rel.CreatedAt,
		rel.UpdatedAt,
	)
	return err
}

// EnsureRelationship inserts a neutral record for the pair when none exists.
func (s *PostgresRelationshipStore) EnsureRelationship(ctx context.Context, a, b string) (*domain.PeerRelationship, bool, error) {
	key, err := domain.NewPairKey(a, b)
	if err != nil {
		return nil, false, err
	}
	rel := domain.NewPeerRelationship(key, time.Now().UTC())
	query := `
		INSERT INTO peer_relationships (customer_a, customer_b, trust_score, reliability_score, response_time_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (customer_a, customer_b) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query, key.A, key.B, rel.TrustScore, rel.ReliabilityScore, rel.ResponseTimeMinutes, rel.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
		return rel, true, nil
	}
	existing, err := s.Get(ctx, key.A, key.B)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Seed creates neutral records for every absent pair in one batch and reports how many were created.
func (s *PostgresRelationshipStore) Seed(ctx context.Context, keys []domain.PairKey) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO peer_relationships (customer_a, customer_b, trust_score, reliability_score, response_time_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (customer_a, customer_b) DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, key := range keys {
		batch.Queue(query, key.A, key.B, domain.DefaultRelationshipTrust, domain.DefaultRelationshipReliability, domain.DefaultResponseTimeMinutes, now)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for range keys {
		tag, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("failed to seed relationship: %w", err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// RecordOutcome locks the pair row, applies the outcome deltas and writes it back.
func (s *PostgresRelationshipStore) RecordOutcome(ctx context.Context, a, b string, amount int64, method string, success bool) (*domain.PeerRelationship, error) {
	key, err := domain.NewPairKey(a, b)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO peer_relationships (customer_a, customer_b, trust_score, reliability_score, response_time_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (customer_a, customer_b) DO NOTHING
	`, key.A, key.B, domain.DefaultRelationshipTrust, domain.DefaultRelationshipReliability, domain.DefaultResponseTimeMinutes, now)
	if err != nil {
		return nil, err
	}

	// Use FOR UPDATE to serialize concurrent outcome updates on the same pair.
	query := `SELECT ` + relationshipColumns + ` FROM peer_relationships WHERE customer_a = $1 AND customer_b = $2 FOR UPDATE`
	rel, err := scanRelationship(tx.QueryRow(ctx, query, key.A, key.B))
	if err != nil {
		return nil, err
	}
	rel.ApplyOutcome(amount, method, success, now)

	_, err = tx.Exec(ctx, `
		UPDATE peer_relationships SET
			trust_score = $3,
			total_transactions = $4,
			successful_transactions = $5,
			total_volume = $6,
			average_amount = $7,
			reliability_score = $8,
			common_payment_methods = $9,
			last_transaction_at = $10,
			updated_at = $10
		WHERE customer_a = $1 AND customer_b = $2
	`, key.A, key.B, rel.TrustScore, rel.TotalTransactions, rel.SuccessfulTransactions, rel.TotalVolume,
		rel.AverageAmount, rel.ReliabilityScore, rel.CommonPaymentMethods.List(), now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rel, nil
}

// ListForCustomer returns every relationship involving the customer.
func (s *PostgresRelationshipStore) ListForCustomer(ctx context.Context, customerID string) ([]*domain.PeerRelationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM peer_relationships WHERE customer_a = $1 OR customer_b = $1 ORDER BY customer_a, customer_b`
	rows, err := s.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.PeerRelationship, 0)
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// CustomersByPaymentMethod returns customers whose active relationships recorded the method.
func (s *PostgresRelationshipStore) CustomersByPaymentMethod(ctx context.Context, method string, exclude string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT customer_id FROM (
			SELECT customer_a AS customer_id, updated_at FROM peer_relationships
			WHERE NOT archived AND $1 = ANY(common_payment_methods)
			UNION ALL
			SELECT customer_b AS customer_id, updated_at FROM peer_relationships
			WHERE NOT archived AND $1 = ANY(common_payment_methods)
		) c
		WHERE customer_id <> $2
		GROUP BY customer_id
		ORDER BY MAX(updated_at) DESC, customer_id
		LIMIT $3
	`
	rows, err := s.db.Query(ctx, query, domain.NormalizePaymentMethod(method), exclude, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Archive flags the relationship as archived. Records are never deleted.
func (s *PostgresRelationshipStore) Archive(ctx context.Context, a, b string) error {
	key, err := domain.NewPairKey(a, b)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE peer_relationships SET archived = TRUE, updated_at = NOW() WHERE customer_a = $1 AND customer_b = $2`, key.A, key.B)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFound("relationship", key.String(), domain.ErrRelationshipNotFound)
	}
	return nil
}
