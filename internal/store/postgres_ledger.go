package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/peer-network-service/internal/domain"
)

const transactionColumns = `id, requester_id, peer_id, group_id, amount, payment_method, details, status, risk,
	attempts, executor_reference, failure_reason, reviewer_id, created_at, updated_at, completed_at`

// PostgresLedger implements TransactionLedger on the peer_transactions table.
type PostgresLedger struct {
	db *pgxpool.Pool
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var groupID *string
	var status string
	var details, risk []byte
	err := row.Scan(
		&tx.ID,
		&tx.RequesterID,
		&tx.PeerID,
		&groupID,
		&tx.Amount,
		&tx.PaymentMethod,
		&details,
		&status,
		&risk,
		&tx.Attempts,
		&tx.ExecutorReference,
		&tx.FailureReason,
		&tx.ReviewerID,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&tx.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if groupID != nil {
		tx.GroupID = *groupID
	}
	tx.Status = domain.TransferStatus(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &tx.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details for transaction %s: %w", tx.ID, err)
		}
	}
	if len(risk) > 0 {
		var assessment domain.RiskAssessment
		if err := json.Unmarshal(risk, &assessment); err != nil {
			return nil, fmt.Errorf("failed to decode risk for transaction %s: %w", tx.ID, err)
		}
		tx.Risk = &assessment
	}
	return &tx, nil
}

// encodeTransaction renders the nullable and JSONB columns. JSON travels as text so it encodes the
// same way under the simple protocol.
func encodeTransaction(tx *domain.Transaction) (groupID *string, details string, risk *string, err error) {
	if tx.GroupID != "" {
		id := tx.GroupID
		groupID = &id
	}
	raw, err := json.Marshal(tx.Details)
	if err != nil {
		return nil, "", nil, err
	}
	details = string(raw)
	if tx.Risk != nil {
		raw, err = json.Marshal(tx.Risk)
		if err != nil {
			return nil, "", nil, err
		}
		encoded := string(raw)
		risk = &encoded
	}
	return groupID, details, risk, nil
}

// Save inserts a new transaction record.
func (l *PostgresLedger) Save(ctx context.Context, tx *domain.Transaction) error {
	groupID, details, risk, err := encodeTransaction(tx)
	if err != nil {
		return err
	}
	query := `INSERT INTO peer_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = l.db.Exec(ctx, query,
		tx.ID, tx.RequesterID, tx.PeerID, groupID, tx.Amount, tx.PaymentMethod, details, string(tx.Status), risk,
		tx.Attempts, tx.ExecutorReference, tx.FailureReason, tx.ReviewerID, tx.CreatedAt, tx.UpdatedAt, tx.CompletedAt)
	return err
}

// Get retrieves a transaction by id.
func (l *PostgresLedger) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM peer_transactions WHERE id = $1`
	tx, err := scanTransaction(l.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewNotFound("transaction", id.String(), domain.ErrTransactionNotFound)
		}
		return nil, err
	}
	return tx, nil
}

// Update writes the mutable fields only while the stored status still equals from.
func (l *PostgresLedger) Update(ctx context.Context, tx *domain.Transaction, from domain.TransferStatus) error {
	_, _, risk, err := encodeTransaction(tx)
	if err != nil {
		return err
	}
	tag, err := l.db.Exec(ctx, `
		UPDATE peer_transactions SET
			status = $3,
			risk = $4,
			attempts = $5,
			executor_reference = $6,
			failure_reason = $7,
			reviewer_id = $8,
			updated_at = $9,
			completed_at = $10
		WHERE id = $1 AND status = $2
	`, tx.ID, string(from), string(tx.Status), risk, tx.Attempts, tx.ExecutorReference, tx.FailureReason, tx.ReviewerID, tx.UpdatedAt, tx.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := l.Get(ctx, tx.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: transaction %s is %s, expected %s", domain.ErrInvalidTransition, tx.ID, current.Status, from)
}

func reservingStatusNames() []string {
	statuses := domain.ReservingStatuses()
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

// SumAmounts totals the requester's allocation-reserving transfers since the given time.
func (l *PostgresLedger) SumAmounts(ctx context.Context, customerID string, since time.Time) (int64, error) {
	var total int64
	err := l.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM peer_transactions
		WHERE requester_id = $1 AND created_at >= $2 AND status = ANY($3)
	`, customerID, since, reservingStatusNames()).Scan(&total)
	return total, err
}

// SumGroupAmounts totals allocation-reserving transfers attributed to the group since the given time.
func (l *PostgresLedger) SumGroupAmounts(ctx context.Context, groupID string, since time.Time) (int64, error) {
	var total int64
	err := l.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM peer_transactions
		WHERE group_id = $1 AND created_at >= $2 AND status = ANY($3)
	`, groupID, since, reservingStatusNames()).Scan(&total)
	return total, err
}

// CountSince counts transfers initiated by the customer since the given time.
func (l *PostgresLedger) CountSince(ctx context.Context, customerID string, since time.Time) (int, error) {
	var count int
	err := l.db.QueryRow(ctx, `SELECT COUNT(*) FROM peer_transactions WHERE requester_id = $1 AND created_at >= $2`, customerID, since).Scan(&count)
	return count, err
}

// CompletedCounts returns per-customer completed transfer counts on either side since the given time.
func (l *PostgresLedger) CompletedCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := l.db.Query(ctx, `
		SELECT customer_id, COUNT(*) FROM (
			SELECT requester_id AS customer_id FROM peer_transactions WHERE status = 'completed' AND created_at >= $1
			UNION ALL
			SELECT peer_id AS customer_id FROM peer_transactions WHERE status = 'completed' AND created_at >= $1
		) c
		GROUP BY customer_id
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

// ListByCustomer returns the customer's transfers on either side, newest first.
func (l *PostgresLedger) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + transactionColumns + ` FROM peer_transactions
		WHERE requester_id = $1 OR peer_id = $1 ORDER BY created_at DESC LIMIT $2`
	return l.list(ctx, query, customerID, limit)
}

// ListPendingReview returns transfers awaiting manual review, oldest first.
func (l *PostgresLedger) ListPendingReview(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + transactionColumns + ` FROM peer_transactions
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	return l.list(ctx, query, string(domain.StatusPendingReview), limit)
}

func (l *PostgresLedger) list(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
