/**
 * @description
 * This file provides the PostgreSQL backing for the peer-network-service stores. A single
 * PostgresRepository owns the pool and hands out the relationship, group and ledger stores.
 *
 * @dependencies
 * - context, embed, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Read-modify-write paths (outcome recording, membership changes) run inside a transaction
 *   with `SELECT ... FOR UPDATE` so concurrent service instances never lose an update.
 */

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolationCode = "23505"

// PostgresRepository groups the PostgreSQL stores around one connection pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the service tables if they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Relationships returns the relationship store backed by this pool.
func (r *PostgresRepository) Relationships() *PostgresRelationshipStore {
	return &PostgresRelationshipStore{db: r.db}
}

// Groups returns the group store backed by this pool.
func (r *PostgresRepository) Groups() *PostgresGroupStore {
	return &PostgresGroupStore{db: r.db}
}

// Ledger returns the transaction ledger backed by this pool.
func (r *PostgresRepository) Ledger() *PostgresLedger {
	return &PostgresLedger{db: r.db}
}

// Ping verifies connectivity for readiness checks.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
