package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/peer-network-service/internal/domain"
)

const groupSelect = `
	SELECT g.id, g.name, g.type, g.creator_id, g.rules, g.trust_score, g.total_transactions,
		g.successful_transactions, g.total_volume, g.success_rate, g.activity_score, g.last_activity_at,
		g.automatic, g.created_at, g.updated_at,
		COALESCE((SELECT array_agg(m.customer_id ORDER BY m.customer_id) FROM peer_group_members m WHERE m.group_id = g.id), '{}') AS members
	FROM peer_groups g
`

// PostgresGroupStore implements GroupStore on peer_groups and peer_group_members.
type PostgresGroupStore struct {
	db *pgxpool.Pool
}

func scanGroup(row pgx.Row) (*domain.PeerGroup, error) {
	var g domain.PeerGroup
	var groupType string
	var rules []byte
	err := row.Scan(
		&g.ID,
		&g.Name,
		&groupType,
		&g.CreatorID,
		&rules,
		&g.Stats.TrustScore,
		&g.Stats.TotalTransactions,
		&g.Stats.SuccessfulCount,
		&g.Stats.TotalVolume,
		&g.Stats.SuccessRate,
		&g.Stats.ActivityScore,
		&g.Stats.LastActivityAt,
		&g.Automatic,
		&g.CreatedAt,
		&g.UpdatedAt,
		&g.Members,
	)
	if err != nil {
		return nil, err
	}
	g.Type = domain.GroupType(groupType)
	if err := json.Unmarshal(rules, &g.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules for group %s: %w", g.ID, err)
	}
	return &g, nil
}

// Create inserts the group and its members in one transaction.
func (s *PostgresGroupStore) Create(ctx context.Context, group *domain.PeerGroup) error {
	rules, err := json.Marshal(group.Rules)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO peer_groups (id, name, type, creator_id, rules, trust_score, automatic, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, group.ID, group.Name, string(group.Type), group.CreatorID, string(rules), group.Stats.TrustScore, group.Automatic, group.CreatedAt, group.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewValidationError("name", "is already taken")
		}
		return err
	}
	for _, member := range group.Members {
		if _, err := tx.Exec(ctx, `INSERT INTO peer_group_members (group_id, customer_id, joined_at) VALUES ($1, $2, $3)`, group.ID, member, group.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Get retrieves a group with its members.
func (s *PostgresGroupStore) Get(ctx context.Context, groupID string) (*domain.PeerGroup, error) {
	g, err := scanGroup(s.db.QueryRow(ctx, groupSelect+` WHERE g.id = $1`, groupID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewNotFound("group", groupID, domain.ErrGroupNotFound)
		}
		return nil, err
	}
	return g, nil
}

// FindByName looks a group up by its case-insensitive name.
func (s *PostgresGroupStore) FindByName(ctx context.Context, name string) (*domain.PeerGroup, error) {
	g, err := scanGroup(s.db.QueryRow(ctx, groupSelect+` WHERE lower(g.name) = lower($1)`, name))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewNotFound("group", name, domain.ErrGroupNotFound)
		}
		return nil, err
	}
	return g, nil
}

// ListByMember returns every group the customer belongs to.
func (s *PostgresGroupStore) ListByMember(ctx context.Context, customerID string) ([]*domain.PeerGroup, error) {
	query := groupSelect + ` WHERE g.id IN (SELECT group_id FROM peer_group_members WHERE customer_id = $1) ORDER BY g.id`
	rows, err := s.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.PeerGroup, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AddMembers locks the group row, enforces the member cap and inserts the new members.
func (s *PostgresGroupStore) AddMembers(ctx context.Context, groupID string, members []string, maxMembers int) (*domain.PeerGroup, []string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM peer_groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&locked)
	if err != nil {
		if isNoRows(err) {
			return nil, nil, domain.NewNotFound("group", groupID, domain.ErrGroupNotFound)
		}
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, `SELECT customer_id FROM peer_group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, nil, err
	}
	existing := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, err
		}
		existing[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	added := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := existing[m]; ok || m == "" || containsString(added, m) {
			continue
		}
		added = append(added, m)
	}
	if maxMembers > 0 && len(existing)+len(added) > maxMembers {
		return nil, nil, &domain.LimitExceededError{
			Scope:     domain.LimitScopeGroupMembers,
			SubjectID: groupID,
			Limit:     int64(maxMembers),
			Current:   int64(len(existing)),
			Requested: int64(len(added)),
		}
	}
	sort.Strings(added)

	now := time.Now().UTC()
	for _, m := range added {
		if _, err := tx.Exec(ctx, `INSERT INTO peer_group_members (group_id, customer_id, joined_at) VALUES ($1, $2, $3)`, groupID, m, now); err != nil {
			return nil, nil, err
		}
	}
	if len(added) > 0 {
		if _, err := tx.Exec(ctx, `UPDATE peer_groups SET updated_at = $2 WHERE id = $1`, groupID, now); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	g, err := s.Get(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	return g, added, nil
}

// RecordOutcome locks the group row and applies one transfer outcome to its aggregates.
func (s *PostgresGroupStore) RecordOutcome(ctx context.Context, groupID string, amount int64, success bool) (*domain.PeerGroup, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM peer_groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&locked)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewNotFound("group", groupID, domain.ErrGroupNotFound)
		}
		return nil, err
	}
	g, err := scanGroup(tx.QueryRow(ctx, groupSelect+` WHERE g.id = $1`, groupID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewNotFound("group", groupID, domain.ErrGroupNotFound)
		}
		return nil, err
	}
	g.ApplyOutcome(amount, success, time.Now().UTC())

	_, err = tx.Exec(ctx, `
		UPDATE peer_groups SET
			trust_score = $2,
			total_transactions = $3,
			successful_transactions = $4,
			total_volume = $5,
			success_rate = $6,
			activity_score = $7,
			last_activity_at = $8,
			updated_at = $9
		WHERE id = $1
	`, g.ID, g.Stats.TrustScore, g.Stats.TotalTransactions, g.Stats.SuccessfulCount, g.Stats.TotalVolume,
		g.Stats.SuccessRate, g.Stats.ActivityScore, g.Stats.LastActivityAt, g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return g, nil
}
