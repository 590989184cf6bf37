/**
 * @description
 * Projection keeps a Neo4j view of the peer network in step with the relational stores: one
 * Customer node per customer, one TRUSTS edge per pair carrying the latest trust score, and
 * MEMBER_OF edges to every group a transfer was attributed to.
 *
 * @dependencies
 * - github.com/neo4j/neo4j-go-driver/v5: Bolt access through Client.
 */
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
)

const outcomeCypher = `
MERGE (a:Customer {id: $customer_a})
MERGE (b:Customer {id: $customer_b})
MERGE (a)-[r:TRUSTS]-(b)
ON CREATE SET r.transactions = 0, r.successful = 0
SET r.trust_score = $trust_score,
    r.transactions = r.transactions + 1,
    r.successful = r.successful + $success,
    r.last_method = $payment_method,
    r.updated_at = datetime($at)
WITH a, b
UNWIND $group_ids AS group_id
MERGE (g:PeerGroup {id: group_id})
MERGE (a)-[:MEMBER_OF]->(g)
MERGE (b)-[:MEMBER_OF]->(g)
`

const tiesCypher = `
MATCH (c:Customer {id: $customer_id})-[r:TRUSTS]-(p:Customer)
WHERE r.trust_score >= $min_trust
RETURN p.id AS peer_id, r.trust_score AS trust_score, r.transactions AS transactions
ORDER BY trust_score DESC, peer_id ASC
LIMIT $limit
`

// Tie is one trusted edge of a customer's network.
type Tie struct {
	PeerID       string  `json:"peer_id"`
	TrustScore   float64 `json:"trust_score"`
	Transactions int64   `json:"transactions"`
}

// Projection writes transfer outcomes into the graph. It implements the outcome observer port.
type Projection struct {
	client Client
	logger *slog.Logger
}

func NewProjection(client Client, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{client: client, logger: logger}
}

// ObserveOutcome upserts both customers, the pair's TRUSTS edge and their group memberships.
func (p *Projection) ObserveOutcome(ctx context.Context, outcome domain.Outcome) error {
	key, err := domain.NewPairKey(outcome.RequesterID, outcome.PeerID)
	if err != nil {
		return err
	}
	success := 0
	if outcome.Success {
		success = 1
	}
	groupIDs := outcome.GroupIDs
	if groupIDs == nil {
		groupIDs = []string{}
	}
	params := map[string]any{
		"customer_a":     key.A,
		"customer_b":     key.B,
		"trust_score":    outcome.TrustScore,
		"success":        success,
		"payment_method": outcome.PaymentMethod,
		"at":             outcome.At.UTC().Format(time.RFC3339),
		"group_ids":      groupIDs,
	}
	if _, err := p.client.ExecuteWrite(ctx, outcomeCypher, params); err != nil {
		return fmt.Errorf("project outcome %s: %w", outcome.TransactionID, err)
	}
	p.logger.Debug("outcome projected to graph", "transaction_id", outcome.TransactionID, "pair", key.String())
	return nil
}

// Ties returns the customer's trusted peers at or above minTrust, strongest first.
func (p *Projection) Ties(ctx context.Context, customerID string, minTrust float64, limit int) ([]Tie, error) {
	if limit <= 0 {
		limit = 20
	}
	res, err := p.client.ExecuteRead(ctx, tiesCypher, map[string]any{
		"customer_id": customerID,
		"min_trust":   minTrust,
		"limit":       int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("query ties for %s: %w", customerID, err)
	}
	ties := make([]Tie, 0, len(res.Records))
	for _, rec := range res.Records {
		peer, _ := rec["peer_id"].(string)
		if peer == "" {
			continue
		}
		ties = append(ties, Tie{
			PeerID:       peer,
			TrustScore:   toFloat(rec["trust_score"]),
			Transactions: toInt(rec["transactions"]),
		})
	}
	return ties, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
