package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/transfa/peer-network-service/internal/domain"
)

const (
	dashboardHistoryLimit = 100
	recommendationCount   = 5
)

// NetworkStats summarizes a customer's relationships.
type NetworkStats struct {
	RelationshipCount int     `json:"relationship_count"`
	AverageTrust      float64 `json:"average_trust"`
	TotalTransactions int     `json:"total_transactions"`
	SuccessRate       float64 `json:"success_rate"`
	TotalVolume       int64   `json:"total_volume"`
	StrongestPeer     string  `json:"strongest_peer,omitempty"`
}

// Dashboard is a customer's view of their peer network.
type Dashboard struct {
	CustomerID      string                     `json:"customer_id"`
	Relationships   []*domain.PeerRelationship `json:"relationships"`
	Groups          []*domain.PeerGroup        `json:"groups"`
	NetworkStats    NetworkStats               `json:"network_stats"`
	Recommendations []PeerMatch                `json:"recommendations"`
}

// Dashboard assembles relationships (strongest first), groups, aggregate stats and peer
// recommendations for the customer's usual payment method and amount.
func (s *Service) Dashboard(ctx context.Context, customerID string) (*Dashboard, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, domain.NewValidationError("customer_id", "is required")
	}

	rels, err := s.rels.ListForCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	active := make([]*domain.PeerRelationship, 0, len(rels))
	for _, rel := range rels {
		if !rel.Archived {
			active = append(active, rel)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].TrustScore != active[j].TrustScore {
			return active[i].TrustScore > active[j].TrustScore
		}
		return active[i].Key().String() < active[j].Key().String()
	})

	groups, err := s.groups.GroupsOf(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	board := &Dashboard{
		CustomerID:      customerID,
		Relationships:   active,
		Groups:          groups,
		NetworkStats:    networkStats(customerID, active),
		Recommendations: []PeerMatch{},
	}

	method, amount, err := s.usualTransfer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if method == "" {
		return board, nil
	}
	matches, err := s.matcher.FindMatches(ctx, MatchRequest{
		RequesterID:   customerID,
		Type:          MatchPeers,
		Amount:        amount,
		PaymentMethod: method,
		MaxResults:    recommendationCount,
	})
	if err != nil {
		s.logger.Warn("failed to compute recommendations", "customer_id", customerID, "error", err)
		return board, nil
	}
	board.Recommendations = matches.Peers
	return board, nil
}

func networkStats(customerID string, rels []*domain.PeerRelationship) NetworkStats {
	stats := NetworkStats{RelationshipCount: len(rels)}
	if len(rels) == 0 {
		return stats
	}
	var trustSum float64
	successful := 0
	for _, rel := range rels {
		trustSum += rel.TrustScore
		stats.TotalTransactions += rel.TotalTransactions
		stats.TotalVolume += rel.TotalVolume
		successful += rel.SuccessfulTransactions
	}
	stats.AverageTrust = trustSum / float64(len(rels))
	if stats.TotalTransactions > 0 {
		stats.SuccessRate = float64(successful) / float64(stats.TotalTransactions)
	}
	stats.StrongestPeer = rels[0].Key().Other(customerID)
	return stats
}

// usualTransfer returns the customer's most used payment method and average sent amount.
func (s *Service) usualTransfer(ctx context.Context, customerID string) (string, int64, error) {
	history, err := s.ledger.ListByCustomer(ctx, customerID, dashboardHistoryLimit)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load transfer history: %w", err)
	}
	counts := map[string]int{}
	var total int64
	sent := 0
	for _, tx := range history {
		if tx.RequesterID != customerID {
			continue
		}
		counts[tx.PaymentMethod]++
		total += tx.Amount
		sent++
	}
	if sent == 0 {
		return "", 0, nil
	}
	best := ""
	for method, n := range counts {
		if n > counts[best] || (n == counts[best] && method < best) {
			best = method
		}
	}
	return best, total / int64(sent), nil
}
