package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/transfa/peer-network-service/internal/domain"
	"github.com/transfa/peer-network-service/internal/store"
)

// MatchType selects which kinds of matches FindMatches returns.
type MatchType string

const (
	MatchPeers  MatchType = "peers"
	MatchGroups MatchType = "groups"
	MatchAll    MatchType = "all"
)

// ParseMatchType defaults an empty value to all.
func ParseMatchType(raw string) (MatchType, error) {
	switch t := MatchType(strings.ToLower(strings.TrimSpace(raw))); t {
	case "":
		return MatchAll, nil
	case MatchPeers, MatchGroups, MatchAll:
		return t, nil
	default:
		return "", domain.NewValidationError("type", "must be one of peers, groups, all")
	}
}

// MatchConfig bounds the cost and output of matching.
type MatchConfig struct {
	CandidatePoolSize  int
	MaxPeerResults     int
	MaxGroupResults    int
	PeerThreshold      float64
	GroupThreshold     float64
	ScoringConcurrency int
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		CandidatePoolSize:  50,
		MaxPeerResults:     10,
		MaxGroupResults:    5,
		PeerThreshold:      50,
		GroupThreshold:     60,
		ScoringConcurrency: 8,
	}
}

func (c MatchConfig) withDefaults() MatchConfig {
	d := DefaultMatchConfig()
	if c.CandidatePoolSize <= 0 {
		c.CandidatePoolSize = d.CandidatePoolSize
	}
	if c.MaxPeerResults <= 0 {
		c.MaxPeerResults = d.MaxPeerResults
	}
	if c.MaxGroupResults <= 0 {
		c.MaxGroupResults = d.MaxGroupResults
	}
	if c.PeerThreshold <= 0 {
		c.PeerThreshold = d.PeerThreshold
	}
	if c.GroupThreshold <= 0 {
		c.GroupThreshold = d.GroupThreshold
	}
	if c.ScoringConcurrency <= 0 {
		c.ScoringConcurrency = d.ScoringConcurrency
	}
	return c
}

// MatchRequest is the input of FindMatches.
type MatchRequest struct {
	RequesterID   string
	Type          MatchType
	Amount        int64
	PaymentMethod string
	MaxResults    int
}

// PeerMatch is a scored candidate counterparty.
type PeerMatch struct {
	CandidateID  string                   `json:"candidate_id"`
	Score        float64                  `json:"score"`
	Reasons      []string                 `json:"reasons"`
	Relationship *domain.PeerRelationship `json:"relationship"`
	SharedGroups []string                 `json:"shared_groups"`
}

// GroupMatch is a scored group.
type GroupMatch struct {
	GroupID     string           `json:"group_id"`
	Name        string           `json:"name"`
	Type        domain.GroupType `json:"type"`
	MemberCount int              `json:"member_count"`
	IsMember    bool             `json:"is_member"`
	Score       float64          `json:"score"`
	Reasons     []string         `json:"reasons"`
}

// MatchResult holds ranked matches, best first.
type MatchResult struct {
	Peers  []PeerMatch  `json:"peers"`
	Groups []GroupMatch `json:"groups"`
}

// Matcher ranks candidate peers and groups for a requester.
type Matcher struct {
	rels    store.RelationshipStore
	groups  store.GroupStore
	cfg     MatchConfig
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time
}

func NewMatcher(rels store.RelationshipStore, groups store.GroupStore, cfg MatchConfig, metrics Recorder, logger *slog.Logger) *Matcher {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		rels:    rels,
		groups:  groups,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ScorePeerRelationship scores a candidate from the relationship with the requester. rel must be
// non-nil; callers substitute a neutral relationship when none exists.
func ScorePeerRelationship(rel *domain.PeerRelationship, sharedGroups int, amount int64, method string) (float64, []string) {
	score := 50.0
	reasons := make([]string, 0, 8)

	score += (rel.TrustScore - 50) * 0.5
	reasons = append(reasons, fmt.Sprintf("trust score %.0f", rel.TrustScore))

	if rel.TotalTransactions > 0 {
		score += math.Min(float64(rel.TotalTransactions*2), 20)
		rate := rel.SuccessRate()
		score += (rate - 0.5) * 40
		reasons = append(reasons, fmt.Sprintf("%d past transactions, %.0f%% successful", rel.TotalTransactions, rate*100))
	}
	if method != "" && rel.CommonPaymentMethods.Contains(method) {
		score += 15
		reasons = append(reasons, "has used "+domain.NormalizePaymentMethod(method)+" before")
	}
	if bonus := math.Max(0, 60-rel.ResponseTimeMinutes) * 0.2; bonus > 0 {
		score += bonus
		reasons = append(reasons, fmt.Sprintf("responds in about %.0f minutes", rel.ResponseTimeMinutes))
	}
	if sharedGroups > 0 {
		score += float64(5 * sharedGroups)
		reasons = append(reasons, fmt.Sprintf("%d shared group(s)", sharedGroups))
	}
	if rel.AverageAmount > 0 {
		avg := float64(rel.AverageAmount)
		if math.Abs(float64(amount)-avg)/avg < 0.5 {
			score += 10
			reasons = append(reasons, "amount is typical for this pair")
		}
	}
	return domain.ClampScore(score), reasons
}

// ScoreGroupFor scores a group for a requester's transfer.
func ScoreGroupFor(requesterID string, group *domain.PeerGroup, amount int64, method string) (float64, []string) {
	score := 50.0
	reasons := make([]string, 0, 6)

	score += (group.Stats.TrustScore - 50) * 0.5
	reasons = append(reasons, fmt.Sprintf("group trust %.0f", group.Stats.TrustScore))
	if group.Stats.TotalTransactions > 0 {
		score += (group.Stats.SuccessRate - 0.5) * 40
		reasons = append(reasons, fmt.Sprintf("%.0f%% of %d transfers successful", group.Stats.SuccessRate*100, group.Stats.TotalTransactions))
	}
	if n := len(group.Members); n >= 5 && n <= 30 {
		score += 10
		reasons = append(reasons, "healthy group size")
	}
	if group.Rules.AllowsPaymentMethod(method) {
		score += 15
		reasons = append(reasons, "payment method accepted")
	} else {
		score -= 20
		reasons = append(reasons, "payment method not accepted")
	}
	if group.Rules.AllowsAmount(amount) {
		score += 10
		reasons = append(reasons, "amount within group limits")
	} else {
		score -= 30
		reasons = append(reasons, "amount outside group limits")
	}
	if group.HasMember(requesterID) {
		score += 5
		reasons = append(reasons, "already a member")
	}
	return domain.ClampScore(score), reasons
}

// ScorePeer scores one candidate against the stored relationship, or a neutral one if none exists.
func (m *Matcher) ScorePeer(ctx context.Context, requesterID, candidateID string, amount int64, method string) (*PeerMatch, error) {
	if _, err := domain.NewPairKey(requesterID, candidateID); err != nil {
		return nil, err
	}
	groups, err := m.groups.ListByMember(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	match, err := m.scoreCandidate(ctx, requesterID, candidateID, groups, amount, method)
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (m *Matcher) scoreCandidate(ctx context.Context, requesterID, candidateID string, requesterGroups []*domain.PeerGroup, amount int64, method string) (PeerMatch, error) {
	rel, err := m.rels.Get(ctx, requesterID, candidateID)
	if err != nil {
		if !domain.IsNotFound(err) {
			return PeerMatch{}, fmt.Errorf("failed to load relationship: %w", err)
		}
		key, keyErr := domain.NewPairKey(requesterID, candidateID)
		if keyErr != nil {
			return PeerMatch{}, keyErr
		}
		rel = domain.NewPeerRelationship(key, m.now())
	}
	shared := make([]string, 0)
	for _, g := range requesterGroups {
		if g.HasMember(requesterID) && g.HasMember(candidateID) {
			shared = append(shared, g.ID)
		}
	}
	score, reasons := ScorePeerRelationship(rel, len(shared), amount, method)
	return PeerMatch{
		CandidateID:  candidateID,
		Score:        score,
		Reasons:      reasons,
		Relationship: rel,
		SharedGroups: shared,
	}, nil
}

// FindMatches draws a bounded candidate pool from the requester's groups and from customers with
// the same payment-method history, scores it concurrently and returns the best matches.
func (m *Matcher) FindMatches(ctx context.Context, req MatchRequest) (*MatchResult, error) {
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	if req.RequesterID == "" {
		return nil, domain.NewValidationError("requester_id", "is required")
	}
	if req.Amount < 0 {
		return nil, domain.NewValidationError("amount", "must not be negative")
	}
	if req.Type == "" {
		req.Type = MatchAll
	}
	req.PaymentMethod = domain.NormalizePaymentMethod(req.PaymentMethod)

	requesterGroups, err := m.groups.ListByMember(ctx, req.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requester groups: %w", err)
	}
	candidates, err := m.candidatePool(ctx, req, requesterGroups)
	if err != nil {
		return nil, err
	}

	result := &MatchResult{Peers: []PeerMatch{}, Groups: []GroupMatch{}}
	if req.Type == MatchPeers || req.Type == MatchAll {
		peers, err := m.rankPeers(ctx, req, candidates, requesterGroups)
		if err != nil {
			return nil, err
		}
		result.Peers = peers
	}
	if req.Type == MatchGroups || req.Type == MatchAll {
		groups, err := m.rankGroups(ctx, req, candidates, requesterGroups)
		if err != nil {
			return nil, err
		}
		result.Groups = groups
	}
	m.metrics.MatchesFound(len(result.Peers), len(result.Groups))
	m.logger.Debug("matches computed", "requester_id", req.RequesterID, "candidates", len(candidates), "peers", len(result.Peers), "groups", len(result.Groups))
	return result, nil
}

func (m *Matcher) candidatePool(ctx context.Context, req MatchRequest, requesterGroups []*domain.PeerGroup) ([]string, error) {
	limit := m.cfg.CandidatePoolSize
	seen := map[string]bool{req.RequesterID: true}
	existing, err := m.rels.ListForCustomer(ctx, req.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}
	archived := 0
	for _, rel := range existing {
		if rel.Archived {
			seen[rel.Key().Other(req.RequesterID)] = true
			archived++
		}
	}
	pool := make([]string, 0, limit)
	add := func(id string) {
		if len(pool) >= limit || seen[id] {
			return
		}
		seen[id] = true
		pool = append(pool, id)
	}

	for _, g := range requesterGroups {
		for _, member := range g.Members {
			add(member)
		}
	}
	if len(pool) < limit && req.PaymentMethod != "" {
		similar, err := m.rels.CustomersByPaymentMethod(ctx, req.PaymentMethod, req.RequesterID, limit+archived)
		if err != nil {
			return nil, fmt.Errorf("failed to load payment method peers: %w", err)
		}
		for _, id := range similar {
			add(id)
		}
	}
	return pool, nil
}

func (m *Matcher) rankPeers(ctx context.Context, req MatchRequest, candidates []string, requesterGroups []*domain.PeerGroup) ([]PeerMatch, error) {
	scored := make([]PeerMatch, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ScoringConcurrency)
	for i, id := range candidates {
		i, id := i, id
		g.Go(func() error {
			match, err := m.scoreCandidate(gctx, req.RequesterID, id, requesterGroups, req.Amount, req.PaymentMethod)
			if err != nil {
				return err
			}
			scored[i] = match
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]PeerMatch, 0, len(scored))
	for _, match := range scored {
		if match.Relationship != nil && match.Relationship.Archived {
			continue
		}
		if match.Score > m.cfg.PeerThreshold {
			out = append(out, match)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	limit := m.cfg.MaxPeerResults
	if req.MaxResults > 0 {
		limit = req.MaxResults
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// rankGroups scores the requester's groups plus the groups of the candidate pool.
func (m *Matcher) rankGroups(ctx context.Context, req MatchRequest, candidates []string, requesterGroups []*domain.PeerGroup) ([]GroupMatch, error) {
	var mu sync.Mutex
	pool := make(map[string]*domain.PeerGroup, len(requesterGroups))
	for _, grp := range requesterGroups {
		pool[grp.ID] = grp
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ScoringConcurrency)
	for _, id := range candidates {
		id := id
		g.Go(func() error {
			groups, err := m.groups.ListByMember(gctx, id)
			if err != nil {
				return fmt.Errorf("failed to list candidate groups: %w", err)
			}
			mu.Lock()
			for _, grp := range groups {
				if _, ok := pool[grp.ID]; !ok {
					pool[grp.ID] = grp
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]GroupMatch, 0, len(pool))
	for _, grp := range pool {
		score, reasons := ScoreGroupFor(req.RequesterID, grp, req.Amount, req.PaymentMethod)
		if score <= m.cfg.GroupThreshold {
			continue
		}
		out = append(out, GroupMatch{
			GroupID:     grp.ID,
			Name:        grp.Name,
			Type:        grp.Type,
			MemberCount: len(grp.Members),
			IsMember:    grp.HasMember(req.RequesterID),
			Score:       score,
			Reasons:     reasons,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].GroupID < out[j].GroupID
	})
	if len(out) > m.cfg.MaxGroupResults {
		out = out[:m.cfg.MaxGroupResults]
	}
	return out, nil
}
