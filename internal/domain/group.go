package domain

import (
	"sort"
	"strings"
	"time"
)

// GroupType classifies a peer group and selects its default rule template.
type GroupType string

const (
	GroupTypeTrustCircle   GroupType = "trust_circle"
	GroupTypePaymentCircle GroupType = "payment_circle"
	GroupTypeGeographic    GroupType = "geographic"
	GroupTypeInterestBased GroupType = "interest_based"
	GroupTypeVIPNetwork    GroupType = "vip_network"
)

// MaxSeedGroupSize bounds the all-pairs relationship seeding done on group creation.
const MaxSeedGroupSize = 100

// ParseGroupType validates a raw group type.
func ParseGroupType(raw string) (GroupType, error) {
	t := GroupType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case GroupTypeTrustCircle, GroupTypePaymentCircle, GroupTypeGeographic, GroupTypeInterestBased, GroupTypeVIPNetwork:
		return t, nil
	default:
		return "", NewValidationError("type", "must be one of trust_circle, payment_circle, geographic, interest_based, vip_network")
	}
}

// CreatorThreshold is the minimum profile trust score needed to create a group of this type.
func (t GroupType) CreatorThreshold() float64 {
	if t == GroupTypeVIPNetwork {
		return 90
	}
	return 70
}

// GroupRules bound who may join a group and what transfers it carries. Amounts are minor units.
type GroupRules struct {
	MinTrustScore         float64  `json:"min_trust_score"`
	MaxMembers            int      `json:"max_members"`
	AllowedPaymentMethods []string `json:"allowed_payment_methods"`
	MinTransactionAmount  int64    `json:"min_transaction_amount"`
	MaxTransactionAmount  int64    `json:"max_transaction_amount"`
	DailyLimit            int64    `json:"daily_limit"`
	VIPOnly               bool     `json:"vip_only"`
	AutoApprovalThreshold int64    `json:"auto_approval_threshold"`
	RequireVerification   bool     `json:"require_verification"`
	EscrowRequired        bool     `json:"escrow_required"`
}

// AllowsPaymentMethod reports whether method is permitted; an empty list allows any method.
func (r GroupRules) AllowsPaymentMethod(method string) bool {
	if len(r.AllowedPaymentMethods) == 0 {
		return true
	}
	method = NormalizePaymentMethod(method)
	for _, m := range r.AllowedPaymentMethods {
		if NormalizePaymentMethod(m) == method {
			return true
		}
	}
	return false
}

// AllowsAmount reports whether amount falls inside the per-transaction bounds.
func (r GroupRules) AllowsAmount(amount int64) bool {
	if r.MinTransactionAmount > 0 && amount < r.MinTransactionAmount {
		return false
	}
	if r.MaxTransactionAmount > 0 && amount > r.MaxTransactionAmount {
		return false
	}
	return true
}

// RuleOverrides carries the optional per-group adjustments to a template. Nil fields keep the default.
type RuleOverrides struct {
	MinTrustScore         *float64  `json:"min_trust_score,omitempty"`
	MaxMembers            *int      `json:"max_members,omitempty"`
	AllowedPaymentMethods *[]string `json:"allowed_payment_methods,omitempty"`
	MinTransactionAmount  *int64    `json:"min_transaction_amount,omitempty"`
	MaxTransactionAmount  *int64    `json:"max_transaction_amount,omitempty"`
	DailyLimit            *int64    `json:"daily_limit,omitempty"`
	VIPOnly               *bool     `json:"vip_only,omitempty"`
	AutoApprovalThreshold *int64    `json:"auto_approval_threshold,omitempty"`
	RequireVerification   *bool     `json:"require_verification,omitempty"`
	EscrowRequired        *bool     `json:"escrow_required,omitempty"`
}

// DefaultRules returns the rule template for a group type.
func DefaultRules(t GroupType) GroupRules {
	switch t {
	case GroupTypeTrustCircle:
		return GroupRules{MinTrustScore: 80, MaxMembers: 20, MinTransactionAmount: 100, MaxTransactionAmount: 500_000, DailyLimit: 2_000_000, AutoApprovalThreshold: 50_000, RequireVerification: true}
	case GroupTypePaymentCircle:
		return GroupRules{MinTrustScore: 70, MaxMembers: 50, MinTransactionAmount: 100, MaxTransactionAmount: 1_000_000, DailyLimit: 5_000_000, AutoApprovalThreshold: 100_000, RequireVerification: true}
	case GroupTypeGeographic:
		return GroupRules{MinTrustScore: 65, MaxMembers: 75, MinTransactionAmount: 100, MaxTransactionAmount: 250_000, DailyLimit: 1_000_000, AutoApprovalThreshold: 25_000}
	case GroupTypeVIPNetwork:
		return GroupRules{MinTrustScore: 90, MaxMembers: 30, VIPOnly: true, MinTransactionAmount: 1_000, MaxTransactionAmount: 10_000_000, DailyLimit: 50_000_000, AutoApprovalThreshold: 500_000, RequireVerification: true, EscrowRequired: true}
	default:
		return GroupRules{MinTrustScore: 60, MaxMembers: 100, MinTransactionAmount: 100, MaxTransactionAmount: 250_000, DailyLimit: 1_000_000, AutoApprovalThreshold: 25_000}
	}
}

// ResolveRules merges overrides on top of the template for t.
func ResolveRules(t GroupType, o *RuleOverrides) (GroupRules, error) {
	rules := DefaultRules(t)
	if o == nil {
		return rules, nil
	}
	if o.MinTrustScore != nil {
		if *o.MinTrustScore < 0 || *o.MinTrustScore > 100 {
			return GroupRules{}, NewValidationError("rules.min_trust_score", "must be within [0,100]")
		}
		rules.MinTrustScore = *o.MinTrustScore
	}
	if o.MaxMembers != nil {
		if *o.MaxMembers < 2 || *o.MaxMembers > MaxSeedGroupSize {
			return GroupRules{}, NewValidationError("rules.max_members", "must be within [2,100]")
		}
		rules.MaxMembers = *o.MaxMembers
	}
	if o.AllowedPaymentMethods != nil {
		methods := make([]string, 0, len(*o.AllowedPaymentMethods))
		for _, m := range *o.AllowedPaymentMethods {
			if n := NormalizePaymentMethod(m); n != "" {
				methods = append(methods, n)
			}
		}
		rules.AllowedPaymentMethods = methods
	}
	if o.MinTransactionAmount != nil {
		rules.MinTransactionAmount = *o.MinTransactionAmount
	}
	if o.MaxTransactionAmount != nil {
		rules.MaxTransactionAmount = *o.MaxTransactionAmount
	}
	if o.DailyLimit != nil {
		rules.DailyLimit = *o.DailyLimit
	}
	if o.VIPOnly != nil {
		rules.VIPOnly = *o.VIPOnly
	}
	if o.AutoApprovalThreshold != nil {
		rules.AutoApprovalThreshold = *o.AutoApprovalThreshold
	}
	if o.RequireVerification != nil {
		rules.RequireVerification = *o.RequireVerification
	}
	if o.EscrowRequired != nil {
		rules.EscrowRequired = *o.EscrowRequired
	}
	if rules.MinTransactionAmount < 0 || rules.MaxTransactionAmount < 0 || rules.DailyLimit < 0 {
		return GroupRules{}, NewValidationError("rules", "amount limits must not be negative")
	}
	if rules.MaxTransactionAmount > 0 && rules.MinTransactionAmount > rules.MaxTransactionAmount {
		return GroupRules{}, NewValidationError("rules.min_transaction_amount", "must not exceed max_transaction_amount")
	}
	return rules, nil
}

// CheckAdmission validates a single member against the rules at admission time.
func (r GroupRules) CheckAdmission(t GroupType, profile CustomerProfile) error {
	if r.VIPOnly && !profile.IsVIP() {
		return &VipRequiredError{CustomerID: profile.CustomerID, GroupType: t}
	}
	if profile.TrustScore < r.MinTrustScore {
		return &InsufficientTrustError{CustomerID: profile.CustomerID, Score: profile.TrustScore, Required: r.MinTrustScore}
	}
	return nil
}

// GroupStats are the aggregates updated after every transfer attributable to the group.
type GroupStats struct {
	TrustScore        float64    `json:"trust_score"`
	TotalTransactions int        `json:"total_transactions"`
	SuccessfulCount   int        `json:"successful_transactions"`
	TotalVolume       int64      `json:"total_volume"`
	SuccessRate       float64    `json:"success_rate"`
	ActivityScore     float64    `json:"activity_score"`
	LastActivityAt    *time.Time `json:"last_activity_at,omitempty"`
}

// PeerGroup is a named, rule-bound pool of customers.
type PeerGroup struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      GroupType  `json:"type"`
	CreatorID string     `json:"creator_id"`
	Members   []string   `json:"members"`
	Rules     GroupRules `json:"rules"`
	Stats     GroupStats `json:"stats"`
	Automatic bool       `json:"automatic"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// HasMember reports whether customerID belongs to the group.
func (g *PeerGroup) HasMember(customerID string) bool {
	for _, m := range g.Members {
		if m == customerID {
			return true
		}
	}
	return false
}

// ApplyOutcome updates the running success rate and nudges group trust (+1 success, -2 failure).
func (g *PeerGroup) ApplyOutcome(amount int64, success bool, at time.Time) {
	s := &g.Stats
	s.TotalTransactions++
	s.TotalVolume += amount
	if success {
		s.SuccessfulCount++
		s.TrustScore = ClampScore(s.TrustScore + 1)
	} else {
		s.TrustScore = ClampScore(s.TrustScore - 2)
	}
	s.SuccessRate = float64(s.SuccessfulCount) / float64(s.TotalTransactions)
	stamp := at
	s.LastActivityAt = &stamp
	s.ActivityScore = ActivityScore(s.TotalTransactions, s.LastActivityAt, at)
	g.UpdatedAt = at
}

// ActivityScore rewards volume of transfers plus a bonus for activity in the last day.
func ActivityScore(totalTransactions int, lastActivity *time.Time, now time.Time) float64 {
	score := float64(totalTransactions * 2)
	if lastActivity != nil && now.Sub(*lastActivity) <= 24*time.Hour {
		score += 20
	}
	return ClampScore(score)
}

// Clone returns a deep copy safe to hand out of a store.
func (g *PeerGroup) Clone() *PeerGroup {
	if g == nil {
		return nil
	}
	out := *g
	out.Members = append([]string(nil), g.Members...)
	out.Rules.AllowedPaymentMethods = append([]string(nil), g.Rules.AllowedPaymentMethods...)
	if g.Stats.LastActivityAt != nil {
		t := *g.Stats.LastActivityAt
		out.Stats.LastActivityAt = &t
	}
	return &out
}

// NormalizeMembers trims, de-duplicates and sorts member ids, keeping the creator.
func NormalizeMembers(creatorID string, members []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(members)+1)
	for _, m := range append([]string{creatorID}, members...) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
