package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Neutral defaults for a relationship that has no recorded history.
const (
	DefaultRelationshipTrust       = 75.0
	DefaultRelationshipReliability = 85.0
	DefaultResponseTimeMinutes     = 30.0

	successTrustDelta       = 2.0
	successReliabilityDelta = 1.0
	failureTrustDelta       = -5.0
	failureReliabilityDelta = -3.0
)

// PairKey is the canonical, order-independent key of a relationship.
type PairKey struct {
	A string
	B string
}

// NewPairKey sorts the two identifiers so {a,b} and {b,a} produce the same key.
func NewPairKey(a, b string) (PairKey, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return PairKey{}, NewValidationError("customer_id", "must not be empty")
	}
	if a == b {
		return PairKey{}, NewValidationError("peer_id", "must differ from requester")
	}
	if b < a {
		a, b = b, a
	}
	return PairKey{A: a, B: b}, nil
}

func (k PairKey) String() string {
	return k.A + "|" + k.B
}

// Other returns the counterpart of id within the pair.
func (k PairKey) Other(id string) string {
	if id == k.A {
		return k.B
	}
	return k.A
}

// PeerRelationship is the trust record between two customers.
type PeerRelationship struct {
	CustomerA              string         `json:"customer_a"`
	CustomerB              string         `json:"customer_b"`
	TrustScore             float64        `json:"trust_score"`
	TotalTransactions      int            `json:"total_transactions"`
	SuccessfulTransactions int            `json:"successful_transactions"`
	TotalVolume            int64          `json:"total_volume"`
	AverageAmount          int64          `json:"average_amount"`
	ResponseTimeMinutes    float64        `json:"response_time_minutes"`
	ReliabilityScore       float64        `json:"reliability_score"`
	CommonPaymentMethods   PaymentMethods `json:"common_payment_methods"`
	LastTransactionAt      *time.Time     `json:"last_transaction_at,omitempty"`
	Archived               bool           `json:"archived"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// NewPeerRelationship builds a neutral relationship for a canonical key.
func NewPeerRelationship(key PairKey, now time.Time) *PeerRelationship {
	return &PeerRelationship{
		CustomerA:            key.A,
		CustomerB:            key.B,
		TrustScore:           DefaultRelationshipTrust,
		ReliabilityScore:     DefaultRelationshipReliability,
		ResponseTimeMinutes:  DefaultResponseTimeMinutes,
		CommonPaymentMethods: PaymentMethods{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Key returns the canonical key of the relationship.
func (r *PeerRelationship) Key() PairKey {
	return PairKey{A: r.CustomerA, B: r.CustomerB}
}

// SuccessRate is the share of successful transactions, zero without history.
func (r *PeerRelationship) SuccessRate() float64 {
	if r.TotalTransactions == 0 {
		return 0
	}
	return float64(r.SuccessfulTransactions) / float64(r.TotalTransactions)
}

// ApplyOutcome records a transfer outcome with the fixed trust/reliability deltas.
func (r *PeerRelationship) ApplyOutcome(amount int64, method string, success bool, at time.Time) {
	r.TotalTransactions++
	r.TotalVolume += amount
	if success {
		r.SuccessfulTransactions++
		r.TrustScore = ClampScore(r.TrustScore + successTrustDelta)
		r.ReliabilityScore = ClampScore(r.ReliabilityScore + successReliabilityDelta)
		if method != "" {
			if r.CommonPaymentMethods == nil {
				r.CommonPaymentMethods = PaymentMethods{}
			}
			r.CommonPaymentMethods.Add(method)
		}
	} else {
		r.TrustScore = ClampScore(r.TrustScore + failureTrustDelta)
		r.ReliabilityScore = ClampScore(r.ReliabilityScore + failureReliabilityDelta)
	}
	r.AverageAmount = r.TotalVolume / int64(r.TotalTransactions)
	stamp := at
	r.LastTransactionAt = &stamp
	r.UpdatedAt = at
}

// Clone returns a deep copy safe to hand out of a store.
func (r *PeerRelationship) Clone() *PeerRelationship {
	if r == nil {
		return nil
	}
	out := *r
	out.CommonPaymentMethods = r.CommonPaymentMethods.Clone()
	if r.LastTransactionAt != nil {
		t := *r.LastTransactionAt
		out.LastTransactionAt = &t
	}
	return &out
}

// ClampScore bounds a score to [0,100].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// PaymentMethods is a set of normalized payment method names.
type PaymentMethods map[string]struct{}

// NewPaymentMethods builds a set from a list.
func NewPaymentMethods(methods ...string) PaymentMethods {
	set := PaymentMethods{}
	for _, m := range methods {
		set.Add(m)
	}
	return set
}

// NormalizePaymentMethod lower-cases and trims a method name.
func NormalizePaymentMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}

func (p PaymentMethods) Add(method string) {
	method = NormalizePaymentMethod(method)
	if method == "" {
		return
	}
	p[method] = struct{}{}
}

func (p PaymentMethods) Contains(method string) bool {
	_, ok := p[NormalizePaymentMethod(method)]
	return ok
}

// List returns the methods sorted.
func (p PaymentMethods) List() []string {
	out := make([]string, 0, len(p))
	for m := range p {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (p PaymentMethods) Clone() PaymentMethods {
	out := make(PaymentMethods, len(p))
	for m := range p {
		out[m] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (p PaymentMethods) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.List())
}

// UnmarshalJSON decodes an array into the set.
func (p *PaymentMethods) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*p = NewPaymentMethods(list...)
	return nil
}
