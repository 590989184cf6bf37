package domain

import "strings"

// CustomerProfile is the Profile Provider's view of a customer.
type CustomerProfile struct {
	CustomerID             string  `json:"customer_id"`
	TrustScore             float64 `json:"trust_score"`
	VIPTier                string  `json:"vip_tier"`
	Region                 string  `json:"region"`
	Country                string  `json:"country"`
	PreferredPaymentMethod string  `json:"preferred_payment_method"`
	Verified               bool    `json:"verified"`
}

// IsVIP reports whether the profile holds any vip tier.
func (p CustomerProfile) IsVIP() bool {
	switch strings.ToLower(strings.TrimSpace(p.VIPTier)) {
	case "", "none", "standard", "basic":
		return false
	default:
		return true
	}
}
