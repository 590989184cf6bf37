package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/transfa/peer-network-service/internal/domain"
	"github.com/transfa/peer-network-service/internal/store"
)

const validationPurpose = "peer_transfer"

// RiskConfig holds the assessor thresholds. Amounts are minor units.
type RiskConfig struct {
	MaxAmount          int64
	HourlyTransferCap  int
	VelocityWindow     time.Duration
	BlockThreshold     float64
	ReviewThreshold    float64
	SuspiciousPatterns []string
	ValidatorTimeout   time.Duration
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxAmount:          1_000_000,
		HourlyTransferCap:  10,
		VelocityWindow:     time.Hour,
		BlockThreshold:     80,
		ReviewThreshold:    50,
		SuspiciousPatterns: []string{"test", "fake", "scam", "fraud"},
		ValidatorTimeout:   5 * time.Second,
	}
}

func (c RiskConfig) withDefaults() RiskConfig {
	d := DefaultRiskConfig()
	if c.MaxAmount <= 0 {
		c.MaxAmount = d.MaxAmount
	}
	if c.HourlyTransferCap <= 0 {
		c.HourlyTransferCap = d.HourlyTransferCap
	}
	if c.VelocityWindow <= 0 {
		c.VelocityWindow = d.VelocityWindow
	}
	if c.BlockThreshold <= 0 {
		c.BlockThreshold = d.BlockThreshold
	}
	if c.ReviewThreshold <= 0 {
		c.ReviewThreshold = d.ReviewThreshold
	}
	if c.SuspiciousPatterns == nil {
		c.SuspiciousPatterns = d.SuspiciousPatterns
	}
	if c.ValidatorTimeout <= 0 {
		c.ValidatorTimeout = d.ValidatorTimeout
	}
	return c
}

// CountryGeoChecker rejects transfers whose destination country is on a deny list.
type CountryGeoChecker struct {
	denied map[string]bool
}

func NewCountryGeoChecker(countries []string) *CountryGeoChecker {
	denied := make(map[string]bool, len(countries))
	for _, c := range countries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			denied[c] = true
		}
	}
	return &CountryGeoChecker{denied: denied}
}

func (g *CountryGeoChecker) Allowed(ctx context.Context, req domain.TransferRequest) (bool, string) {
	country := strings.ToUpper(strings.TrimSpace(req.Details.Country))
	if country != "" && g.denied[country] {
		return false, "destination country " + country + " is restricted"
	}
	return true, ""
}

// RiskAssessor scores a proposed transfer from amount, velocity, geography, address patterns and
// the payment validator's signal.
type RiskAssessor struct {
	ledger    store.TransactionLedger
	validator PaymentValidator
	geo       GeoChecker
	cfg       RiskConfig
	metrics   Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewRiskAssessor wires an assessor. validator, geo and metrics may be nil.
func NewRiskAssessor(ledger store.TransactionLedger, validator PaymentValidator, geo GeoChecker, cfg RiskConfig, metrics Recorder, logger *slog.Logger) *RiskAssessor {
	if geo == nil {
		geo = permissiveGeo{}
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskAssessor{
		ledger:    ledger,
		validator: validator,
		geo:       geo,
		cfg:       cfg.withDefaults(),
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Assess computes the risk score and the routing decision. Only a ledger failure is an error; the
// validator is advisory.
func (a *RiskAssessor) Assess(ctx context.Context, req domain.TransferRequest) (*domain.RiskAssessment, error) {
	now := a.now()
	score := 0.0
	reasons := make([]string, 0, 4)

	maxAmount := float64(a.cfg.MaxAmount)
	if float64(req.Amount) > 0.8*maxAmount {
		score += 20
		reasons = append(reasons, "amount above 80% of maximum")
		if float64(req.Amount) > 0.9*maxAmount {
			score += 30
			reasons = append(reasons, "amount above 90% of maximum")
		}
	}

	recent, err := a.ledger.CountSince(ctx, req.RequesterID, now.Add(-a.cfg.VelocityWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent transfers: %w", err)
	}
	if recent > a.cfg.HourlyTransferCap {
		score += 40
		reasons = append(reasons, fmt.Sprintf("%d transfers in the last hour exceeds %d", recent, a.cfg.HourlyTransferCap))
	}

	if ok, why := a.geo.Allowed(ctx, req); !ok {
		score += 50
		if why == "" {
			why = "geography check failed"
		}
		reasons = append(reasons, why)
	}

	if pattern := a.suspiciousPattern(req.Details.SenderAddress, req.Details.RecipientAddress); pattern != "" {
		score += 35
		reasons = append(reasons, "address contains suspicious pattern "+pattern)
	}

	if a.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, a.cfg.ValidatorTimeout)
		result, err := a.validator.Validate(vctx, req.RequesterID, req.PaymentMethod, req.Details.RecipientAddress, req.Amount, validationPurpose)
		cancel()
		switch {
		case err != nil:
			a.logger.Warn("payment validator unavailable", "transaction_id", req.TransactionID, "error", err)
			score += 10
			reasons = append(reasons, "payment validator unavailable")
		case result.RiskLevel == domain.RiskLevelHigh:
			score += 25
			reasons = append(reasons, "payment validator reports high risk")
		case result.RiskLevel == domain.RiskLevelMedium:
			score += 10
			reasons = append(reasons, "payment validator reports medium risk")
		}
	}

	assessment := &domain.RiskAssessment{
		Score:      domain.ClampScore(score),
		Reasons:    reasons,
		Decision:   a.decide(domain.ClampScore(score)),
		AssessedAt: now,
	}
	a.metrics.RiskAssessed(assessment.Decision, assessment.Score)
	return assessment, nil
}

func (a *RiskAssessor) decide(score float64) domain.RiskDecision {
	switch {
	case score > a.cfg.BlockThreshold:
		return domain.RiskBlocked
	case score > a.cfg.ReviewThreshold:
		return domain.RiskPendingReview
	default:
		return domain.RiskAutoApproved
	}
}

func (a *RiskAssessor) suspiciousPattern(addresses ...string) string {
	for _, addr := range addresses {
		lower := strings.ToLower(addr)
		if lower == "" {
			continue
		}
		for _, p := range a.cfg.SuspiciousPatterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" && strings.Contains(lower, p) {
				return p
			}
		}
	}
	return ""
}
