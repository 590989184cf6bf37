package domain

import "time"

// RiskDecision is the assessor's routing verdict.
type RiskDecision string

const (
	RiskAutoApproved  RiskDecision = "auto_approved"
	RiskPendingReview RiskDecision = "pending_manual_review"
	RiskBlocked       RiskDecision = "blocked"
)

// Status maps a decision onto the transaction state it leads to.
func (d RiskDecision) Status() TransferStatus {
	switch d {
	case RiskBlocked:
		return StatusBlocked
	case RiskPendingReview:
		return StatusPendingReview
	default:
		return StatusAutoApproved
	}
}

// Validator risk levels.
const (
	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"
)

// ValidationResult is the payment validator's signal for one transfer.
type ValidationResult struct {
	ValidationScore float64 `json:"validation_score"`
	RiskLevel       string  `json:"risk_level"`
}

// RiskAssessment is the scored outcome of a risk check. It is kept on the transaction audit trail only.
type RiskAssessment struct {
	Score      float64      `json:"score"`
	Reasons    []string     `json:"reasons"`
	Decision   RiskDecision `json:"decision"`
	AssessedAt time.Time    `json:"assessed_at"`
}
