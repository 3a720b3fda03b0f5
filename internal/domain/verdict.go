package domain

import "time"

// Verdict values after the hybrid merge.
const (
	VerdictFraud = "FRAUD"
	VerdictSafe  = "SAFE"
)

// Reason strings are policy constants, not derived from which rules fired.
const (
	ReasonFraud = "High Risk Detected by Hybrid Engine"
	ReasonClean = "Clean"
)

// FinalVerdict is the per-transaction record produced by the hybrid merge.
type FinalVerdict struct {
	ID      string `json:"id"`
	BatchID string `json:"batchId"`

	TxnID     string  `json:"transaction_id"`
	SenderUPI string  `json:"sender_upi"`
	Amount    float64 `json:"amount"`

	RuleScore float64 `json:"rule_score"` // rule-only overall score
	MLScore   float64 `json:"ml_score"`   // collaborator risk score (0 on fallback)
	RiskScore float64 `json:"risk_score"` // merged, rounded to 2 decimals

	Verdict string `json:"verdict"` // FRAUD or SAFE
	Reason  string `json:"reason"`

	CreatedAt time.Time `json:"createdAt"`
}

// ScoredRecord pairs the explainable rule evaluation with the final verdict
// for one transaction.
type ScoredRecord struct {
	Verdict    FinalVerdict     `json:"verdict"`
	Evaluation EvaluationResult `json:"evaluation"`
}

// ScoredBatch is the all-or-nothing result of scoring one batch.
// Records preserve the input transaction order.
type ScoredBatch struct {
	BatchID string         `json:"batchId"`
	Records []ScoredRecord `json:"records"`

	// MLFallback is true when the collaborator was unavailable and every
	// ml score was substituted with zero.
	MLFallback bool `json:"mlFallback"`
}
