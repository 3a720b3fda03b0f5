// Package hybrid reconciles the deterministic rule score with the external
// ML risk score into a final verdict.
package hybrid

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shikra/internal/domain"
)

// Processor combines ruleRisk and mlRisk under a fixed weighting and
// override policy. The zero value is not usable; use NewProcessor.
type Processor struct {
	// RuleWeight and MLWeight are the blend weights.
	RuleWeight float64
	MLWeight   float64

	// OverrideThreshold: a rule score at or above this forces the final
	// risk to 1.0 regardless of the ML score. A near-certain rule match
	// is never diluted by a low ML score.
	OverrideThreshold float64

	// FraudThreshold: final risk strictly above this is a FRAUD verdict.
	FraudThreshold float64
}

// NewProcessor creates a processor with the standard policy constants.
func NewProcessor() *Processor {
	return &Processor{
		RuleWeight:        0.4,
		MLWeight:          0.6,
		OverrideThreshold: 0.9,
		FraudThreshold:    0.7,
	}
}

// Merge is a pure function of (ruleRisk, mlRisk) except for the override
// branch. The result is rounded to two decimals.
func (p *Processor) Merge(ruleRisk, mlRisk float64) float64 {
	if ruleRisk >= p.OverrideThreshold {
		return 1.0
	}
	return round2(ruleRisk*p.RuleWeight + mlRisk*p.MLWeight)
}

// Classify maps a merged risk score to its verdict and reason.
func (p *Processor) Classify(finalRisk float64) (verdict, reason string) {
	if finalRisk > p.FraudThreshold {
		return domain.VerdictFraud, domain.ReasonFraud
	}
	return domain.VerdictSafe, domain.ReasonClean
}

// Verdict builds the final per-transaction record from a rule evaluation
// and the collaborator's risk score (0 on fallback).
func (p *Processor) Verdict(batchID string, txn *domain.Transaction, eval *domain.EvaluationResult, mlRisk float64) domain.FinalVerdict {
	finalRisk := p.Merge(eval.OverallScore, mlRisk)
	verdict, reason := p.Classify(finalRisk)

	return domain.FinalVerdict{
		ID:        uuid.New().String(),
		BatchID:   batchID,
		TxnID:     txn.TxnID,
		SenderUPI: txn.SenderVPA,
		Amount:    txn.Amount,
		RuleScore: eval.OverallScore,
		MLScore:   mlRisk,
		RiskScore: finalRisk,
		Verdict:   verdict,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
