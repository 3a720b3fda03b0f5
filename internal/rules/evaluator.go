package rules

import (
	"math"

	"github.com/opensource-finance/shikra/internal/domain"
)

// Risk tier thresholds and the confidence multiplier. Fixed policy
// constants, not derived.
const (
	riskHighMin          = 0.65
	riskMediumMin        = 0.35
	confidenceMultiplier = 1.5
)

// Evaluator applies the rule catalog to transactions. It is stateless with
// respect to batches: history comes in on the transaction, counterparty
// risk through the registry snapshot argument, so scoring the same inputs
// twice yields the same result.
type Evaluator struct {
	catalog []domain.RuleDefinition
	caps    map[domain.Category]float64
	custom  *CustomEngine
}

// NewEvaluator builds an evaluator over the static catalog, validating its
// integrity first.
func NewEvaluator() (*Evaluator, error) {
	catalog := Catalog()
	caps := CategoryCaps()
	if err := ValidateCatalog(catalog, caps); err != nil {
		return nil, err
	}

	custom, err := NewCustomEngine(caps)
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		catalog: catalog,
		caps:    caps,
		custom:  custom,
	}, nil
}

// Custom exposes the supplemental rule engine for operator management.
func (e *Evaluator) Custom() *CustomEngine {
	return e.custom
}

// Evaluate scores one transaction against the catalog, the registry
// snapshot, and any loaded custom rules. Read-only; the triggered list
// preserves catalog order, followed by counterparty_risk, then custom
// rules in load order.
func (e *Evaluator) Evaluate(txn *domain.Transaction, registry map[string]float64) domain.EvaluationResult {
	var triggered []domain.TriggeredRule
	categoryScores := make(map[domain.Category]float64)

	add := func(def domain.RuleDefinition, score float64) {
		categoryScores[def.Category] += score
		triggered = append(triggered, domain.TriggeredRule{
			ID:          def.ID,
			Score:       score,
			Category:    def.Category,
			Description: def.Description,
		})
	}

	for _, def := range e.catalog {
		if e.predicate(def.ID, txn) {
			add(def, def.Weight)
		}
	}

	// Synthetic registry rule: the score is the accumulated registry value
	// itself, not a configured weight.
	if risk := registry[txn.ReceiverVPA]; risk > 0 {
		add(domain.RuleDefinition{
			ID:          RuleCounterpartyRisk,
			Category:    domain.CategoryRecipientContext,
			Description: counterpartyRiskDescription,
		}, risk)
	}

	for _, hit := range e.custom.Evaluate(txn) {
		categoryScores[hit.Category] += hit.Score
		triggered = append(triggered, hit)
	}

	return e.aggregate(txn.TxnID, triggered, categoryScores)
}

// predicate applies the catalog rule with the given ID to a transaction.
func (e *Evaluator) predicate(ruleID string, txn *domain.Transaction) bool {
	switch ruleID {
	case RuleVerificationPattern:
		if txn.Amount <= verificationAmountMin || !txn.IsNewCounterparty {
			return false
		}
		for _, prior := range txn.PriorSmallTransfers {
			if prior.Counterparty == txn.ReceiverVPA && prior.Amount <= domain.SmallTransferMax {
				return true
			}
		}
		return false

	case RuleNewContactHighAmount:
		return txn.IsNewCounterparty && txn.Amount > newContactAmountMin

	case RuleQRMismatch:
		return txn.Channel == domain.ChannelQR &&
			txn.ScannedQRVPA != "" &&
			txn.MerchantExpectedVPA != "" &&
			txn.ScannedQRVPA != txn.MerchantExpectedVPA

	case RuleRefundScamPattern:
		switch txn.PageContext {
		case domain.PageRefundScreen, domain.PageCashbackScreen, domain.PageSupportClaim:
			return txn.RequiresPIN
		}
		return false

	case RuleDeviceChangeHighVal:
		return txn.DeviceChange && txn.Amount > contextChangeAmountMin

	case RuleLocationChangeHighVal:
		return txn.LocationChange && txn.Amount > contextChangeAmountMin

	case RuleHighAnomalyScore:
		return txn.AnomalyScore >= anomalyScoreMin
	}

	return false
}

// aggregate clamps each category to its cap, sums the clamped values into
// the overall score (clamped to 1.0), and derives confidence and tier.
func (e *Evaluator) aggregate(txnID string, triggered []domain.TriggeredRule, categoryScores map[domain.Category]float64) domain.EvaluationResult {
	for category, score := range categoryScores {
		if limit := e.caps[category]; score > limit {
			categoryScores[category] = limit
		}
	}

	var total float64
	for _, score := range categoryScores {
		total += score
	}
	if total > 1 {
		total = 1
	}

	// Confidence is forced to 0 when nothing fired at all; this is an
	// explicit base case, not a consequence of the formula.
	confidence := 0.0
	if len(triggered) > 0 {
		confidence = round2(total * confidenceMultiplier)
		if confidence > 1 {
			confidence = 1
		}
	}

	level := domain.RiskLow
	switch {
	case total >= riskHighMin:
		level = domain.RiskHigh
	case total >= riskMediumMin:
		level = domain.RiskMedium
	}

	return domain.EvaluationResult{
		TxnID:             txnID,
		OverallScore:      total,
		Confidence:        confidence,
		RiskLevel:         level,
		TriggeredRules:    triggered,
		CategoryBreakdown: categoryScores,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
