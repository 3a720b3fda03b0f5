// Package rules implements the fixed fraud rule catalog and its evaluator.
package rules

import (
	"fmt"

	"github.com/opensource-finance/shikra/internal/domain"
)

// Rule IDs, in catalog evaluation order.
const (
	RuleVerificationPattern   = "verification_pattern"
	RuleNewContactHighAmount  = "new_contact_high_amount"
	RuleQRMismatch            = "qr_mismatch"
	RuleRefundScamPattern     = "refund_scam_pattern"
	RuleDeviceChangeHighVal   = "device_change_high_value"
	RuleLocationChangeHighVal = "location_change_high_value"
	RuleHighAnomalyScore      = "high_anomaly_score"

	// Synthetic rule: score comes from the counterparty registry, not a
	// fixed weight.
	RuleCounterpartyRisk = "counterparty_risk"
)

// Amount thresholds used by the catalog predicates.
const (
	verificationAmountMin  = 1000.0
	newContactAmountMin    = 5000.0
	contextChangeAmountMin = 2000.0
	anomalyScoreMin        = 0.55
)

// Catalog returns the static rule table in evaluation order.
func Catalog() []domain.RuleDefinition {
	return []domain.RuleDefinition{
		{
			ID:          RuleVerificationPattern,
			Weight:      0.30,
			Category:    domain.CategorySocialEngineering,
			Description: "Small amount test transaction followed by high debit",
		},
		{
			ID:          RuleNewContactHighAmount,
			Weight:      0.20,
			Category:    domain.CategoryRecipientContext,
			Description: "High-value payment to a new counterparty",
		},
		{
			ID:          RuleQRMismatch,
			Weight:      0.40,
			Category:    domain.CategoryMerchantIntegrity,
			Description: "QR scanned VPA does not match registered merchant",
		},
		{
			ID:          RuleRefundScamPattern,
			Weight:      0.35,
			Category:    domain.CategoryUIPhishing,
			Description: "Refund/cashback flow but outbound transaction requiring PIN",
		},
		{
			ID:          RuleDeviceChangeHighVal,
			Weight:      0.20,
			Category:    domain.CategoryDeviceContext,
			Description: "Large outgoing payment from newly switched device",
		},
		{
			ID:          RuleLocationChangeHighVal,
			Weight:      0.20,
			Category:    domain.CategoryGeoAnomaly,
			Description: "High-value payment from abnormal location",
		},
		{
			ID:          RuleHighAnomalyScore,
			Weight:      0.25,
			Category:    domain.CategoryBehaviorAnomaly,
			Description: "ML anomaly model indicates unusual deviation",
		},
	}
}

// counterpartyRiskDescription is the description of the synthetic registry rule.
const counterpartyRiskDescription = "Receiver VPA flagged in global risk list"

// CategoryCaps returns the maximum permitted accumulated score per category.
func CategoryCaps() map[domain.Category]float64 {
	return map[domain.Category]float64{
		domain.CategorySocialEngineering: 0.45,
		domain.CategoryRecipientContext:  0.30,
		domain.CategoryMerchantIntegrity: 0.45,
		domain.CategoryUIPhishing:        0.40,
		domain.CategoryDeviceContext:     0.25,
		domain.CategoryGeoAnomaly:        0.25,
		domain.CategoryBehaviorAnomaly:   0.35,
	}
}

// ValidateCatalog checks catalog integrity: unique IDs, weights in (0,1],
// every category defined with a cap in (0,1]. A failure here is fatal at
// startup; the engine refuses to score rather than silently mis-clamp.
func ValidateCatalog(defs []domain.RuleDefinition, caps map[domain.Category]float64) error {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return fmt.Errorf("rule with empty id")
		}
		if seen[def.ID] {
			return fmt.Errorf("duplicate rule id %q", def.ID)
		}
		seen[def.ID] = true

		if def.Weight <= 0 || def.Weight > 1 {
			return fmt.Errorf("rule %s: weight must be in (0,1], got %v", def.ID, def.Weight)
		}
		if _, ok := caps[def.Category]; !ok {
			return fmt.Errorf("rule %s: undefined category %q", def.ID, def.Category)
		}
	}

	for category, limit := range caps {
		if limit <= 0 || limit > 1 {
			return fmt.Errorf("category %s: cap must be in (0,1], got %v", category, limit)
		}
	}

	return nil
}
