package domain

// Category groups rules so that correlated signals cannot dominate the
// overall score; each category's contribution is clamped to its cap.
type Category string

const (
	CategorySocialEngineering Category = "social_engineering"
	CategoryRecipientContext  Category = "recipient_context"
	CategoryMerchantIntegrity Category = "merchant_integrity"
	CategoryUIPhishing        Category = "ui_phishing"
	CategoryDeviceContext     Category = "device_context"
	CategoryGeoAnomaly        Category = "geo_anomaly"
	CategoryBehaviorAnomaly   Category = "behavior_anomaly"
)

// RuleDefinition is one entry of the static rule catalog. Immutable for
// the lifetime of the process.
type RuleDefinition struct {
	ID          string   `json:"id"`
	Weight      float64  `json:"weight"` // in (0,1]
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

// CustomRule is an operator-defined supplemental rule. Its CEL expression
// is evaluated after the fixed catalog and, when true, contributes Weight
// to Category exactly like a catalog rule.
type CustomRule struct {
	ID          string   `json:"id"`
	Expression  string   `json:"expression"`
	Weight      float64  `json:"weight"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Enabled     bool     `json:"enabled"`
}

// TriggeredRule records one rule that fired during evaluation.
type TriggeredRule struct {
	ID          string   `json:"id"`
	Score       float64  `json:"score"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

// RiskLevel classifies the rule-only overall score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// EvaluationResult is the rule engine output for one transaction.
// TriggeredRules preserves catalog evaluation order.
type EvaluationResult struct {
	TxnID             string               `json:"txn_id"`
	OverallScore      float64              `json:"overall_score"` // in [0,1]
	Confidence        float64              `json:"confidence"`    // in [0,1], 0 when nothing fired
	RiskLevel         RiskLevel            `json:"risk_level"`
	TriggeredRules    []TriggeredRule      `json:"triggered_rules"`
	CategoryBreakdown map[Category]float64 `json:"category_breakdown"` // clamped per-category sums
}
