package rules

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/shikra/internal/domain"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// benignTxn returns a transaction that triggers no catalog rule.
func benignTxn() *domain.Transaction {
	return &domain.Transaction{
		TxnID:       "txn-001",
		SenderVPA:   "alice@upi",
		ReceiverVPA: "bob@upi",
		Amount:      500,
		Channel:     domain.ChannelTransfer,
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		State:       "Karnataka",
	}
}

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	return eval
}

func TestEvaluatePredicates(t *testing.T) {
	eval := newTestEvaluator(t)
	empty := map[string]float64{}

	fired := func(result domain.EvaluationResult, ruleID string) bool {
		for _, hit := range result.TriggeredRules {
			if hit.ID == ruleID {
				return true
			}
		}
		return false
	}

	t.Run("NothingFires", func(t *testing.T) {
		result := eval.Evaluate(benignTxn(), empty)

		if len(result.TriggeredRules) != 0 {
			t.Errorf("expected no triggered rules, got %d", len(result.TriggeredRules))
		}
		if result.OverallScore != 0 {
			t.Errorf("expected score 0, got %v", result.OverallScore)
		}
		if result.Confidence != 0 {
			t.Errorf("expected confidence 0, got %v", result.Confidence)
		}
		if result.RiskLevel != domain.RiskLow {
			t.Errorf("expected LOW, got %s", result.RiskLevel)
		}
	})

	t.Run("VerificationPattern", func(t *testing.T) {
		txn := benignTxn()
		txn.Amount = 1500
		txn.IsNewCounterparty = true
		txn.PriorSmallTransfers = []domain.SmallTransfer{
			{Amount: 1, Counterparty: "bob@upi", Timestamp: txn.Timestamp.Add(-time.Hour)},
		}

		result := eval.Evaluate(txn, empty)
		if !fired(result, RuleVerificationPattern) {
			t.Error("expected verification_pattern to fire")
		}
		if !approx(result.OverallScore, 0.30) {
			t.Errorf("expected score 0.30, got %v", result.OverallScore)
		}
	})

	t.Run("VerificationPatternNeedsAmountAboveThreshold", func(t *testing.T) {
		txn := benignTxn()
		txn.Amount = 1000 // not strictly above
		txn.IsNewCounterparty = true
		txn.PriorSmallTransfers = []domain.SmallTransfer{
			{Amount: 1, Counterparty: "bob@upi", Timestamp: txn.Timestamp.Add(-time.Hour)},
		}

		if fired(eval.Evaluate(txn, empty), RuleVerificationPattern) {
			t.Error("verification_pattern must not fire at amount 1000")
		}
	})

	t.Run("VerificationPatternNeedsMatchingProbe", func(t *testing.T) {
		txn := benignTxn()
		txn.Amount = 1500
		txn.IsNewCounterparty = true
		txn.PriorSmallTransfers = []domain.SmallTransfer{
			{Amount: 1, Counterparty: "someone-else@upi", Timestamp: txn.Timestamp.Add(-time.Hour)},
		}

		if fired(eval.Evaluate(txn, empty), RuleVerificationPattern) {
			t.Error("verification_pattern must not fire without a probe to the same receiver")
		}
	})

	t.Run("NewContactHighAmount", func(t *testing.T) {
		txn := benignTxn()
		txn.Amount = 6000
		txn.IsNewCounterparty = true

		result := eval.Evaluate(txn, empty)
		if !fired(result, RuleNewContactHighAmount) {
			t.Error("expected new_contact_high_amount to fire")
		}

		txn.Amount = 5000 // boundary: not strictly above
		if fired(eval.Evaluate(txn, empty), RuleNewContactHighAmount) {
			t.Error("new_contact_high_amount must not fire at amount 5000")
		}
	})

	t.Run("QRMismatch", func(t *testing.T) {
		txn := benignTxn()
		txn.Channel = domain.ChannelQR
		txn.ScannedQRVPA = "evil@upi"
		txn.MerchantExpectedVPA = "shop@upi"

		result := eval.Evaluate(txn, empty)
		if !fired(result, RuleQRMismatch) {
			t.Error("expected qr_mismatch to fire")
		}
		if !approx(result.OverallScore, 0.40) {
			t.Errorf("expected score 0.40, got %v", result.OverallScore)
		}
		if !approx(result.Confidence, 0.60) {
			t.Errorf("expected confidence 0.60, got %v", result.Confidence)
		}
		if result.RiskLevel != domain.RiskMedium {
			t.Errorf("expected MEDIUM, got %s", result.RiskLevel)
		}

		// Matching VPAs are clean.
		txn.ScannedQRVPA = "shop@upi"
		if fired(eval.Evaluate(txn, empty), RuleQRMismatch) {
			t.Error("qr_mismatch must not fire when VPAs match")
		}

		// Missing merchant registration is no signal.
		txn.ScannedQRVPA = "evil@upi"
		txn.MerchantExpectedVPA = ""
		if fired(eval.Evaluate(txn, empty), RuleQRMismatch) {
			t.Error("qr_mismatch must not fire without an expected VPA")
		}
	})

	t.Run("RefundScamPattern", func(t *testing.T) {
		for _, page := range []string{domain.PageRefundScreen, domain.PageCashbackScreen, domain.PageSupportClaim} {
			txn := benignTxn()
			txn.PageContext = page
			txn.RequiresPIN = true
			if !fired(eval.Evaluate(txn, empty), RuleRefundScamPattern) {
				t.Errorf("expected refund_scam_pattern to fire on %s", page)
			}
		}

		// A genuine refund never asks for a PIN.
		txn := benignTxn()
		txn.PageContext = domain.PageRefundScreen
		txn.RequiresPIN = false
		if fired(eval.Evaluate(txn, empty), RuleRefundScamPattern) {
			t.Error("refund_scam_pattern must not fire without PIN requirement")
		}
	})

	t.Run("DeviceChangeHighValue", func(t *testing.T) {
		txn := benignTxn()
		txn.DeviceChange = true
		txn.Amount = 2500
		if !fired(eval.Evaluate(txn, empty), RuleDeviceChangeHighVal) {
			t.Error("expected device_change_high_value to fire")
		}

		txn.Amount = 2000
		if fired(eval.Evaluate(txn, empty), RuleDeviceChangeHighVal) {
			t.Error("device_change_high_value must not fire at amount 2000")
		}
	})

	t.Run("LocationChangeHighValue", func(t *testing.T) {
		txn := benignTxn()
		txn.LocationChange = true
		txn.Amount = 2500
		if !fired(eval.Evaluate(txn, empty), RuleLocationChangeHighVal) {
			t.Error("expected location_change_high_value to fire")
		}
	})

	t.Run("HighAnomalyScore", func(t *testing.T) {
		txn := benignTxn()
		txn.AnomalyScore = 0.55 // boundary: inclusive
		if !fired(eval.Evaluate(txn, empty), RuleHighAnomalyScore) {
			t.Error("expected high_anomaly_score to fire at 0.55")
		}

		txn.AnomalyScore = 0.54
		if fired(eval.Evaluate(txn, empty), RuleHighAnomalyScore) {
			t.Error("high_anomaly_score must not fire below 0.55")
		}
	})
}

func TestEvaluateRegistryRule(t *testing.T) {
	eval := newTestEvaluator(t)

	t.Run("FiresWithRegistryScore", func(t *testing.T) {
		txn := benignTxn()
		result := eval.Evaluate(txn, map[string]float64{"bob@upi": 0.25})

		if len(result.TriggeredRules) != 1 {
			t.Fatalf("expected 1 triggered rule, got %d", len(result.TriggeredRules))
		}
		hit := result.TriggeredRules[0]
		if hit.ID != RuleCounterpartyRisk {
			t.Errorf("expected counterparty_risk, got %s", hit.ID)
		}
		if !approx(hit.Score, 0.25) {
			t.Errorf("expected score 0.25 from registry, got %v", hit.Score)
		}
		if hit.Category != domain.CategoryRecipientContext {
			t.Errorf("expected recipient_context, got %s", hit.Category)
		}
		if hit.Description != "Receiver VPA flagged in global risk list" {
			t.Errorf("unexpected description %q", hit.Description)
		}
	})

	t.Run("SilentForUnknownReceiver", func(t *testing.T) {
		txn := benignTxn()
		result := eval.Evaluate(txn, map[string]float64{"other@upi": 0.9})
		if len(result.TriggeredRules) != 0 {
			t.Errorf("expected no triggered rules, got %d", len(result.TriggeredRules))
		}
	})

	t.Run("ZeroEntryIsNoSignal", func(t *testing.T) {
		txn := benignTxn()
		result := eval.Evaluate(txn, map[string]float64{"bob@upi": 0})
		if len(result.TriggeredRules) != 0 {
			t.Errorf("expected no triggered rules for zero risk, got %d", len(result.TriggeredRules))
		}
	})
}

func TestEvaluateAggregation(t *testing.T) {
	eval := newTestEvaluator(t)
	empty := map[string]float64{}

	t.Run("TwoRulesSum", func(t *testing.T) {
		txn := benignTxn()
		txn.Amount = 6000
		txn.IsNewCounterparty = true
		txn.PriorSmallTransfers = []domain.SmallTransfer{
			{Amount: 1, Counterparty: "bob@upi", Timestamp: txn.Timestamp.Add(-time.Hour)},
		}

		result := eval.Evaluate(txn, empty)
		// verification_pattern 0.30 + new_contact_high_amount 0.20
		if !approx(result.OverallScore, 0.50) {
			t.Errorf("expected score 0.50, got %v", result.OverallScore)
		}
		if !approx(result.Confidence, 0.75) {
			t.Errorf("expected confidence 0.75, got %v", result.Confidence)
		}
		if result.RiskLevel != domain.RiskMedium {
			t.Errorf("expected MEDIUM, got %s", result.RiskLevel)
		}
	})

	t.Run("CategoryCapClampsCorrelatedSignals", func(t *testing.T) {
		// new_contact_high_amount (0.20) plus a 0.25 registry hit both land
		// in recipient_context, capped at 0.30.
		txn := benignTxn()
		txn.Amount = 6000
		txn.IsNewCounterparty = true

		result := eval.Evaluate(txn, map[string]float64{"bob@upi": 0.25})
		if !approx(result.OverallScore, 0.30) {
			t.Errorf("expected capped score 0.30, got %v", result.OverallScore)
		}
		if !approx(result.CategoryBreakdown[domain.CategoryRecipientContext], 0.30) {
			t.Errorf("expected recipient_context clamped to 0.30, got %v",
				result.CategoryBreakdown[domain.CategoryRecipientContext])
		}
		// Both rules still appear in the triggered list at raw scores.
		if len(result.TriggeredRules) != 2 {
			t.Errorf("expected 2 triggered rules, got %d", len(result.TriggeredRules))
		}
	})

	t.Run("ConfidenceCapsAtOne", func(t *testing.T) {
		txn := benignTxn()
		txn.Channel = domain.ChannelQR
		txn.ScannedQRVPA = "evil@upi"
		txn.MerchantExpectedVPA = "shop@upi"
		txn.PageContext = domain.PageRefundScreen
		txn.RequiresPIN = true

		result := eval.Evaluate(txn, empty)
		// 0.40 + 0.35 = 0.75; 0.75 * 1.5 > 1 so confidence caps.
		if !approx(result.OverallScore, 0.75) {
			t.Errorf("expected score 0.75, got %v", result.OverallScore)
		}
		if !approx(result.Confidence, 1.0) {
			t.Errorf("expected confidence 1.0, got %v", result.Confidence)
		}
		if result.RiskLevel != domain.RiskHigh {
			t.Errorf("expected HIGH, got %s", result.RiskLevel)
		}
	})

	t.Run("TotalClampsAtOne", func(t *testing.T) {
		txn := benignTxn()
		txn.Amount = 6000
		txn.IsNewCounterparty = true
		txn.Channel = domain.ChannelQR
		txn.ScannedQRVPA = "evil@upi"
		txn.MerchantExpectedVPA = "shop@upi"
		txn.PageContext = domain.PageRefundScreen
		txn.RequiresPIN = true
		txn.DeviceChange = true
		txn.LocationChange = true
		txn.AnomalyScore = 0.9
		txn.PriorSmallTransfers = []domain.SmallTransfer{
			{Amount: 1, Counterparty: "bob@upi", Timestamp: txn.Timestamp.Add(-time.Hour)},
		}

		result := eval.Evaluate(txn, map[string]float64{"bob@upi": 0.5})
		if !approx(result.OverallScore, 1.0) {
			t.Errorf("expected score clamped to 1.0, got %v", result.OverallScore)
		}
		if result.RiskLevel != domain.RiskHigh {
			t.Errorf("expected HIGH, got %s", result.RiskLevel)
		}
	})

	t.Run("TriggeredRulesPreserveCatalogOrder", func(t *testing.T) {
		txn := benignTxn()
		txn.Amount = 6000
		txn.IsNewCounterparty = true
		txn.AnomalyScore = 0.9

		result := eval.Evaluate(txn, map[string]float64{"bob@upi": 0.1})
		want := []string{RuleNewContactHighAmount, RuleHighAnomalyScore, RuleCounterpartyRisk}
		if len(result.TriggeredRules) != len(want) {
			t.Fatalf("expected %d triggered rules, got %d", len(want), len(result.TriggeredRules))
		}
		for i, id := range want {
			if result.TriggeredRules[i].ID != id {
				t.Errorf("position %d: expected %s, got %s", i, id, result.TriggeredRules[i].ID)
			}
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		txn := benignTxn()
		txn.Amount = 6000
		txn.IsNewCounterparty = true
		registry := map[string]float64{"bob@upi": 0.2}

		first := eval.Evaluate(txn, registry)
		second := eval.Evaluate(txn, registry)

		if first.OverallScore != second.OverallScore ||
			first.Confidence != second.Confidence ||
			first.RiskLevel != second.RiskLevel ||
			len(first.TriggeredRules) != len(second.TriggeredRules) {
			t.Error("evaluating the same transaction twice gave different results")
		}
	})
}
