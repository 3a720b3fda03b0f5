package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/shikra/internal/bus"
	"github.com/opensource-finance/shikra/internal/domain"
	"github.com/opensource-finance/shikra/internal/hybrid"
	"github.com/opensource-finance/shikra/internal/registry"
	"github.com/opensource-finance/shikra/internal/rules"
)

// stubScorer returns fixed scores or a fixed error.
type stubScorer struct {
	scores []float64
	err    error
}

func (s *stubScorer) ScoreBatch(ctx context.Context, txns []*domain.Transaction) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func newTestPipeline(t *testing.T, scorer domain.MLScorer, b domain.EventBus) (*Pipeline, *registry.MemoryRegistry) {
	t.Helper()
	evaluator, err := rules.NewEvaluator()
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	reg := registry.NewMemoryRegistry()
	return New(evaluator, reg, scorer, hybrid.NewProcessor(), nil, b, 4), reg
}

func baseTxn(id string, at time.Time) *domain.Transaction {
	return &domain.Transaction{
		TxnID:       id,
		SenderVPA:   "alice@upi",
		ReceiverVPA: "bob@upi",
		Amount:      500,
		Channel:     domain.ChannelTransfer,
		Timestamp:   at,
		State:       "Karnataka",
	}
}

func TestScoreBatch(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("EmptyBatch", func(t *testing.T) {
		pipe, _ := newTestPipeline(t, &stubScorer{}, nil)

		result, err := pipe.ScoreBatch(ctx, nil)
		if err != nil {
			t.Fatalf("ScoreBatch failed: %v", err)
		}
		if result.BatchID == "" {
			t.Error("empty batch still gets a batch ID")
		}
		if len(result.Records) != 0 {
			t.Errorf("expected 0 records, got %d", len(result.Records))
		}
		if result.MLFallback {
			t.Error("empty batch must not report ML fallback")
		}
	})

	t.Run("RecordsPreserveInputOrder", func(t *testing.T) {
		benign := baseTxn("t-benign", base)

		mismatch := baseTxn("t-qr", base.Add(time.Minute))
		mismatch.Channel = domain.ChannelQR
		mismatch.ScannedQRVPA = "evil@upi"
		mismatch.MerchantExpectedVPA = "shop@upi"

		hot := baseTxn("t-hot", base.Add(2*time.Minute))
		hot.Amount = 6000
		hot.IsNewCounterparty = true
		hot.DeviceChange = true
		hot.LocationChange = true
		hot.AnomalyScore = 0.9

		pipe, _ := newTestPipeline(t, &stubScorer{scores: []float64{0.1, 0.8, 0.9}}, nil)

		result, err := pipe.ScoreBatch(ctx, []*domain.Transaction{benign, mismatch, hot})
		if err != nil {
			t.Fatalf("ScoreBatch failed: %v", err)
		}
		if len(result.Records) != 3 {
			t.Fatalf("expected 3 records, got %d", len(result.Records))
		}

		for i, want := range []string{"t-benign", "t-qr", "t-hot"} {
			if result.Records[i].Verdict.TxnID != want {
				t.Errorf("record %d: expected %s, got %s", i, want, result.Records[i].Verdict.TxnID)
			}
		}

		// benign: rule 0, ml 0.1 -> 0.06 SAFE
		if got := result.Records[0].Verdict.RiskScore; got != 0.06 {
			t.Errorf("benign: expected risk 0.06, got %v", got)
		}
		if result.Records[0].Verdict.Verdict != domain.VerdictSafe {
			t.Errorf("benign: expected SAFE, got %s", result.Records[0].Verdict.Verdict)
		}

		// qr mismatch: rule 0.40, ml 0.8 -> 0.4*0.4 + 0.8*0.6 = 0.64 SAFE
		if got := result.Records[1].Verdict.RiskScore; got != 0.64 {
			t.Errorf("qr: expected risk 0.64, got %v", got)
		}
		if result.Records[1].Verdict.Verdict != domain.VerdictSafe {
			t.Errorf("qr: expected SAFE at 0.64, got %s", result.Records[1].Verdict.Verdict)
		}

		// hot: rule 0.85, ml 0.9 -> 0.85*0.4 + 0.9*0.6 = 0.88 FRAUD
		if got := result.Records[2].Verdict.RiskScore; got != 0.88 {
			t.Errorf("hot: expected risk 0.88, got %v", got)
		}
		if result.Records[2].Verdict.Verdict != domain.VerdictFraud {
			t.Errorf("hot: expected FRAUD, got %s", result.Records[2].Verdict.Verdict)
		}
		if result.Records[2].Verdict.Reason != domain.ReasonFraud {
			t.Errorf("hot: unexpected reason %q", result.Records[2].Verdict.Reason)
		}
	})

	t.Run("MLFallbackScoresRuleOnly", func(t *testing.T) {
		txn := baseTxn("t-1", base)
		txn.Channel = domain.ChannelQR
		txn.ScannedQRVPA = "evil@upi"
		txn.MerchantExpectedVPA = "shop@upi"
		txn.PageContext = domain.PageRefundScreen
		txn.RequiresPIN = true

		pipe, _ := newTestPipeline(t, &stubScorer{err: errors.New("model down")}, nil)

		result, err := pipe.ScoreBatch(ctx, []*domain.Transaction{txn})
		if err != nil {
			t.Fatalf("collaborator failure must not fail the batch: %v", err)
		}
		if !result.MLFallback {
			t.Error("expected MLFallback to be set")
		}

		verdict := result.Records[0].Verdict
		if verdict.MLScore != 0 {
			t.Errorf("expected ml score 0 on fallback, got %v", verdict.MLScore)
		}
		// rule 0.75, ml 0 -> 0.75*0.4 = 0.3 SAFE
		if verdict.RiskScore != 0.3 {
			t.Errorf("expected risk 0.3, got %v", verdict.RiskScore)
		}
		if verdict.Verdict != domain.VerdictSafe {
			t.Errorf("expected SAFE, got %s", verdict.Verdict)
		}
	})

	t.Run("OverrideSurvivesFallback", func(t *testing.T) {
		// Rule score 1.0 forces final risk 1.0 even with the all-zero
		// fallback in place.
		txn := baseTxn("t-max", base.Add(time.Hour))
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

		probe := baseTxn("t-probe", base)
		probe.Amount = 1

		pipe, reg := newTestPipeline(t, &stubScorer{err: errors.New("model down")}, nil)
		if err := reg.Set(ctx, "bob@upi", 0.5); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		result, err := pipe.ScoreBatch(ctx, []*domain.Transaction{probe, txn})
		if err != nil {
			t.Fatalf("ScoreBatch failed: %v", err)
		}

		verdict := result.Records[1].Verdict
		if verdict.RuleScore != 1.0 {
			t.Errorf("expected rule score 1.0, got %v", verdict.RuleScore)
		}
		if verdict.RiskScore != 1.0 {
			t.Errorf("expected override risk 1.0, got %v", verdict.RiskScore)
		}
		if verdict.Verdict != domain.VerdictFraud {
			t.Errorf("expected FRAUD, got %s", verdict.Verdict)
		}
	})

	t.Run("HistoryBarrierLinksProbeAndDrain", func(t *testing.T) {
		probe := baseTxn("t-probe", base)
		probe.Amount = 1

		drain := baseTxn("t-drain", base.Add(time.Minute))
		drain.Amount = 1500
		drain.IsNewCounterparty = true

		pipe, _ := newTestPipeline(t, &stubScorer{scores: []float64{0, 0}}, nil)

		result, err := pipe.ScoreBatch(ctx, []*domain.Transaction{probe, drain})
		if err != nil {
			t.Fatalf("ScoreBatch failed: %v", err)
		}

		fired := false
		for _, hit := range result.Records[1].Evaluation.TriggeredRules {
			if hit.ID == rules.RuleVerificationPattern {
				fired = true
			}
		}
		if !fired {
			t.Error("verification_pattern must fire for the drain after the in-batch probe")
		}
	})

	t.Run("RegistrySnapshotAppliesToWholeBatch", func(t *testing.T) {
		txn := baseTxn("t-flagged", base)

		pipe, reg := newTestPipeline(t, &stubScorer{scores: []float64{0}}, nil)
		if err := reg.Set(ctx, "bob@upi", 0.25); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		result, err := pipe.ScoreBatch(ctx, []*domain.Transaction{txn})
		if err != nil {
			t.Fatalf("ScoreBatch failed: %v", err)
		}

		eval := result.Records[0].Evaluation
		if len(eval.TriggeredRules) != 1 || eval.TriggeredRules[0].ID != rules.RuleCounterpartyRisk {
			t.Fatalf("expected only counterparty_risk to fire, got %+v", eval.TriggeredRules)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		pipe, _ := newTestPipeline(t, &stubScorer{scores: []float64{0}}, nil)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		if _, err := pipe.ScoreBatch(cancelled, []*domain.Transaction{baseTxn("t-1", base)}); err == nil {
			t.Error("expected error for cancelled context")
		}
	})

	t.Run("PublishesFraudAlerts", func(t *testing.T) {
		channelBus := bus.NewChannelBus(16)
		defer channelBus.Close()

		alerts := make(chan *domain.Message, 4)
		_, err := channelBus.Subscribe(ctx, domain.TopicFraudVerdict, func(ctx context.Context, msg *domain.Message) error {
			alerts <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		txn := baseTxn("t-fraud", base)
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

		pipe, _ := newTestPipeline(t, &stubScorer{scores: []float64{0.9}}, channelBus)

		if _, err := pipe.ScoreBatch(ctx, []*domain.Transaction{txn}); err != nil {
			t.Fatalf("ScoreBatch failed: %v", err)
		}

		select {
		case msg := <-alerts:
			var verdict domain.FinalVerdict
			if err := json.Unmarshal(msg.Payload, &verdict); err != nil {
				t.Fatalf("failed to decode alert payload: %v", err)
			}
			if verdict.TxnID != "t-fraud" || verdict.Verdict != domain.VerdictFraud {
				t.Errorf("unexpected alert %+v", verdict)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected a fraud alert on the bus")
		}
	})
}
