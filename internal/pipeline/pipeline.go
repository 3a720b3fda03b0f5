// Package pipeline orchestrates batch scoring: history index, rule
// evaluation, the single ML collaborator call, and the hybrid merge.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shikra/internal/domain"
	"github.com/opensource-finance/shikra/internal/history"
	"github.com/opensource-finance/shikra/internal/hybrid"
	"github.com/opensource-finance/shikra/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("shikra-pipeline")

// Pipeline scores one batch at a time. Per-transaction evaluation is
// parallelized behind the history-index barrier; the merge is
// all-or-nothing per batch.
type Pipeline struct {
	evaluator *rules.Evaluator
	registry  domain.RiskRegistry
	scorer    domain.MLScorer
	processor *hybrid.Processor
	repo      domain.Repository
	bus       domain.EventBus

	maxWorkers int
}

// New creates a pipeline. repo and bus may be nil; persistence and alert
// publication are then skipped.
func New(evaluator *rules.Evaluator, registry domain.RiskRegistry, scorer domain.MLScorer, processor *hybrid.Processor, repo domain.Repository, bus domain.EventBus, maxWorkers int) *Pipeline {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &Pipeline{
		evaluator:  evaluator,
		registry:   registry,
		scorer:     scorer,
		processor:  processor,
		repo:       repo,
		bus:        bus,
		maxWorkers: maxWorkers,
	}
}

// ScoreBatch runs the full pipeline over a batch of validated transactions
// and returns one record per transaction, in input order. An empty batch
// is valid and yields an empty result. The only returned error is
// cancellation before the collaborator call; everything else degrades.
func (p *Pipeline) ScoreBatch(ctx context.Context, txns []*domain.Transaction) (*domain.ScoredBatch, error) {
	start := time.Now()
	batchID := uuid.New().String()

	ctx, span := tracer.Start(ctx, "pipeline.ScoreBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.size", len(txns)),
	)

	result := &domain.ScoredBatch{BatchID: batchID, Records: []domain.ScoredRecord{}}
	if len(txns) == 0 {
		return result, nil
	}

	// Registry snapshot at batch start keeps per-transaction reads
	// consistent even if an operator writes mid-batch.
	snapshot, err := p.registry.Snapshot(ctx)
	if err != nil {
		slog.Warn("registry snapshot unavailable, scoring without counterparty risk",
			"batch_id", batchID,
			"error", err,
		)
		snapshot = map[string]float64{}
	}

	// Barrier: the index must cover the whole batch before any evaluation.
	history.Annotate(txns)

	evals := p.evaluateAll(txns, snapshot)

	// Cancellation is cheap up to here; once merged, partial results are
	// never exposed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mlScores, err := p.scorer.ScoreBatch(ctx, txns)
	if err != nil {
		slog.Warn("ml collaborator unavailable, falling back to rule-only scoring",
			"batch_id", batchID,
			"error", err,
		)
		mlScores = make([]float64, len(txns))
		result.MLFallback = true
	}

	result.Records = make([]domain.ScoredRecord, len(txns))
	for i, txn := range txns {
		verdict := p.processor.Verdict(batchID, txn, &evals[i], mlScores[i])
		result.Records[i] = domain.ScoredRecord{
			Verdict:    verdict,
			Evaluation: evals[i],
		}
	}

	p.persist(ctx, batchID, txns, result)
	p.publish(ctx, result)

	slog.Info("batch scored",
		"batch_id", batchID,
		"count", len(txns),
		"ml_fallback", result.MLFallback,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

// evaluateAll runs rule evaluation for every transaction with bounded
// concurrency. Evaluations only depend on the precomputed history and the
// registry snapshot, so order of execution cannot affect results.
func (p *Pipeline) evaluateAll(txns []*domain.Transaction, snapshot map[string]float64) []domain.EvaluationResult {
	evals := make([]domain.EvaluationResult, len(txns))

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.maxWorkers)

	for i, txn := range txns {
		wg.Add(1)
		go func(idx int, t *domain.Transaction) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			evals[idx] = p.evaluator.Evaluate(t, snapshot)
		}(i, txn)
	}

	wg.Wait()
	return evals
}

// persist stores the batch and its verdicts. Persistence failures are
// logged, never surfaced: the caller still gets the scored batch.
func (p *Pipeline) persist(ctx context.Context, batchID string, txns []*domain.Transaction, result *domain.ScoredBatch) {
	if p.repo == nil {
		return
	}

	if err := p.repo.SaveTransactions(ctx, batchID, txns); err != nil {
		slog.Error("failed to save batch transactions",
			"batch_id", batchID,
			"error", err,
		)
	}

	verdicts := make([]*domain.FinalVerdict, len(result.Records))
	for i := range result.Records {
		verdicts[i] = &result.Records[i].Verdict
	}
	if err := p.repo.SaveVerdicts(ctx, verdicts); err != nil {
		slog.Error("failed to save verdicts",
			"batch_id", batchID,
			"error", err,
		)
	}
}

// batchSummary is the payload published to TopicBatchScored.
type batchSummary struct {
	BatchID    string `json:"batchId"`
	Count      int    `json:"count"`
	FraudCount int    `json:"fraudCount"`
	MLFallback bool   `json:"mlFallback"`
}

// publish emits fraud alerts and the batch summary.
func (p *Pipeline) publish(ctx context.Context, result *domain.ScoredBatch) {
	if p.bus == nil {
		return
	}

	fraudCount := 0
	for i := range result.Records {
		verdict := &result.Records[i].Verdict
		if verdict.Verdict != domain.VerdictFraud {
			continue
		}
		fraudCount++

		payload, _ := json.Marshal(verdict)
		if err := p.bus.Publish(ctx, domain.TopicFraudVerdict, payload); err != nil {
			slog.Error("failed to publish fraud verdict",
				"txn_id", verdict.TxnID,
				"error", err,
			)
		}
	}

	payload, _ := json.Marshal(batchSummary{
		BatchID:    result.BatchID,
		Count:      len(result.Records),
		FraudCount: fraudCount,
		MLFallback: result.MLFallback,
	})
	if err := p.bus.Publish(ctx, domain.TopicBatchScored, payload); err != nil {
		slog.Error("failed to publish batch summary",
			"batch_id", result.BatchID,
			"error", err,
		)
	}
}
