package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/shikra/internal/domain"
	"github.com/opensource-finance/shikra/internal/ingest"
	"github.com/opensource-finance/shikra/internal/pipeline"
	"github.com/opensource-finance/shikra/internal/repository"
	"github.com/opensource-finance/shikra/internal/rules"
)

// maxUploadBytes caps multipart CSV uploads at 32MB.
const maxUploadBytes = 32 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline  *pipeline.Pipeline
	evaluator *rules.Evaluator
	registry  domain.RiskRegistry
	repo      domain.Repository
	bus       domain.EventBus
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(pipe *pipeline.Pipeline, evaluator *rules.Evaluator, registry domain.RiskRegistry, repo domain.Repository, bus domain.EventBus, version string) *Handler {
	return &Handler{
		pipeline:  pipe,
		evaluator: evaluator,
		registry:  registry,
		repo:      repo,
		bus:       bus,
		version:   version,
	}
}

// ScoreBatchRequest is the request body for POST /batches/score.
type ScoreBatchRequest struct {
	Transactions []*domain.Transaction `json:"transactions"`
}

// VerdictResponse is the wire form of a final verdict. The risk score is
// rendered as a two-decimal string to keep downstream consumers stable.
type VerdictResponse struct {
	ID        string  `json:"id"`
	BatchID   string  `json:"batchId"`
	TxnID     string  `json:"transaction_id"`
	SenderUPI string  `json:"sender_upi"`
	Amount    float64 `json:"amount"`
	RuleScore float64 `json:"rule_score"`
	MLScore   float64 `json:"ml_score"`
	RiskScore string  `json:"risk_score"`
	Verdict   string  `json:"verdict"`
	Reason    string  `json:"reason"`

	CreatedAt time.Time `json:"createdAt"`
}

// ScoredRecordResponse pairs the wire verdict with the rule evaluation.
type ScoredRecordResponse struct {
	Verdict    VerdictResponse         `json:"verdict"`
	Evaluation domain.EvaluationResult `json:"evaluation"`
}

// ScoreBatchResponse is the response for batch scoring endpoints.
type ScoreBatchResponse struct {
	BatchID    string                 `json:"batchId"`
	Count      int                    `json:"count"`
	Skipped    int                    `json:"skipped,omitempty"`
	MLFallback bool                   `json:"mlFallback"`
	Records    []ScoredRecordResponse `json:"records"`
}

func toVerdictResponse(v *domain.FinalVerdict) VerdictResponse {
	return VerdictResponse{
		ID:        v.ID,
		BatchID:   v.BatchID,
		TxnID:     v.TxnID,
		SenderUPI: v.SenderUPI,
		Amount:    v.Amount,
		RuleScore: v.RuleScore,
		MLScore:   v.MLScore,
		RiskScore: strconv.FormatFloat(v.RiskScore, 'f', 2, 64),
		Verdict:   v.Verdict,
		Reason:    v.Reason,
		CreatedAt: v.CreatedAt,
	}
}

func toBatchResponse(result *domain.ScoredBatch, skipped int) ScoreBatchResponse {
	records := make([]ScoredRecordResponse, len(result.Records))
	for i := range result.Records {
		records[i] = ScoredRecordResponse{
			Verdict:    toVerdictResponse(&result.Records[i].Verdict),
			Evaluation: result.Records[i].Evaluation,
		}
	}
	return ScoreBatchResponse{
		BatchID:    result.BatchID,
		Count:      len(records),
		Skipped:    skipped,
		MLFallback: result.MLFallback,
		Records:    records,
	}
}

// ScoreBatch handles POST /batches/score requests.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScoreBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	for i, txn := range req.Transactions {
		if txn == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("transaction %d is null", i),
			})
			return
		}
		if err := txn.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("transaction %d: %s", i, err.Error()),
			})
			return
		}
	}

	result, err := h.pipeline.ScoreBatch(ctx, req.Transactions)
	if err != nil {
		slog.Error("batch scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "batch scoring failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, toBatchResponse(result, 0))
}

// UploadBatch handles POST /batches/upload with a multipart CSV file.
func (h *Handler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid multipart form",
		})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "file field is required",
		})
		return
	}
	defer file.Close()

	txns, skipped, err := ingest.ReadBatch(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CSV: " + err.Error(),
		})
		return
	}

	result, err := h.pipeline.ScoreBatch(ctx, txns)
	if err != nil {
		slog.Error("batch scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "batch scoring failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, toBatchResponse(result, skipped))
}

// GetVerdict retrieves a stored verdict by ID.
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verdictID := chi.URLParam(r, "id")

	if verdictID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "verdict id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	verdict, err := h.repo.GetVerdict(ctx, verdictID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "verdict not found",
			})
			return
		}
		slog.Error("failed to get verdict", "id", verdictID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get verdict",
		})
		return
	}

	writeJSON(w, http.StatusOK, toVerdictResponse(verdict))
}

// ListBatchVerdicts retrieves all verdicts stored for a batch.
func (h *Handler) ListBatchVerdicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "id")

	if batchID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "batch id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	verdicts, err := h.repo.ListVerdictsByBatch(ctx, batchID)
	if err != nil {
		slog.Error("failed to list verdicts", "batch_id", batchID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list verdicts",
		})
		return
	}

	out := make([]VerdictResponse, len(verdicts))
	for i, v := range verdicts {
		out[i] = toVerdictResponse(v)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batchId":  batchID,
		"count":    len(out),
		"verdicts": out,
	})
}

// ListRules returns the fixed catalog, category caps, and any loaded
// custom rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"catalog":      rules.Catalog(),
		"categoryCaps": rules.CategoryCaps(),
		"customRules":  h.evaluator.Custom().LoadedRules(),
	})
}

// CreateCustomRuleRequest is the request body for adding a custom rule.
type CreateCustomRuleRequest struct {
	ID          string          `json:"id"`
	Expression  string          `json:"expression"`
	Weight      float64         `json:"weight"`
	Category    domain.Category `json:"category"`
	Description string          `json:"description,omitempty"`
}

// CreateCustomRule compiles and loads a supplemental CEL rule. The fixed
// catalog is never affected.
func (h *Handler) CreateCustomRule(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and expression are required",
		})
		return
	}

	rule := &domain.CustomRule{
		ID:          req.ID,
		Expression:  req.Expression,
		Weight:      req.Weight,
		Category:    req.Category,
		Description: req.Description,
		Enabled:     true,
	}

	if err := h.evaluator.Custom().LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid custom rule: " + err.Error(),
		})
		return
	}

	slog.Info("custom rule loaded", "id", rule.ID, "category", rule.Category)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": rule,
	})
}

// GetRegistry returns the full counterparty risk registry.
func (h *Handler) GetRegistry(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.registry.Snapshot(r.Context())
	if err != nil {
		slog.Error("failed to snapshot registry", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to read registry",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(snapshot),
		"entries": snapshot,
	})
}

// SetRegistryEntryRequest is the request body for PUT /registry/{vpa}.
type SetRegistryEntryRequest struct {
	Risk float64 `json:"risk"`
}

// SetRegistryEntry records or replaces a counterparty risk value.
func (h *Handler) SetRegistryEntry(w http.ResponseWriter, r *http.Request) {
	vpa := chi.URLParam(r, "vpa")
	if vpa == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "vpa is required",
		})
		return
	}

	var req SetRegistryEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Risk < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "risk must be >= 0",
		})
		return
	}

	if err := h.registry.Set(r.Context(), vpa, req.Risk); err != nil {
		slog.Error("failed to set registry entry", "vpa", vpa, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to set registry entry",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vpa":  vpa,
		"risk": req.Risk,
	})
}

// DeleteRegistryEntry removes a counterparty from the registry.
func (h *Handler) DeleteRegistryEntry(w http.ResponseWriter, r *http.Request) {
	vpa := chi.URLParam(r, "vpa")
	if vpa == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "vpa is required",
		})
		return
	}

	if err := h.registry.Delete(r.Context(), vpa); err != nil {
		slog.Error("failed to delete registry entry", "vpa", vpa, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete registry entry",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"vpa": vpa,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check registry health
	if h.registry != nil {
		if err := h.registry.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
