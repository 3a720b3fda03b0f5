// Package ml provides the HTTP client for the external ML risk collaborator.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-finance/shikra/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("shikra-ml")

// Client calls the ML collaborator once per batch. Every failure mode
// (transport error, non-2xx, malformed or misaligned response) surfaces as
// an error so the pipeline can substitute the all-zero fallback; the
// client never panics or retries.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a collaborator client with an explicit timeout.
func NewClient(cfg domain.MLConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// scoreRequest is the collaborator request payload.
type scoreRequest struct {
	Transactions []*domain.Transaction `json:"transactions"`
}

// scoreEntry is one element of the collaborator response array.
type scoreEntry struct {
	RiskScore float64 `json:"risk_score"`
}

// ScoreBatch posts the whole batch and returns an index-aligned slice of
// risk scores.
func (c *Client) ScoreBatch(ctx context.Context, txns []*domain.Transaction) ([]float64, error) {
	ctx, span := tracer.Start(ctx, "ml.ScoreBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(txns)))

	body, err := json.Marshal(scoreRequest{Transactions: txns})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collaborator call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("collaborator returned status %d", resp.StatusCode)
	}

	var entries []scoreEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("malformed collaborator response: %w", err)
	}
	if len(entries) != len(txns) {
		return nil, fmt.Errorf("collaborator returned %d scores for %d transactions", len(entries), len(txns))
	}

	scores := make([]float64, len(entries))
	for i, entry := range entries {
		score := entry.RiskScore
		// The contract says [0,1]; clamp rather than trust.
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores[i] = score
	}
	return scores, nil
}
