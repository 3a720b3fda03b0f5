package domain

import "context"

// MLScorer is the external machine-learning collaborator. The engine
// treats it as a black box returning one risk score per transaction.
type MLScorer interface {
	// ScoreBatch sends the whole batch in a single call and returns an
	// index-aligned slice of risk scores in [0,1]. Any transport error,
	// non-2xx response, or misaligned response is returned as an error;
	// the caller substitutes the all-zero fallback.
	ScoreBatch(ctx context.Context, txns []*Transaction) ([]float64, error)
}

// MLConfig holds configuration for the ML collaborator client.
type MLConfig struct {
	// URL is the prediction endpoint, e.g. http://localhost:8000/predict
	URL string

	// APIKey is sent as the x-api-key header when set.
	APIKey string

	// TimeoutSecs bounds the single batch call. The fallback applies on
	// timeout like on any other failure.
	TimeoutSecs int
}
