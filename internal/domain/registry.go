package domain

import "context"

// RiskRegistry is the process-wide counterparty risk registry: receiver
// VPA -> accumulated risk contribution (>= 0). The scoring engine only
// reads it, through a snapshot taken at batch start; writes come from
// operators or an external feed. It is the only state that outlives a
// batch and is never reset by the engine.
type RiskRegistry interface {
	// Snapshot returns a copy of the full registry. The evaluator works
	// against this copy so concurrent writes cannot skew a batch.
	Snapshot(ctx context.Context) (map[string]float64, error)

	// Get returns the risk value for a receiver, 0 if absent.
	Get(ctx context.Context, receiverVPA string) (float64, error)

	// Set records or replaces the risk value for a receiver (operator path).
	Set(ctx context.Context, receiverVPA string, risk float64) error

	// Delete removes a receiver from the registry.
	Delete(ctx context.Context, receiverVPA string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RegistryConfig holds configuration for registry initialization.
type RegistryConfig struct {
	// Type is the registry backend: "memory" or "redis"
	Type string

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
