package domain

import (
	"context"
	"time"
)

// Repository defines the interface for result persistence.
type Repository interface {
	// SaveTransactions stores the raw transactions of a batch.
	SaveTransactions(ctx context.Context, batchID string, txns []*Transaction) error

	// SaveVerdicts bulk-inserts the final verdicts of a batch.
	SaveVerdicts(ctx context.Context, verdicts []*FinalVerdict) error

	// GetVerdict retrieves a verdict by ID.
	GetVerdict(ctx context.Context, id string) (*FinalVerdict, error)

	// ListVerdictsByBatch returns all verdicts of a batch in insertion order.
	ListVerdictsByBatch(ctx context.Context, batchID string) ([]*FinalVerdict, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
