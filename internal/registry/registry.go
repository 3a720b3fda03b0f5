// Package registry provides counterparty risk registry implementations.
package registry

import (
	"fmt"

	"github.com/opensource-finance/shikra/internal/domain"
)

// New creates a registry based on configuration.
// For Community tier: in-process map.
// For Pro tier: Redis-backed, shared across nodes.
func New(cfg domain.RegistryConfig) (domain.RiskRegistry, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryRegistry(), nil

	case "redis":
		return NewRedisRegistry(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported registry type: %s", cfg.Type)
	}
}
