package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// hashKey is the Redis hash holding receiver VPA -> risk value.
const hashKey = "shikra:counterparty_risk"

// RedisRegistry implements RiskRegistry on a Redis hash.
// Used as the Pro tier backend so the operator feed is shared across nodes.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry creates a Redis-backed registry.
func NewRedisRegistry(addr, password string, db int) (*RedisRegistry, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRegistry{client: client}, nil
}

// Snapshot reads the full hash in one call.
func (r *RedisRegistry) Snapshot(ctx context.Context) (map[string]float64, error) {
	entries, err := r.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	out := make(map[string]float64, len(entries))
	for vpa, raw := range entries {
		risk, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			slog.Warn("skipping unparseable registry entry",
				"receiver_vpa", vpa,
				"value", raw,
			)
			continue
		}
		out[vpa] = risk
	}
	return out, nil
}

// Get returns the risk value for a receiver, 0 if absent.
func (r *RedisRegistry) Get(ctx context.Context, receiverVPA string) (float64, error) {
	raw, err := r.client.HGet(ctx, hashKey, receiverVPA).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(raw, 64)
}

// Set records or replaces the risk value for a receiver.
func (r *RedisRegistry) Set(ctx context.Context, receiverVPA string, risk float64) error {
	if receiverVPA == "" {
		return fmt.Errorf("receiver VPA is required")
	}
	if risk < 0 {
		return fmt.Errorf("risk must be non-negative, got %v", risk)
	}
	return r.client.HSet(ctx, hashKey, receiverVPA, strconv.FormatFloat(risk, 'f', -1, 64)).Err()
}

// Delete removes a receiver from the registry.
func (r *RedisRegistry) Delete(ctx context.Context, receiverVPA string) error {
	return r.client.HDel(ctx, hashKey, receiverVPA).Err()
}

// Ping checks Redis connectivity.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
