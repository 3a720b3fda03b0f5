package registry

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRegistry is a thread-safe in-process registry.
// Used as the Community tier backend.
type MemoryRegistry struct {
	mu    sync.RWMutex
	risks map[string]float64
}

// NewMemoryRegistry creates an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		risks: make(map[string]float64),
	}
}

// Snapshot returns a copy of the registry for batch-consistent reads.
func (r *MemoryRegistry) Snapshot(ctx context.Context) (map[string]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]float64, len(r.risks))
	for vpa, risk := range r.risks {
		out[vpa] = risk
	}
	return out, nil
}

// Get returns the risk value for a receiver, 0 if absent.
func (r *MemoryRegistry) Get(ctx context.Context, receiverVPA string) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.risks[receiverVPA], nil
}

// Set records or replaces the risk value for a receiver.
func (r *MemoryRegistry) Set(ctx context.Context, receiverVPA string, risk float64) error {
	if receiverVPA == "" {
		return fmt.Errorf("receiver VPA is required")
	}
	if risk < 0 {
		return fmt.Errorf("risk must be non-negative, got %v", risk)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.risks[receiverVPA] = risk
	return nil
}

// Delete removes a receiver from the registry.
func (r *MemoryRegistry) Delete(ctx context.Context, receiverVPA string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.risks, receiverVPA)
	return nil
}

// Ping checks registry health.
func (r *MemoryRegistry) Ping(ctx context.Context) error {
	return nil
}

// Close clears the registry.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.risks = make(map[string]float64)
	return nil
}
