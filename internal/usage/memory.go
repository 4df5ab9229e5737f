package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps counters in process. It is used when no Redis
// address is configured, so the budget is per process.
type MemoryBackend struct {
	mu    sync.Mutex
	calls map[string]int64
	cost  map[string]float64
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{calls: make(map[string]int64), cost: make(map[string]float64)}
}

func (b *MemoryBackend) Get(_ context.Context, callsKey, costKey string) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Calls: b.calls[callsKey], Cost: b.cost[costKey]}, nil
}

// Add ignores ttl; keys are per month so stale ones are never read.
func (b *MemoryBackend) Add(_ context.Context, callsKey, costKey string, calls int64, cost float64, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[callsKey] += calls
	b.cost[costKey] += cost
	return nil
}
