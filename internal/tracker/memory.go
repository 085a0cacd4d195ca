package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"gallery-pipeline/internal/models"
)

// MemoryTracker keeps job states in an expiring LRU. Entries expire ttl
// after their last write and the least recently written entry is evicted
// once capacity is reached. State is lost on restart.
type MemoryTracker struct {
	// mu serialises the check-then-write of Start and Finish; the cache
	// guards its own state.
	mu    sync.Mutex
	cache *expirable.LRU[string, models.JobStatus]
}

// NewMemoryTracker returns a tracker bounded by ttl and capacity. Zero
// disables the respective bound.
func NewMemoryTracker(ttl time.Duration, capacity int) *MemoryTracker {
	return &MemoryTracker{
		cache: expirable.NewLRU[string, models.JobStatus](capacity, nil, ttl),
	}
}

func (m *MemoryTracker) Start(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cache.Peek(id); ok {
		return ErrExists
	}
	m.cache.Add(id, models.StatusProcessing)
	return nil
}

func (m *MemoryTracker) Finish(_ context.Context, id string, status models.JobStatus) error {
	if err := checkTerminal(status); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.cache.Peek(id); ok && cur.IsTerminal() {
		return ErrTerminal
	}
	m.cache.Add(id, status)
	return nil
}

// Status reads without refreshing recency, so eviction follows write order.
func (m *MemoryTracker) Status(_ context.Context, id string) (models.JobStatus, error) {
	if st, ok := m.cache.Peek(id); ok {
		return st, nil
	}
	return models.StatusUnknown, nil
}

func (m *MemoryTracker) Ping(context.Context) error { return nil }

// Len counts cached entries, including expired ones not yet collected.
func (m *MemoryTracker) Len() int {
	return m.cache.Len()
}
