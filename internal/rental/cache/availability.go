package cache

import (
	"context"
	"sync"
	"time"
)

// Availability caches whether a laptop is open for booking. Entries expire
// after a bounded TTL and are dropped explicitly when a laptop changes hands.
type Availability interface {
	Get(ctx context.Context, laptopID int64) (bookable bool, found bool, err error)
	Set(ctx context.Context, laptopID int64, bookable bool) error
	Invalidate(ctx context.Context, laptopID int64) error
}

type memoryEntry struct {
	bookable  bool
	expiresAt time.Time
}

// Memory is an in-process Availability for single-instance deployments and tests.
type Memory struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[int64]memoryEntry
}

// NewMemory constructs a Memory cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, items: make(map[int64]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, laptopID int64) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[laptopID]
	if !ok {
		return false, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.items, laptopID)
		return false, false, nil
	}
	return e.bookable, true, nil
}

func (m *Memory) Set(_ context.Context, laptopID int64, bookable bool) error {
	if m.ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	m.items[laptopID] = memoryEntry{bookable: bookable, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, laptopID int64) error {
	m.mu.Lock()
	delete(m.items, laptopID)
	m.mu.Unlock()
	return nil
}
