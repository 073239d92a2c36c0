package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// View names cached per owner.
const (
	ViewBalances = "balances"
	ViewTickets  = "tickets"
)

// ViewCache stores derived per-owner views. Entries are keyed by a generation
// number that Invalidate bumps, so a value computed from data read before a
// write can never be served after it: read Generation first, load and derive,
// then Set under that generation.
type ViewCache interface {
	Generation(ctx context.Context, ownerID string) (int64, error)
	Get(ctx context.Context, ownerID string, generation int64, view string, dest any) (bool, error)
	Set(ctx context.Context, ownerID string, generation int64, view string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, ownerID string) error
}

type NoopViewCache struct{}

func (NoopViewCache) Generation(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (NoopViewCache) Get(_ context.Context, _ string, _ int64, _ string, _ any) (bool, error) {
	return false, nil
}

func (NoopViewCache) Set(_ context.Context, _ string, _ int64, _ string, _ any, _ time.Duration) error {
	return nil
}

func (NoopViewCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

// MemoryViewCache keeps views in process. It backs the memory store in dev mode.
type MemoryViewCache struct {
	mu          sync.Mutex
	now         func() time.Time
	generations map[string]int64
	entries     map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemoryViewCache() *MemoryViewCache {
	return &MemoryViewCache{
		now:         time.Now,
		generations: make(map[string]int64),
		entries:     make(map[string]memoryEntry),
	}
}

func (c *MemoryViewCache) Generation(_ context.Context, ownerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[ownerID], nil
}

func (c *MemoryViewCache) Get(_ context.Context, ownerID string, generation int64, view string, dest any) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[viewKey(ownerID, generation, view)]
	c.mu.Unlock()
	if !ok || c.now().After(entry.expiresAt) {
		return false, nil
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemoryViewCache) Set(_ context.Context, ownerID string, generation int64, view string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generations[ownerID] {
		return nil
	}
	c.entries[viewKey(ownerID, generation, view)] = memoryEntry{payload: payload, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryViewCache) Invalidate(_ context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.generations[ownerID]
	c.generations[ownerID] = prev + 1
	for _, view := range []string{ViewBalances, ViewTickets} {
		delete(c.entries, viewKey(ownerID, prev, view))
	}
	return nil
}
