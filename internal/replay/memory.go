package replay

import (
	"context"
	"sync"
	"time"
)

var _ Cache = (*Memory)(nil)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// Memory is an in-process Cache for tests and single-node deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory constructs an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// NewMemoryWithClock constructs a cache with an injected time source.
func NewMemoryWithClock(now func() time.Time) *Memory {
	c := NewMemory()
	if now != nil {
		c.now = now
	}
	return c
}

func (c *Memory) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.purgeLocked(now)
	if entry, ok := c.entries[key]; ok && entry.expiresAt.After(now) {
		return false, nil
	}
	c.entries[key] = memoryEntry{count: 1, expiresAt: now.Add(ttl)}
	return true, nil
}

func (c *Memory) IncrWindow(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.purgeLocked(now)
	entry, ok := c.entries[key]
	if !ok || !entry.expiresAt.After(now) {
		entry = memoryEntry{count: 0, expiresAt: now.Add(ttl)}
	}
	entry.count++
	c.entries[key] = entry
	return entry.count, nil
}

// purgeLocked drops expired entries. The map stays small in practice
// (replay keys live for maxSkew, counters for a minute), so a sweep on
// each write is cheaper than a janitor goroutine.
func (c *Memory) purgeLocked(now time.Time) {
	if len(c.entries) < 4096 {
		return
	}
	for k, entry := range c.entries {
		if !entry.expiresAt.After(now) {
			delete(c.entries, k)
		}
	}
}
