package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is the durable session-scoped store used by the probe and the
// limits manager. Entries carry a TTL; reads validate before use and a
// corrupt or expired entry is a miss, never a fatal error.
type Cache interface {
	// Get returns the payload for key, or ok=false on miss/expiry.
	Get(ctx context.Context, key string) (payload []byte, ok bool)
	// Put stores the payload under key with the given TTL.
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// PurgeExpired removes all expired entries and returns the count.
	PurgeExpired(ctx context.Context) (int, error)
	// Close releases underlying resources.
	Close() error
}

// MemoryCache is an in-process Cache. Used when the durable cache is
// disabled and in tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, true
}

func (c *MemoryCache) Put(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]byte, len(payload))
	copy(stored, payload)
	c.entries[key] = memoryEntry{payload: stored, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) PurgeExpired(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	purged := 0
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			purged++
		}
	}
	return purged, nil
}

func (c *MemoryCache) Close() error { return nil }
