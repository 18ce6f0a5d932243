package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crm/backend/internal/domain/gateway"
)

// memoryEntry is a stored value with its expiry deadline
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache implements gateway.Cache using an in-memory map. Suitable for
// single-instance deployments and testing. Entries expire lazily on read; a
// background sweep keeps the map from accumulating dead entries between
// reads.
type MemoryCache struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryCache creates a new in-memory cache. cleanupInterval <= 0
// disables the background sweep; lazy expiry still applies.
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries:  make(map[string]memoryEntry),
		stopChan: make(chan struct{}),
	}

	if cleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(cleanupInterval)
	}

	return c
}

// entryKey builds the map key for a (partition, key) pair
func entryKey(tenantID uuid.UUID, key string) string {
	return tenantID.String() + "\x00" + key
}

// Get returns the stored value, expiring the entry in place if its TTL has
// elapsed.
func (c *MemoryCache) Get(_ context.Context, tenantID uuid.UUID, key string) ([]byte, bool, error) {
	k := entryKey(tenantID, key)

	c.mu.RLock()
	e, exists := c.entries[k]
	c.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	// The deadline itself counts as expired.
	if !time.Now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have
		// replaced the entry with a live one.
		if current, ok := c.entries[k]; ok && !time.Now().Before(current.expiresAt) {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return e.value, true, nil
}

// Set stores value under (tenantID, key) for ttl
func (c *MemoryCache) Set(_ context.Context, tenantID uuid.UUID, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entryKey(tenantID, key)] = memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes the entry for (tenantID, key)
func (c *MemoryCache) Delete(_ context.Context, tenantID uuid.UUID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, entryKey(tenantID, key))
	return nil
}

// PurgeExpired removes all entries whose TTL has elapsed
func (c *MemoryCache) PurgeExpired(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Size returns the number of entries in the cache (for testing/monitoring)
func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
	return nil
}

// cleanupLoop periodically removes expired entries
func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			_, _ = c.PurgeExpired(context.Background())
		}
	}
}

// Ensure MemoryCache implements gateway.Cache
var _ gateway.Cache = (*MemoryCache)(nil)
