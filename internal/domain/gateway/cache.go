package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Cache is a tenant-partitioned key/value store with per-entry TTL. Entries
// are expired lazily: a read past the expiry deletes the entry and reports a
// miss, so stale data is never handed back.
//
// There is no single-flight de-duplication. Concurrent misses for the same
// key may all compute and all write, last write wins. TTLs here are short
// and upstream reads are idempotent, so the redundant work is accepted.
type Cache interface {
	// Get returns the stored value for (tenantID, key), or ok=false on a
	// miss or an expired entry.
	Get(ctx context.Context, tenantID uuid.UUID, key string) (value []byte, ok bool, err error)

	// Set stores value under (tenantID, key) for ttl, overwriting any
	// previous entry with the same key.
	Set(ctx context.Context, tenantID uuid.UUID, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry for (tenantID, key) if present.
	Delete(ctx context.Context, tenantID uuid.UUID, key string) error

	// PurgeExpired deletes all entries whose TTL has already elapsed and
	// returns how many were removed. Housekeeping only; correctness does
	// not depend on it.
	PurgeExpired(ctx context.Context) (int, error)
}

// GetOrCompute is the dominant cache usage pattern: consult the cache and
// only on a miss invoke compute, then store the JSON-encoded result under
// the given TTL. Cache read/write failures are tolerated; compute errors are
// returned as-is and nothing is cached.
func GetOrCompute[T any](ctx context.Context, c Cache, tenantID uuid.UUID, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if raw, ok, err := c.Get(ctx, tenantID, key); err == nil && ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		// Undecodable entry: fall through and recompute over it.
	}

	value, err := compute(ctx)
	if err != nil {
		return zero, err
	}

	if raw, err := json.Marshal(value); err == nil {
		_ = c.Set(ctx, tenantID, key, raw, ttl)
	}

	return value, nil
}
