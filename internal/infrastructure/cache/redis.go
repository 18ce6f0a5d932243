package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/crm/backend/internal/domain/gateway"
)

// defaultKeyPrefix namespaces gateway cache keys in a shared Redis
const defaultKeyPrefix = "crm:cache:"

// RedisCache implements gateway.Cache using Redis. Suitable for distributed
// deployments where multiple instances share cached upstream results. Expiry
// is delegated to Redis key TTLs, so PurgeExpired has nothing to do.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisCache creates a new Redis-based cache and verifies the connection
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &RedisCache{client: client, keyPrefix: prefix}, nil
}

// NewRedisCacheWithClient creates a cache with an existing Redis client.
// Useful for testing or when sharing a client across components.
func NewRedisCacheWithClient(client *redis.Client, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

// cacheKey builds the Redis key for a (partition, key) pair
func (c *RedisCache) cacheKey(tenantID uuid.UUID, key string) string {
	return c.keyPrefix + tenantID.String() + ":" + key
}

// Get returns the stored value for (tenantID, key)
func (c *RedisCache) Get(ctx context.Context, tenantID uuid.UUID, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.cacheKey(tenantID, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, true, nil
}

// Set stores value under (tenantID, key) with a Redis key TTL
func (c *RedisCache) Set(ctx context.Context, tenantID uuid.UUID, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.cacheKey(tenantID, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for (tenantID, key)
func (c *RedisCache) Delete(ctx context.Context, tenantID uuid.UUID, key string) error {
	if err := c.client.Del(ctx, c.cacheKey(tenantID, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis removes expired keys itself
func (c *RedisCache) PurgeExpired(_ context.Context) (int, error) {
	return 0, nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ensure RedisCache implements gateway.Cache
var _ gateway.Cache = (*RedisCache)(nil)
