package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm/backend/internal/infrastructure/config"
)

func TestFactory_Create(t *testing.T) {
	t.Run("memory driver", func(t *testing.T) {
		f := NewFactory(config.CacheConfig{Driver: "memory"}, config.RedisConfig{})

		c, err := f.Create()
		require.NoError(t, err)
		mem, ok := c.(*MemoryCache)
		require.True(t, ok)
		defer mem.Close()
	})

	t.Run("unknown driver", func(t *testing.T) {
		f := NewFactory(config.CacheConfig{Driver: "memcached"}, config.RedisConfig{})

		_, err := f.Create()
		assert.ErrorContains(t, err, "unknown cache driver")
	})

	t.Run("unreachable redis falls back to memory", func(t *testing.T) {
		f := NewFactory(
			config.CacheConfig{Driver: "redis"},
			config.RedisConfig{Host: "127.0.0.1", Port: 1},
		)

		c, err := f.Create()
		require.NoError(t, err)
		mem, ok := c.(*MemoryCache)
		require.True(t, ok, "fallback must produce the in-memory cache")
		defer mem.Close()
	})

	t.Run("unreachable redis without fallback is an error", func(t *testing.T) {
		f := NewFactory(
			config.CacheConfig{Driver: "redis"},
			config.RedisConfig{Host: "127.0.0.1", Port: 1},
			WithMemoryFallback(false),
		)

		_, err := f.Create()
		assert.Error(t, err)
	})
}
