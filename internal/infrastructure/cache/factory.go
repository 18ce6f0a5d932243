package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/crm/backend/internal/domain/gateway"
	"github.com/crm/backend/internal/infrastructure/config"
)

// Factory creates gateway caches based on configuration
type Factory struct {
	cacheConfig      config.CacheConfig
	redisConfig      config.RedisConfig
	logger           *zap.Logger
	allowMemFallback bool
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithMemoryFallback controls whether to fall back to the in-memory cache
// when Redis is unavailable. Default is true.
func WithMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowMemFallback = allow
	}
}

// NewFactory creates a new cache factory
func NewFactory(cacheCfg config.CacheConfig, redisCfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		cacheConfig:      cacheCfg,
		redisConfig:      redisCfg,
		logger:           zap.NewNop(),
		allowMemFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Create builds the cache selected by configuration. When the redis driver
// is selected but Redis is unreachable, it falls back to the in-memory cache
// (with a warning) unless fallback is disabled.
func (f *Factory) Create() (gateway.Cache, error) {
	switch f.cacheConfig.Driver {
	case "memory":
		f.logger.Info("using in-memory gateway cache")
		return NewMemoryCache(f.cacheConfig.CleanupInterval), nil

	case "redis":
		c, err := NewRedisCache(RedisConfig{
			Host:      f.redisConfig.Host,
			Port:      f.redisConfig.Port,
			Password:  f.redisConfig.Password,
			DB:        f.redisConfig.DB,
			KeyPrefix: f.cacheConfig.KeyPrefix,
		})
		if err == nil {
			f.logger.Info("using Redis gateway cache")
			return c, nil
		}

		if !f.allowMemFallback {
			return nil, fmt.Errorf("Redis required for gateway cache but unavailable: %w", err)
		}

		f.logger.Warn("Redis unavailable, falling back to in-memory gateway cache. "+
			"Cached upstream results will not be shared across instances.",
			zap.Error(err),
		)
		return NewMemoryCache(f.cacheConfig.CleanupInterval), nil

	default:
		return nil, fmt.Errorf("unknown cache driver %q", f.cacheConfig.Driver)
	}
}
