package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Upstream UpstreamConfig
	Sync     SyncConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL returns the PostgreSQL connection URL (used by migrations)
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds TTL cache settings
type CacheConfig struct {
	// Driver selects the cache backend: "redis" or "memory"
	Driver string
	// KeyPrefix namespaces this deployment's keys in a shared Redis
	KeyPrefix string
	// CleanupInterval is how often the in-memory cache sweeps expired
	// entries. Lazy expiry on read is authoritative either way.
	CleanupInterval time.Duration
}

// UpstreamConfig holds settings for the partner API this gateway consumes
type UpstreamConfig struct {
	BaseURL string
	// Username/Password are the service account used for tenant logins
	// when no per-tenant credentials have been registered.
	Username string
	Password string
	// Timeout is the HTTP transport timeout for a single request
	Timeout time.Duration
	// AuthAttempts bounds the re-authentication retry loop
	AuthAttempts int
	// DetailBatchSize is how many ids go into one detail request
	DetailBatchSize int
}

// SyncConfig holds reconciliation settings
type SyncConfig struct {
	// Timeout is how long a reconciled document is considered current;
	// nextSync is set to lastSync + Timeout.
	Timeout time.Duration
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with CRM_ prefix (e.g., CRM_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Cache: CacheConfig{
			Driver:          v.GetString("cache.driver"),
			KeyPrefix:       v.GetString("cache.key_prefix"),
			CleanupInterval: v.GetDuration("cache.cleanup_interval"),
		},
		Upstream: UpstreamConfig{
			BaseURL:         v.GetString("upstream.base_url"),
			Username:        v.GetString("upstream.username"),
			Password:        v.GetString("upstream.password"),
			Timeout:         v.GetDuration("upstream.timeout"),
			AuthAttempts:    v.GetInt("upstream.auth_attempts"),
			DetailBatchSize: v.GetInt("upstream.detail_batch_size"),
		},
		Sync: SyncConfig{
			Timeout: v.GetDuration("sync.timeout"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "crm-gateway"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "crm"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 10
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = "redis"
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "crm:cache:"
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = 5 * time.Minute
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 30 * time.Second
	}
	if cfg.Upstream.AuthAttempts == 0 {
		cfg.Upstream.AuthAttempts = 3
	}
	if cfg.Upstream.DetailBatchSize == 0 {
		cfg.Upstream.DetailBatchSize = 10
	}
	if cfg.Sync.Timeout == 0 {
		cfg.Sync.Timeout = 3 * time.Minute
	}
}

// validate checks that required configuration is present and consistent
func (c *Config) validate() error {
	if c.Cache.Driver != "redis" && c.Cache.Driver != "memory" {
		return fmt.Errorf("config: unknown cache driver %q", c.Cache.Driver)
	}
	if c.Upstream.BaseURL == "" && c.App.Env == "production" {
		return fmt.Errorf("config: upstream.base_url is required in production")
	}
	if c.Upstream.AuthAttempts < 1 {
		return fmt.Errorf("config: upstream.auth_attempts must be at least 1")
	}
	if c.Upstream.DetailBatchSize < 1 {
		return fmt.Errorf("config: upstream.detail_batch_size must be at least 1")
	}
	return nil
}
