package config

import (
	"fmt"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Lock      LockConfig      `yaml:"lock"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Pool      PoolConfig      `yaml:"pool"`
	Matching  EndpointConfig  `yaml:"matching" envPrefix:"MATCHING_"`
	Payment   EndpointConfig  `yaml:"payment" envPrefix:"PAYMENT_"`
	Push      PushConfig      `yaml:"push"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"DB_HOST"`
	Port           int    `yaml:"port" env:"DB_PORT"`
	User           string `yaml:"user" env:"DB_USER"`
	Password       string `yaml:"password" env:"DB_PASSWORD"`
	Database       string `yaml:"database" env:"DB_NAME"`
	SSLMode        string `yaml:"ssl_mode" env:"DB_SSL_MODE"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DB_MIGRATE_ON_START"`
}

// StorageConfig selects the pool store backend
type StorageConfig struct {
	Type string `yaml:"type" env:"STORAGE_TYPE"` // "postgres" or "memory"
}

// LockConfig selects how pool mutations are serialized
type LockConfig struct {
	Type      string        `yaml:"type" env:"LOCK_TYPE"` // "local" or "redis"
	RedisAddr string        `yaml:"redis_addr" env:"LOCK_REDIS_ADDR"`
	TTL       time.Duration `yaml:"ttl" env:"LOCK_TTL"`
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	Secret string `yaml:"secret" env:"JWT_SECRET"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" env:"LOG_FORMAT"` // "json" or "text"
}

// PoolConfig contains barter pool engine settings
type PoolConfig struct {
	MatchTimeout       time.Duration `yaml:"match_timeout" env:"POOL_MATCH_TIMEOUT"`
	PaymentMaxAttempts int           `yaml:"payment_max_attempts" env:"POOL_PAYMENT_MAX_ATTEMPTS"`
	PaymentBatchSize   int           `yaml:"payment_batch_size" env:"POOL_PAYMENT_BATCH_SIZE"`
}

// EndpointConfig describes an external collaborator
type EndpointConfig struct {
	Type    string        `yaml:"type" env:"TYPE"` // "mock" or "grpc"
	Address string        `yaml:"address" env:"ADDRESS"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// PushConfig contains Firebase Cloud Messaging settings
type PushConfig struct {
	Enabled         bool   `yaml:"enabled" env:"PUSH_ENABLED"`
	CredentialsFile string `yaml:"credentials_file" env:"PUSH_CREDENTIALS_FILE"`
	TopicPrefix     string `yaml:"topic_prefix" env:"PUSH_TOPIC_PREFIX"`
}

// RateLimitConfig limits mutating requests per user
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	// Embedded runs the jobs inside the API server instead of cmd/cronjob.
	Embedded                 bool   `yaml:"embedded" env:"SCHEDULER_EMBEDDED"`
	SweepExpiredPools        string `yaml:"sweep_expired_pools" env:"SCHEDULE_SWEEP_EXPIRED_POOLS"`
	ExpireStalledMatches     string `yaml:"expire_stalled_matches" env:"SCHEDULE_EXPIRE_STALLED_MATCHES"`
	RetryPaymentInstructions string `yaml:"retry_payment_instructions" env:"SCHEDULE_RETRY_PAYMENT_INSTRUCTIONS"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applies environment overrides and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables win over the file; unset variables leave fields untouched.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "postgres"
	}
	switch c.Storage.Type {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.Lock.Type == "" {
		c.Lock.Type = "local"
	}
	switch c.Lock.Type {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("redis address is required for redis locks")
		}
	default:
		return fmt.Errorf("unsupported lock type: %s", c.Lock.Type)
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = 10 * time.Second
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	// Pool engine defaults
	if c.Pool.MatchTimeout == 0 {
		c.Pool.MatchTimeout = 30 * time.Second
	}
	if c.Pool.PaymentMaxAttempts == 0 {
		c.Pool.PaymentMaxAttempts = 5
	}
	if c.Pool.PaymentBatchSize == 0 {
		c.Pool.PaymentBatchSize = 100
	}

	for name, ep := range map[string]*EndpointConfig{"matching": &c.Matching, "payment": &c.Payment} {
		if ep.Type == "" {
			ep.Type = "mock"
		}
		if ep.Type != "mock" && ep.Type != "grpc" {
			return fmt.Errorf("unsupported %s type: %s", name, ep.Type)
		}
		if ep.Type == "grpc" && ep.Address == "" {
			return fmt.Errorf("%s address is required for grpc", name)
		}
		if ep.Timeout == 0 {
			ep.Timeout = 10 * time.Second
		}
	}

	if c.Push.Enabled && c.Push.CredentialsFile == "" {
		return fmt.Errorf("push credentials file is required when push is enabled")
	}
	if c.Push.TopicPrefix == "" {
		c.Push.TopicPrefix = "user-"
	}

	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}

	// Scheduler defaults
	if c.Scheduler.SweepExpiredPools == "" {
		c.Scheduler.SweepExpiredPools = "0 * * * * *" // Every minute
	}
	if c.Scheduler.ExpireStalledMatches == "" {
		c.Scheduler.ExpireStalledMatches = "15 * * * * *" // Every minute
	}
	if c.Scheduler.RetryPaymentInstructions == "" {
		c.Scheduler.RetryPaymentInstructions = "30 */5 * * * *" // Every 5 minutes
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
