// Package config loads the server configuration from defaults, an optional
// YAML file and TASKLOCK_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TASKLOCK_HTTP_ADDR.
const EnvPrefix = "TASKLOCK"

// Config is the complete server configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Store   StoreConfig   `mapstructure:"store"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Lock    LockConfig    `mapstructure:"lock"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects and configures the task store backend.
type StoreConfig struct {
	Backend string        `mapstructure:"backend"`
	Timeout time.Duration `mapstructure:"timeout"`
	Redis   RedisConfig   `mapstructure:"redis"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SQLiteConfig contains the SQLite database settings.
type SQLiteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// AuthConfig contains the token signing settings.
type AuthConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

// JWTConfig contains HS256 settings.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// NotifyConfig configures the push channel.
type NotifyConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	SendBuffer    int           `mapstructure:"send_buffer"`
}

// LockConfig configures the expired lock sweeper.
type LockConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// FeedConfig configures the external event feeds. A sink is enabled by
// setting its address.
type FeedConfig struct {
	Queue   int           `mapstructure:"queue"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

// BreakerConfig contains circuit breaker settings shared by every sink.
type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// NATSConfig contains the NATS feed settings.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// KafkaConfig contains the Kafka feed settings.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Stdout bool `mapstructure:"stdout"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "tasklock:")
	v.SetDefault("store.sqlite.path", "tasklock.db")
	v.SetDefault("store.sqlite.table", "tasklock_tasks")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "tasklock")
	v.SetDefault("auth.jwt.ttl", "24h")

	v.SetDefault("notify.probe_interval", "30s")
	v.SetDefault("notify.send_buffer", 64)

	v.SetDefault("lock.sweep_interval", "1m")

	v.SetDefault("feed.queue", 256)
	v.SetDefault("feed.breaker.threshold", 5)
	v.SetDefault("feed.breaker.timeout", "30s")
	v.SetDefault("feed.nats.url", "")
	v.SetDefault("feed.nats.subject", "tasklock.events")
	v.SetDefault("feed.kafka.brokers", []string{})
	v.SetDefault("feed.kafka.topic", "tasklock-events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.stdout", false)
}

// Load reads the configuration into a Config. file may be empty.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret is required")
	}
	if c.Notify.ProbeInterval <= 0 {
		return errors.New("notify.probe_interval must be positive")
	}
	if c.Lock.SweepInterval <= 0 {
		return errors.New("lock.sweep_interval must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
