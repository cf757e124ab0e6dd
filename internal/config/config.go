package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Store     StoreConfig     `mapstructure:"store"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SyncWaitSLA bounds synchronous submissions.
	SyncWaitSLA time.Duration `mapstructure:"sync_wait_sla"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	PopTimeout        time.Duration `mapstructure:"pop_timeout"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// StoreConfig holds job store configuration.
type StoreConfig struct {
	// JobTTL is the retention period of a job record from creation.
	JobTTL time.Duration `mapstructure:"job_ttl"`
	// SweepSchedule and ReclaimSchedule are cron expressions for the
	// maintenance passes.
	SweepSchedule   string `mapstructure:"sweep_schedule"`
	ReclaimSchedule string `mapstructure:"reclaim_schedule"`
}

// QueueConfig holds queue configuration.
type QueueConfig struct {
	// Backend selects the queue implementation: "memory" or "redis".
	Backend  string `mapstructure:"backend"`
	MaxDepth int    `mapstructure:"max_depth"`
}

// ProcessorConfig holds enrichment processor configuration.
type ProcessorConfig struct {
	// Transport selects the processor adapter: "nats" or "inprocess".
	Transport string `mapstructure:"transport"`
	Subject   string `mapstructure:"subject"`
	// RetryLimit bounds a job's total processor-call attempts.
	RetryLimit            int           `mapstructure:"retry_limit"`
	AttemptTimeout        time.Duration `mapstructure:"attempt_timeout"`
	BaseDelay             time.Duration `mapstructure:"base_delay"`
	MaxDelay              time.Duration `mapstructure:"max_delay"`
	RequeueBaseDelay      time.Duration `mapstructure:"requeue_base_delay"`
	RequeueMaxDelay       time.Duration `mapstructure:"requeue_max_delay"`
	BreakerThreshold      int           `mapstructure:"breaker_threshold"`
	BreakerCooldown       time.Duration `mapstructure:"breaker_cooldown"`
	BreakerWindow         time.Duration `mapstructure:"breaker_window"`
	FailFastOnCircuitOpen bool          `mapstructure:"fail_fast_on_circuit_open"`
}

// EmbeddingConfig holds embedding service configuration.
type EmbeddingConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	BreakerWindow    time.Duration `mapstructure:"breaker_window"`
}

// DatabaseConfig holds the result mirror database configuration. The mirror
// is optional; an empty host disables it.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Name           string `mapstructure:"name"`
	Schema         string `mapstructure:"schema"`
	SSLMode        string `mapstructure:"sslmode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Enabled reports whether the result mirror is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// NATSConfig holds NATS configuration for the processor transport.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// RedisConfig holds Redis configuration for the queue backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig holds metrics configuration.
type TelemetryConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ServiceName       string `mapstructure:"service_name"`
	LatencyWindowSize int    `mapstructure:"latency_window_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New creates a new Config instance from Viper.
func New(v *viper.Viper) *Config {
	var config Config

	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	if err := config.Validate(); err != nil {
		panic(fmt.Errorf("invalid configuration: %w", err))
	}

	return &config
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Worker.Concurrency < 1 {
		return errors.New("worker.concurrency must be at least 1")
	}
	if c.Queue.MaxDepth < 1 {
		return errors.New("queue.max_depth must be at least 1")
	}
	if c.Processor.RetryLimit < 1 {
		return errors.New("processor.retry_limit must be at least 1")
	}
	if c.Store.JobTTL <= 0 {
		return errors.New("store.job_ttl must be positive")
	}
	if c.Worker.LeaseTTL <= 0 {
		return errors.New("worker.lease_ttl must be positive")
	}

	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis queue backend")
		}
	default:
		return fmt.Errorf("queue.backend must be memory or redis, got %q", c.Queue.Backend)
	}

	switch c.Processor.Transport {
	case "inprocess":
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("nats.url is required for the nats processor transport")
		}
	default:
		return fmt.Errorf("processor.transport must be nats or inprocess, got %q", c.Processor.Transport)
	}

	if c.Embedding.BaseURL == "" {
		return errors.New("embedding.base_url is required")
	}
	if c.Database.Enabled() && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return errors.New("database.port must be between 1 and 65535")
	}

	return nil
}
