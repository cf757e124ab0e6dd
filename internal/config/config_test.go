package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		API: APIConfig{Host: "localhost", Port: "8080"},
		Worker: WorkerConfig{
			Concurrency: 8,
			PopTimeout:  2 * time.Second,
			LeaseTTL:    time.Minute,
		},
		Store: StoreConfig{JobTTL: time.Hour},
		Queue: QueueConfig{Backend: "memory", MaxDepth: 10000},
		Processor: ProcessorConfig{
			Transport:  "inprocess",
			RetryLimit: 5,
		},
		Embedding: EmbeddingConfig{BaseURL: "http://localhost:8090"},
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr: "worker.concurrency",
		},
		{
			name:    "zero max depth",
			mutate:  func(c *Config) { c.Queue.MaxDepth = 0 },
			wantErr: "queue.max_depth",
		},
		{
			name:    "zero retry limit",
			mutate:  func(c *Config) { c.Processor.RetryLimit = 0 },
			wantErr: "processor.retry_limit",
		},
		{
			name:    "zero job TTL",
			mutate:  func(c *Config) { c.Store.JobTTL = 0 },
			wantErr: "store.job_ttl",
		},
		{
			name:    "zero lease TTL",
			mutate:  func(c *Config) { c.Worker.LeaseTTL = 0 },
			wantErr: "worker.lease_ttl",
		},
		{
			name:    "unknown queue backend",
			mutate:  func(c *Config) { c.Queue.Backend = "kafka" },
			wantErr: "queue.backend",
		},
		{
			name:    "redis backend without addr",
			mutate:  func(c *Config) { c.Queue.Backend = "redis" },
			wantErr: "redis.addr",
		},
		{
			name:    "unknown processor transport",
			mutate:  func(c *Config) { c.Processor.Transport = "grpc" },
			wantErr: "processor.transport",
		},
		{
			name:    "nats transport without url",
			mutate:  func(c *Config) { c.Processor.Transport = "nats" },
			wantErr: "nats.url",
		},
		{
			name:    "missing embedding base url",
			mutate:  func(c *Config) { c.Embedding.BaseURL = "" },
			wantErr: "embedding.base_url",
		},
		{
			name: "database enabled with invalid port",
			mutate: func(c *Config) {
				c.Database.Host = "localhost"
				c.Database.Port = 0
			},
			wantErr: "database.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_DependentBackends(t *testing.T) {
	config := validConfig()
	config.Queue.Backend = "redis"
	config.Redis.Addr = "localhost:6379"
	require.NoError(t, config.Validate())

	config = validConfig()
	config.Processor.Transport = "nats"
	config.NATS.URL = "nats://localhost:4222"
	require.NoError(t, config.Validate())
}

func TestNew_FromYAML(t *testing.T) {
	yamlConfig := []byte(`
api:
  host: 0.0.0.0
  port: "9090"
  sync_wait_sla: 30s
worker:
  concurrency: 4
  pop_timeout: 2s
  lease_ttl: 90s
  heartbeat_interval: 30s
store:
  job_ttl: 2h
  sweep_schedule: "@every 1m"
queue:
  backend: memory
  max_depth: 500
processor:
  transport: inprocess
  retry_limit: 3
  attempt_timeout: 10s
  breaker_threshold: 5
  breaker_cooldown: 30s
  fail_fast_on_circuit_open: true
embedding:
  base_url: http://embeddings:8090
  max_attempts: 3
telemetry:
  enabled: true
  service_name: enrichd
log:
  level: debug
  format: json
`)

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(yamlConfig)))

	config := New(v)

	assert.Equal(t, "0.0.0.0", config.API.Host)
	assert.Equal(t, "9090", config.API.Port)
	assert.Equal(t, 30*time.Second, config.API.SyncWaitSLA)
	assert.Equal(t, 4, config.Worker.Concurrency)
	assert.Equal(t, 90*time.Second, config.Worker.LeaseTTL)
	assert.Equal(t, 2*time.Hour, config.Store.JobTTL)
	assert.Equal(t, 500, config.Queue.MaxDepth)
	assert.Equal(t, 3, config.Processor.RetryLimit)
	assert.True(t, config.Processor.FailFastOnCircuitOpen)
	assert.Equal(t, "http://embeddings:8090", config.Embedding.BaseURL)
	assert.True(t, config.Telemetry.Enabled)
	assert.Equal(t, "debug", config.Log.Level)
}

func TestNew_PanicsOnInvalidConfig(t *testing.T) {
	v := viper.New()
	v.Set("worker.concurrency", 0)

	assert.Panics(t, func() { New(v) })
}

func TestDatabaseConfig(t *testing.T) {
	var db DatabaseConfig
	assert.False(t, db.Enabled())

	db = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "enrichd",
		Password: "secret",
		Name:     "enrichd",
		SSLMode:  "disable",
	}
	assert.True(t, db.Enabled())
	assert.Equal(t,
		"host=localhost port=5432 user=enrichd password=secret dbname=enrichd sslmode=disable",
		db.DSN())
}
