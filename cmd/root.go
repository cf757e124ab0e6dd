package cmd

import (
	"fmt"
	"os"
	"strings"

	"enrichd/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "enrichd",
	Short: "Asynchronous enrichment job orchestration service",
	Long: `Enrichd accepts enrichment jobs over HTTP, deduplicates them by
tenant and idempotency key, and drives each job through a long-running
processor phase and an embedding upsert phase.

The service provides:
- Idempotent job submission with per-tenant queue fairness
- A worker pool with claim leases and crash recovery
- Independent circuit breakers for the processor and embedding dependencies
- Partial-success completion when only the embedding phase fails`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	// Bind flags to viper
	if err := viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-level flag: %v\n", err)
	}
	if err := viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-format flag: %v\n", err)
	}
}

func initConfig() {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("ENRICHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found; use defaults and environment
	}

	cfg = config.New(v)
}

func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.port", "8080")
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "60s")
	v.SetDefault("api.sync_wait_sla", "30s")

	// Worker defaults
	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.pop_timeout", "2s")
	v.SetDefault("worker.lease_ttl", "60s")
	v.SetDefault("worker.heartbeat_interval", "20s")

	// Store defaults
	v.SetDefault("store.job_ttl", "1h")
	v.SetDefault("store.sweep_schedule", "@every 1m")
	v.SetDefault("store.reclaim_schedule", "@every 15s")

	// Queue defaults
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.max_depth", 10000)

	// Processor defaults
	v.SetDefault("processor.transport", "inprocess")
	v.SetDefault("processor.subject", "enrichment.process")
	v.SetDefault("processor.retry_limit", 5)
	v.SetDefault("processor.attempt_timeout", "30s")
	v.SetDefault("processor.base_delay", "200ms")
	v.SetDefault("processor.max_delay", "5s")
	v.SetDefault("processor.requeue_base_delay", "1s")
	v.SetDefault("processor.requeue_max_delay", "1m")
	v.SetDefault("processor.breaker_threshold", 5)
	v.SetDefault("processor.breaker_cooldown", "30s")
	v.SetDefault("processor.breaker_window", "1m")
	v.SetDefault("processor.fail_fast_on_circuit_open", false)

	// Embedding defaults
	v.SetDefault("embedding.base_url", "http://localhost:8090")
	v.SetDefault("embedding.max_attempts", 3)
	v.SetDefault("embedding.attempt_timeout", "10s")
	v.SetDefault("embedding.base_delay", "100ms")
	v.SetDefault("embedding.max_delay", "2s")
	v.SetDefault("embedding.breaker_threshold", 5)
	v.SetDefault("embedding.breaker_cooldown", "30s")
	v.SetDefault("embedding.breaker_window", "1m")

	// Database defaults (mirror disabled unless a host is configured)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "enrichd")
	v.SetDefault("database.schema", "enrichd")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 10)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", "2s")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "enrichd")
	v.SetDefault("telemetry.latency_window_size", 512)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	return cfg
}
