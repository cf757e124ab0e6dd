package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"enrichd/internal/adapter/inbound/api"
	"enrichd/internal/adapter/outbound/embeddings"
	"enrichd/internal/adapter/outbound/memstore"
	"enrichd/internal/adapter/outbound/processor"
	"enrichd/internal/adapter/outbound/queue"
	"enrichd/internal/adapter/outbound/repository"
	"enrichd/internal/application/common/logging"
	"enrichd/internal/application/common/slogger"
	"enrichd/internal/application/service"
	"enrichd/internal/application/worker"
	"enrichd/internal/config"
	"enrichd/internal/domain/valueobject"
	"enrichd/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"
)

// serveCmd runs the full service in one process: HTTP API, worker pool and
// store maintenance. The keyed store is process-local, so the submission
// side and the workers must share a process.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment service",
	Long: `Start the HTTP API server together with the worker pool and the
store maintenance scheduler.

Endpoints:
- POST /jobs                     submit an enrichment job
- GET  /jobs/{id}                job status
- GET  /tenants/{tenant_id}/jobs list a tenant's jobs
- GET  /health                   dependency health
- GET  /workers/health           worker pool state
- GET  /workers/metrics          worker throughput`,
	Run: runServe,
}

func runServe(_ *cobra.Command, _ []string) {
	// initConfig has already run via cobra.OnInitialize; it owns the viper
	// instance that carries defaults, the config file and ENRICHD_ env vars.
	cfg := GetConfig()

	logger, err := logging.NewApplicationLogger(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	slogger.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startCancel()

	if err := app.server.Start(startCtx); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}
	if err := app.workers.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	if err := app.maintenance.Start(ctx); err != nil {
		log.Fatalf("Failed to start maintenance scheduler: %v", err)
	}

	slogger.Info(ctx, "Service started", slogger.Fields{
		"address":     app.server.Address(),
		"concurrency": cfg.Worker.Concurrency,
		"queue":       cfg.Queue.Backend,
		"processor":   cfg.Processor.Transport,
	})

	<-ctx.Done()
	slogger.InfoNoCtx("Shutdown signal received", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	group, groupCtx := errgroup.WithContext(shutdownCtx)
	group.Go(func() error { return app.server.Shutdown(groupCtx) })
	group.Go(func() error { return app.workers.Stop(groupCtx) })
	group.Go(func() error { return app.maintenance.Stop(groupCtx) })

	if err := group.Wait(); err != nil {
		slogger.ErrorNoCtx("Shutdown did not complete cleanly", slogger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	app.close()
	slogger.InfoNoCtx("Service shut down gracefully", nil)
}

// application bundles the wired components and their cleanup.
type application struct {
	server      *api.Server
	workers     *worker.DefaultWorkerService
	maintenance *service.MaintenanceService
	closers     []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApplication wires the store, queue, processor, embedding client,
// breakers, telemetry, services and server together.
func buildApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{}

	store := memstore.NewJobStore()

	jobQueue, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = jobQueue.Close() })

	enrichmentProcessor, err := buildProcessor(cfg)
	if err != nil {
		return nil, err
	}
	if closer, ok := enrichmentProcessor.(interface{ Close() error }); ok {
		app.closers = append(app.closers, func() { _ = closer.Close() })
	}

	embeddingClient, err := embeddings.NewClient(embeddings.ClientConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Timeout: cfg.Embedding.AttemptTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}

	onStateChange := func(name string, from, to valueobject.BreakerState) {
		slogger.WarnNoCtx("Circuit breaker state changed", slogger.Fields{
			"dependency": name,
			"from":       from.String(),
			"to":         to.String(),
		})
	}
	processorBreaker := service.NewCircuitBreaker(service.BreakerConfig{
		Name:             "processor",
		FailureThreshold: cfg.Processor.BreakerThreshold,
		Cooldown:         cfg.Processor.BreakerCooldown,
		Window:           cfg.Processor.BreakerWindow,
		OnStateChange:    onStateChange,
	})
	embeddingBreaker := service.NewCircuitBreaker(service.BreakerConfig{
		Name:             "embedding",
		FailureThreshold: cfg.Embedding.BreakerThreshold,
		Cooldown:         cfg.Embedding.BreakerCooldown,
		Window:           cfg.Embedding.BreakerWindow,
		OnStateChange:    onStateChange,
	})

	processorExec := service.NewRetryExecutor(service.RetryExecutorConfig{
		Dependency:       "processor",
		MaxAttempts:      cfg.Processor.RetryLimit,
		BaseDelay:        cfg.Processor.BaseDelay,
		MaxDelay:         cfg.Processor.MaxDelay,
		JitterMaxPercent: 20,
		AttemptTimeout:   cfg.Processor.AttemptTimeout,
	}, processorBreaker)
	embeddingExec := service.NewRetryExecutor(service.RetryExecutorConfig{
		Dependency:       "embedding",
		MaxAttempts:      cfg.Embedding.MaxAttempts,
		BaseDelay:        cfg.Embedding.BaseDelay,
		MaxDelay:         cfg.Embedding.MaxDelay,
		JitterMaxPercent: 20,
		AttemptTimeout:   cfg.Embedding.AttemptTimeout,
	}, embeddingBreaker)

	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)
	app.closers = append(app.closers, func() { _ = meterProvider.Shutdown(context.Background()) })

	telemetry, err := service.NewTelemetry(
		service.TelemetryConfig{
			ServiceName:       cfg.Telemetry.ServiceName,
			ServiceVersion:    Version,
			Enabled:           cfg.Telemetry.Enabled,
			LatencyWindowSize: cfg.Telemetry.LatencyWindowSize,
		},
		meterProvider,
		func(ctx context.Context) (int, map[string]int) {
			total, _ := jobQueue.Depth(ctx)
			perTenant, _ := jobQueue.DepthByTenant(ctx)
			return total, perTenant
		},
		[]service.CircuitBreaker{processorBreaker, embeddingBreaker},
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	app.closers = append(app.closers, func() { _ = telemetry.Close() })

	sink, err := buildResultSink(cfg)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	runner := worker.NewJobRunner(
		worker.RunnerConfig{
			RetryLimit:            cfg.Processor.RetryLimit,
			LeaseTTL:              cfg.Worker.LeaseTTL,
			HeartbeatInterval:     cfg.Worker.HeartbeatInterval,
			RequeueBaseDelay:      cfg.Processor.RequeueBaseDelay,
			RequeueMaxDelay:       cfg.Processor.RequeueMaxDelay,
			FailFastOnCircuitOpen: cfg.Processor.FailFastOnCircuitOpen,
		},
		workerID,
		store,
		jobQueue,
		enrichmentProcessor,
		embeddingClient,
		processorExec,
		embeddingExec,
		sink,
		telemetry,
	)
	app.workers = worker.NewWorkerService(worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		PopTimeout:  cfg.Worker.PopTimeout,
	}, jobQueue, runner)

	enrichmentService := service.NewEnrichmentService(service.EnrichmentServiceConfig{
		MaxQueueDepth: cfg.Queue.MaxDepth,
		JobTTL:        cfg.Store.JobTTL,
		SyncWaitSLA:   cfg.API.SyncWaitSLA,
	}, store, jobQueue, telemetry)

	healthService := service.NewHealthService(service.HealthServiceDeps{
		Store:            store,
		Queue:            jobQueue,
		ProcessorBreaker: processorBreaker,
		EmbeddingBreaker: embeddingBreaker,
		Telemetry:        telemetry,
		Version:          Version,
	})

	app.maintenance = service.NewMaintenanceService(service.MaintenanceConfig{
		SweepSchedule:   cfg.Store.SweepSchedule,
		ReclaimSchedule: cfg.Store.ReclaimSchedule,
		OnReclaim:       app.workers.RecordReclaimedLeases,
	}, store, jobQueue)

	app.server, err = api.NewServer(cfg, healthService, enrichmentService, app.workers, api.NewDefaultErrorHandler())
	if err != nil {
		return nil, fmt.Errorf("api server: %w", err)
	}

	return app, nil
}

func buildQueue(ctx context.Context, cfg *config.Config) (outbound.JobQueue, error) {
	switch cfg.Queue.Backend {
	case "redis":
		redisQueue, err := queue.NewRedisQueue(ctx, queue.RedisQueueConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			MaxDepth: cfg.Queue.MaxDepth,
		})
		if err != nil {
			return nil, fmt.Errorf("redis queue: %w", err)
		}
		return redisQueue, nil
	default:
		return queue.NewMemoryQueue(cfg.Queue.MaxDepth), nil
	}
}

func buildProcessor(cfg *config.Config) (outbound.EnrichmentProcessor, error) {
	switch cfg.Processor.Transport {
	case "nats":
		natsProcessor, err := processor.NewNATSProcessor(processor.NATSConfig{
			URL:           cfg.NATS.URL,
			Subject:       cfg.Processor.Subject,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
		if err != nil {
			return nil, fmt.Errorf("nats processor: %w", err)
		}
		return natsProcessor, nil
	default:
		return processor.NewInProcessProcessor(processor.InProcessConfig{}), nil
	}
}

// buildResultSink connects the optional PostgreSQL mirror of terminal jobs.
func buildResultSink(cfg *config.Config) (outbound.ResultSink, error) {
	if !cfg.Database.Enabled() {
		return nil, nil
	}

	pool, err := repository.NewDatabaseConnection(repository.DatabaseConfig{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		Database:       cfg.Database.Name,
		Username:       cfg.Database.User,
		Password:       cfg.Database.Password,
		Schema:         cfg.Database.Schema,
		MaxConnections: cfg.Database.MaxConnections,
		SSLMode:        cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("result mirror database: %w", err)
	}
	return repository.NewPostgresResultSink(pool)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
