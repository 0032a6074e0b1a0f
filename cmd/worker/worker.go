package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/anomaly"
	"github.com/heliowatt/solar-telemetry-worker/internal/cache"
	"github.com/heliowatt/solar-telemetry-worker/internal/command"
	"github.com/heliowatt/solar-telemetry-worker/internal/config"
	"github.com/heliowatt/solar-telemetry-worker/internal/db"
	"github.com/heliowatt/solar-telemetry-worker/internal/enrich"
	"github.com/heliowatt/solar-telemetry-worker/internal/metrics"
	"github.com/heliowatt/solar-telemetry-worker/internal/mq"
	"github.com/heliowatt/solar-telemetry-worker/internal/pipeline"
	"github.com/heliowatt/solar-telemetry-worker/internal/registry"
	"github.com/heliowatt/solar-telemetry-worker/internal/repository"
	"github.com/heliowatt/solar-telemetry-worker/internal/service"
	"github.com/heliowatt/solar-telemetry-worker/internal/transport"
	"github.com/heliowatt/solar-telemetry-worker/internal/validator"
)

// startWorker exposes the metrics endpoint and reports the pipeline as
// running. The transport client in the argument list is what pulls the
// whole ingestion graph into existence.
func startWorker(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	client *transport.Client,
	pool *pipeline.Pool,
	m *metrics.Metrics,
	queries *service.Queries,
) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServicePort),
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			go func() {
				logger.Info("metrics server started", zap.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			go pollQueueDepth(ctx, pool, m)

			logger.Info("telemetry worker started",
				zap.String("namespace", cfg.MQTT.TopicNamespace),
				zap.Int("workers", cfg.Pipeline.Workers),
				zap.Int("queue_size", cfg.Pipeline.QueueSize),
			)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := server.Shutdown(stopCtx); err != nil {
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})
}

func pollQueueDepth(ctx context.Context, pool *pipeline.Pool, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.QueueDepth.Set(float64(pool.QueueDepth()))
		}
	}
}

// ProvideDBPool creates the PostgreSQL connection pool
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRedisClient creates the snapshot cache's Redis client
func ProvideRedisClient(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Error("redis ping failed", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
				return fmt.Errorf("cannot reach redis: %w", err)
			}
			logger.Info("redis connection established")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client
}

// ProvideMQConnection creates the RabbitMQ connection for outbound events
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideEventPublisher creates the outbound event publisher
func ProvideEventPublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
}

// ProvideMetrics creates the pipeline metrics
func ProvideMetrics() *metrics.Metrics {
	return metrics.New("solar_telemetry")
}

// ProvideDeviceRegistry creates the device registry read model
func ProvideDeviceRegistry(pool *db.Pool) *registry.DeviceRegistry {
	return registry.NewDeviceRegistry(pool)
}

// ProvideSampleRepository creates the durable time-series repository
func ProvideSampleRepository(pool *db.Pool) *repository.SampleRepository {
	return repository.NewSampleRepository(pool)
}

// ProvideDeadLetterRepository creates the dead-letter recorder
func ProvideDeadLetterRepository(pool *db.Pool, logger *zap.Logger) *repository.DeadLetterRepository {
	return repository.NewDeadLetterRepository(pool, logger)
}

// ProvideSnapshotCache creates the latest-snapshot cache
func ProvideSnapshotCache(client *redis.Client, cfg *config.Config, logger *zap.Logger) *cache.SnapshotCache {
	return cache.NewSnapshotCache(client, cfg.Cache.SnapshotTTL, logger)
}

// ProvideValidator creates the reading validator
func ProvideValidator(reg *registry.DeviceRegistry, cfg *config.Config) *validator.Validator {
	return validator.NewValidator(reg, cfg.Validation.FutureToleranceMinutes, cfg.Validation.MaxAgeMinutes)
}

// ProvideEnricher creates the reading enricher
func ProvideEnricher(reg *registry.DeviceRegistry, logger *zap.Logger) *enrich.Enricher {
	return enrich.NewEnricher(reg, logger)
}

// ProvideDetector creates the anomaly detector
func ProvideDetector(samples *repository.SampleRepository, cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(samples, cfg.Anomaly.Enabled, cfg.Anomaly.BaselineWindowDays, cfg.Anomaly.DropRatio)
}

// ProvideProcessor creates the reading processor
func ProvideProcessor(
	v *validator.Validator,
	e *enrich.Enricher,
	d *anomaly.Detector,
	samples *repository.SampleRepository,
	snapshots *cache.SnapshotCache,
	reg *registry.DeviceRegistry,
	deadLetters *repository.DeadLetterRepository,
	events *mq.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *service.Processor {
	return service.NewProcessor(v, e, d, samples, snapshots, reg, deadLetters, events, m, cfg, logger)
}

// ProvidePool creates the bounded worker pool
func ProvidePool(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *pipeline.Pool {
	pool := pipeline.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			pool.Close()
			logger.Info("pipeline pool drained")
			return nil
		},
	})

	return pool
}

// ProvideRouter creates the message router
func ProvideRouter(pool *pipeline.Pool, processor *service.Processor, logger *zap.Logger) *transport.Router {
	return transport.NewRouter(pool, processor, logger)
}

// ProvideTransportClient creates the MQTT listener and ties its
// connect/disconnect to the application lifecycle
func ProvideTransportClient(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, router *transport.Router) *transport.Client {
	client := transport.NewClient(cfg.MQTT, logger, router.HandleMessage)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Connect()
		},
		OnStop: func(ctx context.Context) error {
			client.Disconnect()
			return nil
		},
	})

	return client
}

// ProvideDispatcher creates the command dispatcher
func ProvideDispatcher(client *transport.Client, cfg *config.Config, logger *zap.Logger) *command.Dispatcher {
	return command.NewDispatcher(client, cfg.MQTT.TopicNamespace, logger)
}

// ProvideQueries creates the collaborator-facing query surface
func ProvideQueries(
	snapshots *cache.SnapshotCache,
	samples *repository.SampleRepository,
	dispatcher *command.Dispatcher,
	logger *zap.Logger,
) *service.Queries {
	return service.NewQueries(snapshots, samples, dispatcher, logger)
}
