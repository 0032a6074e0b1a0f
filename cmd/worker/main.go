package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/config"
)

func main() {
	// Load .env if one is present nearby; in pods/containers configuration
	// comes straight from the environment.
	envPaths := []string{".env"}
	if workDir, err := os.Getwd(); err == nil {
		envPaths = append(envPaths,
			filepath.Join(filepath.Dir(workDir), ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				absPath, _ := filepath.Abs(envPath)
				fmt.Printf("Loaded environment from: %s\n", absPath)
				break
			}
		}
	}

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRedisClient,
			ProvideMQConnection,
			ProvideEventPublisher,
			ProvideMetrics,
			ProvideDeviceRegistry,
			ProvideSampleRepository,
			ProvideDeadLetterRepository,
			ProvideSnapshotCache,
			ProvideValidator,
			ProvideEnricher,
			ProvideDetector,
			ProvideProcessor,
			ProvidePool,
			ProvideRouter,
			ProvideTransportClient,
			ProvideDispatcher,
			ProvideQueries,
		),
		fx.Invoke(startWorker),
	)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tempLogger, _ := newLogger(&config.Config{ServiceName: "solar-telemetry-worker"})
	tempLogger.Info("starting application...", zap.String("timeout", "30s"))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("application start timed out; check broker, database, and redis connectivity")
		}
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop application gracefully
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}
