// Package main is the entry point for the healthsync push-ingest API server.
//
// The API accepts authenticated POSTs of health telemetry (sleep, exercise,
// blood glucose) from the iPhone Auto Export app and routes them through the
// same validation and idempotent persistence pipeline the scheduled ingestor
// uses. Push ingestion never touches the pull checkpoints.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"healthsync/internal/api"
	"healthsync/internal/config"
	"healthsync/internal/db"
	"healthsync/internal/ingest"
	"healthsync/internal/metrics"
	"healthsync/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("healthsync API starting",
		"environment", cfg.Environment,
		"port", cfg.API.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	runMetrics, rejects, err := newTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// The coordinator's pull source is unused on the push path; only the
	// stores, checkpoints, and run history are exercised here.
	coordinator := ingest.NewCoordinator(
		nil,
		db.NewSleepRepository(pool),
		db.NewExerciseRepository(pool),
		db.NewGlucoseRepository(pool),
		db.NewCheckpointRepository(pool),
		db.NewRunHistoryRepository(pool),
		rejects,
		runMetrics,
		cfg.Scheduler.DefaultLookback,
		logger,
	)

	srv := api.NewServer(cfg.API, coordinator, pool, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.API.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newTelemetry wires the CloudWatch metrics emitter and the SQS reject
// publisher, or their no-op counterparts when disabled.
func newTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (metrics.RunMetrics, queue.RejectPublisher, error) {
	var (
		runMetrics metrics.RunMetrics    = metrics.NoopRunMetrics{}
		rejects    queue.RejectPublisher = queue.NoopRejectPublisher{}
	)
	if !cfg.Metrics.Enabled && cfg.AWS.RejectQueueURL == "" {
		return runMetrics, rejects, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.EndpointURL != "" {
		// LocalStack support.
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	if cfg.Metrics.Enabled {
		runMetrics = metrics.NewCloudWatchRunMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Metrics.Namespace, logger)
	}
	if cfg.AWS.RejectQueueURL != "" {
		rejects = queue.NewSQSRejectPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.RejectQueueURL, logger)
	}
	return runMetrics, rejects, nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
