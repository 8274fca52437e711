// Package main is the entry point for the healthsync ingestor daemon.
//
// The ingestor polls the health-export endpoints on a fixed cadence (sleep
// every six hours, exercise every fifteen minutes), validates what it fetches,
// and upserts the results into the store under per-category checkpoints. It
// runs until SIGINT or SIGTERM, finishing any in-flight run before exiting.
//
// The --sleep-only and --exercise-only flags switch the daemon into one-shot
// mode: a single run for that category, exit 0 on success, 1 on failure. This
// is the backfill/debugging path; the flags are mutually exclusive.
package main

import (
	"context"
	"flag"
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

	"healthsync/internal/config"
	"healthsync/internal/db"
	"healthsync/internal/export"
	"healthsync/internal/ingest"
	"healthsync/internal/metrics"
	"healthsync/internal/queue"
	"healthsync/internal/scheduler"
	"healthsync/internal/types"
)

func main() {
	sleepOnly := flag.Bool("sleep-only", false, "run a single sleep ingestion and exit")
	exerciseOnly := flag.Bool("exercise-only", false, "run a single exercise ingestion and exit")
	flag.Parse()

	if *sleepOnly && *exerciseOnly {
		fmt.Fprintln(os.Stderr, "--sleep-only and --exercise-only are mutually exclusive")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*sleepOnly, *exerciseOnly); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run(sleepOnly, exerciseOnly bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("healthsync ingestor starting",
		"environment", cfg.Environment,
		"sleep_interval", cfg.Scheduler.SleepInterval.String(),
		"exercise_interval", cfg.Scheduler.ExerciseInterval.String(),
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

	source := export.NewHealthExportClient(
		&http.Client{Timeout: cfg.Export.RequestTimeout},
		cfg.Export.SleepEndpoint,
		cfg.Export.ExerciseEndpoint,
		cfg.Export.APIKey,
		export.RetryPolicy{
			MaxRetries: cfg.Export.MaxRetries,
			MinWait:    export.DefaultRetryPolicy().MinWait,
			MaxWait:    export.DefaultRetryPolicy().MaxWait,
		},
	)

	runHistory := db.NewRunHistoryRepository(pool)
	coordinator := ingest.NewCoordinator(
		source,
		db.NewSleepRepository(pool),
		db.NewExerciseRepository(pool),
		db.NewGlucoseRepository(pool),
		db.NewCheckpointRepository(pool),
		runHistory,
		rejects,
		runMetrics,
		cfg.Scheduler.DefaultLookback,
		logger,
	)

	if sleepOnly || exerciseOnly {
		category := types.CategorySleep
		if exerciseOnly {
			category = types.CategoryExercise
		}
		return runOnce(ctx, coordinator, category, cfg.Scheduler.RunTimeout, logger)
	}

	sched := scheduler.New(scheduler.Config{
		Runner: coordinator,
		Schedules: []scheduler.CategorySchedule{
			{Category: types.CategorySleep, Interval: cfg.Scheduler.SleepInterval},
			{Category: types.CategoryExercise, Interval: cfg.Scheduler.ExerciseInterval},
		},
		RunTimeout:      cfg.Scheduler.RunTimeout,
		Logger:          logger,
		InitialFailures: restoredFailures(ctx, runHistory, logger),
	})

	sched.Run(ctx)
	logger.Info("ingestor stopped cleanly")
	return nil
}

// runOnce executes a single scheduled-style run for one category. Anything
// short of a fully successful run, including partial runs with rejected
// records, exits non-zero so operators and scripts can trust the exit code.
func runOnce(ctx context.Context, runner scheduler.Runner, category types.Category, timeout time.Duration, logger *slog.Logger) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := runner.RunCategory(runCtx, category)
	if err != nil {
		return fmt.Errorf("one-shot %s run failed: %w", category, err)
	}
	logger.Info("one-shot run finished",
		"category", string(category),
		"status", string(res.Status),
		"inserted", res.RecordsInserted,
		"updated", res.RecordsUpdated,
		"failed", res.RecordsFailed,
	)
	if res.Status != types.RunSuccess {
		return fmt.Errorf("one-shot %s run ended %s: %d records failed", category, res.Status, res.RecordsFailed)
	}
	return nil
}

// recentFailureWindow is how many of a category's most recent runs are
// inspected when restoring its backoff posture after a restart.
const recentFailureWindow = 5

// restoredFailures seeds the scheduler's per-category failure counts from run
// history. Best effort: a history read failure starts the category fresh.
func restoredFailures(ctx context.Context, runHistory *db.RunHistoryRepository, logger *slog.Logger) map[types.Category]int {
	restored := make(map[types.Category]int)
	for _, category := range []types.Category{types.CategorySleep, types.CategoryExercise} {
		n, err := runHistory.RecentFailures(ctx, category, recentFailureWindow)
		if err != nil {
			logger.Warn("could not restore failure posture from run history",
				"category", string(category), "error", err.Error())
			continue
		}
		if n > 0 {
			restored[category] = n
		}
	}
	return restored
}

// newTelemetry wires the CloudWatch metrics emitter and the SQS reject
// publisher, or their no-op counterparts when disabled. The AWS SDK config is
// only loaded if at least one of the two is enabled.
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
