// Package main is the healthsync CSV backfill tool.
//
// It reads sleep_data.csv, exercise_data.csv, and blood_glucose.csv (plain or
// gzip-compressed) and pushes their rows through the same validation and
// idempotent upsert pipeline the API and the scheduled ingestor use, so a
// backfill can be re-run safely. Checkpoints are never touched.
//
// Missing files are skipped with a warning, matching the expectation that a
// backfill usually carries only some of the three exports.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"healthsync/internal/config"
	"healthsync/internal/db"
	"healthsync/internal/ingest"
	"healthsync/internal/metrics"
	"healthsync/internal/queue"
	"healthsync/internal/types"
)

func main() {
	sleepFile := flag.String("sleep", "sleep_data.csv", "path to the sleep export CSV (.gz supported)")
	exerciseFile := flag.String("exercise", "exercise_data.csv", "path to the exercise export CSV (.gz supported)")
	glucoseFile := flag.String("glucose", "blood_glucose.csv", "path to the blood glucose export CSV (.gz supported)")
	flag.Parse()

	if err := run(*sleepFile, *exerciseFile, *glucoseFile); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(sleepFile, exerciseFile, glucoseFile string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	// Backfills are operator-driven one-offs; run telemetry stays local.
	coordinator := ingest.NewCoordinator(
		nil,
		db.NewSleepRepository(pool),
		db.NewExerciseRepository(pool),
		db.NewGlucoseRepository(pool),
		db.NewCheckpointRepository(pool),
		db.NewRunHistoryRepository(pool),
		queue.NoopRejectPublisher{},
		metrics.NoopRunMetrics{},
		cfg.Scheduler.DefaultLookback,
		logger,
	)

	if err := importSleep(ctx, coordinator, sleepFile, logger); err != nil {
		return err
	}
	if err := importExercise(ctx, coordinator, exerciseFile, logger); err != nil {
		return err
	}
	if err := importGlucose(ctx, coordinator, glucoseFile, logger); err != nil {
		return err
	}
	return nil
}

func importSleep(ctx context.Context, coordinator *ingest.Coordinator, path string, logger *slog.Logger) error {
	rows, skipped, err := readCSV(path, logger)
	if err != nil || rows == nil {
		return err
	}

	var records []types.RawSleepRecord
	for _, row := range rows {
		if row.str("date") == "" {
			skipped++
			continue
		}
		rec := types.RawSleepRecord{
			Date:     row.str("date"),
			Bedtime:  row.str("bedtime"),
			WakeTime: row.str("wake_time"),
		}
		ok := true
		rec.SleepDurationMinutes, ok = row.float("sleep_duration_minutes", ok)
		rec.DeepSleepMinutes, ok = row.float("deep_sleep_minutes", ok)
		rec.LightSleepMinutes, ok = row.float("light_sleep_minutes", ok)
		rec.RemSleepMinutes, ok = row.float("rem_sleep_minutes", ok)
		rec.SleepEfficiency, ok = row.float("sleep_efficiency", ok)
		rec.HeartRateAvg, ok = row.float("heart_rate_avg", ok)
		rec.HeartRateMin, ok = row.float("heart_rate_min", ok)
		rec.HeartRateMax, ok = row.float("heart_rate_max", ok)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	res, err := coordinator.IngestSleep(ctx, records)
	return report(path, res, skipped, err, logger)
}

func importExercise(ctx context.Context, coordinator *ingest.Coordinator, path string, logger *slog.Logger) error {
	rows, skipped, err := readCSV(path, logger)
	if err != nil || rows == nil {
		return err
	}

	var records []types.RawExerciseRecord
	for _, row := range rows {
		if row.str("timestamp") == "" {
			skipped++
			continue
		}
		rec := types.RawExerciseRecord{
			Timestamp:    row.str("timestamp"),
			ActivityType: row.str("activity_type"),
		}
		ok := true
		rec.DurationMinutes, ok = row.float("duration_minutes", ok)
		rec.CaloriesBurned, ok = row.float("calories_burned", ok)
		rec.DistanceKM, ok = row.float("distance_km", ok)
		rec.Steps, ok = row.float("steps", ok)
		rec.HeartRateAvg, ok = row.float("heart_rate_avg", ok)
		rec.HeartRateMax, ok = row.float("heart_rate_max", ok)
		rec.ActiveEnergyKcal, ok = row.float("active_energy_kcal", ok)
		rec.RestingEnergyKcal, ok = row.float("resting_energy_kcal", ok)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	res, err := coordinator.IngestExercise(ctx, records)
	return report(path, res, skipped, err, logger)
}

func importGlucose(ctx context.Context, coordinator *ingest.Coordinator, path string, logger *slog.Logger) error {
	rows, skipped, err := readCSV(path, logger)
	if err != nil || rows == nil {
		return err
	}

	var records []types.RawGlucoseRecord
	for _, row := range rows {
		if row.str("timestamp") == "" {
			skipped++
			continue
		}
		rec := types.RawGlucoseRecord{
			Timestamp: row.str("timestamp"),
			Unit:      row.str("unit"),
			Source:    row.str("source"),
		}
		ok := true
		rec.Value, ok = row.float("value", ok)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	res, err := coordinator.IngestGlucose(ctx, records)
	return report(path, res, skipped, err, logger)
}

func report(path string, res *types.RunResult, skipped int, err error, logger *slog.Logger) error {
	if err != nil {
		return fmt.Errorf("importing %s: %w", path, err)
	}
	logger.Info("file imported",
		"file", path,
		"status", string(res.Status),
		"inserted", res.RecordsInserted,
		"updated", res.RecordsUpdated,
		"failed", res.RecordsFailed,
		"rows_skipped", skipped,
	)
	return nil
}

// csvRow is one data row keyed by header column name.
type csvRow map[string]string

func (r csvRow) str(key string) string {
	return strings.TrimSpace(r[key])
}

// float parses an optional numeric column. An empty cell yields nil; an
// unparseable cell flips ok to false so the caller can skip the row. The ok
// accumulator lets the per-column calls chain without per-field error checks.
func (r csvRow) float(key string, ok bool) (*float64, bool) {
	s := r.str(key)
	if s == "" {
		return nil, ok
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return &v, ok
}

// readCSV loads all data rows from a plain or gzip-compressed CSV file. A
// missing file is not an error: it returns nil rows and logs a warning.
func readCSV(path string, logger *slog.Logger) ([]csvRow, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("file not found, skipping", "file", path)
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, 0, fmt.Errorf("opening gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		reader = gz
	}

	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("reading header of %s: %w", path, err)
	}
	for i, col := range header {
		header[i] = strings.TrimSpace(col)
	}

	var rows []csvRow
	skipped := 0
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		row := make(csvRow, len(header))
		for i, col := range header {
			if i < len(fields) {
				row[col] = fields[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
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
