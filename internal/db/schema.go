package db

import "context"

// schemaStatements creates the healthsync tables if they do not already
// exist. Statements are idempotent so every binary can run EnsureSchema at
// startup without coordination.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sleep_data (
		id                     BIGSERIAL PRIMARY KEY,
		date                   DATE NOT NULL UNIQUE,
		bedtime                TIMESTAMPTZ,
		wake_time              TIMESTAMPTZ,
		sleep_duration_minutes INTEGER,
		deep_sleep_minutes     INTEGER,
		light_sleep_minutes    INTEGER,
		rem_sleep_minutes      INTEGER,
		sleep_efficiency       DOUBLE PRECISION,
		heart_rate_avg         INTEGER,
		heart_rate_min         INTEGER,
		heart_rate_max         INTEGER,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS exercise_data (
		id                  BIGSERIAL PRIMARY KEY,
		timestamp           TIMESTAMPTZ NOT NULL UNIQUE,
		activity_type       TEXT,
		duration_minutes    INTEGER,
		calories_burned     DOUBLE PRECISION,
		distance_km         DOUBLE PRECISION,
		steps               INTEGER,
		heart_rate_avg      INTEGER,
		heart_rate_max      INTEGER,
		active_energy_kcal  DOUBLE PRECISION,
		resting_energy_kcal DOUBLE PRECISION,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS blood_glucose (
		id         BIGSERIAL PRIMARY KEY,
		timestamp  TIMESTAMPTZ NOT NULL UNIQUE,
		value      DOUBLE PRECISION NOT NULL,
		unit       TEXT NOT NULL DEFAULT 'mg/dL',
		source     TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ingestion_checkpoints (
		category   TEXT PRIMARY KEY,
		cursor     TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ingestion_runs (
		id               BIGSERIAL PRIMARY KEY,
		run_id           UUID NOT NULL,
		category         TEXT NOT NULL,
		started_at       TIMESTAMPTZ NOT NULL,
		finished_at      TIMESTAMPTZ NOT NULL,
		records_fetched  INTEGER NOT NULL DEFAULT 0,
		records_inserted INTEGER NOT NULL DEFAULT 0,
		records_updated  INTEGER NOT NULL DEFAULT 0,
		records_failed   INTEGER NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		error_detail     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ingestion_runs_category_started
		ON ingestion_runs (category, started_at DESC)`,
}

// EnsureSchema applies the idempotent schema statements in order.
func EnsureSchema(ctx context.Context, db DBTX) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return classifyDBError(err, "failed to ensure schema")
		}
	}
	return nil
}
