package db

import (
	"context"
	"time"

	"healthsync/internal/types"
)

// ============================================================
// ExerciseRepository
// ============================================================

// ExerciseRepository provides data access for the exercise_data table.
// Records are keyed by minute-precision timestamp; re-ingesting a timestamp
// updates the existing row in place.
type ExerciseRepository struct {
	db DBTX
}

// NewExerciseRepository creates a new ExerciseRepository backed by the given
// database connection (pool or transaction).
func NewExerciseRepository(db DBTX) *ExerciseRepository {
	return &ExerciseRepository{db: db}
}

const exerciseUpsertSQL = `
	INSERT INTO exercise_data (
		timestamp, activity_type, duration_minutes,
		calories_burned, distance_km, steps,
		heart_rate_avg, heart_rate_max,
		active_energy_kcal, resting_energy_kcal, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	ON CONFLICT (timestamp) DO UPDATE SET
		activity_type       = EXCLUDED.activity_type,
		duration_minutes    = EXCLUDED.duration_minutes,
		calories_burned     = EXCLUDED.calories_burned,
		distance_km         = EXCLUDED.distance_km,
		steps               = EXCLUDED.steps,
		heart_rate_avg      = EXCLUDED.heart_rate_avg,
		heart_rate_max      = EXCLUDED.heart_rate_max,
		active_energy_kcal  = EXCLUDED.active_energy_kcal,
		resting_energy_kcal = EXCLUDED.resting_energy_kcal,
		updated_at          = NOW()
	RETURNING (xmax = 0)`

// Upsert inserts or updates a single exercise record keyed by timestamp.
// The boolean result is true when a new row was inserted.
func (r *ExerciseRepository) Upsert(ctx context.Context, rec *types.ExerciseRecord) (bool, error) {
	var inserted bool
	err := r.db.QueryRow(ctx, exerciseUpsertSQL,
		rec.Timestamp, rec.ActivityType, rec.DurationMinutes,
		rec.CaloriesBurned, rec.DistanceKM, rec.Steps,
		rec.HeartRateAvg, rec.HeartRateMax,
		rec.ActiveEnergyKcal, rec.RestingEnergyKcal,
	).Scan(&inserted)
	if err != nil {
		return false, classifyDBError(err, "failed to upsert exercise record")
	}
	return inserted, nil
}

// UpsertBatch upserts records one at a time in the given order, recording a
// per-record outcome. A failing record never aborts the batch, except for a
// connection-level failure which would fail every remaining record anyway.
func (r *ExerciseRepository) UpsertBatch(ctx context.Context, recs []*types.ExerciseRecord) (*types.UpsertOutcome, error) {
	outcome := &types.UpsertOutcome{Results: make([]types.UpsertResult, 0, len(recs))}
	for _, rec := range recs {
		inserted, err := r.Upsert(ctx, rec)
		outcome.Results = append(outcome.Results, types.UpsertResult{
			Cursor:   rec.Cursor(),
			Inserted: inserted,
			Err:      err,
		})
		if err != nil {
			if isStoreUnavailable(err) {
				return outcome, err
			}
			continue
		}
		if inserted {
			outcome.Inserted++
		} else {
			outcome.Updated++
		}
	}
	return outcome, nil
}

// GetByTimestamp fetches one exercise record by its minute-precision
// timestamp, or nil when no row matches.
func (r *ExerciseRepository) GetByTimestamp(ctx context.Context, ts time.Time) (*types.ExerciseRecord, error) {
	rec := &types.ExerciseRecord{}
	err := r.db.QueryRow(ctx,
		`SELECT timestamp, activity_type, duration_minutes,
		        calories_burned, distance_km, steps,
		        heart_rate_avg, heart_rate_max,
		        active_energy_kcal, resting_energy_kcal
		 FROM exercise_data WHERE timestamp = $1`,
		ts,
	).Scan(
		&rec.Timestamp, &rec.ActivityType, &rec.DurationMinutes,
		&rec.CaloriesBurned, &rec.DistanceKM, &rec.Steps,
		&rec.HeartRateAvg, &rec.HeartRateMax,
		&rec.ActiveEnergyKcal, &rec.RestingEnergyKcal,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, classifyDBError(err, "failed to fetch exercise record")
	}
	return rec, nil
}
