package db

import (
	"context"
	"time"

	"healthsync/internal/types"
)

// ============================================================
// SleepRepository
// ============================================================

// SleepRepository provides data access for the sleep_data table. Re-ingesting
// a date the table already holds updates the existing row in place via
// INSERT ... ON CONFLICT DO UPDATE, so replaying an export window never
// produces duplicates.
type SleepRepository struct {
	db DBTX
}

// NewSleepRepository creates a new SleepRepository backed by the given
// database connection (pool or transaction).
func NewSleepRepository(db DBTX) *SleepRepository {
	return &SleepRepository{db: db}
}

const sleepUpsertSQL = `
	INSERT INTO sleep_data (
		date, bedtime, wake_time,
		sleep_duration_minutes, deep_sleep_minutes, light_sleep_minutes, rem_sleep_minutes,
		sleep_efficiency, heart_rate_avg, heart_rate_min, heart_rate_max, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	ON CONFLICT (date) DO UPDATE SET
		bedtime                = EXCLUDED.bedtime,
		wake_time              = EXCLUDED.wake_time,
		sleep_duration_minutes = EXCLUDED.sleep_duration_minutes,
		deep_sleep_minutes     = EXCLUDED.deep_sleep_minutes,
		light_sleep_minutes    = EXCLUDED.light_sleep_minutes,
		rem_sleep_minutes      = EXCLUDED.rem_sleep_minutes,
		sleep_efficiency       = EXCLUDED.sleep_efficiency,
		heart_rate_avg         = EXCLUDED.heart_rate_avg,
		heart_rate_min         = EXCLUDED.heart_rate_min,
		heart_rate_max         = EXCLUDED.heart_rate_max,
		updated_at             = NOW()
	RETURNING (xmax = 0)`

// Upsert inserts or updates a single sleep record keyed by date. The boolean
// result is true when a new row was inserted. The xmax system column is zero
// only for freshly inserted tuples, which distinguishes insert from update
// without a second query.
func (r *SleepRepository) Upsert(ctx context.Context, rec *types.SleepRecord) (bool, error) {
	var inserted bool
	err := r.db.QueryRow(ctx, sleepUpsertSQL,
		rec.Date, rec.Bedtime, rec.WakeTime,
		rec.SleepDurationMinutes, rec.DeepSleepMinutes, rec.LightSleepMinutes, rec.RemSleepMinutes,
		rec.SleepEfficiency, rec.HeartRateAvg, rec.HeartRateMin, rec.HeartRateMax,
	).Scan(&inserted)
	if err != nil {
		return false, classifyDBError(err, "failed to upsert sleep record")
	}
	return inserted, nil
}

// UpsertBatch upserts records one at a time in the given order, recording a
// per-record outcome. A failing record never aborts the batch; the caller
// decides how far the checkpoint may advance from the contiguous prefix of
// successes in Results.
func (r *SleepRepository) UpsertBatch(ctx context.Context, recs []*types.SleepRecord) (*types.UpsertOutcome, error) {
	outcome := &types.UpsertOutcome{Results: make([]types.UpsertResult, 0, len(recs))}
	for _, rec := range recs {
		inserted, err := r.Upsert(ctx, rec)
		outcome.Results = append(outcome.Results, types.UpsertResult{
			Cursor:   rec.Cursor(),
			Inserted: inserted,
			Err:      err,
		})
		if err != nil {
			// A dead connection fails every remaining record the same way;
			// stop early and report the store as unavailable.
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

// GetByDate fetches one sleep record by its calendar date, or nil when the
// date has no row.
func (r *SleepRepository) GetByDate(ctx context.Context, date time.Time) (*types.SleepRecord, error) {
	rec := &types.SleepRecord{}
	err := r.db.QueryRow(ctx,
		`SELECT date, bedtime, wake_time,
		        sleep_duration_minutes, deep_sleep_minutes, light_sleep_minutes, rem_sleep_minutes,
		        sleep_efficiency, heart_rate_avg, heart_rate_min, heart_rate_max
		 FROM sleep_data WHERE date = $1`,
		date,
	).Scan(
		&rec.Date, &rec.Bedtime, &rec.WakeTime,
		&rec.SleepDurationMinutes, &rec.DeepSleepMinutes, &rec.LightSleepMinutes, &rec.RemSleepMinutes,
		&rec.SleepEfficiency, &rec.HeartRateAvg, &rec.HeartRateMin, &rec.HeartRateMax,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, classifyDBError(err, "failed to fetch sleep record")
	}
	return rec, nil
}
