package db

import (
	"context"

	"healthsync/internal/types"
)

// ============================================================
// GlucoseRepository
// ============================================================

// GlucoseRepository provides data access for the blood_glucose table.
// Glucose readings arrive only through the push API and the CSV importer.
type GlucoseRepository struct {
	db DBTX
}

// NewGlucoseRepository creates a new GlucoseRepository backed by the given
// database connection (pool or transaction).
func NewGlucoseRepository(db DBTX) *GlucoseRepository {
	return &GlucoseRepository{db: db}
}

const glucoseUpsertSQL = `
	INSERT INTO blood_glucose (timestamp, value, unit, source, updated_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (timestamp) DO UPDATE SET
		value      = EXCLUDED.value,
		unit       = EXCLUDED.unit,
		source     = EXCLUDED.source,
		updated_at = NOW()
	RETURNING (xmax = 0)`

// Upsert inserts or updates a single glucose reading keyed by timestamp.
// The boolean result is true when a new row was inserted.
func (r *GlucoseRepository) Upsert(ctx context.Context, rec *types.GlucoseRecord) (bool, error) {
	var inserted bool
	err := r.db.QueryRow(ctx, glucoseUpsertSQL,
		rec.Timestamp, rec.Value, rec.Unit, rec.Source,
	).Scan(&inserted)
	if err != nil {
		return false, classifyDBError(err, "failed to upsert glucose reading")
	}
	return inserted, nil
}

// UpsertBatch upserts readings one at a time in the given order, recording a
// per-record outcome. A failing reading never aborts the batch, except for a
// connection-level failure.
func (r *GlucoseRepository) UpsertBatch(ctx context.Context, recs []*types.GlucoseRecord) (*types.UpsertOutcome, error) {
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
