package db

import (
	"context"
	"time"

	"healthsync/internal/types"
)

// ============================================================
// CheckpointRepository
// ============================================================

// CheckpointRepository provides data access for the ingestion_checkpoints
// table, one row per category. The checkpoint is the durable high-water mark
// of successfully persisted records; it is read at the start of a run and
// advanced only after upserts succeed. Checkpoints only move forward: Set
// refuses to rewind an existing cursor.
type CheckpointRepository struct {
	db DBTX
}

// NewCheckpointRepository creates a new CheckpointRepository backed by the
// given database connection (pool or transaction).
func NewCheckpointRepository(db DBTX) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get returns the checkpoint for a category, or nil when the category has
// never completed a run.
func (r *CheckpointRepository) Get(ctx context.Context, category types.Category) (*types.Checkpoint, error) {
	cp := &types.Checkpoint{Category: category}
	err := r.db.QueryRow(ctx,
		`SELECT cursor, updated_at FROM ingestion_checkpoints WHERE category = $1`,
		string(category),
	).Scan(&cp.Cursor, &cp.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, classifyDBError(err, "failed to read ingestion checkpoint")
	}
	return cp, nil
}

// Set advances the checkpoint for a category to cursor. The WHERE clause on
// the conflict update makes the write monotonic: a concurrent or replayed run
// carrying an older cursor leaves the stored checkpoint untouched.
func (r *CheckpointRepository) Set(ctx context.Context, category types.Category, cursor time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ingestion_checkpoints (category, cursor, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (category) DO UPDATE
		   SET cursor = EXCLUDED.cursor, updated_at = NOW()
		   WHERE ingestion_checkpoints.cursor < EXCLUDED.cursor`,
		string(category),
		cursor.UTC(),
	)
	if err != nil {
		return classifyDBError(err, "failed to advance ingestion checkpoint")
	}
	return nil
}
