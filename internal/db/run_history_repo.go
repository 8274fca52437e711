package db

import (
	"context"
	"strings"

	"healthsync/internal/types"
)

// ============================================================
// RunHistoryRepository
// ============================================================

// RunHistoryRepository provides data access for the ingestion_runs table.
// Run history exists for operational visibility and debugging; failing to
// write it never fails the run itself (the caller logs and moves on).
type RunHistoryRepository struct {
	db DBTX
}

// NewRunHistoryRepository creates a new RunHistoryRepository backed by the
// given database connection (pool or transaction).
func NewRunHistoryRepository(db DBTX) *RunHistoryRepository {
	return &RunHistoryRepository{db: db}
}

// maxErrorDetailLen bounds the stored error summary so a pathological batch
// cannot bloat the history table.
const maxErrorDetailLen = 4000

// Record inserts one completed run summary.
func (r *RunHistoryRepository) Record(ctx context.Context, res *types.RunResult) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ingestion_runs (
			run_id, category, started_at, finished_at,
			records_fetched, records_inserted, records_updated, records_failed,
			status, error_detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		res.RunID,
		string(res.Category),
		res.StartedAt,
		res.FinishedAt,
		res.RecordsFetched,
		res.RecordsInserted,
		res.RecordsUpdated,
		res.RecordsFailed,
		string(res.Status),
		errorDetail(res.Errors),
	)
	if err != nil {
		return classifyDBError(err, "failed to record ingestion run")
	}
	return nil
}

// RecentFailures counts runs with status 'failed' among the most recent n
// runs for a category, newest first. The ingestor uses this on startup to
// seed the scheduler's backoff posture, so a restart does not reset a
// failing category to full polling speed.
func (r *RunHistoryRepository) RecentFailures(ctx context.Context, category types.Category, n int) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM (
			SELECT status FROM ingestion_runs
			WHERE category = $1
			ORDER BY started_at DESC
			LIMIT $2
		) recent WHERE status = 'failed'`,
		string(category),
		n,
	).Scan(&count)
	if err != nil {
		return 0, classifyDBError(err, "failed to count recent run failures")
	}
	return count, nil
}

// errorDetail renders per-record errors as one bounded text column.
func errorDetail(errs []types.RecordError) *string {
	if len(errs) == 0 {
		return nil
	}
	var b strings.Builder
	for i, re := range errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(re.Key)
		b.WriteString(": ")
		b.WriteString(re.Err.Error())
		if b.Len() > maxErrorDetailLen {
			break
		}
	}
	s := b.String()
	if len(s) > maxErrorDetailLen {
		s = s[:maxErrorDetailLen]
	}
	return &s
}
