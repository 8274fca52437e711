package ingest

import (
	"context"

	"healthsync/internal/types"
)

// Push ingestion: the API server and the CSV importer hand the coordinator
// pre-fetched raw records. The lifecycle is validate -> persist only;
// checkpoints belong to the scheduled pull path and are never touched here.

// IngestSleep validates and persists pushed sleep records.
func (c *Coordinator) IngestSleep(ctx context.Context, raws []types.RawSleepRecord) (*types.RunResult, error) {
	res := c.newPushResult(types.CategorySleep, len(raws))
	ctx = types.WithRequestID(ctx, res.RunID)

	var valid []*types.SleepRecord
	for _, raw := range raws {
		rec, appErr := types.ValidateSleep(raw)
		if appErr != nil {
			res.Errors = append(res.Errors, types.RecordError{Key: raw.Date, Err: appErr})
			continue
		}
		valid = append(valid, rec)
	}

	outcome, storeErr := c.sleepStore.UpsertBatch(ctx, valid)
	c.collectOutcome(outcome, res)
	return c.finishPush(ctx, res, storeErr)
}

// IngestExercise validates and persists pushed exercise records.
func (c *Coordinator) IngestExercise(ctx context.Context, raws []types.RawExerciseRecord) (*types.RunResult, error) {
	res := c.newPushResult(types.CategoryExercise, len(raws))
	ctx = types.WithRequestID(ctx, res.RunID)

	var valid []*types.ExerciseRecord
	for _, raw := range raws {
		rec, appErr := types.ValidateExercise(raw)
		if appErr != nil {
			res.Errors = append(res.Errors, types.RecordError{Key: raw.Timestamp, Err: appErr})
			continue
		}
		valid = append(valid, rec)
	}

	outcome, storeErr := c.exStore.UpsertBatch(ctx, valid)
	c.collectOutcome(outcome, res)
	return c.finishPush(ctx, res, storeErr)
}

// IngestGlucose validates and persists pushed blood glucose readings.
func (c *Coordinator) IngestGlucose(ctx context.Context, raws []types.RawGlucoseRecord) (*types.RunResult, error) {
	res := c.newPushResult(types.CategoryGlucose, len(raws))
	ctx = types.WithRequestID(ctx, res.RunID)

	var valid []*types.GlucoseRecord
	for _, raw := range raws {
		rec, appErr := types.ValidateGlucose(raw)
		if appErr != nil {
			res.Errors = append(res.Errors, types.RecordError{Key: raw.Timestamp, Err: appErr})
			continue
		}
		valid = append(valid, rec)
	}

	outcome, storeErr := c.glStore.UpsertBatch(ctx, valid)
	c.collectOutcome(outcome, res)
	return c.finishPush(ctx, res, storeErr)
}

func (c *Coordinator) newPushResult(category types.Category, fetched int) *types.RunResult {
	return &types.RunResult{
		RunID:          c.idFn(),
		Category:       category,
		StartedAt:      c.nowFn(),
		RecordsFetched: fetched,
	}
}

// finishPush finalizes a push result and runs the shared best-effort
// bookkeeping (run history, rejects, metrics).
func (c *Coordinator) finishPush(ctx context.Context, res *types.RunResult, storeErr error) (*types.RunResult, error) {
	res.FinishedAt = c.nowFn()
	res.RecordsFailed = len(res.Errors)
	switch {
	case storeErr != nil:
		res.Status = types.RunFailed
	case res.RecordsFailed > 0:
		res.Status = types.RunPartial
	default:
		res.Status = types.RunSuccess
	}

	log := c.logger.With("run_id", res.RunID, "category", string(res.Category), "source", "push")
	c.finishRun(ctx, res, log)

	if storeErr != nil {
		log.ErrorContext(ctx, "push ingestion failed", "error", storeErr.Error())
		return res, storeErr
	}
	log.InfoContext(ctx, "push ingestion finished",
		"status", string(res.Status),
		"fetched", res.RecordsFetched,
		"inserted", res.RecordsInserted,
		"updated", res.RecordsUpdated,
		"failed", res.RecordsFailed,
	)
	return res, nil
}
