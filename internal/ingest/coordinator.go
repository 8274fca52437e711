// Package ingest implements the ingestion coordinator: the single component
// that owns the fetch -> validate -> persist -> commit lifecycle for each
// telemetry category and the durable checkpoints that make re-ingestion
// idempotent.
package ingest

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"healthsync/internal/metrics"
	"healthsync/internal/queue"
	"healthsync/internal/types"
)

// Source fetches raw telemetry recorded after a cursor from the export
// endpoints. Implemented by export.HealthExportClient.
type Source interface {
	FetchSleep(ctx context.Context, since time.Time) ([]types.RawSleepRecord, []types.RecordError, error)
	FetchExercise(ctx context.Context, since time.Time) ([]types.RawExerciseRecord, []types.RecordError, error)
}

// SleepStore persists validated sleep records. Implemented by
// db.SleepRepository.
type SleepStore interface {
	UpsertBatch(ctx context.Context, recs []*types.SleepRecord) (*types.UpsertOutcome, error)
}

// ExerciseStore persists validated exercise records. Implemented by
// db.ExerciseRepository.
type ExerciseStore interface {
	UpsertBatch(ctx context.Context, recs []*types.ExerciseRecord) (*types.UpsertOutcome, error)
}

// GlucoseStore persists validated glucose readings. Implemented by
// db.GlucoseRepository.
type GlucoseStore interface {
	UpsertBatch(ctx context.Context, recs []*types.GlucoseRecord) (*types.UpsertOutcome, error)
}

// CheckpointStore reads and advances per-category checkpoints. Implemented by
// db.CheckpointRepository.
type CheckpointStore interface {
	Get(ctx context.Context, category types.Category) (*types.Checkpoint, error)
	Set(ctx context.Context, category types.Category, cursor time.Time) error
}

// RunRecorder writes run history rows. Implemented by db.RunHistoryRepository.
type RunRecorder interface {
	Record(ctx context.Context, res *types.RunResult) error
}

// Coordinator drives ingestion runs. All paths into the store -- scheduled
// pulls, API pushes, and CSV imports -- go through the Coordinator so that
// validation and idempotent persistence behave identically everywhere.
// Only scheduled pulls touch checkpoints.
type Coordinator struct {
	source      Source
	sleepStore  SleepStore
	exStore     ExerciseStore
	glStore     GlucoseStore
	checkpoints CheckpointStore
	runs        RunRecorder
	rejects     queue.RejectPublisher
	metrics     metrics.RunMetrics
	logger      *slog.Logger

	// defaultLookback bounds the first fetch when a category has no
	// checkpoint yet.
	defaultLookback time.Duration

	states *stateTracker
	nowFn  func() time.Time
	idFn   func() string
}

// CoordinatorOption is a functional option for configuring a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the time source, for testing.
func WithClock(fn func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.nowFn = fn }
}

// WithRunIDFunc overrides run ID generation, for testing.
func WithRunIDFunc(fn func() string) CoordinatorOption {
	return func(c *Coordinator) { c.idFn = fn }
}

// NewCoordinator wires a Coordinator from its dependencies.
func NewCoordinator(
	source Source,
	sleepStore SleepStore,
	exStore ExerciseStore,
	glStore GlucoseStore,
	checkpoints CheckpointStore,
	runs RunRecorder,
	rejects queue.RejectPublisher,
	runMetrics metrics.RunMetrics,
	defaultLookback time.Duration,
	logger *slog.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		source:          source,
		sleepStore:      sleepStore,
		exStore:         exStore,
		glStore:         glStore,
		checkpoints:     checkpoints,
		runs:            runs,
		rejects:         rejects,
		metrics:         runMetrics,
		defaultLookback: defaultLookback,
		logger:          logger,
		states:          newStateTracker(),
		nowFn:           func() time.Time { return time.Now().UTC() },
		idFn:            func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the coordinator's current lifecycle state for a category.
func (c *Coordinator) State(category types.Category) State {
	return c.states.Get(string(category))
}

// RunCategory executes one full scheduled ingestion run for a pull category
// (sleep or exercise). The returned RunResult is always non-nil; the error is
// non-nil only for run-level failures (source down, store down), in which
// case the checkpoint reflects the highest contiguous successfully persisted
// cursor.
func (c *Coordinator) RunCategory(ctx context.Context, category types.Category) (*types.RunResult, error) {
	res := &types.RunResult{
		RunID:     c.idFn(),
		Category:  category,
		StartedAt: c.nowFn(),
	}
	ctx = types.WithRequestID(ctx, res.RunID)

	log := c.logger.With("run_id", res.RunID, "category", string(category))
	log.InfoContext(ctx, "ingestion run starting")

	runErr := c.run(ctx, category, res, log)

	res.FinishedAt = c.nowFn()
	res.RecordsFailed = len(res.Errors)
	switch {
	case runErr != nil:
		res.Status = types.RunFailed
		c.setState(category, StateFailed, log)
	case res.RecordsFailed > 0:
		res.Status = types.RunPartial
	default:
		res.Status = types.RunSuccess
	}

	c.finishRun(ctx, res, log)
	c.setState(category, StateIdle, log)

	if runErr != nil {
		log.ErrorContext(ctx, "ingestion run failed", "error", runErr.Error())
		return res, runErr
	}
	log.InfoContext(ctx, "ingestion run finished",
		"status", string(res.Status),
		"fetched", res.RecordsFetched,
		"inserted", res.RecordsInserted,
		"updated", res.RecordsUpdated,
		"failed", res.RecordsFailed,
	)
	return res, nil
}

// run is the state-machine body of one run. It mutates res as it goes and
// returns a run-level error, if any.
func (c *Coordinator) run(ctx context.Context, category types.Category, res *types.RunResult, log *slog.Logger) error {
	c.setState(category, StateFetching, log)

	cp, err := c.checkpoints.Get(ctx, category)
	if err != nil {
		return err
	}
	since := c.nowFn().Add(-c.defaultLookback)
	if cp != nil {
		since = cp.Cursor
	}
	log.InfoContext(ctx, "fetching records", "since", since.Format(time.RFC3339))

	switch category {
	case types.CategorySleep:
		return c.runSleep(ctx, since, res, log)
	case types.CategoryExercise:
		return c.runExercise(ctx, since, res, log)
	case types.CategoryGlucose:
		// Glucose is push-only; a scheduled run for it is a wiring bug.
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"category is not pull-driven: "+string(category), nil)
	default:
		return types.NewAppError(types.ErrCodeValidationUnknownCategory,
			"unknown category: "+string(category), nil)
	}
}

func (c *Coordinator) runSleep(ctx context.Context, since time.Time, res *types.RunResult, log *slog.Logger) error {
	raws, fetchErrs, err := c.source.FetchSleep(ctx, since)
	if err != nil {
		return err
	}
	res.RecordsFetched = len(raws) + len(fetchErrs)
	res.Errors = append(res.Errors, fetchErrs...)

	c.setState(types.CategorySleep, StateValidating, log)
	var valid []*types.SleepRecord
	for _, raw := range raws {
		rec, appErr := types.ValidateSleep(raw)
		if appErr != nil {
			res.Errors = append(res.Errors, types.RecordError{Key: raw.Date, Err: appErr})
			continue
		}
		valid = append(valid, rec)
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Cursor().Before(valid[j].Cursor()) })
	valid = dedupeSleep(valid)

	c.setState(types.CategorySleep, StatePersisting, log)
	outcome, storeErr := c.sleepStore.UpsertBatch(ctx, valid)
	c.collectOutcome(outcome, res)

	c.setState(types.CategorySleep, StateCommitting, log)
	if err := c.commit(ctx, types.CategorySleep, outcome, log); err != nil {
		return err
	}
	return storeErr
}

func (c *Coordinator) runExercise(ctx context.Context, since time.Time, res *types.RunResult, log *slog.Logger) error {
	raws, fetchErrs, err := c.source.FetchExercise(ctx, since)
	if err != nil {
		return err
	}
	res.RecordsFetched = len(raws) + len(fetchErrs)
	res.Errors = append(res.Errors, fetchErrs...)

	c.setState(types.CategoryExercise, StateValidating, log)
	var valid []*types.ExerciseRecord
	for _, raw := range raws {
		rec, appErr := types.ValidateExercise(raw)
		if appErr != nil {
			res.Errors = append(res.Errors, types.RecordError{Key: raw.Timestamp, Err: appErr})
			continue
		}
		valid = append(valid, rec)
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Cursor().Before(valid[j].Cursor()) })
	valid = dedupeExercise(valid)

	c.setState(types.CategoryExercise, StatePersisting, log)
	outcome, storeErr := c.exStore.UpsertBatch(ctx, valid)
	c.collectOutcome(outcome, res)

	c.setState(types.CategoryExercise, StateCommitting, log)
	if err := c.commit(ctx, types.CategoryExercise, outcome, log); err != nil {
		return err
	}
	return storeErr
}

// commit advances the checkpoint to the highest contiguous successfully
// persisted cursor. When record #3 of 5 fails, the checkpoint lands on
// record #2 so the failed record and everything after it are retried on the
// next run. An empty or fully failed batch leaves the checkpoint untouched.
func (c *Coordinator) commit(ctx context.Context, category types.Category, outcome *types.UpsertOutcome, log *slog.Logger) error {
	if outcome == nil {
		return nil
	}
	var cursor time.Time
	for _, r := range outcome.Results {
		if r.Err != nil {
			break
		}
		cursor = r.Cursor
	}
	if cursor.IsZero() {
		return nil
	}
	if err := c.checkpoints.Set(ctx, category, cursor); err != nil {
		return err
	}
	log.InfoContext(ctx, "checkpoint advanced", "cursor", cursor.Format(time.RFC3339))
	return nil
}

// collectOutcome folds a batch outcome into the run result.
func (c *Coordinator) collectOutcome(outcome *types.UpsertOutcome, res *types.RunResult) {
	if outcome == nil {
		return
	}
	res.RecordsInserted += outcome.Inserted
	res.RecordsUpdated += outcome.Updated
	for _, r := range outcome.Results {
		if r.Err != nil {
			res.Errors = append(res.Errors, types.RecordError{
				Key: r.Cursor.Format(time.RFC3339),
				Err: r.Err,
			})
		}
	}
}

// finishRun writes run history, publishes rejects, and emits metrics. All
// three are best-effort; the run's outcome is already decided.
func (c *Coordinator) finishRun(ctx context.Context, res *types.RunResult, log *slog.Logger) {
	if err := c.runs.Record(ctx, res); err != nil {
		log.ErrorContext(ctx, "failed to write run history", "error", err.Error())
	}
	if len(res.Errors) > 0 {
		c.rejects.PublishRejects(ctx, res.RunID, res.Category, res.Errors)
	}
	c.metrics.RecordRun(ctx, res)
}

func (c *Coordinator) setState(category types.Category, s State, log *slog.Logger) {
	c.states.set(string(category), s)
	log.Debug("coordinator state changed", "state", string(s))
}

// dedupeSleep collapses records sharing a cursor; the last occurrence wins,
// matching upsert semantics. The input must be sorted by cursor.
func dedupeSleep(recs []*types.SleepRecord) []*types.SleepRecord {
	if len(recs) < 2 {
		return recs
	}
	out := recs[:0]
	for i, rec := range recs {
		if i+1 < len(recs) && recs[i+1].Cursor().Equal(rec.Cursor()) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// dedupeExercise collapses records sharing a cursor; the last occurrence
// wins. The input must be sorted by cursor.
func dedupeExercise(recs []*types.ExerciseRecord) []*types.ExerciseRecord {
	if len(recs) < 2 {
		return recs
	}
	out := recs[:0]
	for i, rec := range recs {
		if i+1 < len(recs) && recs[i+1].Cursor().Equal(rec.Cursor()) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
