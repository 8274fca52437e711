package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"healthsync/internal/metrics"
	"healthsync/internal/queue"
	"healthsync/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================
// Fakes
// ============================================================

type fakeSource struct {
	sleep        []types.RawSleepRecord
	exercise     []types.RawExerciseRecord
	fetchErrs    []types.RecordError
	err          error
	gotSince     time.Time
	sleepCalls   int
	exerciseCall int
}

func (s *fakeSource) FetchSleep(ctx context.Context, since time.Time) ([]types.RawSleepRecord, []types.RecordError, error) {
	s.sleepCalls++
	s.gotSince = since
	return s.sleep, s.fetchErrs, s.err
}

func (s *fakeSource) FetchExercise(ctx context.Context, since time.Time) ([]types.RawExerciseRecord, []types.RecordError, error) {
	s.exerciseCall++
	s.gotSince = since
	return s.exercise, s.fetchErrs, s.err
}

// fakeSleepStore upserts in memory with real insert-vs-update semantics;
// cursors listed in failAt error out.
type fakeSleepStore struct {
	seen    []time.Time
	records map[string]*types.SleepRecord
	failAt  map[string]error
}

func (s *fakeSleepStore) UpsertBatch(ctx context.Context, recs []*types.SleepRecord) (*types.UpsertOutcome, error) {
	outcome := &types.UpsertOutcome{}
	for _, rec := range recs {
		key := rec.Cursor().Format(time.RFC3339)
		if err, ok := s.failAt[key]; ok {
			outcome.Results = append(outcome.Results, types.UpsertResult{Cursor: rec.Cursor(), Err: err})
			continue
		}
		_, exists := s.records[key]
		if exists {
			outcome.Updated++
		} else {
			outcome.Inserted++
		}
		s.records[key] = rec
		s.seen = append(s.seen, rec.Cursor())
		outcome.Results = append(outcome.Results, types.UpsertResult{Cursor: rec.Cursor(), Inserted: !exists})
	}
	return outcome, nil
}

type fakeExerciseStore struct {
	seen []time.Time
	err  error
}

func (s *fakeExerciseStore) UpsertBatch(ctx context.Context, recs []*types.ExerciseRecord) (*types.UpsertOutcome, error) {
	if s.err != nil {
		return &types.UpsertOutcome{}, s.err
	}
	outcome := &types.UpsertOutcome{}
	for _, rec := range recs {
		s.seen = append(s.seen, rec.Cursor())
		outcome.Inserted++
		outcome.Results = append(outcome.Results, types.UpsertResult{Cursor: rec.Cursor(), Inserted: true})
	}
	return outcome, nil
}

type fakeGlucoseStore struct {
	seen []time.Time
}

func (s *fakeGlucoseStore) UpsertBatch(ctx context.Context, recs []*types.GlucoseRecord) (*types.UpsertOutcome, error) {
	outcome := &types.UpsertOutcome{}
	for _, rec := range recs {
		s.seen = append(s.seen, rec.Cursor())
		outcome.Inserted++
		outcome.Results = append(outcome.Results, types.UpsertResult{Cursor: rec.Cursor(), Inserted: true})
	}
	return outcome, nil
}

type fakeCheckpoints struct {
	cursors map[types.Category]time.Time
	getErr  error
	setErr  error
	sets    int
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{cursors: make(map[types.Category]time.Time)}
}

func (f *fakeCheckpoints) Get(ctx context.Context, category types.Category) (*types.Checkpoint, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	cursor, ok := f.cursors[category]
	if !ok {
		return nil, nil
	}
	return &types.Checkpoint{Category: category, Cursor: cursor}, nil
}

func (f *fakeCheckpoints) Set(ctx context.Context, category types.Category, cursor time.Time) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.sets++
	if existing, ok := f.cursors[category]; ok && !cursor.After(existing) {
		return nil
	}
	f.cursors[category] = cursor
	return nil
}

type fakeRuns struct {
	recorded []*types.RunResult
	err      error
}

func (f *fakeRuns) Record(ctx context.Context, res *types.RunResult) error {
	f.recorded = append(f.recorded, res)
	return f.err
}

type testEnv struct {
	source      *fakeSource
	sleepStore  *fakeSleepStore
	exStore     *fakeExerciseStore
	glStore     *fakeGlucoseStore
	checkpoints *fakeCheckpoints
	runs        *fakeRuns
	coord       *Coordinator
}

func newTestEnv() *testEnv {
	env := &testEnv{
		source:      &fakeSource{},
		sleepStore:  &fakeSleepStore{records: map[string]*types.SleepRecord{}, failAt: map[string]error{}},
		exStore:     &fakeExerciseStore{},
		glStore:     &fakeGlucoseStore{},
		checkpoints: newFakeCheckpoints(),
		runs:        &fakeRuns{},
	}
	env.coord = NewCoordinator(
		env.source,
		env.sleepStore,
		env.exStore,
		env.glStore,
		env.checkpoints,
		env.runs,
		queue.NoopRejectPublisher{},
		metrics.NoopRunMetrics{},
		30*24*time.Hour,
		discardLogger(),
		WithRunIDFunc(func() string { return "test-run" }),
	)
	return env
}

func sleepRaw(date string) types.RawSleepRecord {
	return types.RawSleepRecord{Date: date}
}

// ============================================================
// RunCategory: sleep happy path
// ============================================================

func TestRunCategory_Sleep_AdvancesCheckpoint(t *testing.T) {
	env := newTestEnv()
	env.checkpoints.cursors[types.CategorySleep] = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.source.sleep = []types.RawSleepRecord{
		sleepRaw("2024-01-03"),
		sleepRaw("2024-01-02"),
		sleepRaw("2024-01-04"),
	}

	res, err := env.coord.RunCategory(context.Background(), types.CategorySleep)
	if err != nil {
		t.Fatalf("RunCategory error: %v", err)
	}
	if res.Status != types.RunSuccess {
		t.Errorf("status = %s, want success", res.Status)
	}
	if res.RecordsInserted != 3 {
		t.Errorf("inserted = %d, want 3", res.RecordsInserted)
	}

	// Records must be persisted in cursor order regardless of fetch order.
	if len(env.sleepStore.seen) != 3 || !env.sleepStore.seen[0].Before(env.sleepStore.seen[1]) {
		t.Errorf("records not persisted in cursor order: %v", env.sleepStore.seen)
	}

	want := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	if got := env.checkpoints.cursors[types.CategorySleep]; !got.Equal(want) {
		t.Errorf("checkpoint = %v, want %v", got, want)
	}
}

func TestRunCategory_UsesCheckpointAsSince(t *testing.T) {
	env := newTestEnv()
	cursor := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	env.checkpoints.cursors[types.CategorySleep] = cursor

	if _, err := env.coord.RunCategory(context.Background(), types.CategorySleep); err != nil {
		t.Fatalf("RunCategory error: %v", err)
	}
	if !env.source.gotSince.Equal(cursor) {
		t.Errorf("fetch since = %v, want checkpoint %v", env.source.gotSince, cursor)
	}
}

func TestRunCategory_NoCheckpointUsesLookback(t *testing.T) {
	env := newTestEnv()

	before := time.Now().UTC()
	if _, err := env.coord.RunCategory(context.Background(), types.CategoryExercise); err != nil {
		t.Fatalf("RunCategory error: %v", err)
	}
	lookback := 30 * 24 * time.Hour
	gotAgo := before.Sub(env.source.gotSince)
	if gotAgo < lookback-time.Minute || gotAgo > lookback+time.Minute {
		t.Errorf("since is %v ago, want ~%v", gotAgo, lookback)
	}
}

// ============================================================
// RunCategory: partial failure
// ============================================================

func TestRunCategory_PartialFailure_ConservativeCheckpoint(t *testing.T) {
	env := newTestEnv()
	env.source.sleep = []types.RawSleepRecord{
		sleepRaw("2024-01-01"), sleepRaw("2024-01-02"), sleepRaw("2024-01-03"),
		sleepRaw("2024-01-04"), sleepRaw("2024-01-05"),
	}
	// Record #3 fails to persist.
	env.sleepStore.failAt["2024-01-03T00:00:00Z"] =
		types.NewAppError(types.ErrCodeConstraintViolation, "constraint violated", nil)

	res, err := env.coord.RunCategory(context.Background(), types.CategorySleep)
	if err != nil {
		t.Fatalf("RunCategory error: %v", err)
	}
	if res.Status != types.RunPartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	if res.RecordsInserted != 4 || res.RecordsFailed != 1 {
		t.Errorf("inserted/failed = %d/%d, want 4/1", res.RecordsInserted, res.RecordsFailed)
	}

	// Checkpoint stops at the last success before the failure: record #2.
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := env.checkpoints.cursors[types.CategorySleep]; !got.Equal(want) {
		t.Errorf("checkpoint = %v, want %v (record before first failure)", got, want)
	}
}

func TestRunCategory_ValidationFailureDoesNotAbortBatch(t *testing.T) {
	env := newTestEnv()
	env.source.sleep = []types.RawSleepRecord{
		sleepRaw("2024-01-01"),
		{Date: "2024-01-02", SleepEfficiency: f64(250)}, // invalid
		sleepRaw("2024-01-03"),
	}

	res, err := env.coord.RunCategory(context.Background(), types.CategorySleep)
	if err != nil {
		t.Fatalf("RunCategory error: %v", err)
	}
	if res.Status != types.RunPartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	if res.RecordsInserted != 2 {
		t.Errorf("inserted = %d, want 2 (invalid record excluded)", res.RecordsInserted)
	}
	if res.RecordsFailed != 1 {
		t.Errorf("failed = %d, want 1", res.RecordsFailed)
	}
	// The invalid record never reached the store, so it cannot block the
	// checkpoint from covering the valid ones around it.
	want := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	if got := env.checkpoints.cursors[types.CategorySleep]; !got.Equal(want) {
		t.Errorf("checkpoint = %v, want %v", got, want)
	}
}

// ============================================================
// RunCategory: run-level failures
// ============================================================

func TestRunCategory_SourceUnavailable_CheckpointUntouched(t *testing.T) {
	env := newTestEnv()
	prev := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.checkpoints.cursors[types.CategorySleep] = prev
	env.source.err = types.NewAppError(types.ErrCodeSourceUnavailable, "export source unreachable", nil)

	res, err := env.coord.RunCategory(context.Background(), types.CategorySleep)
	if err == nil {
		t.Fatal("expected run-level error")
	}
	if res.Status != types.RunFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if got := env.checkpoints.cursors[types.CategorySleep]; !got.Equal(prev) {
		t.Errorf("checkpoint moved to %v on failed run", got)
	}
	if env.coord.State(types.CategorySleep) != StateIdle {
		t.Errorf("state = %s, want idle after failure", env.coord.State(types.CategorySleep))
	}
}

func TestRunCategory_StoreUnavailable_RunFails(t *testing.T) {
	env := newTestEnv()
	env.source.exercise = []types.RawExerciseRecord{{Timestamp: "2024-01-01T07:15:00Z"}}
	env.exStore.err = types.NewAppError(types.ErrCodeStoreUnavailable, "store unreachable", nil)

	res, err := env.coord.RunCategory(context.Background(), types.CategoryExercise)
	if err == nil {
		t.Fatal("expected run-level error")
	}
	if res.Status != types.RunFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if env.checkpoints.sets != 0 {
		t.Errorf("checkpoint written %d times on failed run", env.checkpoints.sets)
	}
}

func TestRunCategory_EmptyFetch_SuccessNoCheckpointWrite(t *testing.T) {
	env := newTestEnv()
	prev := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.checkpoints.cursors[types.CategoryExercise] = prev

	res, err := env.coord.RunCategory(context.Background(), types.CategoryExercise)
	if err != nil {
		t.Fatalf("RunCategory error: %v", err)
	}
	if res.Status != types.RunSuccess {
		t.Errorf("status = %s, want success for empty fetch", res.Status)
	}
	if env.checkpoints.sets != 0 {
		t.Errorf("checkpoint written %d times for empty fetch", env.checkpoints.sets)
	}
}

func TestRunCategory_GlucoseIsNotPullDriven(t *testing.T) {
	env := newTestEnv()

	res, err := env.coord.RunCategory(context.Background(), types.CategoryGlucose)
	if err == nil {
		t.Fatal("expected error for scheduled glucose run")
	}
	if res.Status != types.RunFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if env.source.sleepCalls+env.source.exerciseCall != 0 {
		t.Error("source must not be called for glucose")
	}
}

func TestRunCategory_UnknownCategoryRejected(t *testing.T) {
	env := newTestEnv()

	res, err := env.coord.RunCategory(context.Background(), types.Category("heart_rate"))
	if err == nil {
		t.Fatal("expected error for unknown category")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationUnknownCategory {
		t.Errorf("error = %v, want code %s", err, types.ErrCodeValidationUnknownCategory)
	}
	if res.Status != types.RunFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
}

// ============================================================
// Replay and duplicate handling
// ============================================================

func TestRunCategory_RefetchedRecordUpdatesExistingRow(t *testing.T) {
	env := newTestEnv()

	// Run 1 persists the record with a duration of 420 minutes.
	env.source.sleep = []types.RawSleepRecord{
		{Date: "2024-01-01", SleepDurationMinutes: f64(420)},
	}
	if _, err := env.coord.RunCategory(context.Background(), types.CategorySleep); err != nil {
		t.Fatalf("run 1 error: %v", err)
	}

	// Run 2 re-fetches the same date with updated fields. The upsert, not a
	// client-side filter, is what makes overlap safe: the record must reach
	// the store and refresh the existing row.
	env.source.sleep = []types.RawSleepRecord{
		{Date: "2024-01-01", SleepDurationMinutes: f64(430)},
	}
	res, err := env.coord.RunCategory(context.Background(), types.CategorySleep)
	if err != nil {
		t.Fatalf("run 2 error: %v", err)
	}
	if res.Status != types.RunSuccess {
		t.Errorf("status = %s, want success", res.Status)
	}
	if res.RecordsInserted != 0 || res.RecordsUpdated != 1 {
		t.Errorf("inserted/updated = %d/%d, want 0/1", res.RecordsInserted, res.RecordsUpdated)
	}
	if len(env.sleepStore.records) != 1 {
		t.Fatalf("store holds %d rows for the date, want exactly 1", len(env.sleepStore.records))
	}
	rec := env.sleepStore.records["2024-01-01T00:00:00Z"]
	if rec == nil || rec.SleepDurationMinutes == nil || *rec.SleepDurationMinutes != 430 {
		t.Errorf("sleep_duration_minutes = %v, want 430", rec.SleepDurationMinutes)
	}
}

func TestRunCategory_ResentOlderRecordsReachStore(t *testing.T) {
	env := newTestEnv()
	env.checkpoints.cursors[types.CategorySleep] = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	// Upstream resends records at and before the checkpoint despite the
	// since parameter. They are upserted, never dropped.
	env.source.sleep = []types.RawSleepRecord{
		sleepRaw("2024-01-02"),
		sleepRaw("2024-01-03"),
		sleepRaw("2024-01-04"),
	}

	res, err := env.coord.RunCategory(context.Background(), types.CategorySleep)
	if err != nil {
		t.Fatalf("RunCategory error: %v", err)
	}
	if res.Status != types.RunSuccess {
		t.Errorf("status = %s, want success (replays are not errors)", res.Status)
	}
	if got := len(env.sleepStore.seen); got != 3 {
		t.Errorf("store saw %d records, want all 3", got)
	}
	want := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	if got := env.checkpoints.cursors[types.CategorySleep]; !got.Equal(want) {
		t.Errorf("checkpoint = %v, want %v", got, want)
	}
}

func TestRunCategory_DuplicateCursorsCollapsed(t *testing.T) {
	env := newTestEnv()
	env.source.exercise = []types.RawExerciseRecord{
		{Timestamp: "2024-01-01T07:15:10Z", ActivityType: "Running"},
		{Timestamp: "2024-01-01T07:15:40Z", ActivityType: "Walking"}, // same minute
		{Timestamp: "2024-01-01T07:30:00Z", ActivityType: "Running"},
	}

	res, err := env.coord.RunCategory(context.Background(), types.CategoryExercise)
	if err != nil {
		t.Fatalf("RunCategory error: %v", err)
	}
	if res.RecordsInserted != 2 {
		t.Errorf("inserted = %d, want 2 (same-minute duplicates collapse)", res.RecordsInserted)
	}
}

// ============================================================
// Bookkeeping
// ============================================================

func TestRunCategory_RecordsRunHistory(t *testing.T) {
	env := newTestEnv()
	env.source.sleep = []types.RawSleepRecord{sleepRaw("2024-01-01")}

	if _, err := env.coord.RunCategory(context.Background(), types.CategorySleep); err != nil {
		t.Fatalf("RunCategory error: %v", err)
	}
	if len(env.runs.recorded) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(env.runs.recorded))
	}
	if env.runs.recorded[0].RunID != "test-run" {
		t.Errorf("run_id = %q", env.runs.recorded[0].RunID)
	}
}

func TestRunCategory_RunHistoryFailureDoesNotFailRun(t *testing.T) {
	env := newTestEnv()
	env.source.sleep = []types.RawSleepRecord{sleepRaw("2024-01-01")}
	env.runs.err = errors.New("history table full")

	res, err := env.coord.RunCategory(context.Background(), types.CategorySleep)
	if err != nil {
		t.Fatalf("RunCategory error: %v", err)
	}
	if res.Status != types.RunSuccess {
		t.Errorf("status = %s, want success despite history failure", res.Status)
	}
}

// ============================================================
// Push ingestion
// ============================================================

func TestIngestGlucose_Success(t *testing.T) {
	env := newTestEnv()
	v := 95.5
	res, err := env.coord.IngestGlucose(context.Background(), []types.RawGlucoseRecord{
		{Timestamp: "2024-01-01T08:00:00Z", Value: &v},
	})
	if err != nil {
		t.Fatalf("IngestGlucose error: %v", err)
	}
	if res.RecordsInserted != 1 {
		t.Errorf("inserted = %d, want 1", res.RecordsInserted)
	}
	if len(env.glStore.seen) != 1 {
		t.Errorf("store saw %d records", len(env.glStore.seen))
	}
}

func TestIngestSleep_NeverTouchesCheckpoint(t *testing.T) {
	env := newTestEnv()
	res, err := env.coord.IngestSleep(context.Background(), []types.RawSleepRecord{
		sleepRaw("2024-01-01"), sleepRaw("2024-01-02"),
	})
	if err != nil {
		t.Fatalf("IngestSleep error: %v", err)
	}
	if res.RecordsInserted != 2 {
		t.Errorf("inserted = %d, want 2", res.RecordsInserted)
	}
	if env.checkpoints.sets != 0 {
		t.Errorf("push ingestion wrote the checkpoint %d times", env.checkpoints.sets)
	}
}

func TestIngestExercise_MixedValidity(t *testing.T) {
	env := newTestEnv()
	res, err := env.coord.IngestExercise(context.Background(), []types.RawExerciseRecord{
		{Timestamp: "2024-01-01T07:15:00Z"},
		{ActivityType: "Running"}, // missing timestamp
	})
	if err != nil {
		t.Fatalf("IngestExercise error: %v", err)
	}
	if res.Status != types.RunPartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	if res.RecordsFailed != 1 {
		t.Errorf("failed = %d, want 1", res.RecordsFailed)
	}
}

func f64(v float64) *float64 { return &v }
