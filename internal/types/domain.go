// Package types defines the domain model for healthsync: telemetry record
// types, ingestion run bookkeeping, the shared error taxonomy, and the pure
// validation rules applied to every raw record before it reaches the store.
package types

import (
	"time"
)

// Category identifies one independently scheduled telemetry stream.
type Category string

const (
	// CategorySleep is pulled from the export endpoint every 6 hours and
	// keyed uniquely by calendar day.
	CategorySleep Category = "sleep"
	// CategoryExercise is pulled every 15 minutes and keyed uniquely by
	// minute-precision timestamp.
	CategoryExercise Category = "exercise"
	// CategoryGlucose is push-only (API and CSV import); it is never
	// driven by the scheduler.
	CategoryGlucose Category = "glucose"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategorySleep, CategoryExercise, CategoryGlucose:
		return true
	}
	return false
}

// SleepRecord is one validated night of sleep telemetry. At most one record
// exists per calendar date; re-ingesting a date updates the existing row.
type SleepRecord struct {
	// Date is the unique key, normalized to midnight UTC.
	Date                 time.Time
	Bedtime              *time.Time
	WakeTime             *time.Time
	SleepDurationMinutes *int
	DeepSleepMinutes     *int
	LightSleepMinutes    *int
	RemSleepMinutes      *int
	SleepEfficiency      *float64
	HeartRateAvg         *int
	HeartRateMin         *int
	HeartRateMax         *int
}

// Cursor returns the record's position on the category timeline.
func (r *SleepRecord) Cursor() time.Time { return r.Date }

// ExerciseRecord is one validated exercise/workout sample. At most one record
// exists per minute-precision timestamp.
type ExerciseRecord struct {
	// Timestamp is the unique key, truncated to the minute.
	Timestamp         time.Time
	ActivityType      string
	DurationMinutes   *int
	CaloriesBurned    *float64
	DistanceKM        *float64
	Steps             *int
	HeartRateAvg      *int
	HeartRateMax      *int
	ActiveEnergyKcal  *float64
	RestingEnergyKcal *float64
}

// Cursor returns the record's position on the category timeline.
func (r *ExerciseRecord) Cursor() time.Time { return r.Timestamp }

// GlucoseRecord is one validated blood glucose reading, keyed uniquely by
// timestamp. Glucose arrives via the push API or CSV import only.
type GlucoseRecord struct {
	Timestamp time.Time
	Value     float64
	Unit      string
	Source    string
}

// Cursor returns the record's position on the category timeline.
func (r *GlucoseRecord) Cursor() time.Time { return r.Timestamp }

// Checkpoint is the durable cursor marking the last successfully ingested
// point in a category's timeline. It is owned exclusively by the ingestion
// coordinator and advanced only after upserts succeed.
type Checkpoint struct {
	Category  Category
	Cursor    time.Time
	UpdatedAt time.Time
}

// RunStatus is the terminal status of one ingestion run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// RecordError describes a single record that was rejected or failed to
// persist during a run. Key is the record's natural key rendered as text.
type RecordError struct {
	Key string
	Err error
}

// RunResult summarizes one execution of fetch → validate → persist for a
// single category. It is logged and written to run history, not kept as
// long-term state.
type RunResult struct {
	RunID           string
	Category        Category
	StartedAt       time.Time
	FinishedAt      time.Time
	RecordsFetched  int
	RecordsInserted int
	RecordsUpdated  int
	RecordsFailed   int
	Status          RunStatus
	Errors          []RecordError
}

// UpsertOutcome reports what a batch upsert actually did. Results holds one
// entry per attempted record in batch order, so callers can compute how far
// the contiguous prefix of successes extends.
type UpsertOutcome struct {
	Inserted int
	Updated  int
	Results  []UpsertResult
}

// UpsertResult is the per-record outcome of a batch upsert.
type UpsertResult struct {
	Cursor   time.Time
	Inserted bool
	Err      error
}

// Failed counts the results that carry an error.
func (o *UpsertOutcome) Failed() int {
	n := 0
	for _, r := range o.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
