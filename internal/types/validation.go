package types

import (
	"fmt"
	"math"
	"time"
)

// MaxDailyMinutes is the upper bound for any per-day duration field. Values
// above one day are treated as corrupt upstream entries and rejected.
const MaxDailyMinutes = 1440

// timeLayouts are the timestamp formats the upstream is known to emit,
// tried in order. The export endpoint uses RFC3339; the Auto Export push
// payloads use a space-separated layout with a numeric zone offset.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseHealthTime parses an upstream timestamp string, normalizing the
// result to UTC.
func ParseHealthTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ValidateSleep converts a raw sleep entry into a typed SleepRecord,
// or rejects it with a validation AppError naming the offending field.
// Validation is pure: it never touches the store or the checkpoint.
func ValidateSleep(raw RawSleepRecord) (*SleepRecord, *AppError) {
	if raw.Date == "" {
		return nil, NewValidationError(ErrCodeValidationMissingField, "date", "required")
	}
	date, err := ParseHealthTime(raw.Date)
	if err != nil {
		return nil, NewValidationError(ErrCodeValidationBadTimestamp, "date", err.Error())
	}
	rec := &SleepRecord{
		Date: date.Truncate(24 * time.Hour),
	}

	if raw.Bedtime != "" {
		t, err := ParseHealthTime(raw.Bedtime)
		if err != nil {
			return nil, NewValidationError(ErrCodeValidationBadTimestamp, "bedtime", err.Error())
		}
		rec.Bedtime = &t
	}
	if raw.WakeTime != "" {
		t, err := ParseHealthTime(raw.WakeTime)
		if err != nil {
			return nil, NewValidationError(ErrCodeValidationBadTimestamp, "wake_time", err.Error())
		}
		rec.WakeTime = &t
	}

	durations := []struct {
		name  string
		value *float64
		dst   **int
	}{
		{"sleep_duration_minutes", raw.SleepDurationMinutes, &rec.SleepDurationMinutes},
		{"deep_sleep_minutes", raw.DeepSleepMinutes, &rec.DeepSleepMinutes},
		{"light_sleep_minutes", raw.LightSleepMinutes, &rec.LightSleepMinutes},
		{"rem_sleep_minutes", raw.RemSleepMinutes, &rec.RemSleepMinutes},
	}
	for _, d := range durations {
		v, appErr := intField(d.name, d.value)
		if appErr != nil {
			return nil, appErr
		}
		if v != nil && *v > MaxDailyMinutes {
			return nil, NewValidationError(ErrCodeValidationDuration, d.name,
				fmt.Sprintf("%d exceeds maximum of %d minutes", *v, MaxDailyMinutes))
		}
		*d.dst = v
	}

	if raw.SleepEfficiency != nil {
		eff := *raw.SleepEfficiency
		if eff < 0 || eff > 100 {
			return nil, NewValidationError(ErrCodeValidationEfficiency, "sleep_efficiency",
				fmt.Sprintf("%.2f outside [0, 100]", eff))
		}
		rec.SleepEfficiency = &eff
	}

	var appErr *AppError
	if rec.HeartRateAvg, appErr = intField("heart_rate_avg", raw.HeartRateAvg); appErr != nil {
		return nil, appErr
	}
	if rec.HeartRateMin, appErr = intField("heart_rate_min", raw.HeartRateMin); appErr != nil {
		return nil, appErr
	}
	if rec.HeartRateMax, appErr = intField("heart_rate_max", raw.HeartRateMax); appErr != nil {
		return nil, appErr
	}
	if appErr := checkHeartRateOrdering(rec.HeartRateMin, rec.HeartRateAvg, rec.HeartRateMax); appErr != nil {
		return nil, appErr
	}

	return rec, nil
}

// ValidateExercise converts a raw exercise entry into a typed ExerciseRecord,
// or rejects it with a validation AppError.
func ValidateExercise(raw RawExerciseRecord) (*ExerciseRecord, *AppError) {
	if raw.Timestamp == "" {
		return nil, NewValidationError(ErrCodeValidationMissingField, "timestamp", "required")
	}
	ts, err := ParseHealthTime(raw.Timestamp)
	if err != nil {
		return nil, NewValidationError(ErrCodeValidationBadTimestamp, "timestamp", err.Error())
	}
	rec := &ExerciseRecord{
		// Unique key precision is one minute.
		Timestamp:    ts.Truncate(time.Minute),
		ActivityType: raw.ActivityType,
	}

	var appErr *AppError
	if rec.DurationMinutes, appErr = intField("duration_minutes", raw.DurationMinutes); appErr != nil {
		return nil, appErr
	}
	if rec.DurationMinutes != nil && *rec.DurationMinutes > MaxDailyMinutes {
		return nil, NewValidationError(ErrCodeValidationDuration, "duration_minutes",
			fmt.Sprintf("%d exceeds maximum of %d minutes", *rec.DurationMinutes, MaxDailyMinutes))
	}
	if rec.CaloriesBurned, appErr = floatField("calories_burned", raw.CaloriesBurned); appErr != nil {
		return nil, appErr
	}
	if rec.DistanceKM, appErr = floatField("distance_km", raw.DistanceKM); appErr != nil {
		return nil, appErr
	}
	if rec.Steps, appErr = intField("steps", raw.Steps); appErr != nil {
		return nil, appErr
	}
	if rec.HeartRateAvg, appErr = intField("heart_rate_avg", raw.HeartRateAvg); appErr != nil {
		return nil, appErr
	}
	if rec.HeartRateMax, appErr = intField("heart_rate_max", raw.HeartRateMax); appErr != nil {
		return nil, appErr
	}
	if rec.HeartRateAvg != nil && rec.HeartRateMax != nil && *rec.HeartRateAvg > *rec.HeartRateMax {
		return nil, NewValidationError(ErrCodeValidationHeartRate, "heart_rate_avg",
			fmt.Sprintf("avg %d exceeds max %d", *rec.HeartRateAvg, *rec.HeartRateMax))
	}
	if rec.ActiveEnergyKcal, appErr = floatField("active_energy_kcal", raw.ActiveEnergyKcal); appErr != nil {
		return nil, appErr
	}
	if rec.RestingEnergyKcal, appErr = floatField("resting_energy_kcal", raw.RestingEnergyKcal); appErr != nil {
		return nil, appErr
	}

	return rec, nil
}

// ValidateGlucose converts a raw glucose entry into a typed GlucoseRecord.
// Readings without a timestamp or with a non-positive value are rejected.
func ValidateGlucose(raw RawGlucoseRecord) (*GlucoseRecord, *AppError) {
	if raw.Timestamp == "" {
		return nil, NewValidationError(ErrCodeValidationMissingField, "timestamp", "required")
	}
	ts, err := ParseHealthTime(raw.Timestamp)
	if err != nil {
		return nil, NewValidationError(ErrCodeValidationBadTimestamp, "timestamp", err.Error())
	}
	if raw.Value == nil {
		return nil, NewValidationError(ErrCodeValidationMissingField, "value", "required")
	}
	if *raw.Value <= 0 || math.IsNaN(*raw.Value) || math.IsInf(*raw.Value, 0) {
		return nil, NewValidationError(ErrCodeValidationNegative, "value",
			fmt.Sprintf("%v is not a positive glucose reading", *raw.Value))
	}

	unit := raw.Unit
	if unit == "" {
		unit = "mg/dL"
	}
	return &GlucoseRecord{
		Timestamp: ts.Truncate(time.Minute),
		Value:     *raw.Value,
		Unit:      unit,
		Source:    raw.Source,
	}, nil
}

// checkHeartRateOrdering enforces min ≤ avg ≤ max when all three are present.
func checkHeartRateOrdering(min, avg, max *int) *AppError {
	if min == nil || avg == nil || max == nil {
		return nil
	}
	if *min > *avg || *avg > *max {
		return NewValidationError(ErrCodeValidationHeartRate, "heart_rate_min",
			fmt.Sprintf("ordering violated: min=%d avg=%d max=%d", *min, *avg, *max))
	}
	return nil
}

// intField narrows a raw numeric to a non-negative int, rejecting negatives
// and non-finite values. A nil input passes through as nil (field absent).
func intField(name string, v *float64) (*int, *AppError) {
	if v == nil {
		return nil, nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil, NewValidationError(ErrCodeValidationNegative, name, "not a finite number")
	}
	if *v < 0 {
		return nil, NewValidationError(ErrCodeValidationNegative, name,
			fmt.Sprintf("%v is negative", *v))
	}
	n := int(math.Round(*v))
	return &n, nil
}

// floatField rejects negative and non-finite raw numerics. A nil input passes
// through as nil.
func floatField(name string, v *float64) (*float64, *AppError) {
	if v == nil {
		return nil, nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil, NewValidationError(ErrCodeValidationNegative, name, "not a finite number")
	}
	if *v < 0 {
		return nil, NewValidationError(ErrCodeValidationNegative, name,
			fmt.Sprintf("%v is negative", *v))
	}
	f := *v
	return &f, nil
}
