package types

// Raw record DTOs as produced by the export endpoint, the push API payload
// normalizer, and the CSV importer. All fields are pointers (or strings) so
// that absent keys are distinguishable from zero values; validation converts
// them into the typed records in domain.go.
//
// Numeric fields are float64 because the upstream serializes everything as
// JSON numbers; validation narrows integer fields and rejects junk.

// RawSleepRecord is one unvalidated sleep entry.
type RawSleepRecord struct {
	Date                 string   `json:"date"`
	Bedtime              string   `json:"bedtime,omitempty"`
	WakeTime             string   `json:"wake_time,omitempty"`
	SleepDurationMinutes *float64 `json:"sleep_duration_minutes,omitempty"`
	DeepSleepMinutes     *float64 `json:"deep_sleep_minutes,omitempty"`
	LightSleepMinutes    *float64 `json:"light_sleep_minutes,omitempty"`
	RemSleepMinutes      *float64 `json:"rem_sleep_minutes,omitempty"`
	SleepEfficiency      *float64 `json:"sleep_efficiency,omitempty"`
	HeartRateAvg         *float64 `json:"heart_rate_avg,omitempty"`
	HeartRateMin         *float64 `json:"heart_rate_min,omitempty"`
	HeartRateMax         *float64 `json:"heart_rate_max,omitempty"`
}

// RawExerciseRecord is one unvalidated exercise entry.
type RawExerciseRecord struct {
	Timestamp         string   `json:"timestamp"`
	ActivityType      string   `json:"activity_type,omitempty"`
	DurationMinutes   *float64 `json:"duration_minutes,omitempty"`
	CaloriesBurned    *float64 `json:"calories_burned,omitempty"`
	DistanceKM        *float64 `json:"distance_km,omitempty"`
	Steps             *float64 `json:"steps,omitempty"`
	HeartRateAvg      *float64 `json:"heart_rate_avg,omitempty"`
	HeartRateMax      *float64 `json:"heart_rate_max,omitempty"`
	ActiveEnergyKcal  *float64 `json:"active_energy_kcal,omitempty"`
	RestingEnergyKcal *float64 `json:"resting_energy_kcal,omitempty"`
}

// RawGlucoseRecord is one unvalidated blood glucose entry.
type RawGlucoseRecord struct {
	Timestamp string   `json:"timestamp"`
	Value     *float64 `json:"value,omitempty"`
	Unit      string   `json:"unit,omitempty"`
	Source    string   `json:"source,omitempty"`
}
