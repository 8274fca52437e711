package api

import (
	"encoding/json"

	"healthsync/internal/types"
)

// Push payloads arrive in two shapes:
//
//  1. Native: {"records": [...]} with entries in the same field layout the
//     export endpoints use.
//  2. Auto Export: {"data": {"metrics": [{"data": [...]}], "workouts": [...]}}
//     as emitted by the iPhone Health Auto Export app. Sleep phase fields
//     arrive in hours and are converted to minutes; glucose readings carry
//     "date"/"qty" instead of "timestamp"/"value".
//
// The normalizers below convert both shapes to the raw record types.
// Undecodable entries are counted and skipped; they never abort the request.

type pushEnvelope struct {
	Records []json.RawMessage `json:"records"`
	Data    *autoExportData   `json:"data"`
}

type autoExportData struct {
	Metrics  []autoExportMetric  `json:"metrics"`
	Workouts []autoExportWorkout `json:"workouts"`
}

type autoExportMetric struct {
	Name  string            `json:"name"`
	Units string            `json:"units"`
	Data  []json.RawMessage `json:"data"`
}

type autoExportWorkout struct {
	Start               string              `json:"start"`
	WorkoutName         string              `json:"workoutName"`
	WorkoutActivityType string              `json:"workoutActivityType"`
	Duration            *float64            `json:"duration"`
	ActiveEnergyBurned  *autoExportQuantity `json:"activeEnergyBurned"`
	Distance            *autoExportQuantity `json:"distance"`
}

type autoExportQuantity struct {
	Qty   *float64 `json:"qty"`
	Units string   `json:"units"`
}

// autoExportSleepEntry is one sleep_analysis datum. Phase durations are hours.
type autoExportSleepEntry struct {
	Date       string   `json:"date"`
	InBedStart string   `json:"inBedStart"`
	InBedEnd   string   `json:"inBedEnd"`
	TotalSleep *float64 `json:"totalSleep"`
	Deep       *float64 `json:"deep"`
	Core       *float64 `json:"core"`
	Rem        *float64 `json:"rem"`
}

// autoExportSample is a generic quantity datum (exercise minutes, glucose).
type autoExportSample struct {
	Date   string   `json:"date"`
	Qty    *float64 `json:"qty"`
	Source string   `json:"source"`
}

// hoursToMinutes converts an Auto Export hour quantity to minutes.
func hoursToMinutes(h *float64) *float64 {
	if h == nil {
		return nil
	}
	m := *h * 60
	return &m
}

// extractSleepRecords normalizes a push envelope into raw sleep records.
// The second return value counts undecodable entries.
func extractSleepRecords(env *pushEnvelope) ([]types.RawSleepRecord, int) {
	var records []types.RawSleepRecord
	undecodable := 0

	for _, raw := range env.Records {
		var rec types.RawSleepRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			undecodable++
			continue
		}
		records = append(records, rec)
	}

	if env.Data != nil {
		for _, metric := range env.Data.Metrics {
			for _, raw := range metric.Data {
				var entry autoExportSleepEntry
				if err := json.Unmarshal(raw, &entry); err != nil {
					undecodable++
					continue
				}
				records = append(records, types.RawSleepRecord{
					Date:                 entry.Date,
					Bedtime:              entry.InBedStart,
					WakeTime:             entry.InBedEnd,
					SleepDurationMinutes: hoursToMinutes(entry.TotalSleep),
					DeepSleepMinutes:     hoursToMinutes(entry.Deep),
					LightSleepMinutes:    hoursToMinutes(entry.Core),
					RemSleepMinutes:      hoursToMinutes(entry.Rem),
				})
			}
		}
	}

	return records, undecodable
}

// extractExerciseRecords normalizes a push envelope into raw exercise
// records. Workouts (with metadata) take precedence over generic exercise
// minute metrics, matching how the Auto Export app reports them.
func extractExerciseRecords(env *pushEnvelope) ([]types.RawExerciseRecord, int) {
	var records []types.RawExerciseRecord
	undecodable := 0

	for _, raw := range env.Records {
		var rec types.RawExerciseRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			undecodable++
			continue
		}
		records = append(records, rec)
	}

	if env.Data != nil {
		switch {
		case len(env.Data.Workouts) > 0:
			for _, w := range env.Data.Workouts {
				activity := w.WorkoutName
				if activity == "" {
					activity = w.WorkoutActivityType
				}
				if activity == "" {
					activity = "Exercise"
				}
				rec := types.RawExerciseRecord{
					Timestamp:       w.Start,
					ActivityType:    activity,
					DurationMinutes: w.Duration,
				}
				if w.ActiveEnergyBurned != nil {
					rec.CaloriesBurned = w.ActiveEnergyBurned.Qty
					rec.ActiveEnergyKcal = w.ActiveEnergyBurned.Qty
				}
				if w.Distance != nil {
					rec.DistanceKM = w.Distance.Qty
				}
				records = append(records, rec)
			}
		default:
			for _, metric := range env.Data.Metrics {
				for _, raw := range metric.Data {
					var entry autoExportSample
					if err := json.Unmarshal(raw, &entry); err != nil {
						undecodable++
						continue
					}
					records = append(records, types.RawExerciseRecord{
						Timestamp:       entry.Date,
						ActivityType:    "Exercise",
						DurationMinutes: entry.Qty,
					})
				}
			}
		}
	}

	return records, undecodable
}

// extractGlucoseRecords normalizes a push envelope into raw glucose readings.
func extractGlucoseRecords(env *pushEnvelope) ([]types.RawGlucoseRecord, int) {
	var records []types.RawGlucoseRecord
	undecodable := 0

	for _, raw := range env.Records {
		var rec types.RawGlucoseRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			undecodable++
			continue
		}
		records = append(records, rec)
	}

	if env.Data != nil {
		for _, metric := range env.Data.Metrics {
			for _, raw := range metric.Data {
				var entry autoExportSample
				if err := json.Unmarshal(raw, &entry); err != nil {
					undecodable++
					continue
				}
				records = append(records, types.RawGlucoseRecord{
					Timestamp: entry.Date,
					Value:     entry.Qty,
					Unit:      "mg/dL",
					Source:    entry.Source,
				})
			}
		}
	}

	return records, undecodable
}
