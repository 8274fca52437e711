package types

import (
	"errors"
	"testing"
	"time"
)

func f64(v float64) *float64 { return &v }

func assertCode(t *testing.T, err *AppError, want ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code %s, got nil", want)
	}
	if err.Code != want {
		t.Fatalf("error code = %s, want %s", err.Code, want)
	}
}

// ============================================================
// ParseHealthTime
// ============================================================

func TestParseHealthTime_Layouts(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2024-01-01T22:30:00Z", time.Date(2024, 1, 1, 22, 30, 0, 0, time.UTC)},
		{"2024-01-01 22:30:00 +0000", time.Date(2024, 1, 1, 22, 30, 0, 0, time.UTC)},
		{"2024-01-01 17:30:00 -0500", time.Date(2024, 1, 1, 22, 30, 0, 0, time.UTC)},
		{"2024-01-01 22:30:00", time.Date(2024, 1, 1, 22, 30, 0, 0, time.UTC)},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseHealthTime(tt.input)
		if err != nil {
			t.Errorf("ParseHealthTime(%q) error: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.expected) {
			t.Errorf("ParseHealthTime(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseHealthTime_Garbage(t *testing.T) {
	if _, err := ParseHealthTime("next tuesday"); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

// ============================================================
// ValidateSleep
// ============================================================

func TestValidateSleep_Valid(t *testing.T) {
	rec, appErr := ValidateSleep(RawSleepRecord{
		Date:                 "2024-01-01",
		Bedtime:              "2023-12-31T22:30:00Z",
		WakeTime:             "2024-01-01T06:30:00Z",
		SleepDurationMinutes: f64(420),
		DeepSleepMinutes:     f64(90),
		LightSleepMinutes:    f64(240),
		RemSleepMinutes:      f64(90),
		SleepEfficiency:      f64(92.5),
		HeartRateAvg:         f64(58),
		HeartRateMin:         f64(48),
		HeartRateMax:         f64(72),
	})
	if appErr != nil {
		t.Fatalf("unexpected validation error: %v", appErr)
	}
	if !rec.Date.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v, want 2024-01-01T00:00:00Z", rec.Date)
	}
	if rec.SleepDurationMinutes == nil || *rec.SleepDurationMinutes != 420 {
		t.Errorf("SleepDurationMinutes = %v, want 420", rec.SleepDurationMinutes)
	}
	if rec.SleepEfficiency == nil || *rec.SleepEfficiency != 92.5 {
		t.Errorf("SleepEfficiency = %v, want 92.5", rec.SleepEfficiency)
	}
}

func TestValidateSleep_DateNormalizedToMidnight(t *testing.T) {
	rec, appErr := ValidateSleep(RawSleepRecord{Date: "2024-01-01T07:15:00Z"})
	if appErr != nil {
		t.Fatalf("unexpected validation error: %v", appErr)
	}
	if !rec.Date.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v, want truncated to midnight UTC", rec.Date)
	}
}

func TestValidateSleep_MissingDate(t *testing.T) {
	_, appErr := ValidateSleep(RawSleepRecord{SleepDurationMinutes: f64(420)})
	assertCode(t, appErr, ErrCodeValidationMissingField)
}

func TestValidateSleep_HeartRateOrdering(t *testing.T) {
	// min=120, max=80 must be rejected (spec acceptance case).
	_, appErr := ValidateSleep(RawSleepRecord{
		Date:         "2024-01-01",
		HeartRateAvg: f64(100),
		HeartRateMin: f64(120),
		HeartRateMax: f64(80),
	})
	assertCode(t, appErr, ErrCodeValidationHeartRate)
}

func TestValidateSleep_HeartRateOrdering_PartialFieldsPass(t *testing.T) {
	// Ordering is only enforced when all three are present.
	_, appErr := ValidateSleep(RawSleepRecord{
		Date:         "2024-01-01",
		HeartRateMin: f64(120),
		HeartRateMax: f64(80),
	})
	if appErr != nil {
		t.Fatalf("expected pass with avg missing, got %v", appErr)
	}
}

func TestValidateSleep_EfficiencyBounds(t *testing.T) {
	for _, eff := range []float64{-0.1, 100.1, 250} {
		_, appErr := ValidateSleep(RawSleepRecord{Date: "2024-01-01", SleepEfficiency: f64(eff)})
		assertCode(t, appErr, ErrCodeValidationEfficiency)
	}
	for _, eff := range []float64{0, 50, 100} {
		if _, appErr := ValidateSleep(RawSleepRecord{Date: "2024-01-01", SleepEfficiency: f64(eff)}); appErr != nil {
			t.Errorf("efficiency %v should pass, got %v", eff, appErr)
		}
	}
}

func TestValidateSleep_DurationBounds(t *testing.T) {
	_, appErr := ValidateSleep(RawSleepRecord{Date: "2024-01-01", SleepDurationMinutes: f64(1441)})
	assertCode(t, appErr, ErrCodeValidationDuration)

	if _, appErr := ValidateSleep(RawSleepRecord{Date: "2024-01-01", SleepDurationMinutes: f64(1440)}); appErr != nil {
		t.Errorf("1440 minutes should pass, got %v", appErr)
	}
}

func TestValidateSleep_NegativeValues(t *testing.T) {
	_, appErr := ValidateSleep(RawSleepRecord{Date: "2024-01-01", DeepSleepMinutes: f64(-5)})
	assertCode(t, appErr, ErrCodeValidationNegative)
}

func TestValidateSleep_BadBedtime(t *testing.T) {
	_, appErr := ValidateSleep(RawSleepRecord{Date: "2024-01-01", Bedtime: "late"})
	assertCode(t, appErr, ErrCodeValidationBadTimestamp)
}

// ============================================================
// ValidateExercise
// ============================================================

func TestValidateExercise_Valid(t *testing.T) {
	rec, appErr := ValidateExercise(RawExerciseRecord{
		Timestamp:       "2024-01-01T07:15:42Z",
		ActivityType:    "Running",
		DurationMinutes: f64(30),
		CaloriesBurned:  f64(310.5),
		DistanceKM:      f64(5.2),
		Steps:           f64(6100),
		HeartRateAvg:    f64(140),
		HeartRateMax:    f64(165),
	})
	if appErr != nil {
		t.Fatalf("unexpected validation error: %v", appErr)
	}
	// Key precision is one minute.
	want := time.Date(2024, 1, 1, 7, 15, 0, 0, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v (minute precision)", rec.Timestamp, want)
	}
	if rec.ActivityType != "Running" {
		t.Errorf("ActivityType = %q, want Running", rec.ActivityType)
	}
}

func TestValidateExercise_MissingTimestamp(t *testing.T) {
	_, appErr := ValidateExercise(RawExerciseRecord{ActivityType: "Running"})
	assertCode(t, appErr, ErrCodeValidationMissingField)
}

func TestValidateExercise_AvgAboveMax(t *testing.T) {
	_, appErr := ValidateExercise(RawExerciseRecord{
		Timestamp:    "2024-01-01T07:15:00Z",
		HeartRateAvg: f64(170),
		HeartRateMax: f64(150),
	})
	assertCode(t, appErr, ErrCodeValidationHeartRate)
}

func TestValidateExercise_NegativeDistance(t *testing.T) {
	_, appErr := ValidateExercise(RawExerciseRecord{
		Timestamp:  "2024-01-01T07:15:00Z",
		DistanceKM: f64(-1.0),
	})
	assertCode(t, appErr, ErrCodeValidationNegative)
}

func TestValidateExercise_DurationAboveDailyMax(t *testing.T) {
	_, appErr := ValidateExercise(RawExerciseRecord{
		Timestamp:       "2024-01-01T07:15:00Z",
		DurationMinutes: f64(2000),
	})
	assertCode(t, appErr, ErrCodeValidationDuration)
}

// ============================================================
// ValidateGlucose
// ============================================================

func TestValidateGlucose_Valid(t *testing.T) {
	rec, appErr := ValidateGlucose(RawGlucoseRecord{
		Timestamp: "2024-01-01T08:00:00Z",
		Value:     f64(95.5),
		Source:    "cgm",
	})
	if appErr != nil {
		t.Fatalf("unexpected validation error: %v", appErr)
	}
	if rec.Unit != "mg/dL" {
		t.Errorf("Unit = %q, want default mg/dL", rec.Unit)
	}
}

func TestValidateGlucose_NonPositiveValue(t *testing.T) {
	for _, v := range []float64{0, -10} {
		_, appErr := ValidateGlucose(RawGlucoseRecord{Timestamp: "2024-01-01T08:00:00Z", Value: f64(v)})
		assertCode(t, appErr, ErrCodeValidationNegative)
	}
}

func TestValidateGlucose_MissingValue(t *testing.T) {
	_, appErr := ValidateGlucose(RawGlucoseRecord{Timestamp: "2024-01-01T08:00:00Z"})
	assertCode(t, appErr, ErrCodeValidationMissingField)
}

// ============================================================
// AppError
// ============================================================

func TestAppError_UnwrapChain(t *testing.T) {
	inner := errors.New("connection refused")
	appErr := NewAppError(ErrCodeStoreUnavailable, "store unreachable", inner)
	if !errors.Is(appErr, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
	var target *AppError
	if !errors.As(appErr, &target) {
		t.Error("errors.As should extract *AppError")
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrCodeValidationMissingField, 400},
		{ErrCodeAuthTokenMissing, 401},
		{ErrCodeSourceUnavailable, 502},
		{ErrCodeStoreUnavailable, 503},
		{ErrCodeConstraintViolation, 409},
		{ErrCodeInternalUnexpected, 500},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.status {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.status)
		}
	}
}

func TestSecretString_Redaction(t *testing.T) {
	s := SecretString("hunter2")
	if s.String() != "***REDACTED***" {
		t.Errorf("String() leaked the secret: %q", s.String())
	}
	if s.Unmask() != "hunter2" {
		t.Errorf("Unmask() = %q, want raw value", s.Unmask())
	}
	b, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}
	if string(b) != `"***REDACTED***"` {
		t.Errorf("MarshalJSON leaked the secret: %s", b)
	}
}
