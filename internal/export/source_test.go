package export

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"healthsync/internal/types"
)

// noopSleep is a sleep function that does nothing, for fast tests.
func noopSleep(time.Duration) {}

// fastRetry is a retry policy tuned for tests.
var fastRetry = RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

// newTestSource creates a HealthExportClient with both categories pointed at
// the given test server.
func newTestSource(serverURL string) *HealthExportClient {
	return NewHealthExportClient(
		&http.Client{Timeout: 5 * time.Second},
		serverURL+"/sleep",
		serverURL+"/exercise",
		types.SecretString("test-key"),
		fastRetry,
		WithSleepFunc(noopSleep),
	)
}

func assertAppCode(t *testing.T, err error, want types.ErrorCode) {
	t.Helper()
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != want {
		t.Fatalf("error code = %s, want %s", appErr.Code, want)
	}
}

func TestFetchSleep_Success(t *testing.T) {
	var gotAuth, gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSince = r.URL.Query().Get("since")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"records":[
			{"date":"2024-01-01","sleep_duration_minutes":420},
			{"date":"2024-01-02","sleep_duration_minutes":390}
		]}`))
	}))
	defer server.Close()

	src := newTestSource(server.URL)
	since := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	records, recErrs, err := src.FetchSleep(context.Background(), since)
	if err != nil {
		t.Fatalf("FetchSleep error: %v", err)
	}
	if len(recErrs) != 0 {
		t.Errorf("unexpected record errors: %v", recErrs)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Date != "2024-01-01" {
		t.Errorf("records[0].Date = %q", records[0].Date)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
	if gotSince != "2023-12-31T00:00:00Z" {
		t.Errorf("since = %q, want RFC3339 cursor", gotSince)
	}
}

func TestFetchSleep_BareArrayResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"date":"2024-01-01"}]`))
	}))
	defer server.Close()

	src := newTestSource(server.URL)
	records, _, err := src.FetchSleep(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("FetchSleep error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
}

func TestFetchSleep_MalformedEntrySkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Second entry has the wrong shape for a sleep record.
		w.Write([]byte(`{"records":[
			{"date":"2024-01-01"},
			["not","an","object"],
			{"date":"2024-01-03"}
		]}`))
	}))
	defer server.Close()

	src := newTestSource(server.URL)
	records, recErrs, err := src.FetchSleep(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("FetchSleep error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2 decodable", len(records))
	}
	if len(recErrs) != 1 {
		t.Fatalf("got %d record errors, want 1", len(recErrs))
	}
	assertAppCode(t, recErrs[0].Err, types.ErrCodeSourceMalformed)
}

func TestFetch_AuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	src := newTestSource(server.URL)
	_, _, err := src.FetchExercise(context.Background(), time.Time{})
	if err == nil {
		t.Fatal("expected auth error")
	}
	assertAppCode(t, err, types.ErrCodeSourceAuth)
}

func TestFetch_ServerErrorRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	src := newTestSource(server.URL)
	_, _, err := src.FetchExercise(context.Background(), time.Time{})
	if err == nil {
		t.Fatal("expected source unavailable error")
	}
	assertAppCode(t, err, types.ErrCodeSourceUnavailable)

	if got := calls.Load(); got != int32(1+fastRetry.MaxRetries) {
		t.Errorf("upstream called %d times, want %d", got, 1+fastRetry.MaxRetries)
	}
}

func TestFetch_RecoversAfterTransientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"records":[{"timestamp":"2024-01-01T07:15:00Z"}]}`))
	}))
	defer server.Close()

	src := newTestSource(server.URL)
	records, _, err := src.FetchExercise(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("FetchExercise error after recovery: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
}

func TestFetch_NonJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>export is down for maintenance</html>`))
	}))
	defer server.Close()

	src := newTestSource(server.URL)
	_, _, err := src.FetchSleep(context.Background(), time.Time{})
	if err == nil {
		t.Fatal("expected malformed response error")
	}
	assertAppCode(t, err, types.ErrCodeSourceMalformed)
}

func TestFetch_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // immediately, so the port refuses connections

	src := newTestSource(server.URL)
	_, _, err := src.FetchSleep(context.Background(), time.Time{})
	if err == nil {
		t.Fatal("expected source unavailable error")
	}
	assertAppCode(t, err, types.ErrCodeSourceUnavailable)
}

func TestDo_RespectsRetryAfterSeconds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 10 * time.Second},
		"healthsync-test/1.0",
		WithSleepFunc(func(d time.Duration) { slept = append(slept, d) }),
	)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	resp.Body.Close()

	if len(slept) != 1 {
		t.Fatalf("slept %d times, want 1", len(slept))
	}
	if slept[0] != time.Second {
		t.Errorf("slept %v, want 1s from Retry-After", slept[0])
	}
}
