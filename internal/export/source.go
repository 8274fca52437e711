package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"healthsync/internal/types"
)

// maxResponseBytes bounds how much of an export response we are willing to
// read. The upstream paginates by time window, so anything beyond this is a
// malfunctioning source, not a big day.
const maxResponseBytes = 50 << 20

// HealthExportClient fetches raw telemetry from the health-export HTTP
// endpoints. One client serves both categories; each category has its own
// endpoint URL but shares the API key and resilience stack.
type HealthExportClient struct {
	base             *BaseClient
	sleepEndpoint    string
	exerciseEndpoint string
	apiKey           types.SecretString
}

// NewHealthExportClient creates a client for the export endpoints. The
// httpClient's Timeout should be set by the caller from configuration.
func NewHealthExportClient(
	httpClient *http.Client,
	sleepEndpoint, exerciseEndpoint string,
	apiKey types.SecretString,
	retryPolicy RetryPolicy,
	opts ...BaseClientOption,
) *HealthExportClient {
	return &HealthExportClient{
		base:             NewBaseClient(httpClient, "health-export", retryPolicy, "healthsync-ingestor/1.0", opts...),
		sleepEndpoint:    sleepEndpoint,
		exerciseEndpoint: exerciseEndpoint,
		apiKey:           apiKey,
	}
}

// exportEnvelope is the response wrapper the export endpoints emit. Records
// are kept raw so one malformed entry cannot poison the whole batch.
type exportEnvelope struct {
	Records []json.RawMessage `json:"records"`
}

// FetchSleep returns the raw sleep entries recorded after since. Entries that
// fail to decode individually are returned as RecordErrors rather than
// aborting the fetch.
func (c *HealthExportClient) FetchSleep(ctx context.Context, since time.Time) ([]types.RawSleepRecord, []types.RecordError, error) {
	entries, err := c.fetch(ctx, c.sleepEndpoint, since)
	if err != nil {
		return nil, nil, err
	}

	records := make([]types.RawSleepRecord, 0, len(entries))
	var recErrs []types.RecordError
	for i, entry := range entries {
		var raw types.RawSleepRecord
		if err := json.Unmarshal(entry, &raw); err != nil {
			recErrs = append(recErrs, types.RecordError{
				Key: fmt.Sprintf("entry[%d]", i),
				Err: types.NewAppError(types.ErrCodeSourceMalformed, "undecodable sleep entry", err),
			})
			continue
		}
		records = append(records, raw)
	}
	return records, recErrs, nil
}

// FetchExercise returns the raw exercise entries recorded after since.
func (c *HealthExportClient) FetchExercise(ctx context.Context, since time.Time) ([]types.RawExerciseRecord, []types.RecordError, error) {
	entries, err := c.fetch(ctx, c.exerciseEndpoint, since)
	if err != nil {
		return nil, nil, err
	}

	records := make([]types.RawExerciseRecord, 0, len(entries))
	var recErrs []types.RecordError
	for i, entry := range entries {
		var raw types.RawExerciseRecord
		if err := json.Unmarshal(entry, &raw); err != nil {
			recErrs = append(recErrs, types.RecordError{
				Key: fmt.Sprintf("entry[%d]", i),
				Err: types.NewAppError(types.ErrCodeSourceMalformed, "undecodable exercise entry", err),
			})
			continue
		}
		records = append(records, raw)
	}
	return records, recErrs, nil
}

// fetch performs one authenticated GET against an export endpoint, asking the
// source for entries after since and decoding the response envelope. The
// response may be either a bare JSON array or a {"records": [...]} object.
func (c *HealthExportClient) fetch(ctx context.Context, endpoint string, since time.Time) ([]json.RawMessage, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "invalid export endpoint", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build export request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, types.NewAppError(types.ErrCodeSourceAuth,
			fmt.Sprintf("export source rejected credentials with %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewAppError(types.ErrCodeSourceUnavailable,
			fmt.Sprintf("export source returned unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeSourceUnavailable, "failed to read export response", err)
	}

	// Bare array form.
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err == nil {
		return entries, nil
	}

	// Envelope form.
	var envelope exportEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, types.NewAppError(types.ErrCodeSourceMalformed, "export response is not valid JSON", err)
	}
	if envelope.Records == nil {
		return nil, types.NewAppError(types.ErrCodeSourceMalformed, "export response missing records", nil)
	}
	return envelope.Records, nil
}
