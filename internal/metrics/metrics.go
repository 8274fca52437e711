// Package metrics emits ingestion run telemetry to AWS CloudWatch. Metric
// emission is fire-and-forget: a failed put is logged and never fails the
// run that produced it.
package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"healthsync/internal/types"
)

// Metric and dimension names.
const (
	MetricRecordsFetched  = "RecordsFetched"
	MetricRecordsInserted = "RecordsInserted"
	MetricRecordsUpdated  = "RecordsUpdated"
	MetricRecordsFailed   = "RecordsFailed"
	MetricRunDuration     = "RunDurationMs"
	MetricRunOutcome      = "RunOutcome"

	DimCategory = "Category"
	DimStatus   = "Status"
)

// RunMetrics receives the summary of every completed ingestion run.
type RunMetrics interface {
	RecordRun(ctx context.Context, res *types.RunResult)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchRunMetrics implements RunMetrics.
var _ RunMetrics = (*CloudWatchRunMetrics)(nil)

// CloudWatchRunMetrics publishes run counters to a CloudWatch namespace,
// dimensioned by category and run status.
type CloudWatchRunMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRunMetrics creates a RunMetrics that publishes to the given
// CloudWatch namespace.
func NewCloudWatchRunMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRunMetrics {
	return &CloudWatchRunMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordRun emits the per-run counters and duration in a single PutMetricData
// call. Errors are logged, never propagated.
func (m *CloudWatchRunMetrics) RecordRun(ctx context.Context, res *types.RunResult) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(DimCategory), Value: aws.String(string(res.Category))},
	}
	outcomeDims := append([]cwtypes.Dimension{
		{Name: aws.String(DimStatus), Value: aws.String(string(res.Status))},
	}, dims...)

	count := func(name string, v int, d []cwtypes.Dimension) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(v)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: d,
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			count(MetricRecordsFetched, res.RecordsFetched, dims),
			count(MetricRecordsInserted, res.RecordsInserted, dims),
			count(MetricRecordsUpdated, res.RecordsUpdated, dims),
			count(MetricRecordsFailed, res.RecordsFailed, dims),
			count(MetricRunOutcome, 1, outcomeDims),
			{
				MetricName: aws.String(MetricRunDuration),
				Value:      aws.Float64(float64(res.FinishedAt.Sub(res.StartedAt).Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish run metrics",
			"error", err.Error(),
			"category", string(res.Category),
			"run_id", res.RunID,
		)
	}
}

// NoopRunMetrics discards all metrics. Used when METRICS_ENABLED is false
// and in one-shot CLI invocations.
type NoopRunMetrics struct{}

var _ RunMetrics = (*NoopRunMetrics)(nil)

// RecordRun does nothing.
func (NoopRunMetrics) RecordRun(context.Context, *types.RunResult) {}
