// Package queue provides the SQS-based reject publisher. Records that fail
// validation or persistence are shipped to a reject queue for offline
// inspection instead of being silently dropped.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"healthsync/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// RejectPublisher ships rejected records to downstream consumers. It is
// best-effort: a publish failure is logged and never fails the ingestion run.
type RejectPublisher interface {
	PublishRejects(ctx context.Context, runID string, category types.Category, errs []types.RecordError)
}

// rejectMessage is the wire format of one rejected record.
type rejectMessage struct {
	RunID      string `json:"run_id"`
	Category   string `json:"category"`
	RecordKey  string `json:"record_key"`
	Error      string `json:"error"`
	RejectedAt string `json:"rejected_at"`
}

// Compile-time assertion that SQSRejectPublisher implements RejectPublisher.
var _ RejectPublisher = (*SQSRejectPublisher)(nil)

// SQSRejectPublisher publishes one SQS message per rejected record.
type SQSRejectPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSRejectPublisher creates a publisher targeting the given queue URL.
func NewSQSRejectPublisher(client SQSSender, queueURL string, logger *slog.Logger) *SQSRejectPublisher {
	return &SQSRejectPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// PublishRejects serializes each record error and sends it to the reject
// queue. Individual publish failures are logged and skipped.
func (p *SQSRejectPublisher) PublishRejects(ctx context.Context, runID string, category types.Category, errs []types.RecordError) {
	for _, re := range errs {
		msg := rejectMessage{
			RunID:      runID,
			Category:   string(category),
			RecordKey:  re.Key,
			Error:      re.Err.Error(),
			RejectedAt: time.Now().UTC().Format(time.RFC3339),
		}

		body, err := json.Marshal(msg)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to marshal reject message",
				"error", err.Error(), "record_key", re.Key)
			continue
		}

		input := &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
				"category": {
					DataType:    aws.String("String"),
					StringValue: aws.String(string(category)),
				},
			},
		}

		if _, err := p.client.SendMessage(ctx, input); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish reject message",
				"error", err.Error(),
				"queue_url", p.queueURL,
				"record_key", re.Key,
			)
			continue
		}
	}

	if len(errs) > 0 {
		p.logger.InfoContext(ctx, "rejected records published",
			"run_id", runID,
			"category", string(category),
			"count", len(errs),
		)
	}
}

// NoopRejectPublisher discards rejects. Used when SQS_REJECT_QUEUE is unset.
type NoopRejectPublisher struct{}

var _ RejectPublisher = (*NoopRejectPublisher)(nil)

// PublishRejects does nothing.
func (NoopRejectPublisher) PublishRejects(context.Context, string, types.Category, []types.RecordError) {
}
