package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"tasseo/internal/types"
)

// JobAlert tells operators a job reached a terminal state that needs manual
// follow-up.
type JobAlert struct {
	JobID      string          `json:"job_id"`
	Queue      types.QueueName `json:"queue"`
	State      types.JobState  `json:"state"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// AlertSink publishes job alerts.
type AlertSink interface {
	Publish(ctx context.Context, alert JobAlert) error
}

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AlertPublisher sends JobAlerts to the operator alert queue.
type AlertPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewAlertPublisher creates an AlertPublisher for queueURL.
func NewAlertPublisher(client SQSSender, queueURL string, logger *slog.Logger) *AlertPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish implements AlertSink.
func (p *AlertPublisher) Publish(ctx context.Context, alert JobAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal JobAlert: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"queue": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Queue)),
			},
			"state": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.State)),
			},
			"attempts": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(alert.Attempts)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to send job alert to %s", p.queueURL), err)
	}

	p.logger.InfoContext(ctx, "job alert sent",
		"job_id", alert.JobID,
		"queue", alert.Queue,
		"state", alert.State,
	)
	return nil
}
