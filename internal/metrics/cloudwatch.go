// Package metrics publishes job, dispatch and engagement batch metrics to
// CloudWatch. A failed publish is logged and never fails the caller.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"tasseo/internal/engagement"
	"tasseo/internal/queue"
	"tasseo/internal/scheduler"
	"tasseo/internal/types"
)

// Metric names.
const (
	MetricJobOutcome         = "JobOutcome"
	MetricJobDuration        = "JobDuration"
	MetricInsightsDispatched = "InsightsDispatched"
	MetricDispatchFailures   = "InsightDispatchFailures"
	MetricEngagementSent     = "EngagementSent"
	MetricEngagementFailed   = "EngagementFailed"
	MetricBatchDuration      = "EngagementBatchDuration"
	MetricAPIRequests        = "APIRequests"
	MetricAPILatency         = "APILatency"
)

// Dimension names.
const (
	DimQueue       = "Queue"
	DimOutcome     = "Outcome"
	DimKind        = "Kind"
	DimMessageType = "MessageType"
	DimMethod      = "Method"
	DimEndpoint    = "Endpoint"
	DimStatus      = "Status"
)

// requestPublishTimeout bounds the detached publish of one API request.
const requestPublishTimeout = 5 * time.Second

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var (
	_ queue.Recorder             = (*CloudWatch)(nil)
	_ scheduler.DispatchRecorder = (*CloudWatch)(nil)
	_ engagement.BatchRecorder   = (*CloudWatch)(nil)
)

// CloudWatch emits metrics into one namespace.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewCloudWatch creates a CloudWatch recorder.
func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

// JobFinished records the outcome and duration of one job attempt.
//
//	JobOutcome  {Queue, Outcome}  Count
//	JobDuration {Queue}           Milliseconds
func (m *CloudWatch) JobFinished(ctx context.Context, q types.QueueName, outcome queue.Outcome, elapsed time.Duration) {
	queueDim := dim(DimQueue, string(q))
	m.put(ctx, "job",
		datum(MetricJobOutcome, 1, cwtypes.StandardUnitCount, queueDim, dim(DimOutcome, string(outcome))),
		datum(MetricJobDuration, float64(elapsed.Milliseconds()), cwtypes.StandardUnitMilliseconds, queueDim),
	)
}

// DispatchFinished records one hourly dispatch run.
func (m *CloudWatch) DispatchFinished(ctx context.Context, result scheduler.DispatchResult) {
	kind := dim(DimKind, string(result.Kind))
	m.put(ctx, "dispatch",
		datum(MetricInsightsDispatched, float64(result.Dispatched), cwtypes.StandardUnitCount, kind),
		datum(MetricDispatchFailures, float64(result.Failed), cwtypes.StandardUnitCount, kind),
	)
}

// BatchFinished records one engagement batch.
func (m *CloudWatch) BatchFinished(ctx context.Context, result engagement.BatchResult, elapsed time.Duration) {
	mt := dim(DimMessageType, string(result.MessageType))
	m.put(ctx, "batch",
		datum(MetricEngagementSent, float64(result.Success), cwtypes.StandardUnitCount, mt),
		datum(MetricEngagementFailed, float64(result.Failed), cwtypes.StandardUnitCount, mt),
		datum(MetricBatchDuration, float64(elapsed.Milliseconds()), cwtypes.StandardUnitMilliseconds, mt),
	)
}

// RecordRequest records one API request. It publishes in the background so
// the response is not held up by CloudWatch.
//
//	APIRequests {Method, Endpoint, Status}  Count
//	APILatency  {Method, Endpoint}          Milliseconds
func (m *CloudWatch) RecordRequest(method, endpoint, status string, duration time.Duration) {
	methodDim, endpointDim := dim(DimMethod, method), dim(DimEndpoint, endpoint)
	data := []cwtypes.MetricDatum{
		datum(MetricAPIRequests, 1, cwtypes.StandardUnitCount, methodDim, endpointDim, dim(DimStatus, status)),
		datum(MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, methodDim, endpointDim),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), requestPublishTimeout)
		defer cancel()
		m.put(ctx, "api", data...)
	}()
}

// Wait blocks until background publishes have finished.
func (m *CloudWatch) Wait() {
	m.wg.Wait()
}

func (m *CloudWatch) put(ctx context.Context, what string, data ...cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to publish metrics", "metric_group", what, "error", err)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: dims,
	}
}
