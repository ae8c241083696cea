package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"eventrelay/internal/types"
)

// Metric names and dimensions emitted by CloudWatchMetrics.
const (
	MetricDelivery        = "IntegrationDelivery"
	MetricDeliveryLatency = "IntegrationDeliveryLatency"

	DimIntegrationType = "IntegrationType"
	DimOutcome         = "Outcome"
	DimCategory        = "FailureCategory"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics emits delivery metrics to AWS CloudWatch. Failures to
// publish are logged and otherwise ignored.
//
// Metrics emitted:
//   - IntegrationDelivery: Dims {IntegrationType, Outcome[, FailureCategory]}
//   - IntegrationDeliveryLatency: Dims {IntegrationType}
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordOutcome emits one IntegrationDelivery count. The category dimension
// is only present for failures.
func (m *CloudWatchMetrics) RecordOutcome(ctx context.Context, kind types.IntegrationType, outcome Outcome, category types.FailureCategory) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(DimIntegrationType), Value: aws.String(string(kind))},
		{Name: aws.String(DimOutcome), Value: aws.String(string(outcome))},
	}
	if category != "" {
		dims = append(dims, cwtypes.Dimension{Name: aws.String(DimCategory), Value: aws.String(string(category))})
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricDelivery),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery metric",
			"error", err.Error(),
			"integration_type", string(kind),
			"outcome", string(outcome),
		)
	}
}

// RecordLatency emits the handler duration in milliseconds.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, kind types.IntegrationType, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricDeliveryLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimIntegrationType), Value: aws.String(string(kind))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record latency metric",
			"error", err.Error(),
			"integration_type", string(kind),
			"duration_ms", duration.Milliseconds(),
		)
	}
}
