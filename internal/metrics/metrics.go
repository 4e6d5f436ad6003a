// Package metrics records notification transform outcomes.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"hubclient/internal/types"
)

// Metric and dimension names.
const (
	MetricTransform    = "NotificationTransform"
	MetricContentItems = "ContentItemsProduced"
	MetricPollDuration = "PollDuration"

	DimKind    = "Kind"
	DimOutcome = "Outcome"
)

// Outcome is the result class of a single notification transform.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeEmpty        Outcome = "empty"
	OutcomeUnsupported  Outcome = "unsupported"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeLinkNotFound Outcome = "link_not_found"
	OutcomeFailed       Outcome = "failed"
	OutcomeCancelled    Outcome = "cancelled"
)

// OutcomeOf classifies a transform result by the root cause of err.
func OutcomeOf(items int, err error) Outcome {
	if err == nil {
		if items == 0 {
			return OutcomeEmpty
		}
		return OutcomeSuccess
	}
	switch types.RootCode(err) {
	case types.ErrCodeUnsupportedKind:
		return OutcomeUnsupported
	case types.ErrCodeEntityNotFound:
		return OutcomeNotFound
	case types.ErrCodeLinkNotFound:
		return OutcomeLinkNotFound
	case types.ErrCodeCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// TransformMetrics receives pipeline measurements. Implementations must not
// fail the caller; emission errors are logged and dropped.
type TransformMetrics interface {
	RecordTransform(ctx context.Context, kind types.NotificationKind, outcome Outcome)
	RecordItems(ctx context.Context, kind types.NotificationKind, n int)
	RecordPollDuration(ctx context.Context, d time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ TransformMetrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics emits TransformMetrics to AWS CloudWatch.
//
// Metrics emitted:
//   - NotificationTransform: Dims {Kind, Outcome}, one per transformed notification
//   - ContentItemsProduced: Dims {Kind}, items produced per notification
//   - PollDuration: no dims, wall time of one poll
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

// RecordTransform emits a NotificationTransform count.
func (m *CloudWatchMetrics) RecordTransform(ctx context.Context, kind types.NotificationKind, outcome Outcome) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricTransform),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimKind), Value: aws.String(string(kind))},
			{Name: aws.String(DimOutcome), Value: aws.String(string(outcome))},
		},
	}, "kind", string(kind), "outcome", string(outcome))
}

// RecordItems emits the number of content items produced for one
// notification.
func (m *CloudWatchMetrics) RecordItems(ctx context.Context, kind types.NotificationKind, n int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricContentItems),
		Value:      aws.Float64(float64(n)),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimKind), Value: aws.String(string(kind))},
		},
	}, "kind", string(kind), "items", n)
}

// RecordPollDuration emits the poll wall time in milliseconds.
func (m *CloudWatchMetrics) RecordPollDuration(ctx context.Context, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricPollDuration),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	}, "duration_ms", d.Milliseconds())
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum, logArgs ...any) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			append([]any{"metric", aws.ToString(datum.MetricName), "error", err.Error()}, logArgs...)...,
		)
	}
}

// NoopMetrics discards all measurements. Used when metrics are disabled.
type NoopMetrics struct{}

var _ TransformMetrics = NoopMetrics{}

func (NoopMetrics) RecordTransform(context.Context, types.NotificationKind, Outcome) {}
func (NoopMetrics) RecordItems(context.Context, types.NotificationKind, int)         {}
func (NoopMetrics) RecordPollDuration(context.Context, time.Duration)               {}
