// Package queue publishes the content items produced by the notification
// pipeline to SQS for downstream report, email and dashboard consumers.
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

	"hubclient/internal/config"
	"hubclient/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ContentBatch is the message body: every item produced for one
// notification, in production order.
type ContentBatch struct {
	ContractVersion  string                 `json:"contract_version"`
	NotificationID   string                 `json:"notification_id"`
	NotificationKind types.NotificationKind `json:"notification_kind"`
	CreatedAt        time.Time              `json:"created_at"`
	TraceID          string                 `json:"trace_id,omitempty"`
	Items            []types.ContentItem    `json:"items"`
}

// ContentPublisher sends one SQS message per transformed notification.
type ContentPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewContentPublisher creates a ContentPublisher targeting the content item
// queue from awsCfg.
func NewContentPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *ContentPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentPublisher{
		client:   client,
		queueURL: awsCfg.ContentQueueURL,
		logger:   logger,
	}
}

// Publish sends the items of n. A notification that produced no items is
// not published.
func (p *ContentPublisher) Publish(ctx context.Context, n types.RawNotification, items []types.ContentItem) error {
	if len(items) == 0 {
		return nil
	}

	batch := ContentBatch{
		ContractVersion:  types.ContentContractVersion,
		NotificationID:   n.ID,
		NotificationKind: n.Kind,
		CreatedAt:        n.CreatedAt,
		TraceID:          types.GetRequestID(ctx),
		Items:            items,
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to marshal content batch", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"contract_version": {
				DataType:    aws.String("String"),
				StringValue: aws.String(types.ContentContractVersion),
			},
			"notification_kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(n.Kind)),
			},
			"item_count": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(len(items))),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		if ctxErr := types.ClassifyContextError(ctx, err); ctxErr != nil {
			return ctxErr
		}
		return types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to send content batch to %s", p.queueURL), err)
	}

	p.logger.InfoContext(ctx, "content batch published",
		"queue_url", p.queueURL,
		"notification_id", n.ID,
		"notification_kind", string(n.Kind),
		"items", len(items),
	)
	return nil
}
