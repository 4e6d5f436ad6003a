// Package main is the entrypoint for the Notification Poller Lambda function.
//
// The poller runs on an EventBridge schedule. Each invocation lists the Hub
// notifications created since the stored watermark, turns them into content
// items, stores the items and publishes them to the content queue.
//
// This file handles dependency wiring (Cold Start) and delegates all business
// logic to the internal/poller package (NotificationPoller.Poll).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"hubclient/internal/config"
	"hubclient/internal/db"
	"hubclient/internal/hub"
	"hubclient/internal/metrics"
	"hubclient/internal/notification"
	"hubclient/internal/poller"
	"hubclient/internal/queue"
	"hubclient/internal/types"
)

// pollRunner is the part of NotificationPoller the handler drives.
type pollRunner interface {
	Poll(ctx context.Context, input poller.PollInput) (poller.PollResult, error)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("NotificationPoller Lambda initializing (cold start)")

	p, err := build(context.Background(), logger)
	if err != nil {
		logger.Error("failed to initialize notification poller", "error", err)
		os.Exit(1)
	}

	lambda.Start(newHandler(p, logger))
}

// build wires the poller from configuration.
func build(ctx context.Context, logger *slog.Logger) (*poller.NotificationPoller, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	client, err := hub.NewClientFromConfig(cfg.Hub, cfg.Proxy, hub.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating hub client: %w", err)
	}
	dispatcher := notification.NewDispatcher(
		notification.NewHubResolver(client),
		notification.WithConcurrency(cfg.Poller.Concurrency),
	)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Environment == "local" {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	var m metrics.TransformMetrics = metrics.NoopMetrics{}
	if cfg.Observability.EnableMetrics {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		m = metrics.NewCloudWatchMetrics(cw, cfg.Observability.MetricNamespace, types.NewSlogLogger(logger))
	}

	logger.Info("NotificationPoller Lambda initialized",
		"poller", cfg.Poller.Name,
		"hub_url", client.BaseURL(),
		"user_id", cfg.Poller.UserID,
		"rule_filter_size", len(cfg.Policy.RuleIDs),
		"version", cfg.Build.Version,
	)

	return poller.NewNotificationPoller(poller.Config{
		Name:        cfg.Poller.Name,
		UserID:      cfg.Poller.UserID,
		Lookback:    cfg.Poller.Lookback,
		RuleIDs:     cfg.Policy.RuleIDs,
		Watermarks:  db.NewWatermarkRepository(pool),
		Source:      hub.NewNotificationService(client),
		Transformer: dispatcher,
		Store:       db.NewContentItemRepository(pool),
		Publisher:   queue.NewContentPublisher(sqsClient, cfg.AWS, logger),
		Metrics:     m,
		Logger:      logger,
	}), nil
}

// newHandler creates the Lambda handler that runs one poll per invocation.
// An empty event polls from the stored watermark with the configured filter.
func newHandler(p pollRunner, logger *slog.Logger) func(ctx context.Context, input poller.PollInput) (poller.PollResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, input poller.PollInput) (poller.PollResult, error) {
		logger.InfoContext(ctx, "NotificationPoller handler invoked",
			"since", input.Since,
			"rule_ids", len(input.RuleIDs),
		)

		result, err := p.Poll(ctx, input)
		if err != nil {
			logger.ErrorContext(ctx, "notification poll failed",
				"error", err,
				"items_before_error", result.Items,
			)
			return result, fmt.Errorf("notification poller failed: %w", err)
		}

		logger.InfoContext(ctx, "poll complete",
			"listed", result.Listed,
			"transformed", result.Transformed,
			"items", result.Items,
			"unsupported", result.Unsupported,
			"failed", result.Failed,
			"watermark", result.Watermark,
		)
		return result, nil
	}
}
