// Package main is the Lambda entry point for integration delivery on SQS.
//
// The function is subscribed to the integrations-{kind} queues. Each record
// is routed by its integration_type to the listener for that kind, which runs
// the same delivery state machine as the long-running worker. Records whose
// follow-up publish fails are reported as batch item failures so SQS
// redelivers only those.
//
// Cold Start (main):
//  1. Load configuration (SSM pointers resolved outside APP_ENV=local).
//  2. Initialize structured logger.
//  3. Load AWS SDK configuration and build the SQS and CloudWatch clients.
//  4. Build the handler registry and one listener per configured kind.
//  5. Call lambda.Start.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"eventrelay/internal/config"
	"eventrelay/internal/integrations"
	"eventrelay/internal/integrations/core"
	"eventrelay/internal/integrations/listener"
	"eventrelay/internal/logging"
	"eventrelay/internal/queue"
	"eventrelay/internal/queue/awssqs"
	"eventrelay/internal/types"
)

// Handler routes SQS records to the integration listener for their kind.
type Handler struct {
	listeners  map[types.IntegrationType]*listener.IntegrationListener
	deadLetter queue.RetryQueue
	logger     types.Logger
}

// NewHandler creates a Handler. deadLetter receives records no listener can
// take.
func NewHandler(listeners []*listener.IntegrationListener, deadLetter queue.RetryQueue, logger types.Logger) *Handler {
	byKind := make(map[types.IntegrationType]*listener.IntegrationListener, len(listeners))
	for _, l := range listeners {
		byKind[l.Kind()] = l
	}
	return &Handler{listeners: byKind, deadLetter: deadLetter, logger: logger}
}

// Handle processes one SQS batch using partial batch responses.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	body := []byte(record.Body)

	var peek struct {
		IntegrationType types.IntegrationType `json:"integration_type"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		h.logger.Warn("undecodable integration message, dead-lettering",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return h.deadLetter.PublishToDeadLetter(ctx, body, "undecodable message body: "+err.Error())
	}

	l, ok := h.listeners[peek.IntegrationType]
	if !ok {
		h.logger.Warn("no listener for integration type, dead-lettering",
			"message_id", record.MessageId,
			"integration_type", string(peek.IntegrationType),
		)
		return h.deadLetter.PublishToDeadLetter(ctx, body,
			fmt.Sprintf("no listener for integration type %q", peek.IntegrationType))
	}

	return l.ProcessMessage(ctx, body)
}

func main() {
	h, err := coldStart(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(h.Handle)
}

func coldStart(ctx context.Context) (*Handler, error) {
	cfg, err := config.LoadConfig(config.DefaultSecretProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, _ := logging.New(cfg.LogLevel)
	logger.Info("integration lambda cold start",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	if cfg.AWS.QueueURLPrefix == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL_PREFIX must be set")
	}

	kinds, err := cfg.IntegrationKinds()
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		// LocalStack
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	var metrics core.Metrics = core.NoopMetrics{}
	if cfg.Observability.EnableMetrics {
		metrics = core.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	registry, err := integrations.NewRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	return buildHandler(kinds, registry, client, cfg, metrics, logger)
}

// buildHandler creates a consumer-less listener per kind. Messages are pushed
// in by the Lambda runtime instead.
func buildHandler(
	kinds []types.IntegrationType,
	registry *core.Registry,
	client awssqs.Client,
	cfg *config.Config,
	metrics core.Metrics,
	logger types.Logger,
) (*Handler, error) {
	prefix := cfg.AWS.QueueURLPrefix
	listeners := make([]*listener.IntegrationListener, 0, len(kinds))
	for _, kind := range kinds {
		handler, ok := registry.Get(kind)
		if !ok {
			return nil, fmt.Errorf("no handler registered for %s", kind)
		}
		listeners = append(listeners, listener.New(
			kind,
			handler,
			awssqs.NewRetryQueue(client, prefix, kind),
			nil,
			cfg.Listener,
			metrics,
			logger,
		))
	}

	// The dead-letter queue is shared, so any kind's retry queue reaches it.
	deadLetter := awssqs.NewRetryQueue(client, prefix, types.IntegrationWebhook)
	return NewHandler(listeners, deadLetter, logger), nil
}
