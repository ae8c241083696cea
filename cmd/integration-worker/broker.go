package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"eventrelay/internal/config"
	"eventrelay/internal/health"
	"eventrelay/internal/queue"
	"eventrelay/internal/queue/awssqs"
	"eventrelay/internal/queue/rabbitmq"
	"eventrelay/internal/types"
)

// broker hides which backend is in use from the rest of run().
type broker struct {
	publisher  queue.Publisher
	retryQueue func(kind types.IntegrationType) queue.RetryQueue
	consumer   func(queueName string) queue.Consumer
	// declare prepares the queues for kind. SQS queues are provisioned
	// outside the process, so it is a no-op there.
	declare func(kind types.IntegrationType) error
	// probe is nil when the backend has no cheap liveness check.
	probe health.Probe
	close func() error
}

func newBroker(cfg *config.Config, awsCfg *aws.Config, logger types.Logger) (*broker, error) {
	backend, err := cfg.Backend()
	if err != nil {
		return nil, err
	}

	switch backend {
	case config.BackendSQS:
		if awsCfg == nil {
			return nil, fmt.Errorf("sqs backend requires AWS configuration")
		}
		return newSQSBroker(cfg, newSQSClient(*awsCfg, cfg.AWS.EndpointURL), logger)
	case config.BackendRabbitMQ:
		return newRabbitBroker(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown broker backend %q", backend)
	}
}

func newSQSClient(awsCfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		// LocalStack
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func newSQSBroker(cfg *config.Config, client awssqs.Client, logger types.Logger) (*broker, error) {
	visibility, err := cfg.SQSVisibilityTimeout()
	if err != nil {
		return nil, err
	}
	prefix := cfg.AWS.QueueURLPrefix
	return &broker{
		publisher: awssqs.NewPublisher(client, prefix, logger),
		retryQueue: func(kind types.IntegrationType) queue.RetryQueue {
			return awssqs.NewRetryQueue(client, prefix, kind)
		},
		consumer: func(name string) queue.Consumer {
			return awssqs.NewConsumer(client, prefix, name, cfg.AWS.WaitTime, cfg.AWS.BatchSize, visibility, logger)
		},
		declare: func(types.IntegrationType) error { return nil },
		close:   func() error { return nil },
	}, nil
}

func newRabbitBroker(cfg *config.Config, logger types.Logger) *broker {
	svc := rabbitmq.NewService(cfg.RabbitMQ, logger)
	return &broker{
		publisher: rabbitmq.NewPublisher(svc, logger),
		retryQueue: func(kind types.IntegrationType) queue.RetryQueue {
			return rabbitmq.NewRetryQueue(svc, kind)
		},
		consumer: func(name string) queue.Consumer {
			return rabbitmq.NewConsumer(svc, name, logger)
		},
		declare: func(kind types.IntegrationType) error {
			if err := svc.DeclareIntegrationTopology(kind); err != nil {
				return err
			}
			return svc.DeclareEventTopology(kind)
		},
		probe: health.ProbeFunc{ProbeName: "rabbitmq", Fn: func(context.Context) error {
			return svc.Ping()
		}},
		close: svc.Close,
	}
}
