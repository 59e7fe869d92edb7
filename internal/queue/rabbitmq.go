package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transcode-pipeline/internal/domain"
	"github.com/cuongbtq/transcode-pipeline/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitBroker adapts the shared RabbitMQ client to Publisher and Consumer
type RabbitBroker struct {
	client       *rabbitmq.Client
	logger       *slog.Logger
	retryPublish bool
}

// BrokerOption configures a RabbitBroker
type BrokerOption func(*RabbitBroker)

// WithPublishRetry retries failed publishes with backoff. Only callers that
// tolerate a duplicate message should enable it.
func WithPublishRetry() BrokerOption {
	return func(b *RabbitBroker) {
		b.retryPublish = true
	}
}

// NewRabbitBroker creates a broker on top of an established client
func NewRabbitBroker(client *rabbitmq.Client, logger *slog.Logger, opts ...BrokerOption) *RabbitBroker {
	b := &RabbitBroker{client: client, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends msg as a persistent, confirmed message
func (b *RabbitBroker) Publish(ctx context.Context, queueName string, msg Message) error {
	if b.retryPublish {
		return b.client.PublishWithRetry(ctx, queueName, msg.ID, msg.Body, domain.ContentTypeJSON)
	}
	return b.client.Publish(ctx, queueName, msg.ID, msg.Body, domain.ContentTypeJSON)
}

// Consume subscribes to queueName. Deliveries still buffered when ctx is
// canceled are returned to the queue.
func (b *RabbitBroker) Consume(ctx context.Context, queueName, consumerTag string, prefetch int) (<-chan *Delivery, error) {
	raw, err := b.client.Consume(queueName, consumerTag, prefetch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", queueName, err)
	}

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-raw:
				if !ok {
					b.logger.Warn("RabbitMQ delivery channel closed",
						slog.String("queue", queueName),
					)
					return
				}

				delivery := wrap(d)
				select {
				case out <- delivery:
				case <-ctx.Done():
					if err := delivery.Nack(true); err != nil {
						b.logger.Error("Failed to NACK message on shutdown",
							slog.String("message_id", d.MessageId),
							slog.Any("error", err),
						)
					}
					return
				}
			}
		}
	}()

	return out, nil
}

func wrap(d amqp.Delivery) *Delivery {
	return NewDelivery(
		d.Body,
		d.MessageId,
		d.Redelivered,
		rabbitmq.DeliveryCount(d),
		func() error { return d.Ack(false) },
		func(requeue bool) error { return d.Nack(false, requeue) },
	)
}
