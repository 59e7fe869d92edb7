package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transcode-pipeline/internal/queue"
)

// setupConsumer subscribes with a prefetch limit so the broker never hands
// this worker more unacknowledged deliveries than it can hold
func (w *Worker) setupConsumer(ctx context.Context) (<-chan *queue.Delivery, error) {
	deliveries, err := w.consumer.Consume(ctx, w.queueName, w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher feeds deliveries to the worker pool until ctx is
// canceled or the subscription ends. It reports whether the subscription
// channel was closed.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan *queue.Delivery) bool {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return false

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Delivery channel closed")
				return true
			}

			select {
			case w.jobsChan <- delivery:
				w.logger.Debug("Delivery dispatched to worker pool",
					slog.String("message_id", delivery.MessageID),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching delivery")
				if err := delivery.Nack(true); err != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("message_id", delivery.MessageID),
						slog.Any("error", err),
					)
				}
				return false
			}
		}
	}
}
