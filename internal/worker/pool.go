package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/domain"
	"github.com/cuongbtq/transcode-pipeline/internal/queue"
	"github.com/cuongbtq/transcode-pipeline/internal/worker/storage"
)

const deadLetterTimeout = 5 * time.Second

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool() {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop handles deliveries until the dispatcher closes jobsChan. A
// delivery that was handed over is always settled, even during shutdown.
func (w *Worker) workerLoop(workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Debug("Worker goroutine started")

	for delivery := range w.jobsChan {
		w.process(logger, delivery)
	}

	logger.Debug("Worker goroutine stopping - jobsChan closed")
}

// process runs the handler under its own deadline. Job contexts hang off
// w.halt, not the Start context, so only Abort cuts a delivery short.
func (w *Worker) process(logger *slog.Logger, d *queue.Delivery) {
	logger = logger.With(
		slog.String("message_id", d.MessageID),
		slog.Int64("delivery_count", d.DeliveryCount),
	)
	logger.Info("Worker received delivery",
		slog.String("state", domain.JobStateReceived),
		slog.Bool("redelivered", d.Redelivered),
	)

	jobCtx, cancel := context.WithTimeout(w.halt, w.jobTimeout)
	defer cancel()

	err := w.invoke(jobCtx, d)
	if err != nil && w.halt.Err() != nil {
		// an aborted handler says nothing about the message itself
		err = domain.Transient(fmt.Errorf("delivery aborted on shutdown: %w", err))
	}
	w.settle(jobCtx, logger, d, err)
}

func (w *Worker) invoke(ctx context.Context, d *queue.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.Transient(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return w.handler.Handle(ctx, d)
}

// settle acknowledges success, dead-letters permanent failures and requeues
// everything else
func (w *Worker) settle(ctx context.Context, logger *slog.Logger, d *queue.Delivery, err error) {
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			logger.Error("Failed to ACK message", slog.Any("error", ackErr))
			return
		}
		logger.Info("Delivery completed", slog.String("state", domain.JobStateAcked))
		return
	}

	if domain.IsPermanent(err) {
		logger.Error("Rejecting poison message",
			slog.String("state", domain.JobStateRejected),
			slog.Any("error", err),
		)
		w.recordDeadLetter(ctx, logger, d, err)

		if nackErr := d.Nack(false); nackErr != nil {
			logger.Error("Failed to NACK message", slog.Any("error", nackErr))
		}
		return
	}

	logger.Warn("Delivery failed, requeueing",
		slog.Any("error", err),
	)
	if nackErr := d.Nack(true); nackErr != nil {
		logger.Error("Failed to NACK message", slog.Any("error", nackErr))
	}
}

func (w *Worker) recordDeadLetter(ctx context.Context, logger *slog.Logger, d *queue.Delivery, reason error) {
	if w.deadLetters == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()

	err := w.deadLetters.Record(ctx, &storage.DeadLetter{
		Queue:     w.queueName,
		MessageID: d.MessageID,
		Payload:   d.Body,
		Reason:    reason.Error(),
	})
	if err != nil {
		logger.Error("Failed to record dead letter", slog.Any("error", err))
	}
}
