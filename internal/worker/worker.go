package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/queue"
	"github.com/cuongbtq/transcode-pipeline/internal/worker/storage"
	"github.com/google/uuid"
)

// DefaultJobTimeout bounds a single delivery when no timeout is configured
const DefaultJobTimeout = 10 * time.Minute

// ErrSubscriptionClosed is returned by Start when the broker ended the
// subscription while the worker was still running
var ErrSubscriptionClosed = errors.New("delivery subscription closed")

// Handler processes one delivery. A nil error acknowledges the delivery,
// a permanent domain.JobError dead-letters it and anything else requeues it.
type Handler interface {
	Handle(ctx context.Context, d *queue.Delivery) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, d *queue.Delivery) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, d *queue.Delivery) error {
	return f(ctx, d)
}

// DeadLetterRecorder journals rejected deliveries for later inspection
type DeadLetterRecorder interface {
	Record(ctx context.Context, dl *storage.DeadLetter) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Consumer      queue.Consumer
	Handler       Handler
	DeadLetters   DeadLetterRecorder
	QueueName     string
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
}

// Worker consumes one queue with a bounded pool of goroutines
type Worker struct {
	logger        *slog.Logger
	consumer      queue.Consumer
	handler       Handler
	deadLetters   DeadLetterRecorder
	queueName     string
	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	jobsChan      chan *queue.Delivery
	wg            sync.WaitGroup

	// halt parents every job context; abort cancels it on a forced shutdown
	halt  context.Context
	abort context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}

	prefetch := cfg.PrefetchCount
	if prefetch < concurrency {
		prefetch = concurrency
	}

	halt, abort := context.WithCancel(context.Background())

	return &Worker{
		logger:        cfg.Logger.With(slog.String("worker_id", workerID), slog.String("queue", cfg.QueueName)),
		consumer:      cfg.Consumer,
		handler:       cfg.Handler,
		deadLetters:   cfg.DeadLetters,
		queueName:     cfg.QueueName,
		workerID:      workerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    jobTimeout,
		jobsChan:      make(chan *queue.Delivery),
		halt:          halt,
		abort:         abort,
	}
}

// Start subscribes to the queue and processes deliveries until ctx is
// canceled. It returns once no new delivery will be dispatched; call Stop to
// wait for in-flight deliveries to settle.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool()

	closed := w.startMessageDispatcher(ctx, deliveries)
	close(w.jobsChan)

	if closed && ctx.Err() == nil {
		return ErrSubscriptionClosed
	}

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop waits for every in-flight delivery to be settled
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// Abort cancels the context of every in-flight delivery. Handlers return
// early and their deliveries are requeued, so a pending Stop returns promptly.
func (w *Worker) Abort() {
	w.logger.Warn("Aborting in-flight deliveries")
	w.abort()
}
