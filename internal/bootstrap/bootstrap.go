// Package bootstrap builds the clients every process needs from its config
// and runs a worker until a shutdown signal arrives.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/blobstore"
	"github.com/cuongbtq/transcode-pipeline/internal/config"
	"github.com/cuongbtq/transcode-pipeline/internal/worker"
	"github.com/cuongbtq/transcode-pipeline/shared/logger"
	"github.com/cuongbtq/transcode-pipeline/shared/postgresql"
	"github.com/cuongbtq/transcode-pipeline/shared/rabbitmq"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		RetryAttempts:   cfg.RetryAttempts,
		RetryInterval:   cfg.RetryInterval,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// RabbitMQConfig maps the YAML section onto the client config
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	queues := make([]rabbitmq.QueueConfig, 0, len(cfg.Queues))
	for _, q := range cfg.Queues {
		queues = append(queues, rabbitmq.QueueConfig{
			Name:          q.Name,
			Type:          q.Type,
			DeliveryLimit: q.DeliveryLimit,
		})
	}

	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		Queues:             queues,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
}

// InitBlobStore opens the configured object store backend
func InitBlobStore(ctx context.Context, cfg *config.BlobStoreConfig, logger *slog.Logger) (blobstore.Store, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("Using in-memory blob store, blobs are lost on restart")
		return blobstore.NewMemory(), nil
	case "minio":
		return blobstore.NewMinIO(ctx, &blobstore.MinIOConfig{
			Endpoint:      cfg.MinIO.Endpoint,
			AccessKey:     cfg.MinIO.AccessKey,
			SecretKey:     cfg.MinIO.SecretKey,
			Bucket:        cfg.MinIO.Bucket,
			UseSSL:        cfg.MinIO.UseSSL,
			RetryAttempts: cfg.MinIO.RetryAttempts,
			RetryInterval: cfg.MinIO.RetryInterval,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported blobstore backend: %q", cfg.Backend)
	}
}

// Runner is the part of worker.Worker RunWorker drives
type Runner interface {
	Start(ctx context.Context) error
	Stop()
	Abort()
}

// RunWorker starts w and blocks until SIGINT/SIGTERM or until the worker
// fails. In-flight deliveries get shutdownTimeout to finish; after that they
// are aborted and requeued. RunWorker never returns with a delivery unsettled.
func RunWorker(w Runner, shutdownTimeout time.Duration, logger *slog.Logger) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return runUntil(w, quit, shutdownTimeout, logger)
}

func runUntil(w Runner, quit <-chan os.Signal, shutdownTimeout time.Duration, logger *slog.Logger) error {
	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	logger.Info("Worker service started successfully")

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err == nil {
			err = worker.ErrSubscriptionClosed
		}
		logger.Error("Worker error",
			slog.Any("error", err),
		)
		runErr = err
	}

	// Cancel context to stop worker
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Worker shutdown timeout exceeded, aborting in-flight deliveries")
		w.Abort()
		<-done
		logger.Info("Worker stopped after abort")
	}

	return runErr
}
