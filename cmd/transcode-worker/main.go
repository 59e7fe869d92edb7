package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/cuongbtq/transcode-pipeline/internal/bootstrap"
	"github.com/cuongbtq/transcode-pipeline/internal/config"
	"github.com/cuongbtq/transcode-pipeline/internal/domain"
	"github.com/cuongbtq/transcode-pipeline/internal/queue"
	"github.com/cuongbtq/transcode-pipeline/internal/transcode"
	"github.com/cuongbtq/transcode-pipeline/internal/worker"
	"github.com/cuongbtq/transcode-pipeline/internal/worker/storage"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("TRANSCODE_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/transcode-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateTranscodeWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting transcode worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	var deadLetters worker.DeadLetterRecorder
	if cfg.Worker.DeadLetterJournal {
		dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Component("postgresql"))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		deadLetters = storage.NewStorage(dbClient.GetDB(), appLogger.Component("dead-letters"))
		appLogger.Info("Database connection established")
	}

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	blobs, err := bootstrap.InitBlobStore(context.Background(), &cfg.BlobStore, appLogger.Component("blobstore"))
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	broker := queue.NewRabbitBroker(rabbitClient, appLogger.Component("queue"), queue.WithPublishRetry())

	ffmpeg := transcode.NewFFmpeg(
		transcode.WithBinary(cfg.Transcoder.Binary),
		transcode.WithTempDir(cfg.Transcoder.TempDir),
		transcode.WithBitrate(cfg.Transcoder.Bitrate),
	)

	handler := transcode.NewHandler(blobs, ffmpeg, broker, transcode.Config{
		StoreTimeout:     cfg.Transcoder.StoreTimeout,
		TranscodeTimeout: cfg.Transcoder.TranscodeTimeout,
		PublishTimeout:   cfg.Transcoder.PublishTimeout,
	}, appLogger.Component("transcode"))

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Consumer:      broker,
		Handler:       handler,
		DeadLetters:   deadLetters,
		QueueName:     cfg.Worker.Queue,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.Worker.PrefetchCount,
		JobTimeout:    cfg.Worker.JobTimeout,
	})

	if cfg.Worker.Queue != domain.TranscodeQueue {
		appLogger.Warn("Transcode worker consuming a non-default queue", slog.String("queue", cfg.Worker.Queue))
	}

	if err := bootstrap.RunWorker(workerInstance, cfg.Worker.ShutdownTimeout, appLogger.Logger); err != nil {
		return err
	}

	appLogger.Info("Transcode worker shutdown complete")
	return nil
}
