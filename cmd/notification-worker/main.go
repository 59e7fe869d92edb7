package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/cuongbtq/transcode-pipeline/internal/bootstrap"
	"github.com/cuongbtq/transcode-pipeline/internal/config"
	"github.com/cuongbtq/transcode-pipeline/internal/notify"
	"github.com/cuongbtq/transcode-pipeline/internal/queue"
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
	defaultConfigPath := os.Getenv("NOTIFICATION_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/notification-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateNotificationWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting notification worker",
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

	mailer, err := initMailer(&cfg.Mail, appLogger.Component("mailer"))
	if err != nil {
		return fmt.Errorf("failed to initialize mailer: %w", err)
	}

	handler := notify.NewHandler(mailer, cfg.Mail.Sender, cfg.Mail.Timeout, appLogger.Component("notify"))

	// One message in flight per instance: concurrency and prefetch are both 1
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Consumer:      queue.NewRabbitBroker(rabbitClient, appLogger.Component("queue")),
		Handler:       handler,
		DeadLetters:   deadLetters,
		QueueName:     cfg.Worker.Queue,
		Concurrency:   1,
		PrefetchCount: 1,
		JobTimeout:    cfg.Worker.JobTimeout,
	})

	if err := bootstrap.RunWorker(workerInstance, cfg.Worker.ShutdownTimeout, appLogger.Logger); err != nil {
		return err
	}

	appLogger.Info("Notification worker shutdown complete")
	return nil
}

func initMailer(cfg *config.MailConfig, logger *slog.Logger) (notify.Mailer, error) {
	if cfg.Backend == "log" {
		return notify.NewLogMailer(logger), nil
	}

	return notify.NewSMTP(&notify.SMTPConfig{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		TLSPolicy: cfg.SMTP.TLSPolicy,
		Timeout:   cfg.Timeout,
	}, logger)
}
