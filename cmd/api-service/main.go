package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/transcode-pipeline/internal/admission"
	"github.com/cuongbtq/transcode-pipeline/internal/api/handler"
	"github.com/cuongbtq/transcode-pipeline/internal/api/router"
	"github.com/cuongbtq/transcode-pipeline/internal/api/storage"
	"github.com/cuongbtq/transcode-pipeline/internal/auth"
	"github.com/cuongbtq/transcode-pipeline/internal/bootstrap"
	"github.com/cuongbtq/transcode-pipeline/internal/config"
	"github.com/cuongbtq/transcode-pipeline/internal/queue"
	"github.com/cuongbtq/transcode-pipeline/migrations"
	"github.com/cuongbtq/transcode-pipeline/shared/rabbitmq"
	"github.com/gin-gonic/gin"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.Migrate {
		if err := dbClient.Migrate(migrations.FS); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	userStorage := storage.NewStorage(dbClient)
	if err := bootstrapAdmin(context.Background(), userStorage, &cfg.Auth); err != nil {
		return err
	}

	appLogger.Info("Database connection established")

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

	gate, err := auth.NewGate([]byte(cfg.Auth.JWTSecret), auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return fmt.Errorf("failed to initialize auth gate: %w", err)
	}

	admissionCfg := admissionConfig(&cfg.Admission)
	// Admission publishes exactly once, so no publish retry here
	broker := queue.NewRabbitBroker(rabbitClient, appLogger.Component("queue"))
	admissionService := admission.NewService(gate, blobs, broker, admissionCfg, appLogger.Component("admission"))

	// Initialize router
	r := initRouter(cfg, &handler.Dependencies{
		Logger:      appLogger.Logger,
		Gate:        gate,
		Credentials: userStorage,
		Admission:   admissionService,
		Blobs:       blobs,
		DeadLetters: userStorage,
		HealthChecks: map[string]handler.HealthCheck{
			"postgres": dbClient.HealthCheck,
			"rabbitmq": rabbitHealth(rabbitClient),
		},
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		appLogger.Error("Server failed to start",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// bootstrapAdmin makes sure the configured admin can log in
func bootstrapAdmin(ctx context.Context, users *storage.Storage, cfg *config.AuthConfig) error {
	if cfg.AdminEmail == "" {
		return nil
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	if err := users.UpsertUser(ctx, cfg.AdminEmail, hash, true); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	return nil
}

func admissionConfig(cfg *config.AdmissionConfig) admission.Config {
	out := admission.DefaultConfig()
	if cfg.StoreTimeout > 0 {
		out.StoreTimeout = cfg.StoreTimeout
	}
	if cfg.PublishTimeout > 0 {
		out.PublishTimeout = cfg.PublishTimeout
	}
	if cfg.RollbackAttempts > 0 {
		out.RollbackAttempts = cfg.RollbackAttempts
	}
	if cfg.RollbackInterval > 0 {
		out.RollbackInterval = cfg.RollbackInterval
	}
	return out
}

func rabbitHealth(client *rabbitmq.Client) handler.HealthCheck {
	return func(context.Context) error {
		if !client.IsConnected() {
			return rabbitmq.ErrNotConnected
		}
		return nil
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Setup router
	return router.SetupRouter(deps)
}
