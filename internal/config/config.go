package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration. Each process
// reads the sections it needs and validates them with its Validate method.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Auth       AuthConfig       `yaml:"auth"`
	BlobStore  BlobStoreConfig  `yaml:"blobstore"`
	Admission  AdmissionConfig  `yaml:"admission"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Mail       MailConfig       `yaml:"mail"`
	Worker     WorkerConfig     `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	Migrate         bool          `yaml:"migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queues     []QueueConfig    `yaml:"queues"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name string `yaml:"name"`
}

// QueueConfig holds RabbitMQ queue configuration. DeliveryLimit only
// applies to quorum queues; zero means unlimited redeliveries.
type QueueConfig struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	DeliveryLimit int    `yaml:"delivery_limit"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AuthConfig holds token signing settings and the optional bootstrap admin
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminEmail    string        `yaml:"admin_email"`
	AdminPassword string        `yaml:"admin_password"`
}

// BlobStoreConfig selects and configures the object store backend
type BlobStoreConfig struct {
	Backend string      `yaml:"backend"` // minio, memory
	MinIO   MinIOConfig `yaml:"minio"`
}

// MinIOConfig holds S3-compatible object storage settings
type MinIOConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	Bucket        string        `yaml:"bucket"`
	UseSSL        bool          `yaml:"use_ssl"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// AdmissionConfig bounds the external calls made for one upload
type AdmissionConfig struct {
	StoreTimeout     time.Duration `yaml:"store_timeout"`
	PublishTimeout   time.Duration `yaml:"publish_timeout"`
	RollbackAttempts int           `yaml:"rollback_attempts"`
	RollbackInterval time.Duration `yaml:"rollback_interval"`
}

// TranscoderConfig holds ffmpeg settings and per-step timeouts
type TranscoderConfig struct {
	Binary           string        `yaml:"binary"`
	TempDir          string        `yaml:"temp_dir"`
	Bitrate          string        `yaml:"bitrate"`
	StoreTimeout     time.Duration `yaml:"store_timeout"`
	TranscodeTimeout time.Duration `yaml:"transcode_timeout"`
	PublishTimeout   time.Duration `yaml:"publish_timeout"`
}

// MailConfig selects the mail transport
type MailConfig struct {
	Backend string        `yaml:"backend"` // smtp, log
	Sender  string        `yaml:"sender"`
	Timeout time.Duration `yaml:"timeout"`
	SMTP    SMTPConfig    `yaml:"smtp"`
}

// SMTPConfig holds mail server settings
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	TLSPolicy string `yaml:"tls_policy"` // opportunistic, mandatory, none
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Queue             string        `yaml:"queue"`
	Concurrency       int           `yaml:"concurrency"`
	PrefetchCount     int           `yaml:"prefetch_count"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	DeadLetterJournal bool          `yaml:"dead_letter_journal"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the sections used by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}

	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		return fmt.Errorf("auth admin_email and admin_password must be set together")
	}

	return c.validateBlobStore()
}

// ValidateTranscodeWorkerConfig checks the sections used by the transcode worker
func (c *Config) ValidateTranscodeWorkerConfig() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateBlobStore(); err != nil {
		return err
	}

	if c.BlobStore.Backend == "memory" {
		return fmt.Errorf("blobstore backend memory cannot be shared with the api service")
	}

	if c.Transcoder.Binary == "" {
		return fmt.Errorf("transcoder binary is required")
	}

	return c.validateWorker()
}

// ValidateNotificationWorkerConfig checks the sections used by the notification
// worker. Only one message may be in flight per instance.
func (c *Config) ValidateNotificationWorkerConfig() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateWorker(); err != nil {
		return err
	}

	if c.Worker.Concurrency != 1 || c.Worker.PrefetchCount != 1 {
		return fmt.Errorf("notification worker requires concurrency 1 and prefetch_count 1, got %d and %d",
			c.Worker.Concurrency, c.Worker.PrefetchCount)
	}

	if c.Mail.Sender == "" {
		return fmt.Errorf("mail sender is required")
	}

	switch c.Mail.Backend {
	case "log":
	case "smtp":
		if c.Mail.SMTP.Host == "" {
			return fmt.Errorf("mail smtp host is required")
		}
		if c.Mail.SMTP.Port < MinPort || c.Mail.SMTP.Port > MaxPort {
			return fmt.Errorf("invalid mail smtp port: %d (must be between %d and %d)", c.Mail.SMTP.Port, MinPort, MaxPort)
		}
	default:
		return fmt.Errorf("unsupported mail backend: %q", c.Mail.Backend)
	}

	if c.Worker.DeadLetterJournal {
		return c.validateDatabase()
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if len(c.RabbitMQ.Queues) == 0 {
		return fmt.Errorf("at least one rabbitmq queue is required")
	}

	for _, q := range c.RabbitMQ.Queues {
		if q.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
		switch q.Type {
		case "", "classic":
			if q.DeliveryLimit != 0 {
				return fmt.Errorf("rabbitmq queue %s: delivery_limit requires type quorum", q.Name)
			}
		case "quorum":
			if q.DeliveryLimit < 0 {
				return fmt.Errorf("rabbitmq queue %s: delivery_limit must not be negative", q.Name)
			}
		default:
			return fmt.Errorf("rabbitmq queue %s: unsupported type %q", q.Name, q.Type)
		}
	}

	return nil
}

func (c *Config) validateBlobStore() error {
	switch c.BlobStore.Backend {
	case "memory":
		return nil
	case "minio":
		if c.BlobStore.MinIO.Endpoint == "" {
			return fmt.Errorf("blobstore minio endpoint is required")
		}
		if c.BlobStore.MinIO.Bucket == "" {
			return fmt.Errorf("blobstore minio bucket is required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported blobstore backend: %q", c.BlobStore.Backend)
	}
}

func (c *Config) validateWorker() error {
	if c.Worker.Queue == "" {
		return fmt.Errorf("worker queue is required")
	}

	if !c.hasQueue(c.Worker.Queue) {
		return fmt.Errorf("worker queue %s is not declared under rabbitmq queues", c.Worker.Queue)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.PrefetchCount < c.Worker.Concurrency {
		return fmt.Errorf("worker prefetch_count must be at least concurrency")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.DeadLetterJournal {
		return c.validateDatabase()
	}
	return nil
}

func (c *Config) hasQueue(name string) bool {
	for _, q := range c.RabbitMQ.Queues {
		if q.Name == name {
			return true
		}
	}
	return false
}
