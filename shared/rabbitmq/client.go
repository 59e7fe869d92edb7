package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// QueueTypeClassic is the default RabbitMQ queue type
	QueueTypeClassic = "classic"
	// QueueTypeQuorum enables replicated queues with a delivery limit
	QueueTypeQuorum = "quorum"

	// DeadLetterSuffix names the holding queue of rejected messages
	DeadLetterSuffix = ".dead-letter"

	// DeliveryCountHeader is set by quorum queues on redelivery
	DeliveryCountHeader = "x-delivery-count"
)

var (
	// ErrNotConnected is returned when the client has no open connection
	ErrNotConnected = errors.New("not connected to RabbitMQ")
	// ErrPublishNacked is returned when the broker refused a published message
	ErrPublishNacked = errors.New("message not confirmed by RabbitMQ")
)

// QueueConfig declares one work queue
type QueueConfig struct {
	Name          string
	Type          string
	DeliveryLimit int
}

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	Queues             []QueueConfig
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// DeadLetterExchange is the exchange rejected messages are routed through
func (c *Config) DeadLetterExchange() string {
	return c.ExchangeName + ".dlx"
}

// Client represents a RabbitMQ client. Publishing goes through a single
// confirm-mode channel; every consumer gets its own channel so prefetch
// limits stay independent.
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	mu          sync.Mutex
	consumers   []*amqp.Channel
	isConnected bool
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config:      config,
		logger:      logger,
		closeChan:   make(chan *amqp.Error, 1),
		isConnected: false,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// URL returns the AMQP connection string
func (c *Config) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.VHost,
	)
}

// connect dials the broker, retrying with a fixed interval
func (c *Client) connect() error {
	var err error

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(c.config.URL(), amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.channel.Confirm(false); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchanges and queues: %w", err)
	}

	c.channel.NotifyClose(c.closeChan)
	c.isConnected = true
	go c.watchClose()

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.Int("queues", len(c.config.Queues)),
	)

	return nil
}

// watchClose marks the client disconnected when the broker closes the
// publish channel
func (c *Client) watchClose() {
	amqpErr, ok := <-c.closeChan
	if !ok {
		return
	}

	c.logger.Error("RabbitMQ channel closed by broker",
		slog.Any("error", amqpErr),
	)

	c.mu.Lock()
	c.isConnected = false
	c.mu.Unlock()
}

// setup declares the work exchange, the dead-letter exchange and, for every
// configured queue, the queue itself plus its dead-letter holding queue
func (c *Client) setup() error {
	for _, exchange := range []string{c.config.ExchangeName, c.config.DeadLetterExchange()} {
		err := c.channel.ExchangeDeclare(
			exchange, // name
			"direct", // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
		}
	}

	for _, q := range c.config.Queues {
		if err := c.declareQueue(q.Name+DeadLetterSuffix, nil, c.config.DeadLetterExchange(), q.Name); err != nil {
			return err
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    c.config.DeadLetterExchange(),
			"x-dead-letter-routing-key": q.Name,
		}
		if q.Type == QueueTypeQuorum {
			args["x-queue-type"] = QueueTypeQuorum
			if q.DeliveryLimit > 0 {
				args["x-delivery-limit"] = int32(q.DeliveryLimit)
			}
		}

		if err := c.declareQueue(q.Name, args, c.config.ExchangeName, q.Name); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) declareQueue(name string, args amqp.Table, exchange, routingKey string) error {
	_, err := c.channel.QueueDeclare(
		name,  // name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		args,  // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", name, err)
	}

	err = c.channel.QueueBind(
		name,       // queue name
		routingKey, // routing key
		exchange,   // exchange
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", name, err)
	}

	return nil
}

// Publish sends a persistent message to queueName and blocks until the
// broker confirms it
func (c *Client) Publish(ctx context.Context, queueName, messageID string, body []byte, contentType string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	confirmation, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		queueName,             // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  contentType,
			MessageId:    messageID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for publish confirm: %w", err)
	}
	if !acked {
		return ErrPublishNacked
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.String("queue", queueName),
		slog.String("message_id", messageID),
		slog.Int("body_size", len(body)),
	)

	return nil
}

// PublishWithRetry publishes a message to RabbitMQ with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, queueName, messageID string, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.Publish(ctx, queueName, messageID, body, contentType)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
					slog.String("message_id", messageID),
				)
			}
			return nil
		}

		lastErr = err
		if errors.Is(err, ErrNotConnected) {
			break
		}

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("publish retry aborted: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.String("message_id", messageID),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after retries: %w", lastErr)
}

// Consume opens a dedicated channel limited to prefetch unacknowledged
// deliveries and starts consuming queueName with manual acknowledgement
func (c *Client) Consume(queueName, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}

	// per-consumer limit, no byte limit
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := ch.Consume(
		queueName,   // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.mu.Lock()
	c.consumers = append(c.consumers, ch)
	c.mu.Unlock()

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", prefetch),
	)

	return messages, nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.mu.Lock()
	c.isConnected = false
	consumers := c.consumers
	c.consumers = nil
	c.mu.Unlock()

	for _, ch := range consumers {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ consumer channel",
				slog.Any("error", err),
			)
		}
	}

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}

// DeliveryCount reads the broker-maintained redelivery counter, which only
// quorum queues provide
func DeliveryCount(d amqp.Delivery) int64 {
	switch v := d.Headers[DeliveryCountHeader].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}
