// Package notify delivers "download ready" mail for notify-queue jobs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// ErrPermanentDelivery is returned when the mail server refused the
// recipient for good. Retrying the same message cannot succeed.
var ErrPermanentDelivery = errors.New("mail permanently rejected")

// Mail is one outgoing plain-text message
type Mail struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer hands a message to a mail transport
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// SMTPConfig holds mail server settings
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSPolicy string
	Timeout   time.Duration
}

// SMTP sends mail through an SMTP relay
type SMTP struct {
	client *mail.Client
	logger *slog.Logger
}

// NewSMTP creates an SMTP mailer. No connection is made until Send.
func NewSMTP(cfg *SMTPConfig, logger *slog.Logger) (*SMTP, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLSPolicy)),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &SMTP{client: client, logger: logger}, nil
}

func tlsPolicy(policy string) mail.TLSPolicy {
	switch policy {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}

// Send delivers m. Rejections the server marks as final are wrapped in
// ErrPermanentDelivery; anything else may succeed on a later attempt.
func (s *SMTP) Send(ctx context.Context, m Mail) error {
	msg := mail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return fmt.Errorf("invalid sender address %q: %w", m.From, err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("%w: invalid recipient address %q: %w", ErrPermanentDelivery, m.To, err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return classifySendError(err)
	}

	s.logger.Debug("Mail sent", slog.String("to", m.To))
	return nil
}

func classifySendError(err error) error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && sendErr.Reason == mail.ErrSMTPRcptTo && !sendErr.IsTemp() {
		return fmt.Errorf("%w: %w", ErrPermanentDelivery, err)
	}
	return fmt.Errorf("failed to send mail: %w", err)
}

// LogMailer writes messages to the log instead of sending them
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer for environments without an SMTP relay
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs m
func (l *LogMailer) Send(_ context.Context, m Mail) error {
	l.logger.Info("Mail delivery skipped, no SMTP relay configured",
		slog.String("from", m.From),
		slog.String("to", m.To),
		slog.String("subject", m.Subject),
		slog.String("body", m.Body),
	)
	return nil
}
